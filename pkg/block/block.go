// Package block implements the fixed-size batches of molecules that
// flow between pipeline stages.
package block

import (
	"sync"

	"github.com/exascience/fastq-processor/pkg/molecule"
)

// DefaultSize is the default number of molecules per block.
const DefaultSize = 10000

// Block is a contiguous run of molecules, at most the scheduler's
// configured block size. It is exclusively
// owned by one stage at a time and is never shared; the scheduler
// passes ownership across queues, it never copies into two places.
type Block struct {
	Index     int
	IsLast    bool
	Molecules []*molecule.Molecule
}

// Len returns the number of molecules currently in the block.
func (b *Block) Len() int {
	return len(b.Molecules)
}

// Pool is a free-list of Blocks, avoiding allocation churn across the
// lifetime of a run.
type Pool struct {
	mu       sync.Mutex
	free     []*Block
	segments int
}

// NewPool returns an empty Pool. segments is recorded but does not
// affect the Blocks it hands out.
func NewPool(segments int) *Pool {
	return &Pool{segments: segments}
}

// Get returns a Block from the free-list, or a freshly allocated one if
// the free-list is empty. The returned Block has Molecules truncated to
// zero length but retains prior backing capacity.
func (p *Pool) Get(index int) *Block {
	p.mu.Lock()
	n := len(p.free)
	if n == 0 {
		p.mu.Unlock()
		return &Block{Index: index, Molecules: make([]*molecule.Molecule, 0, DefaultSize)}
	}
	b := p.free[n-1]
	p.free = p.free[:n-1]
	p.mu.Unlock()
	b.Index = index
	b.IsLast = false
	b.Molecules = b.Molecules[:0]
	return b
}

// Put returns a Block to the free-list for reuse. The caller must not
// retain any reference to b afterwards.
func (p *Pool) Put(b *Block) {
	if b == nil {
		return
	}
	p.mu.Lock()
	p.free = append(p.free, b)
	p.mu.Unlock()
}
