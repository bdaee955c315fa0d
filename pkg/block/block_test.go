package block

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/exascience/fastq-processor/pkg/molecule"
)

func TestPoolGetReturnsEmptyBlock(t *testing.T) {
	p := NewPool(2)
	b := p.Get(0)
	assert.Equal(t, 0, b.Index)
	assert.Equal(t, 0, b.Len())
}

func TestPoolReusesReturnedBlocks(t *testing.T) {
	p := NewPool(2)
	b := p.Get(0)
	b.Molecules = append(b.Molecules, molecule.NewMolecule(2))
	p.Put(b)

	reused := p.Get(1)
	assert.Equal(t, 1, reused.Index)
	assert.Equal(t, 0, reused.Len(), "Get must reset Molecules to zero length")
	assert.False(t, reused.IsLast)
}

func TestPoolPutNilIsNoop(t *testing.T) {
	p := NewPool(1)
	p.Put(nil)
	b := p.Get(0)
	assert.NotNil(t, b)
}
