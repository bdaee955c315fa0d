package steps

import (
	"fmt"
	"hash/maphash"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/exascience/fastq-processor/pkg/block"
	"github.com/exascience/fastq-processor/pkg/molecule"
)

// DedupKeySource selects what Dedup hashes: a whole segment's sequence,
// or a previously extracted location tag.
type DedupKeySource struct {
	Segment string // whole-segment mode
	Tag     string // location-tag mode; mutually exclusive with Segment
}

// Dedup drops molecules whose key has already been seen. It shards by
// the top 8 bits of the molecule's key hash across workers, each shard
// guarded by its own mutex, so independent workers rarely contend. The
// set beneath each shard is chosen once at Init: a Bloom filter when
// ExpectedN exceeds ApproximateThreshold, otherwise an exact hash set.
type Dedup struct {
	BaseStep
	By                  []DedupKeySource
	ApproximateThreshold uint64
	ExpectedN            uint64
	FalsePositiveRate    float64

	segIdxs []int
	tagIdxs []int
	shards  [256]dedupShard
	seed    maphash.Seed
}

type dedupShard struct {
	mu      sync.Mutex
	exact   map[uint64]struct{}
	approx  *bloom.BloomFilter
	count   uint64
}

func NewDedup(by []DedupKeySource, expectedN uint64, approximateThreshold uint64) *Dedup {
	if approximateThreshold == 0 {
		approximateThreshold = 10_000_000
	}
	return &Dedup{By: by, ExpectedN: expectedN, ApproximateThreshold: approximateThreshold, FalsePositiveRate: 0.001}
}

func (s *Dedup) Name() string { return "Dedup" }

func (s *Dedup) Init(ctx *InitContext) error {
	s.segIdxs = make([]int, len(s.By))
	s.tagIdxs = make([]int, len(s.By))
	for i, src := range s.By {
		switch {
		case src.Segment != "":
			idx := ctx.SegmentIndex(src.Segment)
			if idx < 0 {
				return fmt.Errorf("Dedup: unknown segment %q", src.Segment)
			}
			s.segIdxs[i] = idx
			s.tagIdxs[i] = -1
		case src.Tag != "":
			idx, err := ctx.Registry.RequireKind(src.Tag, s.Name(), molecule.TagLocation)
			if err != nil {
				return err
			}
			s.segIdxs[i] = -1
			s.tagIdxs[i] = idx
		default:
			return fmt.Errorf("Dedup: key source must name a segment or a tag")
		}
	}
	s.seed = maphash.MakeSeed()

	useApprox := s.ExpectedN > s.ApproximateThreshold
	perShardN := s.ExpectedN / 256
	if perShardN == 0 {
		perShardN = 1024
	}
	for i := range s.shards {
		if useApprox {
			s.shards[i].approx = bloom.NewWithEstimates(perShardN, s.FalsePositiveRate)
		} else {
			s.shards[i].exact = make(map[uint64]struct{})
		}
	}
	return nil
}

func (s *Dedup) Capabilities() Capabilities { return parallelSafe() }

func (s *Dedup) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		var h maphash.Hash
		h.SetSeed(s.seed)
		for i := range s.By {
			if s.segIdxs[i] >= 0 {
				h.Write(m.Segments[s.segIdxs[i]].Sequence)
			} else {
				tag := m.Tag(s.tagIdxs[i])
				h.Write(tag.Location.CapturedBytes)
			}
			h.WriteByte(0)
		}
		key := h.Sum64()
		shardIdx := byte(key >> 56)
		shard := &s.shards[shardIdx]

		shard.mu.Lock()
		var dup bool
		if shard.exact != nil {
			if _, ok := shard.exact[key]; ok {
				dup = true
			} else {
				shard.exact[key] = struct{}{}
			}
		} else {
			keyBytes := uint64ToBytes(key)
			if shard.approx.Test(keyBytes) {
				dup = true
			} else {
				shard.approx.Add(keyBytes)
			}
		}
		if !dup {
			shard.count++
		}
		shard.mu.Unlock()

		if dup {
			m.Keep = false
		}
	})
	return nil
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
