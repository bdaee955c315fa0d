package steps

import (
	"fmt"
	"sync/atomic"

	"github.com/exascience/fastq-processor/pkg/block"
	"github.com/exascience/fastq-processor/pkg/report"
)

// OnInvalid configures how a Validate step reacts to an invalid record:
// either abort the run, or drop the record and increment a counter.
type OnInvalid int

const (
	OnInvalidFatal OnInvalid = iota
	OnInvalidDrop
)

// ValidateSeq rejects any base outside a configured alphabet.
type ValidateSeq struct {
	BaseStep
	Segment   string
	Alphabet  string
	OnInvalid OnInvalid
	Dropped   atomic.Uint64 // local bookkeeping; the aggregator holds the authoritative count
	segIdx    int
	allowed   [256]bool
	agg       *report.Aggregator
}

func NewValidateSeq(segment, alphabet string, onInvalid OnInvalid) *ValidateSeq {
	return &ValidateSeq{Segment: segment, Alphabet: alphabet, OnInvalid: onInvalid}
}

func (s *ValidateSeq) Name() string { return fmt.Sprintf("ValidateSeq(%s)", s.Segment) }

func (s *ValidateSeq) Init(ctx *InitContext) error {
	s.segIdx = ctx.SegmentIndex(s.Segment)
	if s.segIdx < 0 {
		return fmt.Errorf("%s: unknown segment %q", s.Name(), s.Segment)
	}
	for i := 0; i < len(s.Alphabet); i++ {
		b := s.Alphabet[i]
		s.allowed[b] = true
		s.allowed[upperByte(b)] = true
		s.allowed[lowerByte(b)] = true
	}
	s.agg = ctx.Aggregator
	return nil
}

func (s *ValidateSeq) Capabilities() Capabilities { return parallelSafe() }

func (s *ValidateSeq) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	for i, m := range blk.Molecules {
		if !m.Keep {
			continue
		}
		seq := m.Segments[s.segIdx].Sequence
		for _, b := range seq {
			if !s.allowed[b] {
				if s.OnInvalid == OnInvalidDrop {
					m.Keep = false
					s.Dropped.Add(1)
					if s.agg != nil {
						s.agg.IncrementDropped(s.Name(), 1)
					}
				} else {
					return fmt.Errorf("%s: invalid base %q at record %d", s.Name(), b, blk.Index*block.DefaultSize+i)
				}
				break
			}
		}
	}
	return nil
}

func lowerByte(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + 32
	}
	return b
}

// ValidateQuality rejects quality bytes outside [phredMin, phredMax].
type ValidateQuality struct {
	BaseStep
	Segment   string
	PhredMin  int
	PhredMax  int
	OnInvalid OnInvalid
	Dropped   atomic.Uint64 // local bookkeeping; the aggregator holds the authoritative count
	segIdx    int
	agg       *report.Aggregator
}

func NewValidateQuality(segment string, phredMin, phredMax int, onInvalid OnInvalid) *ValidateQuality {
	return &ValidateQuality{Segment: segment, PhredMin: phredMin, PhredMax: phredMax, OnInvalid: onInvalid}
}

func (s *ValidateQuality) Name() string { return fmt.Sprintf("ValidateQuality(%s)", s.Segment) }

func (s *ValidateQuality) Init(ctx *InitContext) error {
	s.segIdx = ctx.SegmentIndex(s.Segment)
	if s.segIdx < 0 {
		return fmt.Errorf("%s: unknown segment %q", s.Name(), s.Segment)
	}
	s.agg = ctx.Aggregator
	return nil
}

func (s *ValidateQuality) Capabilities() Capabilities { return parallelSafe() }

func (s *ValidateQuality) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	lo, hi := byte(s.PhredMin+33), byte(s.PhredMax+33)
	for i, m := range blk.Molecules {
		if !m.Keep {
			continue
		}
		qual := m.Segments[s.segIdx].Quality
		bad := false
		for _, q := range qual {
			if q < lo || q > hi {
				bad = true
				break
			}
		}
		if bad {
			if s.OnInvalid == OnInvalidDrop {
				m.Keep = false
				s.Dropped.Add(1)
				if s.agg != nil {
					s.agg.IncrementDropped(s.Name(), 1)
				}
			} else {
				return fmt.Errorf("%s: quality byte out of range at record %d", s.Name(), blk.Index*block.DefaultSize+i)
			}
		}
	}
	return nil
}
