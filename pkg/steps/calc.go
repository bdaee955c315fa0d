package steps

import (
	"fmt"
	"math"

	"github.com/exascience/fastq-processor/pkg/block"
	"github.com/exascience/fastq-processor/pkg/molecule"
)

// calcStep is the shared shape of the Calc catalogue: each computes one
// scalar from a segment and stores it as a numeric tag.
type calcStep struct {
	BaseStep
	Segment string
	Label   string
	segIdx  int
	tagIdx  int
	formula func(seq, qual []byte) float64
	name    string
}

func (s *calcStep) Name() string { return s.name }

func (s *calcStep) Init(ctx *InitContext) error {
	s.segIdx = ctx.SegmentIndex(s.Segment)
	if s.segIdx < 0 {
		return fmt.Errorf("%s: unknown segment %q", s.Name(), s.Segment)
	}
	idx, err := ctx.Registry.Define(s.Label, molecule.TagNumeric, s.Name())
	if err != nil {
		return err
	}
	s.tagIdx = idx
	return nil
}

func (s *calcStep) Capabilities() Capabilities { return parallelSafe() }

func (s *calcStep) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		seg := &m.Segments[s.segIdx]
		v := s.formula(seg.Sequence, seg.Quality)
		m.SetTag(s.tagIdx, molecule.Tag{Kind: molecule.TagNumeric, Numeric: v})
	})
	return nil
}

// NewCalcLength produces a length tag.
func NewCalcLength(segment, label string) Step {
	return &calcStep{Segment: segment, Label: label,
		name:    fmt.Sprintf("CalcLength(%s)", segment),
		formula: func(seq, _ []byte) float64 { return float64(len(seq)) }}
}

// NewCalcGCContent produces GC = (G+C)/(A+C+G+T), N-excluding.
func NewCalcGCContent(segment, label string) Step {
	return &calcStep{Segment: segment, Label: label,
		name: fmt.Sprintf("CalcGCContent(%s)", segment),
		formula: func(seq, _ []byte) float64 {
			var gc, acgt int
			for _, b := range seq {
				switch upperByte(b) {
				case 'G', 'C':
					gc++
					acgt++
				case 'A', 'T':
					acgt++
				}
			}
			if acgt == 0 {
				return 0
			}
			return float64(gc) / float64(acgt)
		}}
}

// NewCalcNCount produces the count of 'N' bases.
func NewCalcNCount(segment, label string) Step {
	return &calcStep{Segment: segment, Label: label,
		name: fmt.Sprintf("CalcNCount(%s)", segment),
		formula: func(seq, _ []byte) float64 {
			n := 0
			for _, b := range seq {
				if upperByte(b) == 'N' {
					n++
				}
			}
			return float64(n)
		}}
}

// NewCalcComplexity produces the distinct-dinucleotide fraction.
func NewCalcComplexity(segment, label string) Step {
	return &calcStep{Segment: segment, Label: label,
		name: fmt.Sprintf("CalcComplexity(%s)", segment),
		formula: func(seq, _ []byte) float64 {
			if len(seq) < 2 {
				return 0
			}
			seen := map[[2]byte]struct{}{}
			for i := 0; i+1 < len(seq); i++ {
				seen[[2]byte{upperByte(seq[i]), upperByte(seq[i+1])}] = struct{}{}
			}
			return float64(len(seen)) / float64(len(seq)-1)
		}}
}

// NewCalcQualifiedBases produces the fraction of bases with quality >=
// threshold (Phred).
func NewCalcQualifiedBases(segment, label string, threshold int) Step {
	thresholdByte := byte(threshold + 33)
	return &calcStep{Segment: segment, Label: label,
		name: fmt.Sprintf("CalcQualifiedBases(%s,%d)", segment, threshold),
		formula: func(seq, qual []byte) float64 {
			if len(qual) == 0 {
				return 0
			}
			n := 0
			for _, q := range qual {
				if q >= thresholdByte {
					n++
				}
			}
			return float64(n) / float64(len(qual))
		}}
}

// NewCalcExpectedError produces the expected error count, sum(10^(-q/10)).
func NewCalcExpectedError(segment, label string) Step {
	return &calcStep{Segment: segment, Label: label,
		name: fmt.Sprintf("CalcExpectedError(%s)", segment),
		formula: func(_, qual []byte) float64 {
			var sum float64
			for _, q := range qual {
				phred := float64(q) - 33
				sum += math.Pow(10, -phred/10)
			}
			return sum
		}}
}

func upperByte(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 32
	}
	return b
}
