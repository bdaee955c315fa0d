package steps

import (
	"bytes"
	"fmt"

	"github.com/exascience/fastq-processor/pkg/block"
	"github.com/exascience/fastq-processor/pkg/iupac"
	"github.com/exascience/fastq-processor/pkg/molecule"
)

func parallelSafe() Capabilities { return Capabilities{ParallelSafe: true} }

// CutStart shrinks a segment by removing its first N bases.
type CutStart struct {
	BaseStep
	Segment string
	N       int
	segIdx  int
}

func NewCutStart(segment string, n int) *CutStart { return &CutStart{Segment: segment, N: n} }

func (s *CutStart) Name() string { return fmt.Sprintf("CutStart(%s,%d)", s.Segment, s.N) }

func (s *CutStart) Init(ctx *InitContext) error {
	s.segIdx = ctx.SegmentIndex(s.Segment)
	if s.segIdx < 0 {
		return fmt.Errorf("%s: unknown segment %q", s.Name(), s.Segment)
	}
	return nil
}

func (s *CutStart) Capabilities() Capabilities { return parallelSafe() }

func (s *CutStart) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		seg := &m.Segments[s.segIdx]
		n := s.N
		if n > len(seg.Sequence) {
			n = len(seg.Sequence)
		}
		seg.Sequence = seg.Sequence[n:]
		if len(seg.Quality) > 0 {
			seg.Quality = seg.Quality[n:]
		}
	})
	return nil
}

// CutEnd shrinks a segment by removing its last N bases.
type CutEnd struct {
	BaseStep
	Segment string
	N       int
	segIdx  int
}

func NewCutEnd(segment string, n int) *CutEnd { return &CutEnd{Segment: segment, N: n} }

func (s *CutEnd) Name() string { return fmt.Sprintf("CutEnd(%s,%d)", s.Segment, s.N) }

func (s *CutEnd) Init(ctx *InitContext) error {
	s.segIdx = ctx.SegmentIndex(s.Segment)
	if s.segIdx < 0 {
		return fmt.Errorf("%s: unknown segment %q", s.Name(), s.Segment)
	}
	return nil
}

func (s *CutEnd) Capabilities() Capabilities { return parallelSafe() }

func (s *CutEnd) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		seg := &m.Segments[s.segIdx]
		n := s.N
		if n > len(seg.Sequence) {
			n = len(seg.Sequence)
		}
		keep := len(seg.Sequence) - n
		seg.Sequence = seg.Sequence[:keep]
		if len(seg.Quality) > 0 {
			seg.Quality = seg.Quality[:keep]
		}
	})
	return nil
}

// Truncate shrinks a segment to at most N bases.
type Truncate struct {
	BaseStep
	Segment string
	N       int
	segIdx  int
}

func NewTruncate(segment string, n int) *Truncate { return &Truncate{Segment: segment, N: n} }

func (s *Truncate) Name() string { return fmt.Sprintf("Truncate(%s,%d)", s.Segment, s.N) }

func (s *Truncate) Init(ctx *InitContext) error {
	s.segIdx = ctx.SegmentIndex(s.Segment)
	if s.segIdx < 0 {
		return fmt.Errorf("%s: unknown segment %q", s.Name(), s.Segment)
	}
	return nil
}

func (s *Truncate) Capabilities() Capabilities { return parallelSafe() }

func (s *Truncate) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		seg := &m.Segments[s.segIdx]
		if len(seg.Sequence) > s.N {
			seg.Sequence = seg.Sequence[:s.N]
		}
		if len(seg.Quality) > s.N {
			seg.Quality = seg.Quality[:s.N]
		}
	})
	return nil
}

// ReverseComplement reverse-complements a segment's sequence (IUPAC
// codes mapped by canonical complement) and reverses its quality in
// lockstep. Two consecutive applications are an involution.
type ReverseComplement struct {
	BaseStep
	Segment string
	segIdx  int
}

func NewReverseComplement(segment string) *ReverseComplement {
	return &ReverseComplement{Segment: segment}
}

func (s *ReverseComplement) Name() string { return fmt.Sprintf("ReverseComplement(%s)", s.Segment) }

func (s *ReverseComplement) Init(ctx *InitContext) error {
	s.segIdx = ctx.SegmentIndex(s.Segment)
	if s.segIdx < 0 {
		return fmt.Errorf("%s: unknown segment %q", s.Name(), s.Segment)
	}
	return nil
}

func (s *ReverseComplement) Capabilities() Capabilities { return parallelSafe() }

func (s *ReverseComplement) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		seg := &m.Segments[s.segIdx]
		if len(seg.Sequence) > 0 {
			iupac.ReverseComplementInto(seg.Sequence, seg.Sequence)
		}
		reverseInPlace(seg.Quality)
	})
	return nil
}

func reverseInPlace(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// caseStep implements Lowercase/UppercaseSequence.
type caseStep struct {
	BaseStep
	Segment string
	Upper   bool
	segIdx  int
}

func NewLowercaseSequence(segment string) Step { return &caseStep{Segment: segment, Upper: false} }
func NewUppercaseSequence(segment string) Step { return &caseStep{Segment: segment, Upper: true} }

func (s *caseStep) Name() string {
	if s.Upper {
		return fmt.Sprintf("UppercaseSequence(%s)", s.Segment)
	}
	return fmt.Sprintf("LowercaseSequence(%s)", s.Segment)
}

func (s *caseStep) Init(ctx *InitContext) error {
	s.segIdx = ctx.SegmentIndex(s.Segment)
	if s.segIdx < 0 {
		return fmt.Errorf("%s: unknown segment %q", s.Name(), s.Segment)
	}
	return nil
}

func (s *caseStep) Capabilities() Capabilities { return parallelSafe() }

func (s *caseStep) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		seq := m.Segments[s.segIdx].Sequence
		for i, b := range seq {
			if s.Upper {
				if b >= 'a' && b <= 'z' {
					seq[i] = b - 32
				}
			} else {
				if b >= 'A' && b <= 'Z' {
					seq[i] = b + 32
				}
			}
		}
	})
	return nil
}

// HeaderEdit implements Rename/Prefix/Postfix by applying a template to
// a segment's header. The template may reference "{name}" for the
// current header.
type HeaderEditMode int

const (
	HeaderRename HeaderEditMode = iota
	HeaderPrefix
	HeaderPostfix
)

type HeaderEdit struct {
	BaseStep
	Segment  string
	Mode     HeaderEditMode
	Template string
	segIdx   int
}

func NewHeaderEdit(segment string, mode HeaderEditMode, template string) *HeaderEdit {
	return &HeaderEdit{Segment: segment, Mode: mode, Template: template}
}

func (s *HeaderEdit) Name() string { return fmt.Sprintf("HeaderEdit(%s)", s.Segment) }

func (s *HeaderEdit) Init(ctx *InitContext) error {
	s.segIdx = ctx.SegmentIndex(s.Segment)
	if s.segIdx < 0 {
		return fmt.Errorf("%s: unknown segment %q", s.Name(), s.Segment)
	}
	return nil
}

func (s *HeaderEdit) Capabilities() Capabilities { return parallelSafe() }

func (s *HeaderEdit) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		seg := &m.Segments[s.segIdx]
		rendered := bytes.ReplaceAll([]byte(s.Template), []byte("{name}"), seg.Header)
		switch s.Mode {
		case HeaderRename:
			seg.Header = rendered
		case HeaderPrefix:
			seg.Header = append(append([]byte(nil), rendered...), seg.Header...)
		case HeaderPostfix:
			seg.Header = append(append(append([]byte(nil), seg.Header...), rendered...))
		}
	})
	return nil
}
