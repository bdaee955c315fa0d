package steps

import (
	"fmt"
	"regexp"

	"github.com/exascience/fastq-processor/pkg/block"
	"github.com/exascience/fastq-processor/pkg/iupac"
	"github.com/exascience/fastq-processor/pkg/molecule"
)

// Anchor constrains where ExtractIUPAC searches for a match.
type Anchor int

const (
	AnchorStart Anchor = iota
	AnchorEnd
	AnchorAnywhere
)

// ExtractIUPAC finds the leftmost IUPAC-tolerant match of search within
// maxMismatches and records it as a location tag.
type ExtractIUPAC struct {
	BaseStep
	Segment       string
	Search        []byte
	AnchorMode    Anchor
	MaxMismatches int
	Label         string
	segIdx        int
	tagIdx        int
}

func NewExtractIUPAC(segment string, search []byte, anchor Anchor, maxMismatches int, label string) *ExtractIUPAC {
	return &ExtractIUPAC{Segment: segment, Search: search, AnchorMode: anchor, MaxMismatches: maxMismatches, Label: label}
}

func (s *ExtractIUPAC) Name() string { return fmt.Sprintf("ExtractIUPAC(%s,%s)", s.Segment, s.Label) }

func (s *ExtractIUPAC) Init(ctx *InitContext) error {
	s.segIdx = ctx.SegmentIndex(s.Segment)
	if s.segIdx < 0 {
		return fmt.Errorf("%s: unknown segment %q", s.Name(), s.Segment)
	}
	idx, err := ctx.Registry.Define(s.Label, molecule.TagLocation, s.Name())
	if err != nil {
		return err
	}
	s.tagIdx = idx
	return nil
}

func (s *ExtractIUPAC) Capabilities() Capabilities { return parallelSafe() }

func (s *ExtractIUPAC) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		seg := &m.Segments[s.segIdx]
		start, ok := s.find(seg.Sequence)
		if !ok {
			return
		}
		length := len(s.Search)
		if start+length > len(seg.Sequence) {
			length = len(seg.Sequence) - start
		}
		m.SetTag(s.tagIdx, molecule.Tag{
			Kind: molecule.TagLocation,
			Location: molecule.Location{
				SegmentIndex:  s.segIdx,
				Start:         start,
				Length:        length,
				CapturedBytes: append([]byte(nil), seg.Sequence[start:start+length]...),
				CapturedQual:  append([]byte(nil), sliceOrEmpty(seg.Quality, start, start+length)...),
			},
		})
	})
	return nil
}

func sliceOrEmpty(b []byte, from, to int) []byte {
	if len(b) < to {
		return nil
	}
	return b[from:to]
}

func (s *ExtractIUPAC) find(sequence []byte) (int, bool) {
	n := len(s.Search)
	switch s.AnchorMode {
	case AnchorStart:
		if n > len(sequence) {
			return 0, false
		}
		if iupac.MismatchCount(s.Search, sequence[:n]) <= s.MaxMismatches {
			return 0, true
		}
		return 0, false
	case AnchorEnd:
		if n > len(sequence) {
			return 0, false
		}
		start := len(sequence) - n
		if iupac.MismatchCount(s.Search, sequence[start:]) <= s.MaxMismatches {
			return start, true
		}
		return 0, false
	default: // AnchorAnywhere: scan positions left-to-right
		for start := 0; start+n <= len(sequence); start++ {
			if iupac.MismatchCount(s.Search, sequence[start:start+n]) <= s.MaxMismatches {
				return start, true
			}
		}
		return 0, false
	}
}

// ExtractRegex captures a named regex group as a string tag. The
// engine uses Go's RE2-based regexp package, which is deterministic
// finite-automaton based and disallows backreferences.
type ExtractRegex struct {
	BaseStep
	Segment string
	Pattern *regexp.Regexp
	Label   string
	segIdx  int
	tagIdx  int
	group   int
}

func NewExtractRegex(segment, pattern, label string) (*ExtractRegex, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("ExtractRegex(%s): %w", segment, err)
	}
	group := -1
	for i, name := range re.SubexpNames() {
		if name != "" {
			group = i
			break
		}
	}
	if group < 0 {
		return nil, fmt.Errorf("ExtractRegex(%s): pattern %q has no named capture group", segment, pattern)
	}
	return &ExtractRegex{Segment: segment, Pattern: re, Label: label, group: group}, nil
}

func (s *ExtractRegex) Name() string { return fmt.Sprintf("ExtractRegex(%s,%s)", s.Segment, s.Label) }

func (s *ExtractRegex) Init(ctx *InitContext) error {
	s.segIdx = ctx.SegmentIndex(s.Segment)
	if s.segIdx < 0 {
		return fmt.Errorf("%s: unknown segment %q", s.Name(), s.Segment)
	}
	idx, err := ctx.Registry.Define(s.Label, molecule.TagString, s.Name())
	if err != nil {
		return err
	}
	s.tagIdx = idx
	return nil
}

func (s *ExtractRegex) Capabilities() Capabilities { return parallelSafe() }

func (s *ExtractRegex) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		seq := m.Segments[s.segIdx].Sequence
		loc := s.Pattern.FindSubmatchIndex(seq)
		if loc == nil || loc[2*s.group] < 0 {
			return
		}
		m.SetTag(s.tagIdx, molecule.Tag{Kind: molecule.TagString, String: append([]byte(nil), seq[loc[2*s.group]:loc[2*s.group+1]]...)})
	})
	return nil
}

// ExtractRegion captures a fixed [start, start+length) region as a
// location tag.
type ExtractRegion struct {
	BaseStep
	Segment string
	Start   int
	Length  int
	Label   string
	segIdx  int
	tagIdx  int
}

func NewExtractRegion(segment string, start, length int, label string) *ExtractRegion {
	return &ExtractRegion{Segment: segment, Start: start, Length: length, Label: label}
}

func (s *ExtractRegion) Name() string { return fmt.Sprintf("ExtractRegion(%s,%s)", s.Segment, s.Label) }

func (s *ExtractRegion) Init(ctx *InitContext) error {
	s.segIdx = ctx.SegmentIndex(s.Segment)
	if s.segIdx < 0 {
		return fmt.Errorf("%s: unknown segment %q", s.Name(), s.Segment)
	}
	idx, err := ctx.Registry.Define(s.Label, molecule.TagLocation, s.Name())
	if err != nil {
		return err
	}
	s.tagIdx = idx
	return nil
}

func (s *ExtractRegion) Capabilities() Capabilities { return parallelSafe() }

func (s *ExtractRegion) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		seg := &m.Segments[s.segIdx]
		if s.Start >= len(seg.Sequence) {
			return
		}
		end := s.Start + s.Length
		if end > len(seg.Sequence) {
			end = len(seg.Sequence)
		}
		m.SetTag(s.tagIdx, molecule.Tag{
			Kind: molecule.TagLocation,
			Location: molecule.Location{
				SegmentIndex:  s.segIdx,
				Start:         s.Start,
				Length:        end - s.Start,
				CapturedBytes: append([]byte(nil), seg.Sequence[s.Start:end]...),
				CapturedQual:  append([]byte(nil), sliceOrEmpty(seg.Quality, s.Start, end)...),
			},
		})
	})
	return nil
}
