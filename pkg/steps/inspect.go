package steps

import (
	"fmt"

	"github.com/exascience/fastq-processor/pkg/block"
	"github.com/exascience/fastq-processor/pkg/report"
)

// Inspect emits per-block statistics for one segment (length histogram,
// per-position base composition, per-position quality histogram,
// duplication estimate by prefix k-mer). Results are mergeable (sum of
// histograms) and merged into the aggregator after each block.
type Inspect struct {
	BaseStep
	Segment string
	PrefixK int
	segIdx  int
	agg     *report.Aggregator
}

func NewInspect(segment string, prefixK int) *Inspect {
	return &Inspect{Segment: segment, PrefixK: prefixK}
}

func (s *Inspect) Name() string { return fmt.Sprintf("Inspect(%s)", s.Segment) }

func (s *Inspect) Init(ctx *InitContext) error {
	s.segIdx = ctx.SegmentIndex(s.Segment)
	if s.segIdx < 0 {
		return fmt.Errorf("%s: unknown segment %q", s.Name(), s.Segment)
	}
	s.agg = ctx.Aggregator
	return nil
}

func (s *Inspect) Capabilities() Capabilities { return parallelSafe() }

func (s *Inspect) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	contribution := report.NewSegmentStats(s.Segment, s.PrefixK)
	forEachKeptConst(blk, func(seq, qual []byte) {
		contribution.Observe(seq, qual)
	}, s.segIdx)
	s.agg.MergeSegment(s.Segment, contribution)
	return nil
}

func forEachKeptConst(blk *block.Block, fn func(seq, qual []byte), segIdx int) {
	for _, m := range blk.Molecules {
		if !m.Keep {
			continue
		}
		seg := &m.Segments[segIdx]
		fn(seg.Sequence, seg.Quality)
	}
}

// Report is the sibling of Inspect that spans every configured
// segment: the same per-block statistics, gathered for the whole
// molecule in one step so a pipeline doesn't need one Inspect per
// segment just to get an overall report.
type Report struct {
	BaseStep
	Segments []string
	PrefixK  int
	segIdxs  []int
	agg      *report.Aggregator
}

func NewReport(segments []string, prefixK int) *Report {
	return &Report{Segments: segments, PrefixK: prefixK}
}

func (s *Report) Name() string { return "Report" }

func (s *Report) Init(ctx *InitContext) error {
	s.segIdxs = make([]int, len(s.Segments))
	for i, name := range s.Segments {
		idx := ctx.SegmentIndex(name)
		if idx < 0 {
			return fmt.Errorf("Report: unknown segment %q", name)
		}
		s.segIdxs[i] = idx
	}
	s.agg = ctx.Aggregator
	return nil
}

func (s *Report) Capabilities() Capabilities { return parallelSafe() }

func (s *Report) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	contributions := make([]*report.SegmentStats, len(s.segIdxs))
	for i, name := range s.Segments {
		contributions[i] = report.NewSegmentStats(name, s.PrefixK)
	}
	for _, m := range blk.Molecules {
		if !m.Keep {
			continue
		}
		for i, segIdx := range s.segIdxs {
			seg := &m.Segments[segIdx]
			contributions[i].Observe(seg.Sequence, seg.Quality)
		}
	}
	for i, name := range s.Segments {
		s.agg.MergeSegment(name, contributions[i])
	}
	return nil
}
