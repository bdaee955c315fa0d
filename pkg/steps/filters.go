package steps

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/exascience/fastq-processor/pkg/block"
	"github.com/exascience/fastq-processor/pkg/codec"
	"github.com/exascience/fastq-processor/pkg/molecule"
	"github.com/exascience/fastq-processor/pkg/reader"
)

func orderSensitive() Capabilities { return Capabilities{OrderSensitive: true} }

// Head passes through only the first N molecules of the whole stream
// and triggers early cancellation once reached, so the writer observes
// the cutoff before it emits extra records.
type Head struct {
	BaseStep
	N      int
	cancel func()
	seen   int64
}

func NewHead(n int) *Head { return &Head{N: n} }

func (s *Head) Name() string { return fmt.Sprintf("Head(%d)", s.N) }

func (s *Head) Init(ctx *InitContext) error {
	s.cancel = ctx.Cancel
	return nil
}

func (s *Head) Capabilities() Capabilities { return orderSensitive() }

func (s *Head) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	for _, m := range blk.Molecules {
		if !m.Keep {
			continue
		}
		if s.seen >= int64(s.N) {
			m.Keep = false
			continue
		}
		s.seen++
	}
	if s.seen >= int64(s.N) && s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Skip drops the first N molecules of the whole stream, keeping the
// rest.
type Skip struct {
	BaseStep
	N      int
	seen   int64
}

func NewSkip(n int) *Skip { return &Skip{N: n} }

func (s *Skip) Name() string { return fmt.Sprintf("Skip(%d)", s.N) }

func (s *Skip) Init(_ *InitContext) error { return nil }

func (s *Skip) Capabilities() Capabilities { return orderSensitive() }

func (s *Skip) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	for _, m := range blk.Molecules {
		if !m.Keep {
			continue
		}
		if s.seen < int64(s.N) {
			m.Keep = false
		}
		s.seen++
	}
	return nil
}

// FilterEmpty drops molecules whose segment is empty.
type FilterEmpty struct {
	BaseStep
	Segment string
	segIdx  int
}

func NewFilterEmpty(segment string) *FilterEmpty { return &FilterEmpty{Segment: segment} }

func (s *FilterEmpty) Name() string { return fmt.Sprintf("FilterEmpty(%s)", s.Segment) }

func (s *FilterEmpty) Init(ctx *InitContext) error {
	s.segIdx = ctx.SegmentIndex(s.Segment)
	if s.segIdx < 0 {
		return fmt.Errorf("%s: unknown segment %q", s.Name(), s.Segment)
	}
	return nil
}

func (s *FilterEmpty) Capabilities() Capabilities { return parallelSafe() }

func (s *FilterEmpty) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		if len(m.Segments[s.segIdx].Sequence) == 0 {
			m.Keep = false
		}
	})
	return nil
}

// TagPredicate is a user-supplied predicate over a string tag's bytes,
// for FilterByTag.
type TagPredicate func([]byte) bool

// FilterByTag keeps molecules whose string tag satisfies predicate.
type FilterByTag struct {
	BaseStep
	Label     string
	Predicate TagPredicate
	tagIdx    int
}

func NewFilterByTag(label string, predicate TagPredicate) *FilterByTag {
	return &FilterByTag{Label: label, Predicate: predicate}
}

func (s *FilterByTag) Name() string { return fmt.Sprintf("FilterByTag(%s)", s.Label) }

func (s *FilterByTag) Init(ctx *InitContext) error {
	idx, err := ctx.Registry.RequireKind(s.Label, s.Name(), molecule.TagString)
	if err != nil {
		return err
	}
	s.tagIdx = idx
	return nil
}

func (s *FilterByTag) Capabilities() Capabilities { return parallelSafe() }

func (s *FilterByTag) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		t := m.Tag(s.tagIdx)
		if !t.Present || !s.Predicate(t.String) {
			m.Keep = false
		}
	})
	return nil
}

// NumericOp is a comparison operator for FilterByNumericTag.
type NumericOp int

const (
	OpLess NumericOp = iota
	OpLessEqual
	OpGreater
	OpGreaterEqual
	OpEqual
)

func (op NumericOp) apply(v, threshold float64) bool {
	switch op {
	case OpLess:
		return v < threshold
	case OpLessEqual:
		return v <= threshold
	case OpGreater:
		return v > threshold
	case OpGreaterEqual:
		return v >= threshold
	case OpEqual:
		return v == threshold
	default:
		return false
	}
}

// FilterByNumericTag keeps molecules whose numeric tag satisfies op
// against value.
type FilterByNumericTag struct {
	BaseStep
	Label  string
	Op     NumericOp
	Value  float64
	tagIdx int
}

func NewFilterByNumericTag(label string, op NumericOp, value float64) *FilterByNumericTag {
	return &FilterByNumericTag{Label: label, Op: op, Value: value}
}

func (s *FilterByNumericTag) Name() string { return fmt.Sprintf("FilterByNumericTag(%s)", s.Label) }

func (s *FilterByNumericTag) Init(ctx *InitContext) error {
	idx, err := ctx.Registry.RequireKind(s.Label, s.Name(), molecule.TagNumeric)
	if err != nil {
		return err
	}
	s.tagIdx = idx
	return nil
}

func (s *FilterByNumericTag) Capabilities() Capabilities { return parallelSafe() }

func (s *FilterByNumericTag) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		t := m.Tag(s.tagIdx)
		if !t.Present || !s.Op.apply(t.Numeric, s.Value) {
			m.Keep = false
		}
	})
	return nil
}

// FilterByBoolTag keeps molecules whose bool tag is true.
type FilterByBoolTag struct {
	BaseStep
	Label  string
	tagIdx int
}

func NewFilterByBoolTag(label string) *FilterByBoolTag { return &FilterByBoolTag{Label: label} }

func (s *FilterByBoolTag) Name() string { return fmt.Sprintf("FilterByBoolTag(%s)", s.Label) }

func (s *FilterByBoolTag) Init(ctx *InitContext) error {
	idx, err := ctx.Registry.RequireKind(s.Label, s.Name(), molecule.TagBool)
	if err != nil {
		return err
	}
	s.tagIdx = idx
	return nil
}

func (s *FilterByBoolTag) Capabilities() Capabilities { return parallelSafe() }

func (s *FilterByBoolTag) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		t := m.Tag(s.tagIdx)
		if !t.Present || !t.Bool {
			m.Keep = false
		}
	})
	return nil
}

// FilterSample keeps each record independently with probability p,
// deterministic given seed + block index + position within block.
type FilterSample struct {
	BaseStep
	Probability float64
	Seed        int64
}

func NewFilterSample(probability float64, seed int64) *FilterSample {
	return &FilterSample{Probability: probability, Seed: seed}
}

func (s *FilterSample) Name() string { return fmt.Sprintf("FilterSample(%g)", s.Probability) }

func (s *FilterSample) Init(_ *InitContext) error { return nil }

func (s *FilterSample) Capabilities() Capabilities { return parallelSafe() }

func (s *FilterSample) TransformBlock(blk *block.Block, rt RuntimeContext) error {
	for i, m := range blk.Molecules {
		if !m.Keep {
			continue
		}
		if deterministicUnit(s.Seed, rt.BlockIndex, i) >= s.Probability {
			m.Keep = false
		}
	}
	return nil
}

// deterministicUnit derives a value in [0,1) from (seed, blockIndex,
// pos) via splitmix64, so sampling decisions never depend on goroutine
// scheduling.
func deterministicUnit(seed int64, blockIndex, pos int) float64 {
	h := uint64(seed)
	h = splitmix64(h ^ uint64(blockIndex)*0x9E3779B97F4A7C15)
	h = splitmix64(h ^ uint64(pos)*0xBF58476D1CE4E5B9)
	return float64(h>>11) / float64(uint64(1)<<53)
}

func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

// FilterReservoirSample maintains a fixed-size reservoir across the
// full stream using Algorithm R, with the boundary condition fixed at
// its inclusive upper bound: position i (0-indexed) enters slot
// rand_in [0, i] when i < n, or replaces an existing slot when
// rand_in [0, i] < n. It is inherently an order-sensitive, single
// global-state step.
type FilterReservoirSample struct {
	BaseStep
	N        int
	Seed     int64
	index    int64
	reservoir []*molecule.Molecule
}

func NewFilterReservoirSample(n int, seed int64) *FilterReservoirSample {
	return &FilterReservoirSample{N: n, Seed: seed}
}

func (s *FilterReservoirSample) Name() string { return fmt.Sprintf("FilterReservoirSample(%d)", s.N) }

func (s *FilterReservoirSample) Init(_ *InitContext) error {
	s.reservoir = make([]*molecule.Molecule, 0, s.N)
	return nil
}

func (s *FilterReservoirSample) Capabilities() Capabilities { return orderSensitive() }

func (s *FilterReservoirSample) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	for _, m := range blk.Molecules {
		if !m.Keep {
			continue
		}
		m.Keep = false // dropped here; the scheduler re-injects Reservoir() after the stream drains
		i := s.index
		s.index++
		if int(i) < s.N {
			s.reservoir = append(s.reservoir, m)
			continue
		}
		r := deterministicUnit(s.Seed, 0, int(i))
		slot := int(r * float64(i+1))
		if slot < s.N {
			s.reservoir[slot] = m
		}
	}
	return nil
}

// Reservoir returns the final sampled set, in reservoir-slot order.
// Exposed so the scheduler can re-inject the winners as a final block
// after the normal stream has drained.
func (s *FilterReservoirSample) Reservoir() []*molecule.Molecule {
	return s.reservoir
}

// FilterOtherFileByName/BySeq load an auxiliary file into an in-memory
// exact-match set at Init, then filter each molecule against it.
type FilterOtherFileMode int

const (
	FilterOtherByName FilterOtherFileMode = iota
	FilterOtherBySeq
)

type FilterOtherFile struct {
	BaseStep
	Segment string
	Mode    FilterOtherFileMode
	Path    string
	Keep    bool // true: keep only members; false: drop members
	segIdx  int
	set     map[string]struct{}
}

func NewFilterOtherFile(segment, path string, mode FilterOtherFileMode, keepMembers bool) *FilterOtherFile {
	return &FilterOtherFile{Segment: segment, Mode: mode, Path: path, Keep: keepMembers}
}

func (s *FilterOtherFile) Name() string { return fmt.Sprintf("FilterOtherFile(%s,%s)", s.Segment, s.Path) }

func (s *FilterOtherFile) Init(ctx *InitContext) error {
	s.segIdx = ctx.SegmentIndex(s.Segment)
	if s.segIdx < 0 {
		return fmt.Errorf("%s: unknown segment %q", s.Name(), s.Segment)
	}
	set, err := loadAuxiliarySet(s.Path, s.Mode)
	if err != nil {
		return err
	}
	s.set = set
	return nil
}

func (s *FilterOtherFile) Capabilities() Capabilities { return parallelSafe() }

func (s *FilterOtherFile) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		var key []byte
		switch s.Mode {
		case FilterOtherByName:
			key, _ = reader.SplitHeaderComment(m.Segments[s.segIdx].Header, ' ')
		case FilterOtherBySeq:
			key = m.Segments[s.segIdx].Sequence
		}
		_, member := s.set[string(key)]
		if member != s.Keep {
			m.Keep = false
		}
	})
	return nil
}

// loadAuxiliarySet reads path (auto-detecting FASTQ/FASTA and
// compression) into an in-memory exact-match set of names or
// sequences.
func loadAuxiliarySet(path string, mode FilterOtherFileMode) (map[string]struct{}, error) {
	rc, _, err := codec.OpenAuto(path, nil)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	set := map[string]struct{}{}
	peekBuf := bufio.NewReader(rc)
	first, err := peekBuf.Peek(1)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return set, nil
		}
		return nil, err
	}

	var rr reader.SegmentReader
	if first[0] == '>' {
		rr = reader.NewFastaReader(nopCloser{peekBuf}, 0, 40)
	} else {
		rr = reader.NewFastqReader(nopCloser{peekBuf}, 0)
	}
	for {
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch mode {
		case FilterOtherByName:
			name, _ := reader.SplitHeaderComment(rec.Header, ' ')
			set[string(name)] = struct{}{}
		case FilterOtherBySeq:
			set[string(rec.Sequence)] = struct{}{}
		}
	}
	return set, nil
}

type nopCloser struct{ r interface{ Read([]byte) (int, error) } }

func (n nopCloser) Read(p []byte) (int, error) { return n.r.Read(p) }
func (n nopCloser) Close() error               { return nil }
