// Package report implements monoidal per-block statistics: histograms
// and counters that merge by component-wise addition, accumulated per
// block and merged into the Aggregator as each block completes.
package report

// LengthHistogram maps sequence length to occurrence count.
type LengthHistogram map[int]uint64

func (h LengthHistogram) Add(length int, n uint64) {
	h[length] += n
}

func (h LengthHistogram) Merge(other LengthHistogram) {
	for k, v := range other {
		h[k] += v
	}
}

// BaseComposition is a per-position count of A/C/G/T/N(other) bases.
type BaseComposition struct {
	A, C, G, T, Other []uint64
}

func (b *BaseComposition) ensure(pos int) {
	for len(b.A) <= pos {
		b.A = append(b.A, 0)
		b.C = append(b.C, 0)
		b.G = append(b.G, 0)
		b.T = append(b.T, 0)
		b.Other = append(b.Other, 0)
	}
}

func (b *BaseComposition) Add(pos int, base byte) {
	b.ensure(pos)
	switch base {
	case 'A', 'a':
		b.A[pos]++
	case 'C', 'c':
		b.C[pos]++
	case 'G', 'g':
		b.G[pos]++
	case 'T', 't':
		b.T[pos]++
	default:
		b.Other[pos]++
	}
}

func (b *BaseComposition) Merge(other *BaseComposition) {
	b.ensure(len(other.A) - 1)
	for i := range other.A {
		b.A[i] += other.A[i]
		b.C[i] += other.C[i]
		b.G[i] += other.G[i]
		b.T[i] += other.T[i]
		b.Other[i] += other.Other[i]
	}
}

// QualityHistogram is a per-position histogram of Phred quality bytes.
type QualityHistogram struct {
	// Counts[pos][q] is the number of bases at pos with quality q.
	Counts [][256]uint64
}

func (q *QualityHistogram) ensure(pos int) {
	for len(q.Counts) <= pos {
		q.Counts = append(q.Counts, [256]uint64{})
	}
}

func (q *QualityHistogram) Add(pos int, qual byte) {
	q.ensure(pos)
	q.Counts[pos][qual]++
}

func (q *QualityHistogram) Merge(other *QualityHistogram) {
	q.ensure(len(other.Counts) - 1)
	for i := range other.Counts {
		for v, c := range other.Counts[i] {
			q.Counts[i][v] += c
		}
	}
}

// SegmentStats is the statistics gathered for one segment by Inspect.
type SegmentStats struct {
	SegmentName string
	Count       uint64
	Lengths     LengthHistogram
	Bases       BaseComposition
	Qualities   QualityHistogram
	// DuplicatePrefixes estimates duplication by counting repeated
	// prefix k-mers of the sequence.
	DuplicatePrefixes map[string]uint64
	PrefixK           int
}

// NewSegmentStats returns a zero-valued SegmentStats for segmentName,
// using prefixK-length prefixes for the duplication estimate.
func NewSegmentStats(segmentName string, prefixK int) *SegmentStats {
	return &SegmentStats{
		SegmentName:       segmentName,
		Lengths:           LengthHistogram{},
		DuplicatePrefixes: map[string]uint64{},
		PrefixK:           prefixK,
	}
}

// Observe folds one segment's (sequence, quality) into the stats.
func (s *SegmentStats) Observe(sequence, quality []byte) {
	s.Count++
	s.Lengths.Add(len(sequence), 1)
	for i, b := range sequence {
		s.Bases.Add(i, b)
	}
	for i, q := range quality {
		s.Qualities.Add(i, q)
	}
	k := s.PrefixK
	if k > 0 && len(sequence) >= k {
		s.DuplicatePrefixes[string(sequence[:k])]++
	}
}

// Merge folds other into s by component-wise addition.
func (s *SegmentStats) Merge(other *SegmentStats) {
	s.Count += other.Count
	s.Lengths.Merge(other.Lengths)
	s.Bases.Merge(&other.Bases)
	s.Qualities.Merge(&other.Qualities)
	for k, v := range other.DuplicatePrefixes {
		s.DuplicatePrefixes[k] += v
	}
}

// StepTiming accumulates wall time a step held a block, if timing is
// enabled.
type StepTiming struct {
	StepName    string
	BlocksSeen  uint64
	NanosSpent  int64
	DroppedByMe uint64
}

func (t *StepTiming) Merge(other *StepTiming) {
	t.BlocksSeen += other.BlocksSeen
	t.NanosSpent += other.NanosSpent
	t.DroppedByMe += other.DroppedByMe
}
