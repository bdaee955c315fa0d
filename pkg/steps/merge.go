package steps

import (
	"fmt"

	"github.com/exascience/fastq-processor/pkg/block"
	"github.com/exascience/fastq-processor/pkg/iupac"
	"github.com/exascience/fastq-processor/pkg/molecule"
)

// MergeReads overlap-merges paired reads: it tries every alignment
// offset, scores by matches minus K*mismatches over at least MinOverlap
// bases with mismatch rate <= MaxMismatchRate, and on a winning offset
// resolves each overlapping position to the higher-quality base. Ties
// are broken by larger overlap, then by smaller |offset|.
type MergeReads struct {
	BaseStep
	Read1, Read2    string
	MinOverlap      int
	MaxMismatchRate float64
	MismatchPenalty float64 // K in "matches - K*mismatches"
	MergedTagLabel  string  // tag label for the merged/not-merged boolean

	idx1, idx2 int
	mergedTag  int
}

// NewMergeReads returns a MergeReads step with MismatchPenalty k=2 and
// the "merged" tag label; minOverlap and maxMismatchRate are used as
// given.
func NewMergeReads(read1, read2 string, minOverlap int, maxMismatchRate float64) *MergeReads {
	return &MergeReads{
		Read1:           read1,
		Read2:           read2,
		MinOverlap:      minOverlap,
		MaxMismatchRate: maxMismatchRate,
		MismatchPenalty: 2.0,
		MergedTagLabel:  "merged",
	}
}

func (s *MergeReads) Name() string { return fmt.Sprintf("MergeReads(%s,%s)", s.Read1, s.Read2) }

func (s *MergeReads) Init(ctx *InitContext) error {
	s.idx1 = ctx.SegmentIndex(s.Read1)
	s.idx2 = ctx.SegmentIndex(s.Read2)
	if s.idx1 < 0 || s.idx2 < 0 {
		return fmt.Errorf("%s: unknown read segment(s)", s.Name())
	}
	idx, err := ctx.Registry.Define(s.MergedTagLabel, molecule.TagBool, s.Name())
	if err != nil {
		return err
	}
	s.mergedTag = idx
	return nil
}

func (s *MergeReads) Capabilities() Capabilities { return parallelSafe() }

func (s *MergeReads) TransformBlock(blk *block.Block, _ RuntimeContext) error {
	forEachKept(blk, func(m *molecule.Molecule) {
		r1 := &m.Segments[s.idx1]
		r2 := &m.Segments[s.idx2]

		// read2 is expected already reverse-complemented by an upstream
		// ReverseComplement step so both reads face the same strand;
		// the merge itself only aligns and resolves bases.
		best := findBestOverlap(r1.Sequence, r2.Sequence, s.MinOverlap, s.MaxMismatchRate, s.MismatchPenalty)
		if best == nil {
			m.SetTag(s.mergedTag, molecule.Tag{Kind: molecule.TagBool, Bool: false})
			return
		}

		merged, mergedQual := resolveOverlap(r1, r2, *best)
		r1.Sequence = merged
		r1.Quality = mergedQual
		r2.Sequence = nil
		r2.Quality = nil
		m.SetTag(s.mergedTag, molecule.Tag{Kind: molecule.TagBool, Bool: true})
	})
	return nil
}

type overlapResult struct {
	offset      int // negative: r2 starts -offset bases into r1; positive: r1 starts offset bases into r2
	overlapLen  int
	matches     int
	mismatches  int
	score       float64
}

// findBestOverlap tries every alignment offset o in [-|r1|, |r2|],
// scoring matches - k*mismatches over overlaps of at least minOverlap
// bases with mismatch rate <= maxMismatchRate. Ties: larger overlap
// first, then smaller |offset|.
func findBestOverlap(r1, r2 []byte, minOverlap int, maxMismatchRate, k float64) *overlapResult {
	var best *overlapResult
	for o := -len(r1); o <= len(r2); o++ {
		start1, start2 := 0, 0
		if o < 0 {
			start1 = -o
		} else {
			start2 = o
		}
		overlapLen := min(len(r1)-start1, len(r2)-start2)
		if overlapLen < minOverlap {
			continue
		}
		matches, mismatches := 0, 0
		for i := 0; i < overlapLen; i++ {
			if iupac.MatchesIUPAC(r1[start1+i], r2[start2+i]) {
				matches++
			} else {
				mismatches++
			}
		}
		if float64(mismatches)/float64(overlapLen) > maxMismatchRate {
			continue
		}
		score := float64(matches) - k*float64(mismatches)
		cand := &overlapResult{offset: o, overlapLen: overlapLen, matches: matches, mismatches: mismatches, score: score}
		if better(cand, best) {
			best = cand
		}
	}
	return best
}

func better(cand, best *overlapResult) bool {
	if best == nil {
		return true
	}
	if cand.score != best.score {
		return cand.score > best.score
	}
	if cand.overlapLen != best.overlapLen {
		return cand.overlapLen > best.overlapLen
	}
	return abs(cand.offset) < abs(best.offset)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// resolveOverlap builds the merged sequence: the non-overlapping prefix
// of r1, the resolved overlap, and the non-overlapping suffix of r2.
// Agreeing overlap positions take the higher quality; disagreeing
// positions take the higher-quality base with quality q_hi - q_lo
// clipped to >= 2.
func resolveOverlap(r1, r2 *molecule.Segment, best overlapResult) (seq, qual []byte) {
	start1, start2 := 0, 0
	if best.offset < 0 {
		start1 = -best.offset
	} else {
		start2 = best.offset
	}

	prefixSeq := r1.Sequence[:start1]
	prefixQual := sliceOrZeros(r1.Quality, 0, start1)

	overlapSeq := make([]byte, best.overlapLen)
	overlapQual := make([]byte, best.overlapLen)
	for i := 0; i < best.overlapLen; i++ {
		b1, b2 := r1.Sequence[start1+i], r2.Sequence[start2+i]
		q1, q2 := byteAt(r1.Quality, start1+i), byteAt(r2.Quality, start2+i)
		if b1 == b2 {
			overlapSeq[i] = b1
			overlapQual[i] = maxByte(q1, q2)
			continue
		}
		if q1 >= q2 {
			overlapSeq[i] = b1
		} else {
			overlapSeq[i] = b2
		}
		hi, lo := q1, q2
		if lo > hi {
			hi, lo = lo, hi
		}
		diff := hi - lo
		if diff < 2 {
			diff = 2
		}
		overlapQual[i] = diff + 33 // Phred+33, like the input qualities
	}

	suffixStart := start2 + best.overlapLen
	suffixSeq := r2.Sequence[suffixStart:]
	suffixQual := sliceOrZeros(r2.Quality, suffixStart, len(r2.Sequence))

	seq = concatBytes(prefixSeq, overlapSeq, suffixSeq)
	qual = concatBytes(prefixQual, overlapQual, suffixQual)
	return
}

func byteAt(b []byte, i int) byte {
	if i < 0 || i >= len(b) {
		return 33 // Phred 0
	}
	return b[i]
}

func sliceOrZeros(b []byte, from, to int) []byte {
	if len(b) == 0 {
		return make([]byte, to-from)
	}
	return b[from:to]
}

func maxByte(a, b byte) byte {
	if a > b {
		return a
	}
	return b
}

func concatBytes(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
