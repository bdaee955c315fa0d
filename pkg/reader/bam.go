package reader

import (
	"fmt"
	"io"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"

	"github.com/exascience/fastq-processor/pkg/iupac"
)

// BamReader yields an iterator over primary alignments from a BGZF/BAM
// container, optionally filtered by mapped/unmapped flags. Sequence is
// reverse-complemented when the read was mapped to the reverse strand
// so the emitted sequence is always in the original sequencing
// orientation, matching FASTQ/FASTA semantics.
type BamReader struct {
	r               *bam.Reader
	includeMapped   bool
	includeUnmapped bool
}

// NewBamReader wraps src (the raw, still-BGZF-compressed byte stream)
// as a BAM SegmentReader.
func NewBamReader(src io.Reader, includeMapped, includeUnmapped bool) (*BamReader, error) {
	r, err := bam.NewReader(src, 0)
	if err != nil {
		return nil, fmt.Errorf("bam: %w", err)
	}
	return &BamReader{r: r, includeMapped: includeMapped, includeUnmapped: includeUnmapped}, nil
}

func (r *BamReader) Next() (RawRecord, error) {
	for {
		rec, err := r.r.Read()
		if err == io.EOF {
			return RawRecord{}, io.EOF
		}
		if err != nil {
			return RawRecord{}, fmt.Errorf("bam: %w", err)
		}
		if rec.Flags&(sam.Secondary|sam.Supplementary) != 0 {
			continue
		}
		unmapped := rec.Flags&sam.Unmapped != 0
		if unmapped && !r.includeUnmapped {
			continue
		}
		if !unmapped && !r.includeMapped {
			continue
		}

		seq := expandSeq(rec)
		qual := append([]byte(nil), rec.Qual...)
		for i := range qual {
			qual[i] += 33
		}

		if !unmapped && rec.Flags&sam.Reverse != 0 {
			rc := make([]byte, len(seq))
			iupac.ReverseComplementInto(rc, seq)
			seq = rc
			for i, j := 0, len(qual)-1; i < j; i, j = i+1, j-1 {
				qual[i], qual[j] = qual[j], qual[i]
			}
		}

		return RawRecord{Header: []byte(rec.Name), Sequence: seq, Quality: qual}, nil
	}
}

func expandSeq(rec *sam.Record) []byte {
	return append([]byte(nil), rec.Seq.Expand()...)
}

func (r *BamReader) Close() error {
	return r.r.Close()
}
