package reader

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// FastqReader parses the standard four-line FASTQ record shape: header
// must begin with '@', line 3 must begin with '+', sequence and quality
// must have equal length.
type FastqReader struct {
	src     io.ReadCloser
	scanner *bufio.Scanner
	index   int
}

// NewFastqReader wraps src (already decompressed) as a FASTQ
// SegmentReader. bufferSize seeds the scanner's initial buffer; it is
// grown automatically if a single line exceeds it.
func NewFastqReader(src io.ReadCloser, bufferSize int) *FastqReader {
	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, bufferSize), 16*1024*1024)
	return &FastqReader{src: src, scanner: sc}
}

func (r *FastqReader) Next() (RawRecord, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return RawRecord{}, fmt.Errorf("fastq: record %d: %w", r.index, err)
		}
		return RawRecord{}, io.EOF
	}
	header := append([]byte(nil), r.scanner.Bytes()...)
	if len(header) == 0 || header[0] != '@' {
		return RawRecord{}, fmt.Errorf("fastq: record %d: header line must start with '@', got %q", r.index, header)
	}

	if !r.scanner.Scan() {
		return RawRecord{}, fmt.Errorf("fastq: record %d: missing sequence line", r.index)
	}
	sequence := append([]byte(nil), r.scanner.Bytes()...)

	if !r.scanner.Scan() {
		return RawRecord{}, fmt.Errorf("fastq: record %d: missing separator line", r.index)
	}
	sep := r.scanner.Bytes()
	if len(sep) == 0 || sep[0] != '+' {
		return RawRecord{}, fmt.Errorf("fastq: record %d: separator line must start with '+', got %q", r.index, sep)
	}

	if !r.scanner.Scan() {
		return RawRecord{}, fmt.Errorf("fastq: record %d: missing quality line", r.index)
	}
	quality := append([]byte(nil), r.scanner.Bytes()...)

	if len(quality) != len(sequence) {
		return RawRecord{}, fmt.Errorf("fastq: record %d: sequence/quality length mismatch (%d vs %d)",
			r.index, len(sequence), len(quality))
	}

	r.index++
	return RawRecord{Header: header[1:], Sequence: sequence, Quality: quality}, nil
}

func (r *FastqReader) Close() error {
	return r.src.Close()
}

// SplitHeaderComment splits a FASTQ/FASTA header on the first
// whitespace (or a configured comment character) into name and comment.
func SplitHeaderComment(header []byte, commentChar byte) (name, comment []byte) {
	if commentChar == 0 {
		commentChar = ' '
	}
	if idx := bytes.IndexByte(header, commentChar); idx >= 0 {
		return header[:idx], header[idx+1:]
	}
	return header, nil
}
