// Package codec implements the uniform byte-stream compression layer:
// format detection from magic bytes, and readers/writers for the
// supported compressions. Every other package treats compression as an
// opaque byte-stream codec behind io.Reader/io.Writer.
package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/biogo/hts/bgzf"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Kind identifies a compression codec.
type Kind int

const (
	Raw Kind = iota
	Gzip
	Zstd
	BGZF
)

func (k Kind) String() string {
	switch k {
	case Raw:
		return "raw"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case BGZF:
		return "bgzf"
	default:
		return "unknown"
	}
}

var (
	gzipMagic = []byte{0x1F, 0x8B}
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
)

// UnknownFormatError is returned when neither the magic bytes nor an
// explicit suffix override identify a supported codec.
type UnknownFormatError struct {
	Path string
}

func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("codec: unknown compression format for %q", e.Path)
}

// CorruptCompressedError wraps a decode failure with the byte offset it
// was first detected at, where known.
type CorruptCompressedError struct {
	Path   string
	Offset int64
	Cause  error
}

func (e *CorruptCompressedError) Error() string {
	return fmt.Sprintf("codec: corrupt compressed stream %q at offset %d: %v", e.Path, e.Offset, e.Cause)
}

func (e *CorruptCompressedError) Unwrap() error { return e.Cause }

// IOError wraps an I/O failure with the path it occurred on.
type IOError struct {
	Path  string
	Cause error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("codec: io error on %q: %v", e.Path, e.Cause)
}

func (e *IOError) Unwrap() error { return e.Cause }

// DetectKind sniffs the codec of a byte stream from its first bytes,
// BAM files (bgzf containers with a "BAM\1" payload) are reported as
// Gzip, since bgzf starts with the gzip magic and the generic decode
// path is identical; the BAM record
// reader re-validates the "BAM\1" magic once it has decompressed.
func DetectKind(peek []byte) Kind {
	switch {
	case hasPrefix(peek, gzipMagic):
		return Gzip
	case hasPrefix(peek, zstdMagic):
		return Zstd
	default:
		return Raw
	}
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

// KindFromSuffix maps an explicit user-chosen suffix override to a
// Kind, used when the config names a compression instead of deferring
// to auto-detection.
func KindFromSuffix(suffix string) (Kind, bool) {
	switch strings.ToLower(strings.TrimPrefix(suffix, ".")) {
	case "gz", "gzip":
		return Gzip, true
	case "zst", "zstd":
		return Zstd, true
	case "bam", "bgzf":
		return BGZF, true
	case "", "fastq", "fq", "fasta", "fa":
		return Raw, true
	default:
		return Raw, false
	}
}

// peekReader wraps a bufio.Reader so detection can sniff bytes without
// consuming them from the caller's perspective.
type peekReader struct {
	*bufio.Reader
}

// OpenAuto opens path, detects its compression from its first bytes
// (unless override is non-nil), and returns a decompressing
// io.ReadCloser over the raw file.
func OpenAuto(path string, override *Kind) (io.ReadCloser, Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Raw, &IOError{Path: path, Cause: err}
	}
	br := bufio.NewReader(f)
	kind := Raw
	if override != nil {
		kind = *override
	} else {
		peek, _ := br.Peek(4)
		kind = DetectKind(peek)
	}
	rc, err := wrapReader(path, br, f, kind)
	if err != nil {
		_ = f.Close()
		return nil, kind, err
	}
	return rc, kind, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func wrapReader(path string, br *bufio.Reader, underlying io.Closer, kind Kind) (io.ReadCloser, error) {
	switch kind {
	case Raw:
		return &readCloser{Reader: br, closers: []io.Closer{underlying}}, nil
	case Gzip:
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, &CorruptCompressedError{Path: path, Cause: err}
		}
		return &readCloser{Reader: gr, closers: []io.Closer{gr, underlying}}, nil
	case Zstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, &CorruptCompressedError{Path: path, Cause: err}
		}
		return &readCloser{Reader: zr, closers: []io.Closer{closerFunc(zr.Close), underlying}}, nil
	case BGZF:
		bg, err := bgzf.NewReader(br, 0)
		if err != nil {
			return nil, &CorruptCompressedError{Path: path, Cause: err}
		}
		return &readCloser{Reader: bg, closers: []io.Closer{bg, underlying}}, nil
	default:
		return nil, &UnknownFormatError{Path: path}
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// ConcatReader concatenates the decompressed byte streams of several
// files for one segment, synthesizing a trailing newline between files
// if the preceding one did not end with one.
type ConcatReader struct {
	paths    []string
	override *Kind
	idx      int
	cur      io.ReadCloser
	lastByte byte
	sawByte  bool
	pending  bool
}

// NewConcatReader returns a reader over the concatenation of the
// decompressed contents of paths, in order.
func NewConcatReader(paths []string, override *Kind) (*ConcatReader, error) {
	if len(paths) == 0 {
		return nil, errors.New("codec: no input files given")
	}
	return &ConcatReader{paths: paths, override: override}, nil
}

func (c *ConcatReader) Read(p []byte) (int, error) {
	for {
		if c.pending {
			if len(p) == 0 {
				return 0, nil
			}
			p[0] = '\n'
			c.pending = false
			c.sawByte = false
			return 1, nil
		}
		if c.cur == nil {
			if c.idx >= len(c.paths) {
				return 0, io.EOF
			}
			rc, _, err := OpenAuto(c.paths[c.idx], c.override)
			if err != nil {
				return 0, err
			}
			c.idx++
			c.cur = rc
		}
		n, err := c.cur.Read(p)
		if n > 0 {
			c.lastByte = p[n-1]
			c.sawByte = true
		}
		if err == io.EOF {
			closeErr := c.cur.Close()
			c.cur = nil
			if closeErr != nil {
				return n, closeErr
			}
			more := c.idx < len(c.paths)
			if more && c.sawByte && c.lastByte != '\n' {
				c.pending = true
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
	}
}

// Close releases the currently open underlying file, if any.
func (c *ConcatReader) Close() error {
	if c.cur != nil {
		err := c.cur.Close()
		c.cur = nil
		return err
	}
	return nil
}

// CreateAuto creates path and returns a compressing io.WriteCloser per
// kind, bound-checking level against the codec's documented range.
func CreateAuto(path string, kind Kind, level int) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, &IOError{Path: path, Cause: err}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, &IOError{Path: path, Cause: err}
	}
	switch kind {
	case Raw:
		return f, nil
	case Gzip:
		if level < gzip.HuffmanOnly || level > gzip.BestCompression {
			level = gzip.DefaultCompression
		}
		gw, err := gzip.NewWriterLevel(f, level)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		return &writeCloser{Writer: gw, closers: []io.Closer{gw, f}}, nil
	case Zstd:
		if level < 1 || level > 22 {
			level = 3
		}
		zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		return &writeCloser{Writer: zw, closers: []io.Closer{zw, f}}, nil
	case BGZF:
		bw := bgzf.NewWriter(f, 1)
		return &writeCloser{Writer: bw, closers: []io.Closer{bw, f}}, nil
	default:
		_ = f.Close()
		return nil, &UnknownFormatError{Path: path}
	}
}

type writeCloser struct {
	io.Writer
	closers []io.Closer
}

func (w *writeCloser) Close() error {
	var first error
	for _, c := range w.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
