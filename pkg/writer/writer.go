// Package writer implements the multi-sink output stage: one writer per
// configured output segment (optionally multiplied across demultiplex
// buckets), with compression, chunk rollover, hashing, and interleaving.
package writer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"golang.org/x/sync/errgroup"

	"github.com/exascience/fastq-processor/pkg/codec"
	"github.com/exascience/fastq-processor/pkg/molecule"
)

// Format is the output record shape.
type Format int

const (
	FormatFastq Format = iota
	FormatFasta
	FormatBAM
	FormatNone
)

// OutputSpec is the resolved configuration for one configured output
// segment.
type OutputSpec struct {
	Prefix                 string
	Format                 Format
	Compression            codec.Kind
	CompressionLevel       int
	Suffix                 string
	Separator              string // defaults to "_"
	ChunkSize              int    // 0 means unbounded
	OutputHashCompressed   bool
	OutputHashUncompressed bool
	KeepIndex              bool
}

// Hashes is the pair of digests recorded for one finished sink.
type Hashes struct {
	Uncompressed string
	Compressed   string
}

// canonicalSegmentName maps internal segment names to the file-template
// names read1/read2/index1/index2 (Open Question (a)): canonical
// output names never use the `_1`/`_2` shorthand.
func canonicalSegmentName(name string) string {
	switch name {
	case "r1", "read_1", "_1":
		return "read1"
	case "r2", "read_2", "_2":
		return "read2"
	case "i1", "index_1":
		return "index1"
	case "i2", "index_2":
		return "index2"
	default:
		return name
	}
}

func filename(spec OutputSpec, bucket, segment string, chunkIndex int) string {
	sep := spec.Separator
	if sep == "" {
		sep = "_"
	}
	name := spec.Prefix
	if bucket != "" {
		name += sep + bucket
	}
	name += sep + canonicalSegmentName(segment)
	if chunkIndex > 0 {
		name += fmt.Sprintf("%s%d", sep, chunkIndex)
	}
	name += spec.Suffix
	return name
}

// sinkFile owns one physical file within a possibly-chunked sink.
type sinkFile struct {
	path   string
	file   *os.File
	writer io.WriteCloser
}

// SegmentWriter writes every kept molecule's segment to a sequence of
// files, rolling over to a new chunk when ChunkSize records have been
// written. Files are opened lazily on first write and removed on error.
type SegmentWriter struct {
	spec       OutputSpec
	segment    string
	bucket     string
	segIdx     int
	bamHeader  *sam.Header
	bamWriter  *bam.Writer

	mu             sync.Mutex
	cur            *sinkFile
	bamBuf         *bytes.Buffer
	chunkIndex     int
	recordsInChunk int
	totalRecords   int
	rawHasher      hash.Hash
	compHasher     hash.Hash
	finished       []*sinkFile
	failed         bool
}

// NewSegmentWriter returns a writer for one (bucket, segment) pair.
// bucket is "" when demultiplexing is not configured.
func NewSegmentWriter(spec OutputSpec, segment string, segIdx int, bucket string) *SegmentWriter {
	w := &SegmentWriter{spec: spec, segment: segment, segIdx: segIdx, bucket: bucket}
	if spec.OutputHashUncompressed {
		w.rawHasher = sha256.New()
	}
	if spec.OutputHashCompressed {
		w.compHasher = sha256.New()
	}
	return w
}

// WriteMolecule formats and writes one molecule's designated segment.
func (w *SegmentWriter) WriteMolecule(m *molecule.Molecule) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failed {
		return fmt.Errorf("writer: sink already failed for segment %q", w.segment)
	}
	seg := &m.Segments[w.segIdx]

	if err := w.ensureOpen(); err != nil {
		w.failed = true
		return err
	}

	var raw []byte
	switch w.spec.Format {
	case FormatFastq:
		raw = formatFastq(seg.Header, seg.Sequence, seg.Quality)
	case FormatFasta:
		raw = formatFasta(seg.Header, seg.Sequence)
	case FormatBAM:
		return w.writeBamRecord(seg)
	case FormatNone:
		return nil
	}

	if w.rawHasher != nil {
		w.rawHasher.Write(raw)
	}
	if _, err := w.cur.writer.Write(raw); err != nil {
		w.failed = true
		w.cleanupOnError()
		return fmt.Errorf("writer: write to %q: %w", w.cur.path, err)
	}
	w.recordsInChunk++
	w.totalRecords++
	if w.spec.ChunkSize > 0 && w.recordsInChunk >= w.spec.ChunkSize {
		if err := w.rotate(); err != nil {
			w.failed = true
			return err
		}
	}
	return nil
}

func (w *SegmentWriter) ensureOpen() error {
	if w.cur != nil || w.spec.Format == FormatBAM {
		if w.spec.Format == FormatBAM && w.bamWriter == nil {
			return w.openBam()
		}
		return nil
	}
	path := filename(w.spec, w.bucket, w.segment, w.chunkIndex)
	wc, err := codec.CreateAuto(path, w.spec.Compression, w.spec.CompressionLevel)
	if err != nil {
		return fmt.Errorf("writer: open sink %q: %w", path, err)
	}
	w.cur = &sinkFile{path: path, writer: wc}
	return nil
}

func (w *SegmentWriter) openBam() error {
	path := filename(w.spec, w.bucket, w.segment, w.chunkIndex)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writer: open BAM sink %q: %w", path, err)
	}
	header, err := sam.NewHeader(nil, nil)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("writer: BAM header for %q: %w", path, err)
	}
	bw, err := bam.NewWriter(f, header, 1)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("writer: BAM writer for %q: %w", path, err)
	}
	w.bamHeader = header
	w.bamWriter = bw
	w.cur = &sinkFile{path: path, file: f}
	return nil
}

func (w *SegmentWriter) writeBamRecord(seg *molecule.Segment) error {
	rec, err := sam.NewRecord(string(seg.Header), nil, nil, -1, -1, 0, 0, nil, seg.Sequence, unphred(seg.Quality), nil)
	if err != nil {
		w.failed = true
		return fmt.Errorf("writer: building BAM record: %w", err)
	}
	rec.Flags = sam.Unmapped
	if err := w.bamWriter.Write(rec); err != nil {
		w.failed = true
		return fmt.Errorf("writer: writing BAM record: %w", err)
	}
	w.recordsInChunk++
	w.totalRecords++
	if w.spec.ChunkSize > 0 && w.recordsInChunk >= w.spec.ChunkSize {
		if err := w.rotate(); err != nil {
			w.failed = true
			return err
		}
	}
	return nil
}

// unphred converts Phred+33 ASCII quality bytes to biogo/hts's raw
// (offset-free) quality representation.
func unphred(qual []byte) []byte {
	if len(qual) == 0 {
		return nil
	}
	out := make([]byte, len(qual))
	for i, q := range qual {
		out[i] = q - 33
	}
	return out
}

// rotate closes the current chunk file and opens the next one lazily
// on the following write.
func (w *SegmentWriter) rotate() error {
	if err := w.closeCurrent(); err != nil {
		return err
	}
	w.chunkIndex++
	w.recordsInChunk = 0
	return nil
}

func (w *SegmentWriter) closeCurrent() error {
	if w.spec.Format == FormatBAM {
		if w.bamWriter != nil {
			if err := w.bamWriter.Close(); err != nil {
				return fmt.Errorf("writer: closing BAM writer: %w", err)
			}
			w.bamWriter = nil
		}
	}
	if w.cur == nil {
		return nil
	}
	var closeErr error
	if w.cur.writer != nil {
		closeErr = w.cur.writer.Close()
	} else if w.cur.file != nil {
		closeErr = w.cur.file.Close()
	}
	if closeErr != nil {
		return fmt.Errorf("writer: closing %q: %w", w.cur.path, closeErr)
	}
	if w.compHasher != nil {
		if err := hashFile(w.cur.path, w.compHasher); err != nil {
			return err
		}
	}
	w.finished = append(w.finished, w.cur)
	w.cur = nil
	return nil
}

func hashFile(path string, h hash.Hash) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("writer: hashing %q: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("writer: hashing %q: %w", path, err)
	}
	return nil
}

// cleanupOnError removes the in-progress file after a write failure, so
// a failed run never leaves a truncated output file behind.
func (w *SegmentWriter) cleanupOnError() {
	if w.cur == nil {
		return
	}
	if w.cur.writer != nil {
		_ = w.cur.writer.Close()
	}
	if w.cur.file != nil {
		_ = w.cur.file.Close()
	}
	_ = os.Remove(w.cur.path)
	w.cur = nil
}

// Close finalizes the sink, returning its accumulated hashes.
func (w *SegmentWriter) Close() (Hashes, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failed {
		w.cleanupOnError()
		return Hashes{}, fmt.Errorf("writer: sink for segment %q failed earlier", w.segment)
	}
	if err := w.closeCurrent(); err != nil {
		return Hashes{}, err
	}
	var h Hashes
	if w.rawHasher != nil {
		h.Uncompressed = hex.EncodeToString(w.rawHasher.Sum(nil))
	}
	if w.compHasher != nil {
		h.Compressed = hex.EncodeToString(w.compHasher.Sum(nil))
	}
	return h, nil
}

func formatFastq(header, seq, qual []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(header) + 2*len(seq) + 8)
	buf.WriteByte('@')
	buf.Write(header)
	buf.WriteByte('\n')
	buf.Write(seq)
	buf.WriteString("\n+\n")
	buf.Write(qual)
	buf.WriteByte('\n')
	return buf.Bytes()
}

func formatFasta(header, seq []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(header) + len(seq) + 4)
	buf.WriteByte('>')
	buf.Write(header)
	buf.WriteByte('\n')
	buf.Write(seq)
	buf.WriteByte('\n')
	return buf.Bytes()
}

// Sink is one configured output destination: either a Writer
// projecting a single segment, or an InterleavedWriter alternating
// several segments into one file per bucket.
type Sink interface {
	WriteMolecule(*molecule.Molecule) error
	Close() (map[string]Hashes, error)
}

// Writer owns one SegmentWriter per (bucket, segment) pair, created
// lazily the first time a bucket is observed, so unused buckets never
// create empty output files.
type Writer struct {
	spec         OutputSpec
	segment      string
	segIdx       int
	bucketNames  []string // nil when demultiplexing is not configured
	mu           sync.Mutex
	perBucket    map[string]*SegmentWriter
}

// NewWriter returns a Writer for one configured output segment.
// bucketNames is nil when no Demultiplex step is configured.
func NewWriter(spec OutputSpec, segment string, segIdx int, bucketNames []string) *Writer {
	return &Writer{spec: spec, segment: segment, segIdx: segIdx, bucketNames: bucketNames, perBucket: map[string]*SegmentWriter{}}
}

func (w *Writer) bucketName(m *molecule.Molecule) string {
	if w.bucketNames == nil {
		return ""
	}
	if m.Bucket < 0 || m.Bucket >= len(w.bucketNames) {
		return ""
	}
	return w.bucketNames[m.Bucket]
}

// WriteMolecule routes m to the SegmentWriter for its bucket, creating
// one lazily on first use.
func (w *Writer) WriteMolecule(m *molecule.Molecule) error {
	if !m.Keep {
		return nil
	}
	bucket := w.bucketName(m)
	w.mu.Lock()
	sw, ok := w.perBucket[bucket]
	if !ok {
		sw = NewSegmentWriter(w.spec, w.segment, w.segIdx, bucket)
		w.perBucket[bucket] = sw
	}
	w.mu.Unlock()
	return sw.WriteMolecule(m)
}

// Close finalizes every bucket's sink concurrently, returning each
// one's hashes keyed by bucket name ("" when demultiplexing is not
// configured). Buckets write to distinct files, so their final flush
// and hashing can run in parallel.
func (w *Writer) Close() (map[string]Hashes, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]Hashes, len(w.perBucket))
	var mu sync.Mutex
	var g errgroup.Group
	for bucket, sw := range w.perBucket {
		bucket, sw := bucket, sw
		g.Go(func() error {
			h, err := sw.Close()
			if err != nil {
				return err
			}
			mu.Lock()
			out[bucket] = h
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

// InterleavedWriter writes several segments' records into one sink
// file per bucket, alternating segments in declaration order for
// every kept molecule — the output-side mirror of an interleaved
// input source.
type InterleavedWriter struct {
	spec        OutputSpec
	segments    []string
	segIdxs     []int
	bucketNames []string

	mu        sync.Mutex
	perBucket map[string]*interleavedSink
}

// NewInterleavedWriter returns a Sink that alternates segments (named
// by segments, indexed by segIdxs, in the given order) into a single
// file per bucket.
func NewInterleavedWriter(spec OutputSpec, segments []string, segIdxs []int, bucketNames []string) *InterleavedWriter {
	return &InterleavedWriter{
		spec: spec, segments: segments, segIdxs: segIdxs, bucketNames: bucketNames,
		perBucket: map[string]*interleavedSink{},
	}
}

func (w *InterleavedWriter) bucketName(m *molecule.Molecule) string {
	if w.bucketNames == nil {
		return ""
	}
	if m.Bucket < 0 || m.Bucket >= len(w.bucketNames) {
		return ""
	}
	return w.bucketNames[m.Bucket]
}

// WriteMolecule writes every configured segment of m, in order, to the
// sink for m's bucket, creating it lazily on first use.
func (w *InterleavedWriter) WriteMolecule(m *molecule.Molecule) error {
	if !m.Keep {
		return nil
	}
	bucket := w.bucketName(m)
	w.mu.Lock()
	sink, ok := w.perBucket[bucket]
	if !ok {
		sink = newInterleavedSink(w.spec, bucket)
		w.perBucket[bucket] = sink
	}
	w.mu.Unlock()
	return sink.writeMolecule(m, w.segments, w.segIdxs)
}

// Close finalizes every bucket's sink concurrently, mirroring Writer.Close.
func (w *InterleavedWriter) Close() (map[string]Hashes, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]Hashes, len(w.perBucket))
	var mu sync.Mutex
	var g errgroup.Group
	for bucket, sink := range w.perBucket {
		bucket, sink := bucket, sink
		g.Go(func() error {
			h, err := sink.close()
			if err != nil {
				return err
			}
			mu.Lock()
			out[bucket] = h
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

// interleavedSink owns one physical file alternating several segments'
// records for one bucket, with the same chunk-rollover and hashing
// behavior as SegmentWriter.
type interleavedSink struct {
	spec   OutputSpec
	bucket string

	cur            *sinkFile
	chunkIndex     int
	recordsInChunk int
	rawHasher      hash.Hash
	compHasher     hash.Hash
	finished       []*sinkFile
	failed         bool
}

func newInterleavedSink(spec OutputSpec, bucket string) *interleavedSink {
	s := &interleavedSink{spec: spec, bucket: bucket}
	if spec.OutputHashUncompressed {
		s.rawHasher = sha256.New()
	}
	if spec.OutputHashCompressed {
		s.compHasher = sha256.New()
	}
	return s
}

func (s *interleavedSink) writeMolecule(m *molecule.Molecule, segments []string, segIdxs []int) error {
	if s.failed {
		return fmt.Errorf("writer: interleaved sink already failed for %v", segments)
	}
	if err := s.ensureOpen(segments); err != nil {
		s.failed = true
		return err
	}
	for _, idx := range segIdxs {
		seg := &m.Segments[idx]
		var raw []byte
		switch s.spec.Format {
		case FormatFastq:
			raw = formatFastq(seg.Header, seg.Sequence, seg.Quality)
		case FormatFasta:
			raw = formatFasta(seg.Header, seg.Sequence)
		default:
			s.failed = true
			return fmt.Errorf("writer: interleaved output does not support format %d", s.spec.Format)
		}
		if s.rawHasher != nil {
			s.rawHasher.Write(raw)
		}
		if _, err := s.cur.writer.Write(raw); err != nil {
			s.failed = true
			s.cleanupOnError()
			return fmt.Errorf("writer: write to %q: %w", s.cur.path, err)
		}
	}
	s.recordsInChunk++
	if s.spec.ChunkSize > 0 && s.recordsInChunk >= s.spec.ChunkSize {
		if err := s.rotate(); err != nil {
			s.failed = true
			return err
		}
	}
	return nil
}

func (s *interleavedSink) ensureOpen(segments []string) error {
	if s.cur != nil {
		return nil
	}
	path := filename(s.spec, s.bucket, interleavedName(segments), s.chunkIndex)
	wc, err := codec.CreateAuto(path, s.spec.Compression, s.spec.CompressionLevel)
	if err != nil {
		return fmt.Errorf("writer: open sink %q: %w", path, err)
	}
	s.cur = &sinkFile{path: path, writer: wc}
	return nil
}

func (s *interleavedSink) rotate() error {
	if err := s.closeCurrent(); err != nil {
		return err
	}
	s.chunkIndex++
	s.recordsInChunk = 0
	return nil
}

func (s *interleavedSink) closeCurrent() error {
	if s.cur == nil {
		return nil
	}
	if err := s.cur.writer.Close(); err != nil {
		return fmt.Errorf("writer: closing %q: %w", s.cur.path, err)
	}
	if s.compHasher != nil {
		if err := hashFile(s.cur.path, s.compHasher); err != nil {
			return err
		}
	}
	s.finished = append(s.finished, s.cur)
	s.cur = nil
	return nil
}

func (s *interleavedSink) cleanupOnError() {
	if s.cur == nil {
		return
	}
	_ = s.cur.writer.Close()
	_ = os.Remove(s.cur.path)
	s.cur = nil
}

func (s *interleavedSink) close() (Hashes, error) {
	if s.failed {
		s.cleanupOnError()
		return Hashes{}, fmt.Errorf("writer: interleaved sink failed earlier")
	}
	if err := s.closeCurrent(); err != nil {
		return Hashes{}, err
	}
	var h Hashes
	if s.rawHasher != nil {
		h.Uncompressed = hex.EncodeToString(s.rawHasher.Sum(nil))
	}
	if s.compHasher != nil {
		h.Compressed = hex.EncodeToString(s.compHasher.Sum(nil))
	}
	return h, nil
}

// interleavedName joins the canonical names of the interleaved
// segments for use in the sink's filename, e.g. "read1+read2".
func interleavedName(segments []string) string {
	names := make([]string, len(segments))
	for i, s := range segments {
		names[i] = canonicalSegmentName(s)
	}
	return strings.Join(names, "+")
}

// WriteSidecarHashes writes the `<prefix>_<segment>.{un,}compressed.sha256`
// side files carrying the checksums of each output stream.
func WriteSidecarHashes(spec OutputSpec, segment string, h Hashes) error {
	base := filename(spec, "", segment, 0)
	base = base[:len(base)-len(spec.Suffix)]
	if h.Uncompressed != "" {
		if err := os.WriteFile(base+".uncompressed.sha256", []byte(h.Uncompressed+"\n"), 0o644); err != nil {
			return err
		}
	}
	if h.Compressed != "" {
		if err := os.WriteFile(base+".compressed.sha256", []byte(h.Compressed+"\n"), 0o644); err != nil {
			return err
		}
	}
	return nil
}
