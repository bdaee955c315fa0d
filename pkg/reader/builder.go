package reader

import (
	"bytes"
	"io"

	"github.com/exascience/fastq-processor/pkg/molecule"
)

// SegmentSource binds a named segment to its reader.
type SegmentSource struct {
	Name   string
	Reader SegmentReader
}

// SpotCheckConfig enables the optional pairing spot-check that compares
// leading header tokens across segments.
type SpotCheckConfig struct {
	Enabled bool
	Sample  int // number of leading molecules to compare; default 100
}

// RecordBuilder zips N segment readers into Molecule tuples, stopping
// when all readers finish on the same record index. It fails with
// MismatchedRecordCountError if one reader is exhausted while others
// are not, and runs the pairing spot-check over the first Sample
// records when enabled.
type RecordBuilder struct {
	sources     []SegmentSource
	commentChar byte
	spotCheck   SpotCheckConfig
	index       int
	checked     bool
}

// NewRecordBuilder builds a RecordBuilder over sources, in the given
// segment order. commentChar configures how header/comment are split.
func NewRecordBuilder(sources []SegmentSource, commentChar byte, spotCheck SpotCheckConfig) *RecordBuilder {
	if spotCheck.Sample <= 0 {
		spotCheck.Sample = 100
	}
	return &RecordBuilder{sources: sources, commentChar: commentChar, spotCheck: spotCheck}
}

// Next assembles the next Molecule, or returns io.EOF once every
// segment reader is exhausted in lockstep.
func (b *RecordBuilder) Next() (*molecule.Molecule, error) {
	n := len(b.sources)
	raws := make([]RawRecord, n)
	eofAt := -1
	for i, src := range b.sources {
		rr, err := src.Reader.Next()
		if err == io.EOF {
			if eofAt == -1 {
				eofAt = i
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		raws[i] = rr
	}
	if eofAt != -1 {
		for i := range raws {
			if i != eofAt && raws[i].Sequence != nil {
				return nil, &MismatchedRecordCountError{ExpectedIndex: b.index, ShortSegment: b.sources[eofAt].Name}
			}
		}
		return nil, io.EOF
	}

	m := molecule.NewMolecule(n)
	for i, rr := range raws {
		name, comment := SplitHeaderComment(rr.Header, b.commentChar)
		header := name
		if len(comment) > 0 {
			header = append(append(append([]byte(nil), name...), ' '), comment...)
		}
		m.Segments[i] = molecule.Segment{
			Name:     b.sources[i].Name,
			Sequence: rr.Sequence,
			Quality:  rr.Quality,
			Header:   header,
		}
	}

	if b.spotCheck.Enabled && !b.checked && b.index < b.spotCheck.Sample {
		if err := spotCheckPairing(b.index, m); err != nil {
			return nil, err
		}
		if b.index == b.spotCheck.Sample-1 {
			b.checked = true
		}
	}

	b.index++
	return m, nil
}

// SegmentNames returns the configured segment names in reader order,
// matching the order Molecule.Segments is populated in.
func (b *RecordBuilder) SegmentNames() []string {
	names := make([]string, len(b.sources))
	for i, src := range b.sources {
		names[i] = src.Name
	}
	return names
}

// Close closes every underlying segment reader, returning the first
// error encountered.
func (b *RecordBuilder) Close() error {
	var first error
	for _, src := range b.sources {
		if err := src.Reader.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// spotCheckPairing compares the first whitespace-separated token of
// every segment's header pairwise, tolerating a trailing "/1"-vs-"/2"
// or trailing-digit difference.
func spotCheckPairing(index int, m *molecule.Molecule) error {
	if len(m.Segments) < 2 {
		return nil
	}
	tokens := make([][]byte, len(m.Segments))
	for i, seg := range m.Segments {
		name, _ := SplitHeaderComment(seg.Header, ' ')
		tokens[i] = trimPairSuffix(name)
	}
	first := tokens[0]
	for i := 1; i < len(tokens); i++ {
		if !bytes.Equal(first, tokens[i]) {
			names := make([]string, len(m.Segments))
			for j, seg := range m.Segments {
				names[j] = seg.Name
			}
			return &PairingMismatchError{Index: index, Segments: names}
		}
	}
	return nil
}

// trimPairSuffix strips a trailing "/1", "/2", or trailing digit from a
// header token so "read/1" and "read/2" (or "read1"/"read2") compare
// equal in the pairing spot-check.
func trimPairSuffix(tok []byte) []byte {
	if n := len(tok); n >= 2 && tok[n-2] == '/' && (tok[n-1] == '1' || tok[n-1] == '2') {
		return tok[:n-2]
	}
	if n := len(tok); n >= 1 && tok[n-1] >= '0' && tok[n-1] <= '9' {
		return tok[:n-1]
	}
	return tok
}

// InterleaveSource splits one physical SegmentReader by stride into
// `stride` named segments: record 0 goes to slot 0, record 1 to slot 1,
// and so on, wrapping back to slot 0 every stride records.
type InterleaveSource struct {
	inner  SegmentReader
	stride int
	names  []string
	cursor int
}

// NewInterleaveSource returns a RecordBuilder-compatible set of
// SegmentSources that round-robin over inner.
func NewInterleaveSource(inner SegmentReader, names []string) []SegmentSource {
	is := &InterleaveSource{inner: inner, stride: len(names), names: names}
	out := make([]SegmentSource, len(names))
	for i, name := range names {
		out[i] = SegmentSource{Name: name, Reader: &interleaveSlot{parent: is, slot: i}}
	}
	return out
}

// interleaveSlot is one of the round-robin views over an
// InterleaveSource; only the slot whose turn it is actually reads from
// the shared inner reader, via a small buffer keyed by slot.
type interleaveSlot struct {
	parent *InterleaveSource
	slot   int
}

func (s *interleaveSlot) Next() (RawRecord, error) {
	// The RecordBuilder calls every slot's Next() once per molecule, in
	// segment order 0..stride-1, so slot i's turn is always "read next
	// from inner" precisely when parent.cursor == i.
	if s.parent.cursor != s.slot {
		return RawRecord{}, errOutOfTurn
	}
	rr, err := s.parent.inner.Next()
	s.parent.cursor = (s.parent.cursor + 1) % s.parent.stride
	return rr, err
}

func (s *interleaveSlot) Close() error {
	if s.slot == 0 {
		return s.parent.inner.Close()
	}
	return nil
}

var errOutOfTurn = ifaceError("reader: interleaved source read out of turn")

type ifaceError string

func (e ifaceError) Error() string { return string(e) }
