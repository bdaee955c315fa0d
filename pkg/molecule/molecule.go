// Package molecule defines the record model that flows through the
// pipeline: a tuple of named segments plus an out-of-band tag store.
package molecule

import "fmt"

// Segment is one named byte stream within a Molecule (e.g. "read1",
// "index2"). Quality is either empty or the same length as Sequence;
// FASTA-sourced segments carry a synthesized quality string.
type Segment struct {
	Name     string
	Sequence []byte
	Quality  []byte
	Header   []byte
}

// CheckLockstep returns an error if Quality is neither empty nor the
// same length as Sequence.
func (s *Segment) CheckLockstep() error {
	if len(s.Quality) != 0 && len(s.Quality) != len(s.Sequence) {
		return fmt.Errorf("segment %s: sequence/quality length mismatch (%d vs %d)",
			s.Name, len(s.Sequence), len(s.Quality))
	}
	return nil
}

// Molecule is the unit that flows through the pipeline: one tuple of
// segments belonging to the same physical sequencing template, plus its
// tag store. Segment count and identity are fixed from reader to
// writer; steps may only rewrite segment contents or set Keep=false.
type Molecule struct {
	Segments []Segment
	Tags     []Tag

	// Keep is true until a filter step drops the molecule. Once false,
	// no further step may mutate it; it is retained in its block for
	// order preservation until the writer drops it.
	Keep bool

	// Bucket addresses the demultiplexed output group; -1 means unset
	// (no demultiplex step has run yet, or none is configured).
	Bucket int
}

// NoBucket is the sentinel Molecule.Bucket value before demultiplexing
// assigns one.
const NoBucket = -1

// NewMolecule allocates a Molecule with n segment slots and no tags. The
// tag slice is grown to registrySize by the caller once the tag
// registry is known.
func NewMolecule(n int) *Molecule {
	return &Molecule{
		Segments: make([]Segment, n),
		Keep:     true,
		Bucket:   NoBucket,
	}
}

// SegmentIndex returns the index of the segment named name, or -1.
func (m *Molecule) SegmentIndex(name string) int {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return i
		}
	}
	return -1
}
