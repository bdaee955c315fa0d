package molecule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMoleculeDefaults(t *testing.T) {
	m := NewMolecule(2)
	assert.Len(t, m.Segments, 2)
	assert.True(t, m.Keep)
	assert.Equal(t, NoBucket, m.Bucket)
}

func TestSegmentIndex(t *testing.T) {
	m := NewMolecule(2)
	m.Segments[0].Name = "read1"
	m.Segments[1].Name = "read2"
	assert.Equal(t, 0, m.SegmentIndex("read1"))
	assert.Equal(t, 1, m.SegmentIndex("read2"))
	assert.Equal(t, -1, m.SegmentIndex("index1"))
}

func TestCheckLockstep(t *testing.T) {
	s := Segment{Sequence: []byte("ACGT"), Quality: []byte("IIII")}
	assert.NoError(t, s.CheckLockstep())

	s.Quality = []byte("III")
	assert.Error(t, s.CheckLockstep())

	s.Quality = nil
	assert.NoError(t, s.CheckLockstep())
}

func TestTagPresence(t *testing.T) {
	m := NewMolecule(1)
	assert.False(t, m.Tag(0).Present)

	m.SetTag(0, Tag{Kind: TagNumeric, Numeric: 0.5})
	tag := m.Tag(0)
	assert.True(t, tag.Present)
	assert.Equal(t, 0.5, tag.Numeric)

	assert.False(t, m.Tag(5).Present)
}

func TestTagUniquenessAcrossLabelsIsEnforcedByRegistry(t *testing.T) {
	// Molecule.Tags is indexed by the registry-assigned slot, so two
	// distinct labels never collide: setting one index never disturbs
	// another.
	m := NewMolecule(1)
	m.SetTag(0, Tag{Kind: TagBool, Bool: true})
	m.SetTag(2, Tag{Kind: TagString, String: []byte("x")})
	assert.True(t, m.Tag(0).Present)
	assert.True(t, m.Tag(2).Present)
	assert.False(t, m.Tag(1).Present)
}
