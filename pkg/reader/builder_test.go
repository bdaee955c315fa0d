package reader

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBuilderZipsSegmentsInLockstep(t *testing.T) {
	r1 := NewFastqReader(newStringReader("@r1/1\nACGT\n+\nIIII\n@r2/1\nTTTT\n+\nJJJJ\n"), 0)
	r2 := NewFastqReader(newStringReader("@r1/2\nCCCC\n+\nKKKK\n@r2/2\nGGGG\n+\nLLLL\n"), 0)

	b := NewRecordBuilder([]SegmentSource{
		{Name: "read1", Reader: r1},
		{Name: "read2", Reader: r2},
	}, ' ', SpotCheckConfig{})

	m, err := b.Next()
	require.NoError(t, err)
	assert.Equal(t, "ACGT", string(m.Segments[0].Sequence))
	assert.Equal(t, "CCCC", string(m.Segments[1].Sequence))

	m, err = b.Next()
	require.NoError(t, err)
	assert.Equal(t, "TTTT", string(m.Segments[0].Sequence))
	assert.Equal(t, "GGGG", string(m.Segments[1].Sequence))

	_, err = b.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRecordBuilderDetectsMismatchedRecordCount(t *testing.T) {
	r1 := NewFastqReader(newStringReader("@r1\nACGT\n+\nIIII\n@r2\nTTTT\n+\nJJJJ\n"), 0)
	r2 := NewFastqReader(newStringReader("@r1\nCCCC\n+\nKKKK\n"), 0)

	b := NewRecordBuilder([]SegmentSource{
		{Name: "read1", Reader: r1},
		{Name: "read2", Reader: r2},
	}, ' ', SpotCheckConfig{})

	_, err := b.Next()
	require.NoError(t, err)

	_, err = b.Next()
	var mismatchErr *MismatchedRecordCountError
	assert.ErrorAs(t, err, &mismatchErr)
}

func TestRecordBuilderSpotCheckDetectsPairingMismatch(t *testing.T) {
	r1 := NewFastqReader(newStringReader("@readA/1\nACGT\n+\nIIII\n"), 0)
	r2 := NewFastqReader(newStringReader("@readB/2\nCCCC\n+\nKKKK\n"), 0)

	b := NewRecordBuilder([]SegmentSource{
		{Name: "read1", Reader: r1},
		{Name: "read2", Reader: r2},
	}, ' ', SpotCheckConfig{Enabled: true, Sample: 10})

	_, err := b.Next()
	var pairErr *PairingMismatchError
	assert.ErrorAs(t, err, &pairErr)
}

func TestRecordBuilderSpotCheckTolerantOfReadNumberSuffix(t *testing.T) {
	r1 := NewFastqReader(newStringReader("@read/1\nACGT\n+\nIIII\n"), 0)
	r2 := NewFastqReader(newStringReader("@read/2\nCCCC\n+\nKKKK\n"), 0)

	b := NewRecordBuilder([]SegmentSource{
		{Name: "read1", Reader: r1},
		{Name: "read2", Reader: r2},
	}, ' ', SpotCheckConfig{Enabled: true, Sample: 10})

	_, err := b.Next()
	require.NoError(t, err)
}

func TestRecordBuilderSegmentNames(t *testing.T) {
	r1 := NewFastqReader(newStringReader(""), 0)
	r2 := NewFastqReader(newStringReader(""), 0)
	b := NewRecordBuilder([]SegmentSource{
		{Name: "read1", Reader: r1},
		{Name: "index1", Reader: r2},
	}, ' ', SpotCheckConfig{})
	assert.Equal(t, []string{"read1", "index1"}, b.SegmentNames())
}

func TestInterleaveSourceRoundRobins(t *testing.T) {
	inner := NewFastqReader(newStringReader(
		"@r1\nAAAA\n+\nIIII\n@r1\nCCCC\n+\nJJJJ\n@r2\nGGGG\n+\nKKKK\n@r2\nTTTT\n+\nLLLL\n"), 0)

	sources := NewInterleaveSource(inner, []string{"read1", "read2"})
	b := NewRecordBuilder(sources, ' ', SpotCheckConfig{})

	m, err := b.Next()
	require.NoError(t, err)
	assert.Equal(t, "AAAA", string(m.Segments[0].Sequence))
	assert.Equal(t, "CCCC", string(m.Segments[1].Sequence))

	m, err = b.Next()
	require.NoError(t, err)
	assert.Equal(t, "GGGG", string(m.Segments[0].Sequence))
	assert.Equal(t, "TTTT", string(m.Segments[1].Sequence))
}
