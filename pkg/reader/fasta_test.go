package reader

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFastaReaderParsesMultiLineRecords(t *testing.T) {
	r := NewFastaReader(newStringReader(">r1 desc\nACGT\nACGT\n>r2\nTTTT\n"), 0, 40)

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "r1 desc", string(rec.Header))
	assert.Equal(t, "ACGTACGT", string(rec.Sequence))
	assert.Equal(t, 8, len(rec.Quality))
	for _, q := range rec.Quality {
		assert.Equal(t, byte(40+33), q)
	}

	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "r2", string(rec.Header))
	assert.Equal(t, "TTTT", string(rec.Sequence))

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFastaReaderRejectsMissingCaret(t *testing.T) {
	r := NewFastaReader(newStringReader("r1\nACGT\n"), 0, 40)
	_, err := r.Next()
	assert.Error(t, err)
}

func TestFastaReaderHandlesSingleRecordNoTrailingHeader(t *testing.T) {
	r := NewFastaReader(newStringReader(">only\nACGT\n"), 0, 0)
	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "ACGT", string(rec.Sequence))
	for _, q := range rec.Quality {
		assert.Equal(t, byte(33), q)
	}

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}
