package reader

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stringReadCloser struct{ *strings.Reader }

func (stringReadCloser) Close() error { return nil }

func newStringReader(s string) io.ReadCloser {
	return stringReadCloser{strings.NewReader(s)}
}

func TestFastqReaderParsesRecords(t *testing.T) {
	r := NewFastqReader(newStringReader("@r1 comment\nACGT\n+\nIIII\n@r2\nTTTT\n+\nJJJJ\n"), 0)

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "r1 comment", string(rec.Header))
	assert.Equal(t, "ACGT", string(rec.Sequence))
	assert.Equal(t, "IIII", string(rec.Quality))

	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "r2", string(rec.Header))
	assert.Equal(t, "TTTT", string(rec.Sequence))

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFastqReaderRejectsMissingAtSign(t *testing.T) {
	r := NewFastqReader(newStringReader("r1\nACGT\n+\nIIII\n"), 0)
	_, err := r.Next()
	assert.Error(t, err)
}

func TestFastqReaderRejectsSequenceQualityLengthMismatch(t *testing.T) {
	r := NewFastqReader(newStringReader("@r1\nACGT\n+\nIII\n"), 0)
	_, err := r.Next()
	assert.Error(t, err)
}

func TestFastqReaderRejectsMissingSeparator(t *testing.T) {
	r := NewFastqReader(newStringReader("@r1\nACGT\nx\nIIII\n"), 0)
	_, err := r.Next()
	assert.Error(t, err)
}

func TestSplitHeaderComment(t *testing.T) {
	name, comment := SplitHeaderComment([]byte("r1 1:N:0:ACGT"), ' ')
	assert.Equal(t, "r1", string(name))
	assert.Equal(t, "1:N:0:ACGT", string(comment))

	name, comment = SplitHeaderComment([]byte("noComment"), ' ')
	assert.Equal(t, "noComment", string(name))
	assert.Nil(t, comment)
}
