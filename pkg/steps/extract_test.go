package steps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractIUPACAnchorStart(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewExtractIUPAC("read1", []byte("ACGT"), AnchorStart, 0, "barcode")
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("ACGTTTTT", "IIIIIIII")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	tag := blk.Molecules[0].Tag(step.tagIdx)
	require.True(t, tag.Present)
	assert.Equal(t, 0, tag.Location.Start)
	assert.Equal(t, 4, tag.Location.Length)
	assert.Equal(t, "ACGT", string(tag.Location.CapturedBytes))
}

func TestExtractIUPACAnchorStartNoMatch(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewExtractIUPAC("read1", []byte("ACGT"), AnchorStart, 0, "barcode")
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("TTTTACGT", "IIIIIIII")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))
	assert.False(t, blk.Molecules[0].Tag(step.tagIdx).Present)
}

func TestExtractIUPACAnchorEnd(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewExtractIUPAC("read1", []byte("TTTT"), AnchorEnd, 0, "tail")
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("ACGTTTTT", "IIIIIIII")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	tag := blk.Molecules[0].Tag(step.tagIdx)
	require.True(t, tag.Present)
	assert.Equal(t, 4, tag.Location.Start)
}

func TestExtractIUPACAnywhereWithMismatchTolerance(t *testing.T) {
	ctx := newInitContext("read1")
	// "ACGT" pattern against observed "ACCT" is 1 mismatch (middle G vs C).
	step := NewExtractIUPAC("read1", []byte("ACGT"), AnchorAnywhere, 1, "tag")
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("TTACCTTT", "IIIIIIII")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	tag := blk.Molecules[0].Tag(step.tagIdx)
	require.True(t, tag.Present)
	assert.Equal(t, 2, tag.Location.Start)
}

func TestExtractRegexCapturesNamedGroup(t *testing.T) {
	ctx := newInitContext("read1")
	step, err := NewExtractRegex("read1", "(?P<umi>[ACGT]{4})$", "umi")
	require.NoError(t, err)
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("AAAAACGT", "IIIIIIII")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	tag := blk.Molecules[0].Tag(step.tagIdx)
	require.True(t, tag.Present)
	assert.Equal(t, "ACGT", string(tag.String))
}

func TestExtractRegexRejectsPatternWithoutNamedGroup(t *testing.T) {
	_, err := NewExtractRegex("read1", "[ACGT]{4}$", "umi")
	assert.Error(t, err)
}

func TestExtractRegionFixedWindow(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewExtractRegion("read1", 2, 3, "region")
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("ACGTACGT", "IIIIIIII")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	tag := blk.Molecules[0].Tag(step.tagIdx)
	require.True(t, tag.Present)
	assert.Equal(t, "GTA", string(tag.Location.CapturedBytes))
}

func TestExtractRegionClampsToSequenceLength(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewExtractRegion("read1", 2, 100, "region")
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("ACGT", "IIII")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	tag := blk.Molecules[0].Tag(step.tagIdx)
	require.True(t, tag.Present)
	assert.Equal(t, "GT", string(tag.Location.CapturedBytes))
}

func TestExtractRegionStartBeyondLengthSkips(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewExtractRegion("read1", 10, 2, "region")
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("ACGT", "IIII")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))
	assert.False(t, blk.Molecules[0].Tag(step.tagIdx).Present)
}
