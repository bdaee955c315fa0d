package steps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupBySegmentDropsRepeatedSequence(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewDedup([]DedupKeySource{{Segment: "read1"}}, 100, 0)
	require.NoError(t, step.Init(ctx))

	blk := multiMoleculeBlock(3) // all identical ACGT/IIII sequences
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	assert.True(t, blk.Molecules[0].Keep)
	assert.False(t, blk.Molecules[1].Keep)
	assert.False(t, blk.Molecules[2].Keep)
}

func TestDedupBySegmentKeepsDistinctSequences(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewDedup([]DedupKeySource{{Segment: "read1"}}, 100, 0)
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("ACGT", "IIII")
	blk.Molecules = append(blk.Molecules, blk.Molecules[0])
	other := singleSegmentBlock("TTTT", "IIII")
	blk.Molecules[1] = other.Molecules[0]

	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))
	assert.True(t, blk.Molecules[0].Keep)
	assert.True(t, blk.Molecules[1].Keep)
}

func TestDedupDeduplicatesAcrossBlocks(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewDedup([]DedupKeySource{{Segment: "read1"}}, 100, 0)
	require.NoError(t, step.Init(ctx))

	first := singleSegmentBlock("ACGT", "IIII")
	require.NoError(t, step.TransformBlock(first, RuntimeContext{}))
	assert.True(t, first.Molecules[0].Keep)

	second := singleSegmentBlock("ACGT", "IIII")
	require.NoError(t, step.TransformBlock(second, RuntimeContext{}))
	assert.False(t, second.Molecules[0].Keep)
}

func TestDedupInitFailsOnUnknownSegment(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewDedup([]DedupKeySource{{Segment: "read2"}}, 100, 0)
	assert.Error(t, step.Init(ctx))
}

func TestDedupInitFailsWithoutSegmentOrTag(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewDedup([]DedupKeySource{{}}, 100, 0)
	assert.Error(t, step.Init(ctx))
}

func TestDedupUsesApproximateFilterAboveThreshold(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewDedup([]DedupKeySource{{Segment: "read1"}}, 1000, 10)
	require.NoError(t, step.Init(ctx))

	blk := multiMoleculeBlock(2)
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))
	assert.True(t, blk.Molecules[0].Keep)
	assert.False(t, blk.Molecules[1].Keep)
}
