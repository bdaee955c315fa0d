package steps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exascience/fastq-processor/pkg/report"
)

func TestInspectMergesPerBlockStats(t *testing.T) {
	agg := report.NewAggregator(0)
	ctx := newInitContext("read1")
	ctx.Aggregator = agg
	step := NewInspect("read1", 0)
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("ACGT", "IIII")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	second := singleSegmentBlock("ACGT", "IIII")
	require.NoError(t, step.TransformBlock(second, RuntimeContext{}))

	snap := agg.Snapshot()
	stats := snap.Segments["read1"]
	require.NotNil(t, stats)
	assert.Equal(t, uint64(2), stats.Count)
	assert.Equal(t, uint64(2), stats.Lengths[4])
}

func TestInspectSkipsDroppedMolecules(t *testing.T) {
	agg := report.NewAggregator(0)
	ctx := newInitContext("read1")
	ctx.Aggregator = agg
	step := NewInspect("read1", 0)
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("ACGT", "IIII")
	blk.Molecules[0].Keep = false
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	snap := agg.Snapshot()
	assert.Equal(t, uint64(0), snap.Segments["read1"].Count)
}

func TestReportCoversMultipleSegments(t *testing.T) {
	agg := report.NewAggregator(0)
	ctx := newInitContext("read1", "read2")
	ctx.Aggregator = agg
	step := NewReport([]string{"read1", "read2"}, 0)
	require.NoError(t, step.Init(ctx))

	blk := pairedBlock("ACGT", "IIII", "TTTT", "IIII")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	snap := agg.Snapshot()
	require.NotNil(t, snap.Segments["read1"])
	require.NotNil(t, snap.Segments["read2"])
	assert.Equal(t, uint64(1), snap.Segments["read1"].Count)
	assert.Equal(t, uint64(1), snap.Segments["read2"].Count)
}

func TestReportInitFailsOnUnknownSegment(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewReport([]string{"read1", "read2"}, 0)
	assert.Error(t, step.Init(ctx))
}
