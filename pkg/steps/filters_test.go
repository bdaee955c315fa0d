package steps

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exascience/fastq-processor/pkg/block"
	"github.com/exascience/fastq-processor/pkg/molecule"
)

func multiMoleculeBlock(n int) *block.Block {
	blk := &block.Block{Molecules: make([]*molecule.Molecule, n)}
	for i := range blk.Molecules {
		m := molecule.NewMolecule(1)
		m.Segments[0] = molecule.Segment{Name: "read1", Sequence: []byte("ACGT"), Quality: []byte("IIII")}
		blk.Molecules[i] = m
	}
	return blk
}

func keptCount(blk *block.Block) int {
	n := 0
	for _, m := range blk.Molecules {
		if m.Keep {
			n++
		}
	}
	return n
}

// TestHeadEarlyTermination reproduces end-to-end scenario S2: 1000
// records through Head(n=3) yields exactly 3 kept records and triggers
// cancellation.
func TestHeadEarlyTermination(t *testing.T) {
	canceled := false
	ctx := &InitContext{Cancel: func() { canceled = true }}
	step := NewHead(3)
	require.NoError(t, step.Init(ctx))

	blk := multiMoleculeBlock(1000)
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	assert.Equal(t, 3, keptCount(blk))
	assert.True(t, canceled)
}

func TestHeadAcrossMultipleBlocks(t *testing.T) {
	step := NewHead(5)
	require.NoError(t, step.Init(&InitContext{Cancel: func() {}}))

	first := multiMoleculeBlock(3)
	require.NoError(t, step.TransformBlock(first, RuntimeContext{}))
	assert.Equal(t, 3, keptCount(first))

	second := multiMoleculeBlock(4)
	require.NoError(t, step.TransformBlock(second, RuntimeContext{}))
	assert.Equal(t, 2, keptCount(second))
}

func TestSkipDropsFirstN(t *testing.T) {
	step := NewSkip(2)
	require.NoError(t, step.Init(&InitContext{}))

	blk := multiMoleculeBlock(5)
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	assert.False(t, blk.Molecules[0].Keep)
	assert.False(t, blk.Molecules[1].Keep)
	assert.True(t, blk.Molecules[2].Keep)
	assert.True(t, blk.Molecules[3].Keep)
	assert.True(t, blk.Molecules[4].Keep)
}

func TestFilterEmptyDropsZeroLengthSegment(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewFilterEmpty("read1")
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("", "")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))
	assert.False(t, blk.Molecules[0].Keep)
}

func TestFilterByTagPredicate(t *testing.T) {
	ctx := newInitContext("read1")
	idx, err := ctx.Registry.Define("sample_name", molecule.TagString, "FilterByTag")
	require.NoError(t, err)

	step := NewFilterByTag("sample_name", func(b []byte) bool { return string(b) == "keepme" })
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("ACGT", "IIII")
	blk.Molecules[0].SetTag(idx, molecule.Tag{Kind: molecule.TagString, Present: true, String: []byte("keepme")})
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))
	assert.True(t, blk.Molecules[0].Keep)

	blk.Molecules[0].SetTag(idx, molecule.Tag{Kind: molecule.TagString, Present: true, String: []byte("dropme")})
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))
	assert.False(t, blk.Molecules[0].Keep)
}

func TestFilterByNumericTagOperators(t *testing.T) {
	ctx := newInitContext("read1")
	idx, err := ctx.Registry.Define("gc", molecule.TagNumeric, "CalcGCContent")
	require.NoError(t, err)

	step := NewFilterByNumericTag("gc", OpGreaterEqual, 0.5)
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("ACGT", "IIII")
	blk.Molecules[0].SetTag(idx, molecule.Tag{Kind: molecule.TagNumeric, Present: true, Numeric: 0.6})
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))
	assert.True(t, blk.Molecules[0].Keep)

	blk.Molecules[0].SetTag(idx, molecule.Tag{Kind: molecule.TagNumeric, Present: true, Numeric: 0.4})
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))
	assert.False(t, blk.Molecules[0].Keep)
}

func TestFilterByBoolTag(t *testing.T) {
	ctx := newInitContext("read1")
	idx, err := ctx.Registry.Define("passed_qc", molecule.TagBool, "ValidateQuality")
	require.NoError(t, err)

	step := NewFilterByBoolTag("passed_qc")
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("ACGT", "IIII")
	blk.Molecules[0].SetTag(idx, molecule.Tag{Kind: molecule.TagBool, Present: true, Bool: false})
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))
	assert.False(t, blk.Molecules[0].Keep)
}

// TestFilterSampleIsDeterministic asserts that the same seed, block
// index, and position always produce the same keep/drop decision,
// independent of how many times it is recomputed.
func TestFilterSampleIsDeterministic(t *testing.T) {
	step := NewFilterSample(0.5, 42)
	require.NoError(t, step.Init(&InitContext{}))

	blkA := multiMoleculeBlock(50)
	blkB := multiMoleculeBlock(50)
	require.NoError(t, step.TransformBlock(blkA, RuntimeContext{BlockIndex: 7}))
	require.NoError(t, step.TransformBlock(blkB, RuntimeContext{BlockIndex: 7}))

	for i := range blkA.Molecules {
		assert.Equal(t, blkA.Molecules[i].Keep, blkB.Molecules[i].Keep)
	}
}

func TestFilterSampleZeroProbabilityDropsAll(t *testing.T) {
	step := NewFilterSample(0, 1)
	require.NoError(t, step.Init(&InitContext{}))

	blk := multiMoleculeBlock(20)
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{BlockIndex: 0}))
	assert.Equal(t, 0, keptCount(blk))
}

// TestFilterReservoirSampleBoundarySize feeds exactly N records and
// checks the reservoir holds all of them: the n < N branch of
// Algorithm R's inclusive bound.
func TestFilterReservoirSampleBoundarySize(t *testing.T) {
	step := NewFilterReservoirSample(5, 1)
	require.NoError(t, step.Init(&InitContext{}))

	blk := multiMoleculeBlock(5)
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	assert.Len(t, step.Reservoir(), 5)
	assert.Equal(t, 0, keptCount(blk), "reservoir members are re-injected separately, not kept in-stream")
}

// TestFilterReservoirSampleFixedSizeAcrossLargerStream checks the
// reservoir never exceeds N once the stream exceeds N, per the
// property that its size is invariant once full.
func TestFilterReservoirSampleFixedSizeAcrossLargerStream(t *testing.T) {
	step := NewFilterReservoirSample(10, 99)
	require.NoError(t, step.Init(&InitContext{}))

	blk := multiMoleculeBlock(1000)
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	assert.Len(t, step.Reservoir(), 10)
	for _, m := range step.Reservoir() {
		assert.NotNil(t, m)
	}
}

func TestFilterOtherFileByNameKeepsMembers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "names.fasta")
	require.NoError(t, os.WriteFile(path, []byte(">keepme\nACGT\n"), 0o644))

	ctx := newInitContext("read1")
	step := NewFilterOtherFile("read1", path, FilterOtherByName, true)
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("ACGT", "IIII")
	blk.Molecules[0].Segments[0].Header = []byte("keepme")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))
	assert.True(t, blk.Molecules[0].Keep)

	blk.Molecules[0].Segments[0].Header = []byte("other")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))
	assert.False(t, blk.Molecules[0].Keep)
}

func TestFilterOtherFileBySeqDropMembers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seqs.fasta")
	require.NoError(t, os.WriteFile(path, []byte(">x\nACGT\n"), 0o644))

	ctx := newInitContext("read1")
	step := NewFilterOtherFile("read1", path, FilterOtherBySeq, false)
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("ACGT", "IIII")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))
	assert.False(t, blk.Molecules[0].Keep, "sequence is a member so it must be dropped under keepMembers=false")

	blk2 := singleSegmentBlock("TTTT", "IIII")
	require.NoError(t, step.TransformBlock(blk2, RuntimeContext{}))
	assert.True(t, blk2.Molecules[0].Keep)
}
