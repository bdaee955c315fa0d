package steps

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/exascience/fastq-processor/pkg/block"
	"github.com/exascience/fastq-processor/pkg/molecule"
	"github.com/exascience/fastq-processor/pkg/tagstore"
)

func singleSegmentBlock(seq, qual string) *block.Block {
	m := molecule.NewMolecule(1)
	m.Segments[0] = molecule.Segment{Name: "read1", Sequence: []byte(seq), Quality: []byte(qual)}
	return &block.Block{Molecules: []*molecule.Molecule{m}}
}

func newInitContext(segmentNames ...string) *InitContext {
	return &InitContext{Registry: tagstore.New(), SegmentNames: segmentNames}
}

// TestCutStartThenTruncate reproduces end-to-end scenario S1: CutStart(2)
// followed by Truncate(5) on "AGCTAGCTAG"/"IIIIIIIIII" yields
// "CTAGC"/"IIIII".
func TestCutStartThenTruncate(t *testing.T) {
	ctx := newInitContext("read1")

	cut := NewCutStart("read1", 2)
	require.NoError(t, cut.Init(ctx))
	trunc := NewTruncate("read1", 5)
	require.NoError(t, trunc.Init(ctx))

	blk := singleSegmentBlock("AGCTAGCTAG", "IIIIIIIIII")
	require.NoError(t, cut.TransformBlock(blk, RuntimeContext{}))
	require.NoError(t, trunc.TransformBlock(blk, RuntimeContext{}))

	seg := blk.Molecules[0].Segments[0]
	require.Equal(t, "CTAGC", string(seg.Sequence))
	require.Equal(t, "IIIII", string(seg.Quality))
}

func TestCutEnd(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewCutEnd("read1", 3)
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("ACGTACGT", "IIIIIIII")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	seg := blk.Molecules[0].Segments[0]
	require.Equal(t, "ACGTA", string(seg.Sequence))
	require.Equal(t, "IIIII", string(seg.Quality))
}

func TestCutStartBeyondLengthEmptiesSegment(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewCutStart("read1", 100)
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("ACGT", "IIII")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	seg := blk.Molecules[0].Segments[0]
	require.Empty(t, seg.Sequence)
	require.Empty(t, seg.Quality)
}

// TestReverseComplementInvolution reproduces end-to-end scenario S4: two
// consecutive ReverseComplement applications restore the original bytes
// exactly.
func TestReverseComplementInvolution(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewReverseComplement("read1")
	require.NoError(t, step.Init(ctx))

	blk := singleSegmentBlock("ACGTN", "!!!!!")
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))
	require.NoError(t, step.TransformBlock(blk, RuntimeContext{}))

	seg := blk.Molecules[0].Segments[0]
	require.Equal(t, "ACGTN", string(seg.Sequence))
	require.Equal(t, "!!!!!", string(seg.Quality))
}

func TestUppercaseLowercaseSequence(t *testing.T) {
	ctx := newInitContext("read1")
	up := NewUppercaseSequence("read1")
	require.NoError(t, up.Init(ctx))

	blk := singleSegmentBlock("acgt", "IIII")
	require.NoError(t, up.TransformBlock(blk, RuntimeContext{}))
	require.Equal(t, "ACGT", string(blk.Molecules[0].Segments[0].Sequence))

	down := NewLowercaseSequence("read1")
	require.NoError(t, down.Init(ctx))
	require.NoError(t, down.TransformBlock(blk, RuntimeContext{}))
	require.Equal(t, "acgt", string(blk.Molecules[0].Segments[0].Sequence))
}

func TestHeaderEditModes(t *testing.T) {
	ctx := newInitContext("read1")

	rename := NewHeaderEdit("read1", HeaderRename, "renamed")
	require.NoError(t, rename.Init(ctx))
	blk := singleSegmentBlock("ACGT", "IIII")
	blk.Molecules[0].Segments[0].Header = []byte("orig")
	require.NoError(t, rename.TransformBlock(blk, RuntimeContext{}))
	require.Equal(t, "renamed", string(blk.Molecules[0].Segments[0].Header))

	prefix := NewHeaderEdit("read1", HeaderPrefix, "pre-")
	require.NoError(t, prefix.Init(ctx))
	require.NoError(t, prefix.TransformBlock(blk, RuntimeContext{}))
	require.Equal(t, "pre-renamed", string(blk.Molecules[0].Segments[0].Header))

	postfix := NewHeaderEdit("read1", HeaderPostfix, "-post")
	require.NoError(t, postfix.Init(ctx))
	require.NoError(t, postfix.TransformBlock(blk, RuntimeContext{}))
	require.Equal(t, "pre-renamed-post", string(blk.Molecules[0].Segments[0].Header))
}

func TestInitFailsOnUnknownSegment(t *testing.T) {
	ctx := newInitContext("read1")
	step := NewCutStart("read2", 1)
	require.Error(t, step.Init(ctx))
}
