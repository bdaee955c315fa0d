package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exascience/fastq-processor/pkg/block"
	"github.com/exascience/fastq-processor/pkg/steps"
)

type fakeStep struct {
	steps.BaseStep
	name string
	caps steps.Capabilities
}

func (f *fakeStep) Name() string                      { return f.name }
func (f *fakeStep) Init(*steps.InitContext) error      { return nil }
func (f *fakeStep) Capabilities() steps.Capabilities   { return f.caps }
func (f *fakeStep) TransformBlock(*block.Block, steps.RuntimeContext) error { return nil }

func parallelStep(name string) *fakeStep {
	return &fakeStep{name: name, caps: steps.Capabilities{ParallelSafe: true}}
}

func orderedStep(name string) *fakeStep {
	return &fakeStep{name: name, caps: steps.Capabilities{OrderSensitive: true}}
}

func TestPartitionGroupsContiguousParallelSteps(t *testing.T) {
	list := []steps.Step{parallelStep("a"), parallelStep("b"), parallelStep("c")}
	runs := partition(list)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].orderSensitive)
	assert.Len(t, runs[0].stepList, 3)
}

func TestPartitionGivesOrderSensitiveStepsTheirOwnRun(t *testing.T) {
	list := []steps.Step{parallelStep("a"), orderedStep("head"), parallelStep("b")}
	runs := partition(list)
	require.Len(t, runs, 3)

	assert.False(t, runs[0].orderSensitive)
	assert.Equal(t, "a", runs[0].stepList[0].Name())

	assert.True(t, runs[1].orderSensitive)
	assert.Equal(t, "head", runs[1].stepList[0].Name())

	assert.False(t, runs[2].orderSensitive)
	assert.Equal(t, "b", runs[2].stepList[0].Name())
}

func TestPartitionHandlesConsecutiveOrderSensitiveSteps(t *testing.T) {
	list := []steps.Step{orderedStep("skip"), orderedStep("head")}
	runs := partition(list)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].orderSensitive)
	assert.True(t, runs[1].orderSensitive)
}

func TestPartitionEmptyListYieldsNoRuns(t *testing.T) {
	assert.Empty(t, partition(nil))
}
