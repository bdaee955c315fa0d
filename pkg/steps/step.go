// Package steps implements the step framework and catalogue: a
// polymorphic value over a small capability set that every
// transformation implements.
package steps

import (
	"time"

	"github.com/exascience/fastq-processor/pkg/block"
	"github.com/exascience/fastq-processor/pkg/molecule"
	"github.com/exascience/fastq-processor/pkg/report"
	"github.com/exascience/fastq-processor/pkg/tagstore"
)

// Capabilities summarizes the scheduling-relevant traits of a step: may
// it run on worker threads, and must it observe blocks in strict order.
type Capabilities struct {
	ParallelSafe   bool
	OrderSensitive bool
}

// InitContext is handed to every step's Init during pipeline
// construction, before any input is opened.
type InitContext struct {
	Registry     *tagstore.Registry
	SegmentNames []string
	Aggregator   *report.Aggregator
	ThreadCount  int
	Seed         int64
	// Cancel, when called, triggers the scheduler's shutdown signal;
	// Head uses this for early termination.
	Cancel func()
}

// SegmentIndex resolves a configured segment name to its position in
// Molecule.Segments, or -1 if unknown.
func (c *InitContext) SegmentIndex(name string) int {
	for i, n := range c.SegmentNames {
		if n == name {
			return i
		}
	}
	return -1
}

// RuntimeContext is threaded through TransformBlock; it carries
// per-block identity needed for deterministic, order-independent
// behavior given the same input and seed.
type RuntimeContext struct {
	BlockIndex int
	Seed       int64
}

// Step is the contract every transformation implements. The zero value
// of a step's concrete type should not be used directly; catalogue
// constructors (NewCutStart, etc.) return ready-to-Init values.
type Step interface {
	// Name identifies the step for diagnostics, timing, and the
	// drop-counter surfaced in the report.
	Name() string

	// Init resolves tag labels against the registry, validates the
	// step's configuration, and loads any auxiliary state (e.g.
	// FilterOtherFileByName's in-memory set). Called once, before
	// streaming begins.
	Init(ctx *InitContext) error

	// Capabilities reports how the scheduler may run this step.
	Capabilities() Capabilities

	// TransformBlock applies the step to every molecule in blk
	// in-place. Molecules with Keep == false must not be modified
	// further, only passed through.
	TransformBlock(blk *block.Block, rt RuntimeContext) error

	// Finalize is called once after the stream has drained. The
	// catalogue steps embed BaseStep's no-op: Inspect and Report merge
	// into the aggregator per block, and the scheduler reads
	// FilterReservoirSample's reservoir through Reservoir().
	Finalize() error
}

// BaseStep supplies a no-op Finalize; each catalogue step still
// implements Capabilities itself.
type BaseStep struct{}

func (BaseStep) Finalize() error { return nil }

// ErrDemoted wraps a StepError that has been configured to drop the
// offending record instead of aborting the run.
type ErrDemoted struct {
	Step        string
	RecordIndex int
	Reason      string
}

func (e *ErrDemoted) Error() string {
	return e.Step + ": demoted validation error at record " + itoa(e.RecordIndex) + ": " + e.Reason
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// forEachKept applies fn to every molecule in blk with Keep == true.
func forEachKept(blk *block.Block, fn func(m *molecule.Molecule)) {
	for _, m := range blk.Molecules {
		if m.Keep {
			fn(m)
		}
	}
}

// timeStep is a small helper steps can use to accumulate wall-time
// timing into the aggregator, when enabled.
func timeStep(agg *report.Aggregator, name string, blockLen int, fn func()) {
	start := timeNow()
	fn()
	elapsed := timeSince(start)
	agg.MergeTiming(&report.StepTiming{StepName: name, BlocksSeen: 1, NanosSpent: elapsed.Nanoseconds()})
	_ = blockLen
}

func timeNow() time.Time     { return time.Now() }
func timeSince(t time.Time) time.Duration { return time.Since(t) }
