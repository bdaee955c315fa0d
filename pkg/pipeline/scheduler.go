// Package pipeline wires the reader, step catalogue, demultiplexer, and
// writer into one pargo/pipeline topology: reader -> bounded queue ->
// {serial | parallel} stages -> bounded queue -> writer.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/exascience/pargo/pipeline"
	"golang.org/x/sync/errgroup"

	"github.com/exascience/fastq-processor/pkg/block"
	"github.com/exascience/fastq-processor/pkg/demux"
	"github.com/exascience/fastq-processor/pkg/reader"
	"github.com/exascience/fastq-processor/pkg/report"
	"github.com/exascience/fastq-processor/pkg/steps"
	"github.com/exascience/fastq-processor/pkg/tagstore"
	"github.com/exascience/fastq-processor/pkg/writer"
)

// run is one contiguous group of steps sharing a scheduling strategy:
// either a worker-pool parallel stage, or a single order-sensitive step
// run as its own serial stage.
type run struct {
	stepList       []steps.Step
	orderSensitive bool
}

// partition groups an ordered step list into runs of contiguous
// parallel-safe steps separated by order-sensitive barriers. Each
// order-sensitive step gets its own single-step serial stage.
func partition(stepList []steps.Step) []run {
	var runs []run
	var cur []steps.Step
	for _, st := range stepList {
		caps := st.Capabilities()
		if caps.OrderSensitive {
			if len(cur) > 0 {
				runs = append(runs, run{stepList: cur})
				cur = nil
			}
			runs = append(runs, run{stepList: []steps.Step{st}, orderSensitive: true})
			continue
		}
		cur = append(cur, st)
	}
	if len(cur) > 0 {
		runs = append(runs, run{stepList: cur})
	}
	return runs
}

// blockSource adapts a RecordBuilder into a pargo/pipeline Source,
// assembling blocks of up to blockSize molecules and honoring
// cooperative cancellation via the context handed to Prepare.
type blockSource struct {
	builder   *reader.RecordBuilder
	pool      *block.Pool
	blockSize int
	ctx       context.Context
	index     int
	data      *block.Block
	err       error
	cancelled int32
}

func newBlockSource(builder *reader.RecordBuilder, pool *block.Pool, blockSize int) *blockSource {
	return &blockSource{builder: builder, pool: pool, blockSize: blockSize}
}

func (s *blockSource) Prepare(ctx context.Context) int {
	s.ctx = ctx
	return -1
}

// cancel stops the source from fetching further blocks; used by Head's
// early termination.
func (s *blockSource) cancel() { atomic.StoreInt32(&s.cancelled, 1) }

func (s *blockSource) Fetch(n int) int {
	s.data = nil
	if atomic.LoadInt32(&s.cancelled) != 0 {
		return 0
	}
	if s.ctx != nil && s.ctx.Err() != nil {
		return 0
	}
	blk := s.pool.Get(s.index)
	for len(blk.Molecules) < s.blockSize {
		m, err := s.builder.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			s.err = err
			return 0
		}
		blk.Molecules = append(blk.Molecules, m)
	}
	if len(blk.Molecules) == 0 {
		s.pool.Put(blk)
		return 0
	}
	blk.IsLast = len(blk.Molecules) < s.blockSize
	s.data = blk
	s.index++
	return 1
}

func (s *blockSource) Data() interface{} { return s.data }
func (s *blockSource) Err() error        { return s.err }

// Scheduler owns the resolved step list, the record source, the
// demultiplexer (optional), and the per-segment writers, and drives one
// run of the pipeline end to end.
type Scheduler struct {
	Builder      *reader.RecordBuilder
	Pool         *block.Pool
	BlockSize    int
	ThreadCount  int
	Seed         int64
	StepList     []steps.Step
	Demux        *demux.Demultiplex // nil when demultiplexing is not configured
	Writers      []writer.Sink      // one per configured output (segment, or an interleaved group)
	Aggregator   *report.Aggregator
	Registry     *tagstore.Registry
	SegmentNames []string // required by Init when Builder is not yet open

	source *blockSource
}

// Init resolves every step's tag references against Registry and fails
// with a ConfigError-shaped error before any input file needs to be
// open — callers are expected to call Init (directly, or via Run) with
// Builder left nil and SegmentNames set from the configuration, so that
// a bad tag reference or duplicate label is caught before input is
// opened. Init is idempotent: a second call is a no-op.
func (s *Scheduler) Init() error {
	if s.source != nil {
		return nil
	}
	s.source = newBlockSource(s.Builder, s.Pool, s.BlockSize)

	segmentNames := s.SegmentNames
	if s.Builder != nil {
		segmentNames = s.Builder.SegmentNames()
	}
	initCtx := &steps.InitContext{
		Registry:     s.Registry,
		SegmentNames: segmentNames,
		Aggregator:   s.Aggregator,
		ThreadCount:  s.ThreadCount,
		Seed:         s.Seed,
		Cancel:       s.source.cancel,
	}

	for _, st := range s.StepList {
		if err := st.Init(initCtx); err != nil {
			return fmt.Errorf("pipeline: initializing step %q: %w", st.Name(), err)
		}
	}
	if s.Demux != nil {
		if err := s.Demux.Init(initCtx); err != nil {
			return fmt.Errorf("pipeline: initializing demultiplexer: %w", err)
		}
	}
	return nil
}

// Run drives the reader through every stage to the writers, returning
// the first fatal error encountered; a writer error always aborts the
// run. Run calls Init if it has not run yet, but callers that need
// ConfigErrors surfaced before opening input should call Init
// explicitly first, with Builder set afterward.
func (s *Scheduler) Run() error {
	if err := s.Init(); err != nil {
		return err
	}
	s.source.builder = s.Builder

	var p pipeline.Pipeline
	p.Source(s.source)

	runs := partition(s.StepList)
	for _, r := range runs {
		rCopy := r
		fn := func(_ int, data interface{}) interface{} {
			blk := data.(*block.Block)
			rt := steps.RuntimeContext{BlockIndex: blk.Index, Seed: s.Seed}
			for _, st := range rCopy.stepList {
				if err := st.TransformBlock(blk, rt); err != nil {
					s.source.err = err
					return nil
				}
			}
			return blk
		}
		if rCopy.orderSensitive {
			p.Add(pipeline.StrictOrd(pipeline.Receive(fn)))
		} else {
			p.Add(pipeline.LimitedPar(s.ThreadCount, pipeline.Receive(fn)))
		}
	}

	p.Add(pipeline.StrictOrd(pipeline.Receive(s.writeStage)))

	p.Run()
	if err := p.Err(); err != nil {
		return err
	}
	if s.source.err != nil {
		return s.source.err
	}

	if err := s.injectReservoirs(); err != nil {
		return err
	}

	for _, st := range s.StepList {
		if err := st.Finalize(); err != nil {
			return fmt.Errorf("pipeline: finalizing step %q: %w", st.Name(), err)
		}
	}
	var g errgroup.Group
	for _, w := range s.Writers {
		w := w
		g.Go(func() error {
			_, err := w.Close()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("pipeline: closing writer: %w", err)
	}
	return nil
}

// writeStage is the terminal serial stage: it writes every kept
// molecule to the writers, which route it by the bucket the Demultiplex
// step (if configured) already assigned.
func (s *Scheduler) writeStage(_ int, data interface{}) interface{} {
	blk, ok := data.(*block.Block)
	if !ok || blk == nil {
		return nil
	}
	for _, m := range blk.Molecules {
		if !m.Keep {
			continue
		}
		for _, w := range s.Writers {
			if err := w.WriteMolecule(m); err != nil {
				s.source.err = err
				return nil
			}
		}
	}
	return nil
}

// injectReservoirs writes FilterReservoirSample's retained molecules
// directly to the writers once the main stream has fully drained.
// This is a known simplification: it does not re-run molecules through
// any steps configured after the reservoir step in the pipeline, since
// doing so in general would require re-threading a synthetic block
// through an arbitrary suffix of the stage graph (documented in
// DESIGN.md).
func (s *Scheduler) injectReservoirs() error {
	for _, st := range s.StepList {
		rs, ok := st.(*steps.FilterReservoirSample)
		if !ok {
			continue
		}
		for _, m := range rs.Reservoir() {
			if m == nil || !m.Keep {
				continue
			}
			for _, w := range s.Writers {
				if err := w.WriteMolecule(m); err != nil {
					return fmt.Errorf("pipeline: writing reservoir sample: %w", err)
				}
			}
		}
	}
	return nil
}
