package report

import "sync"

// Aggregator collects per-block statistics produced concurrently by
// worker goroutines, merging each block's contribution into a shared
// per-segment accumulator immediately under a single mutex. This
// deviates from pinning one accumulator per OS thread and merging once
// at shutdown, since pargo's worker pool exposes no stable worker
// identity to the Receive callback; it produces the same result because
// the merge is associative and commutative.
type Aggregator struct {
	mu       sync.Mutex
	segments map[string]*SegmentStats
	timings  map[string]*StepTiming
	dropped  map[string]uint64
	errors   []ErrorRecord
	prefixK  int
}

// ErrorRecord is one demoted (dropped-record) or fatal error surfaced
// in the JSON report's "errors" array.
type ErrorRecord struct {
	Step        string
	RecordIndex int
	Reason      string
}

// NewAggregator returns an empty Aggregator. prefixK sizes the
// duplication-estimate k-mer used by newly created SegmentStats.
func NewAggregator(prefixK int) *Aggregator {
	return &Aggregator{
		segments: map[string]*SegmentStats{},
		timings:  map[string]*StepTiming{},
		dropped:  map[string]uint64{},
		prefixK:  prefixK,
	}
}

// MergeSegment creates (if needed) the accumulator for segment name
// and merges contribution into it under the aggregator's mutex.
func (a *Aggregator) MergeSegment(name string, contribution *SegmentStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.segments[name]
	if !ok {
		cur = NewSegmentStats(name, a.prefixK)
		a.segments[name] = cur
	}
	cur.Merge(contribution)
}

// MergeTiming folds a step's timing contribution.
func (a *Aggregator) MergeTiming(contribution *StepTiming) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.timings[contribution.StepName]
	if !ok {
		cur = &StepTiming{StepName: contribution.StepName}
		a.timings[contribution.StepName] = cur
	}
	cur.Merge(contribution)
}

// IncrementDropped bumps the drop-counter for a step; a demoted
// validation error increments this instead of aborting the run.
func (a *Aggregator) IncrementDropped(step string, n uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropped[step] += n
}

// RecordError appends a structured error entry.
func (a *Aggregator) RecordError(rec ErrorRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors = append(a.errors, rec)
}

// Snapshot is the immutable result handed to the (external) JSON/HTML
// renderer once every stage has observed shutdown and flushed.
type Snapshot struct {
	Segments map[string]*SegmentStats
	Timings  map[string]*StepTiming
	Dropped  map[string]uint64
	Errors   []ErrorRecord
}

// Snapshot drains the aggregator into a Snapshot. Safe to call once,
// after the scheduler has confirmed every stage finished.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		Segments: a.segments,
		Timings:  a.timings,
		Dropped:  a.dropped,
		Errors:   append([]ErrorRecord(nil), a.errors...),
	}
}
