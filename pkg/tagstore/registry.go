// Package tagstore implements the process-wide tag registry: a
// compile-time map from string label to {kind, producer, consumers},
// built once during pipeline construction from static analysis of the
// step list. It lets the runtime tag store be a small indexed array
// (pkg/molecule.Molecule.Tags) rather than a hash map, and lets
// undefined-label references be rejected before any input is opened.
package tagstore

import (
	"fmt"

	"github.com/exascience/fastq-processor/pkg/molecule"
)

// entry is the registry's bookkeeping for one label.
type entry struct {
	label     string
	kind      molecule.TagKind
	producer  string
	consumers []string
}

// Registry resolves tag labels to indices and enforces uniqueness.
type Registry struct {
	byLabel map[string]int
	entries []entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byLabel: make(map[string]int)}
}

// Define registers a new label produced by step producer. It is an
// error to redefine an existing label; tag labels are unique per
// molecule, and that conflict is surfaced at pipeline-construction
// time rather than at runtime.
func (r *Registry) Define(label string, kind molecule.TagKind, producer string) (int, error) {
	if _, ok := r.byLabel[label]; ok {
		return 0, fmt.Errorf("tag store: label %q is already defined (duplicate producer %q)", label, producer)
	}
	idx := len(r.entries)
	r.entries = append(r.entries, entry{label: label, kind: kind, producer: producer})
	r.byLabel[label] = idx
	return idx, nil
}

// Require resolves label for use by consumer, recording the reference.
// It fails if label was never defined by an earlier step, rejecting a
// pipeline that reads an undefined label before any input is opened,
// so that later runtime lookups via Molecule.Tag are infallible.
func (r *Registry) Require(label string, consumer string) (int, error) {
	idx, ok := r.byLabel[label]
	if !ok {
		return 0, fmt.Errorf("tag store: step %q references undefined tag label %q", consumer, label)
	}
	r.entries[idx].consumers = append(r.entries[idx].consumers, consumer)
	return idx, nil
}

// RequireKind is Require plus a kind check, used by steps that can
// only sensibly consume one tag shape (e.g. FilterByNumericTag).
func (r *Registry) RequireKind(label string, consumer string, kind molecule.TagKind) (int, error) {
	idx, err := r.Require(label, consumer)
	if err != nil {
		return 0, err
	}
	if got := r.entries[idx].kind; got != kind {
		return 0, fmt.Errorf("tag store: step %q expects tag %q to be %s, got %s", consumer, label, kind, got)
	}
	return idx, nil
}

// Lookup returns the index for label without recording a consumer
// reference, for read-only introspection (reporting, etc.).
func (r *Registry) Lookup(label string) (int, bool) {
	idx, ok := r.byLabel[label]
	return idx, ok
}

// Size is the number of distinct labels defined; Molecule.Tags slices
// are grown to at least this length.
func (r *Registry) Size() int {
	return len(r.entries)
}

// Label returns the string label for idx, for diagnostics.
func (r *Registry) Label(idx int) string {
	if idx < 0 || idx >= len(r.entries) {
		return "<invalid>"
	}
	return r.entries[idx].label
}
