// Package remap tracks the correspondence between origin-instance
// identifiers and the identifiers assigned by the target instance.
//
// A Table is created empty at the start of an import run, grows as each
// entity kind is imported in dependency order, and is discarded when the
// run ends. Mappings are append-only: once a (kind, origin) pair is
// recorded it can never point anywhere else.
package remap

import (
	"sync"

	"github.com/zeebo/errs"
)

// ErrUnresolved is returned by Get when the requested identifier has not
// been mapped yet. Seeing it during an import means a phase consulted the
// table before the phase that owns that kind had run.
var ErrUnresolved = errs.Class("unresolved reference")

// ErrConflict is returned by Put when a (kind, origin) pair is already
// mapped to a different target identifier.
var ErrConflict = errs.Class("conflicting mapping")

// Kind qualifies an origin identifier by the entity type it belongs to,
// so identifiers from disjoint sequences cannot collide in the table.
type Kind string

const (
	KindUser          Kind = "user"
	KindOntology      Kind = "ontology"
	KindTerm          Kind = "term"
	KindProject       Kind = "project"
	KindImage         Kind = "imageinstance"
	KindAbstractImage Kind = "abstractimage"
	KindAnnotation    Kind = "annotation"
)

type key struct {
	kind   Kind
	origin int64
}

// Table is an append-only mapping from (kind, origin id) to target id.
// It is safe for concurrent use; the import partitions work so that no
// two tasks ever write the same key.
type Table struct {
	mu      sync.RWMutex
	entries map[key]int64
}

// New returns an empty table.
func New() *Table {
	return &Table{entries: make(map[key]int64)}
}

// Put records the target identifier for (kind, origin). Re-recording the
// same pair with the same target is a no-op; a different target is a
// conflict and indicates a phase-ordering bug, not bad input.
func (t *Table) Put(kind Kind, origin, target int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{kind, origin}
	if existing, ok := t.entries[k]; ok {
		if existing == target {
			return nil
		}
		return ErrConflict.New("%s %d already mapped to %d, refusing remap to %d", kind, origin, existing, target)
	}
	t.entries[k] = target
	return nil
}

// Get resolves the target identifier for (kind, origin). A missing entry
// fails with ErrUnresolved; callers must have imported that kind earlier
// in the dependency order.
func (t *Table) Get(kind Kind, origin int64) (int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if target, ok := t.entries[key{kind, origin}]; ok {
		return target, nil
	}
	return 0, ErrUnresolved.New("%s %d", kind, origin)
}

// Has reports whether (kind, origin) is mapped.
func (t *Table) Has(kind Kind, origin int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.entries[key{kind, origin}]
	return ok
}

// Len returns the number of recorded mappings.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.entries)
}
