package dedupe

import (
	"context"

	"github.com/naturalis/percolator/internal/store"
)

// Store is the subset of the Store Adapter the Deduplicator needs.
type Store interface {
	FindDuplicates(ctx context.Context, table, idField string) ([]store.DuplicateGroup, error)
	DeleteRows(ctx context.Context, table string, ids []int64) error
}

// Deduplicator collapses duplicate logical ids down to one row per id.
type Deduplicator struct {
	store Store
}

// New returns a Deduplicator backed by the given Store Adapter.
func New(store Store) *Deduplicator {
	return &Deduplicator{store: store}
}

// Result records the Deduplicator's meta breadcrumb: how many rows were
// removed.
type Result struct {
	RemovedCount int
}

// Dedupe groups rows in table by the JSON attribute named by idField;
// within every group of more than one row it keeps the row with the
// highest internal id (last-inserted) and deletes the rest (§4.3).
func (d *Deduplicator) Dedupe(ctx context.Context, table, idField string) (Result, error) {
	groups, err := d.store.FindDuplicates(ctx, table, idField)
	if err != nil {
		return Result{}, err
	}

	var toDelete []int64
	for _, g := range groups {
		if len(g.RowIDs) < 2 {
			continue
		}
		// RowIDs is ascending; every id but the last (highest) is removed.
		toDelete = append(toDelete, g.RowIDs[:len(g.RowIDs)-1]...)
	}

	if err := d.store.DeleteRows(ctx, table, toDelete); err != nil {
		return Result{}, err
	}

	return Result{RemovedCount: len(toDelete)}, nil
}
