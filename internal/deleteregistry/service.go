package deleteregistry

import (
	"context"

	"github.com/naturalis/percolator/internal/domain"
)

// Store is the subset of the Store Adapter the Delete Registry needs.
type Store interface {
	UpsertDeleteRegistry(ctx context.Context, recid string, status domain.DeleteStatus) error
	FetchDeleteRegistry(ctx context.Context, recid string) (domain.DeleteRegistryEntry, error)
}

// Registry tracks soft (REJECTED) and hard (REMOVED) deletions across runs.
// It is advisory: nothing here feeds back into the Differ's ChangeSet.
type Registry struct {
	store Store
}

// New returns a Registry backed by the given Store Adapter.
func New(store Store) *Registry {
	return &Registry{store: store}
}

// Observe records one deletion of recid under status, per §4.7's upsert
// contract: the counter always increments, and REMOVED supersedes
// REJECTED when both are observed for the same recid.
func (r *Registry) Observe(ctx context.Context, recid string, status domain.DeleteStatus) error {
	return r.store.UpsertDeleteRegistry(ctx, recid, status)
}

// Lookup returns the current entry for recid, or store.ErrNotFound if it
// has never been observed.
func (r *Registry) Lookup(ctx context.Context, recid string) (domain.DeleteRegistryEntry, error) {
	return r.store.FetchDeleteRegistry(ctx, recid)
}
