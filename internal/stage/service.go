package stage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/naturalis/percolator/internal/domain"
)

// Store is the subset of the Store Adapter the Stager needs.
type Store interface {
	Truncate(ctx context.Context, table string) error
	DropIndexes(ctx context.Context, table string) error
	CopyLines(table string, r io.Reader) (int64, error)
	UpdateHashes(ctx context.Context, table string) (int64, error)
	RebuildIndexes(ctx context.Context, table, idField string, consumesEnrichment, producesEnrichment bool) error
}

// Stager bulk-loads a Source's input file into its import table (or, for
// the tabula-rasa path, directly into its current table).
type Stager struct {
	store Store
}

// New returns a Stager backed by the given Store Adapter.
func New(store Store) *Stager {
	return &Stager{store: store}
}

// Stage truncates table, bulk-loads file's lines into it, computes
// hashes, and rebuilds indices, per §4.2. table is either a Source's
// import table (normal path) or its current table (tabula-rasa path).
func (s *Stager) Stage(ctx context.Context, src domain.Source, table, file string) (int64, error) {
	f, err := os.Open(file)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %s", ErrFileUnreadable, file, err)
	}
	defer f.Close()

	if err := s.store.Truncate(ctx, table); err != nil {
		return 0, err
	}
	if err := s.store.DropIndexes(ctx, table); err != nil {
		return 0, err
	}

	n, err := s.store.CopyLines(table, f)
	if err != nil {
		return 0, err
	}

	if _, err := s.store.UpdateHashes(ctx, table); err != nil {
		return 0, err
	}

	if err := s.store.RebuildIndexes(ctx, table, src.IDField, src.Consumes, src.Produces); err != nil {
		return 0, err
	}

	return n, nil
}
