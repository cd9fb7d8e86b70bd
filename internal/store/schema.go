package store

import (
	"context"
	"fmt"

	"github.com/naturalis/percolator/internal/domain"
)

// DeleteRegistryTable is the name of the persistent Delete Registry table
// (§4.7), shared across every Source.
const DeleteRegistryTable = "delete_registry"

// Bootstrap issues the idempotent DDL for one Source's import/current
// table pair (§4.10). It runs only through BootstrapAll, from the migrate
// commands; the pipeline does not call it before touching a Source's
// tables. It never migrates or drops existing schema; administration
// beyond this trigger point is out of scope.
func (s *Store) Bootstrap(ctx context.Context, src domain.Source) error {
	for _, table := range []string{src.ImportTable(), src.CurrentTable()} {
		stmt := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				rec JSONB NOT NULL,
				hash TEXT,
				inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, quoteIdent(table))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: bootstrap %s: %w", table, err)
		}
	}
	if err := s.RebuildIndexes(ctx, src.CurrentTable(), src.IDField, src.Consumes, src.Produces); err != nil {
		return fmt.Errorf("store: bootstrap indices for %s: %w", src.CurrentTable(), err)
	}
	return nil
}

// BootstrapAll runs Bootstrap for every configured Source followed by
// BootstrapDeleteRegistry, the full schema-creation sequence the migrate
// command runs once per environment.
func (s *Store) BootstrapAll(ctx context.Context, sources []domain.Source) error {
	for _, src := range sources {
		if err := s.Bootstrap(ctx, src); err != nil {
			return err
		}
	}
	return s.BootstrapDeleteRegistry(ctx)
}

// BootstrapDeleteRegistry creates the Delete Registry table if absent.
func (s *Store) BootstrapDeleteRegistry(ctx context.Context) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			recid TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, quoteIdent(DeleteRegistryTable))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("store: bootstrap delete registry: %w", err)
	}
	return nil
}
