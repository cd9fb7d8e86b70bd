package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/naturalis/percolator/internal/domain"
)

// Tx is a database-session-scoped handle carrying the subset of Store
// Adapter operations the Mutator needs inside one transaction boundary
// (§4.5, §7): every change made through one Tx commits or rolls back
// together. Each Mutator operation opens its own Tx, so the new, update and
// delete steps for one file commit separately.
type Tx struct {
	tx *sql.Tx
}

// BeginTx opens a new transaction. Callers must call Commit or Rollback.
func (s *Store) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction. Safe to call after a failed Commit.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("store: rollback transaction: %w", err)
	}
	return nil
}

// FetchJSON returns the JSON document for one row, within the transaction.
func (t *Tx) FetchJSON(ctx context.Context, table string, id int64) ([]byte, error) {
	var doc []byte
	err := t.tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT rec FROM %s WHERE id = $1", quoteIdent(table)), id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: fetch json from %s: %w", table, err)
	}
	return doc, nil
}

// InsertJSON inserts a new row with the given JSON document and hash,
// within the transaction.
func (t *Tx) InsertJSON(ctx context.Context, table string, doc []byte, hash string) error {
	_, err := t.tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (rec, hash, inserted_at) VALUES ($1, $2, NOW())", quoteIdent(table)),
		doc, hash)
	if err != nil {
		return fmt.Errorf("store: insert into %s: %w", table, err)
	}
	return nil
}

// ReplaceJSON overwrites an existing row's document and hash in place,
// within the transaction.
func (t *Tx) ReplaceJSON(ctx context.Context, table string, id int64, doc []byte, hash string) error {
	res, err := t.tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET rec = $1, hash = $2 WHERE id = $3", quoteIdent(table)), doc, hash, id)
	if err != nil {
		return fmt.Errorf("store: replace row in %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CopyFromImport inserts a new row into table by copying rec and hash
// directly from one import row (§4.10's insert-select primitive), within
// the transaction. The bytes never pass through Go, so the copied hash
// still matches the jsonb-canonicalized rec the Stager hashed.
func (t *Tx) CopyFromImport(ctx context.Context, importTable, table string, importID int64) error {
	_, err := t.tx.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (rec, hash, inserted_at) SELECT rec, hash, NOW() FROM %s WHERE id = $1",
		quoteIdent(table), quoteIdent(importTable)), importID)
	if err != nil {
		return fmt.Errorf("store: copy %s -> %s: %w", importTable, table, err)
	}
	return nil
}

// ReplaceFromImport overwrites an existing row's rec and hash by copying
// them directly from one import row (§4.10's update-select primitive),
// within the transaction, for the same reason CopyFromImport avoids
// round-tripping the bytes through Go.
func (t *Tx) ReplaceFromImport(ctx context.Context, importTable, table string, importID, id int64) error {
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s AS c SET rec = i.rec, hash = i.hash FROM %s AS i WHERE i.id = $1 AND c.id = $2",
		quoteIdent(table), quoteIdent(importTable)), importID, id)
	if err != nil {
		return fmt.Errorf("store: replace %s from %s: %w", table, importTable, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByID removes a single row, within the transaction.
func (t *Tx) DeleteByID(ctx context.Context, table string, id int64) error {
	_, err := t.tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = $1", quoteIdent(table)), id)
	if err != nil {
		return fmt.Errorf("store: delete row from %s: %w", table, err)
	}
	return nil
}

// LookupByLogicalID returns the current-table row id for a logical id, or
// ErrNotFound, within the transaction.
func (t *Tx) LookupByLogicalID(ctx context.Context, table, idField, logicalID string) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id FROM %s WHERE rec->>%s = $1", quoteIdent(table), quoteLiteral(idField)),
		logicalID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("store: lookup logical id in %s: %w", table, err)
	}
	return id, nil
}

// UpsertDeleteRegistry upserts one Delete Registry row, within the
// transaction (same supersede rule as Store.UpsertDeleteRegistry).
func (t *Tx) UpsertDeleteRegistry(ctx context.Context, recid string, status domain.DeleteStatus) error {
	_, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (recid, status, count, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (recid) DO UPDATE SET
			status = CASE WHEN $2 = 'REMOVED' THEN 'REMOVED' ELSE %s.status END,
			count = %s.count + 1,
			updated_at = NOW()
	`, quoteIdent(DeleteRegistryTable), quoteIdent(DeleteRegistryTable), quoteIdent(DeleteRegistryTable)),
		recid, string(status))
	if err != nil {
		return fmt.Errorf("store: upsert delete registry %s: %w", recid, err)
	}
	return nil
}
