package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/naturalis/percolator/internal/domain"
)

// Store wraps a *sql.DB with the pipeline's primitive operations. It never
// knows about Sources, ChangeSets, or enrichment; it only knows table
// names, column names, and SQL.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle. The caller owns connection pool
// sizing (see internal/config).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers (e.g. the copy helper) that
// need driver-specific behavior the Store doesn't wrap.
func (s *Store) DB() *sql.DB { return s.db }

// Truncate empties a table, used by the Stager before a bulk load and by
// the Job Runner's tabula-rasa path before reloading *current*.
func (s *Store) Truncate(ctx context.Context, table string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", quoteIdent(table)))
	if err != nil {
		return fmt.Errorf("store: truncate %s: %w", table, err)
	}
	return nil
}

// DropIndexes drops the hash/id/JSON-path indices ahead of a bulk load, and
// relaxes the NOT NULL constraint on the hash column so COPY can land rows
// before hashes are computed.
func (s *Store) DropIndexes(ctx context.Context, table string) error {
	stmts := []string{
		fmt.Sprintf("DROP INDEX IF EXISTS %s", quoteIdent(table+"_hash_idx")),
		fmt.Sprintf("DROP INDEX IF EXISTS %s", quoteIdent(table+"_id_idx")),
		fmt.Sprintf("DROP INDEX IF EXISTS %s", quoteIdent(table+"_identifications_gin_idx")),
		fmt.Sprintf("DROP INDEX IF EXISTS %s", quoteIdent(table+"_acceptedname_gin_idx")),
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN hash DROP NOT NULL", quoteIdent(table)),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: drop indexes on %s: %w", table, err)
		}
	}
	return nil
}

// RebuildIndexes recreates the BTREE/GIN indices for a table after a bulk
// load, per §4.2. consumesEnrichment/producesEnrichment gate the optional
// GIN indices.
func (s *Store) RebuildIndexes(ctx context.Context, table, idField string, consumesEnrichment, producesEnrichment bool) error {
	stmts := []string{
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN hash SET NOT NULL", quoteIdent(table)),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING BTREE (hash)",
			quoteIdent(table+"_hash_idx"), quoteIdent(table)),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING BTREE ((rec->>%s))",
			quoteIdent(table+"_id_idx"), quoteIdent(table), quoteLiteral(idField)),
	}
	if consumesEnrichment {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s USING GIN ((rec->'identifications') jsonb_path_ops)",
			quoteIdent(table+"_identifications_gin_idx"), quoteIdent(table)))
	}
	if producesEnrichment {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s USING GIN ((rec->'acceptedName') jsonb_path_ops)",
			quoteIdent(table+"_acceptedname_gin_idx"), quoteIdent(table)))
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: rebuild indexes on %s: %w", table, err)
		}
	}
	return nil
}

// UpdateHashes computes hash = MD5(rec::text) for every row with a null
// hash, the step that runs between the bulk load and RebuildIndexes.
func (s *Store) UpdateHashes(ctx context.Context, table string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET hash = MD5(rec::text) WHERE hash IS NULL", quoteIdent(table)))
	if err != nil {
		return 0, fmt.Errorf("store: update hashes on %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DuplicateGroup is one logical id with more than one row in a table,
// consumed by the Deduplicator.
type DuplicateGroup struct {
	LogicalID string
	RowIDs    []int64 // ascending; caller keeps the last (highest id)
}

// FindDuplicates groups rows by the JSON attribute named by idField and
// returns every group with more than one member, row ids ascending.
func (s *Store) FindDuplicates(ctx context.Context, table, idField string) ([]DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT rec->>%s AS logical_id, array_agg(id ORDER BY id ASC)
		FROM %s
		GROUP BY rec->>%s
		HAVING count(*) > 1
	`, quoteLiteral(idField), quoteIdent(table), quoteLiteral(idField)))
	if err != nil {
		return nil, fmt.Errorf("store: find duplicates in %s: %w", table, err)
	}
	defer rows.Close()

	var out []DuplicateGroup
	for rows.Next() {
		var g DuplicateGroup
		var ids pq.Int64Array
		if err := rows.Scan(&g.LogicalID, &ids); err != nil {
			return nil, fmt.Errorf("store: scan duplicate group: %w", err)
		}
		g.RowIDs = []int64(ids)
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteRows removes the given row ids from a table in one statement.
func (s *Store) DeleteRows(ctx context.Context, table string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", quoteIdent(table)), pq.Int64Array(ids))
	if err != nil {
		return fmt.Errorf("store: delete rows from %s: %w", table, err)
	}
	return nil
}

// HashDiff pairs an import row id and a current row id compared on their
// hash column: present on at most one side. No Store method returns it; the
// Differ uses LeftAntiJoin and RightAntiJoin.
type HashDiff struct {
	ImportID  sql.NullInt64
	CurrentID sql.NullInt64
}

// LeftAntiJoin returns rows in importTable whose hash is absent from
// currentTable — the Differ's step 1 (§4.4).
func (s *Store) LeftAntiJoin(ctx context.Context, importTable, currentTable string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT i.id FROM %s i
		LEFT JOIN %s c ON c.hash = i.hash
		WHERE c.id IS NULL AND i.hash IS NOT NULL
	`, quoteIdent(importTable), quoteIdent(currentTable)))
	if err != nil {
		return nil, fmt.Errorf("store: left anti-join %s/%s: %w", importTable, currentTable, err)
	}
	return scanInt64Rows(rows)
}

// RightAntiJoin returns rows in currentTable whose hash is absent from
// importTable — the Differ's step 2, non-incremental sources only.
func (s *Store) RightAntiJoin(ctx context.Context, importTable, currentTable string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.id FROM %s c
		LEFT JOIN %s i ON i.hash = c.hash
		WHERE i.id IS NULL
	`, quoteIdent(currentTable), quoteIdent(importTable)))
	if err != nil {
		return nil, fmt.Errorf("store: right anti-join %s/%s: %w", currentTable, importTable, err)
	}
	return scanInt64Rows(rows)
}

// CountNullHash returns the number of rows in importTable whose hash is
// null — candidates the Differ must skip and the caller should report to
// the audit log.
func (s *Store) CountNullHash(ctx context.Context, importTable string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT count(*) FROM %s WHERE hash IS NULL", quoteIdent(importTable)),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count null hash in %s: %w", importTable, err)
	}
	return n, nil
}

func scanInt64Rows(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// LookupByLogicalID returns the current-table row id for a logical id, or
// ErrNotFound.
func (s *Store) LookupByLogicalID(ctx context.Context, table, idField, logicalID string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
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

// FetchJSON returns the JSON document for one row.
func (s *Store) FetchJSON(ctx context.Context, table string, id int64) ([]byte, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT rec FROM %s WHERE id = $1", quoteIdent(table)), id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: fetch json from %s: %w", table, err)
	}
	return doc, nil
}

// InsertJSON inserts a new row with the given JSON document and hash into
// a table.
func (s *Store) InsertJSON(ctx context.Context, table string, doc []byte, hash string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (rec, hash, inserted_at) VALUES ($1, $2, NOW())", quoteIdent(table)),
		doc, hash)
	if err != nil {
		return fmt.Errorf("store: insert into %s: %w", table, err)
	}
	return nil
}

// ReplaceJSON overwrites an existing row's document and hash in place.
func (s *Store) ReplaceJSON(ctx context.Context, table string, id int64, doc []byte, hash string) error {
	res, err := s.db.ExecContext(ctx,
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

// DeleteByID removes a single row, used by the Mutator's handleDeletes and
// handleExplicitDeletes.
func (s *Store) DeleteByID(ctx context.Context, table string, id int64) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = $1", quoteIdent(table)), id)
	if err != nil {
		return fmt.Errorf("store: delete row from %s: %w", table, err)
	}
	return nil
}

// TableRow is one (id, JSON) pair returned by AllRows.
type TableRow struct {
	ID  int64
	Doc []byte
}

// AllRows returns every row of table as (id, JSON) pairs, used by the
// Mutator's tabula-rasa export (§4.5) to stream the freshly bulk-loaded
// current table back out through enrichment.
func (s *Store) AllRows(ctx context.Context, table string) ([]TableRow, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT id, rec FROM %s ORDER BY id", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("store: scan all rows of %s: %w", table, err)
	}
	defer rows.Close()
	var out []TableRow
	for rows.Next() {
		var r TableRow
		if err := rows.Scan(&r.ID, &r.Doc); err != nil {
			return nil, fmt.Errorf("store: scan row of %s: %w", table, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ScientificNameGroupMatches returns taxon JSON documents from a producing
// Source's current table whose acceptedName.scientificNameGroup equals
// group, used by the Enrichment Engine's cold-cache lookup (§4.6).
func (s *Store) ScientificNameGroupMatches(ctx context.Context, currentTable, group string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT rec FROM %s WHERE rec->'acceptedName'->>'scientificNameGroup' = $1`,
		quoteIdent(currentTable)), group)
	if err != nil {
		return nil, fmt.Errorf("store: scientificNameGroup lookup on %s: %w", currentTable, err)
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: scan taxon json: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// FanOutMatches returns (id, JSON) pairs from a consuming Source's current
// table whose identifications array contains an entry with the given
// scientificNameGroup, using the GIN containment index (§4.6).
func (s *Store) FanOutMatches(ctx context.Context, currentTable, group string) ([]struct {
	ID  int64
	Doc []byte
}, error) {
	containment := fmt.Sprintf(`[{"scientificName":{"scientificNameGroup":%s}}]`, quoteJSONString(group))
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, rec FROM %s WHERE rec->'identifications' @> $1::jsonb`,
		quoteIdent(currentTable)), containment)
	if err != nil {
		return nil, fmt.Errorf("store: fan-out query on %s: %w", currentTable, err)
	}
	defer rows.Close()

	var out []struct {
		ID  int64
		Doc []byte
	}
	for rows.Next() {
		var row struct {
			ID  int64
			Doc []byte
		}
		if err := rows.Scan(&row.ID, &row.Doc); err != nil {
			return nil, fmt.Errorf("store: scan fan-out row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// UpsertDeleteRegistry creates or updates the Delete Registry row for
// recid (§4.7): the counter always increments; the status is overwritten
// only when the new status supersedes the stored one (REMOVED supersedes
// REJECTED), otherwise the prior status is kept.
func (s *Store) UpsertDeleteRegistry(ctx context.Context, recid string, status domain.DeleteStatus) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
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

// FetchDeleteRegistry returns one Delete Registry row, or ErrNotFound.
func (s *Store) FetchDeleteRegistry(ctx context.Context, recid string) (domain.DeleteRegistryEntry, error) {
	var e domain.DeleteRegistryEntry
	var status string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT recid, status, count, updated_at FROM %s WHERE recid = $1`,
		quoteIdent(DeleteRegistryTable)), recid,
	).Scan(&e.RecID, &status, &e.Count, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.DeleteRegistryEntry{}, ErrNotFound
	}
	if err != nil {
		return domain.DeleteRegistryEntry{}, fmt.Errorf("store: fetch delete registry %s: %w", recid, err)
	}
	e.Status = domain.DeleteStatus(status)
	return e, nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func quoteLiteral(s string) string {
	return "'" + s + "'"
}

func quoteJSONString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// sourceTableNames is a small convenience used by callers that only hold a
// domain.Source, not separate table-name strings.
func sourceTableNames(src domain.Source) (importTable, currentTable string) {
	return src.ImportTable(), src.CurrentTable()
}
