package mutate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naturalis/percolator/internal/auditlog"
	"github.com/naturalis/percolator/internal/delta"
	"github.com/naturalis/percolator/internal/domain"
	"github.com/naturalis/percolator/internal/enrich"
	"github.com/naturalis/percolator/internal/store"
)

type fakeAudit struct{ events []string }

func (f *fakeAudit) EmitRecord(ctx context.Context, jobID string, state auditlog.State, typ, source, recid string) {
	f.events = append(f.events, string(state)+":"+recid)
}

type fakeEnrich struct {
	enriched map[string]string // doc -> enriched doc, identity otherwise
	hits     []enrich.FanOutHit
}

func (f *fakeEnrich) EnrichRecord(ctx context.Context, consumer domain.Source, doc []byte) ([]byte, error) {
	if f.enriched != nil {
		if e, ok := f.enriched[string(doc)]; ok {
			return []byte(e), nil
		}
	}
	return doc, nil
}

func (f *fakeEnrich) UpdateCache(ctx context.Context, taxonSrc domain.Source, doc []byte) error {
	return nil
}

func (f *fakeEnrich) FanOut(ctx context.Context, taxonSrc domain.Source, group string) ([]enrich.FanOutHit, error) {
	return f.hits, nil
}

func testSource() domain.Source {
	return domain.Source{Code: "spec", Table: "specimen", IDField: "unitID", Index: "spec"}
}

func TestHandleNewInsertsAndWritesDelta(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := store.New(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT rec FROM "specimen_import" WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"rec"}).AddRow([]byte(`{"unitID":"A1"}`)))
	mock.ExpectExec(`INSERT INTO "specimen_current" \(rec, hash, inserted_at\) SELECT rec, hash, NOW\(\) FROM "specimen_import" WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	audit := &fakeAudit{}
	m := New(st, &fakeEnrich{}, audit)
	cs := domain.NewChangeSet()
	cs.New["A1"] = domain.NewEntry{ImportID: 1}

	dir := t.TempDir()
	w := delta.New(dir, "job-1")
	defer w.Close()

	res, err := m.HandleNew(context.Background(), "job-1", testSource(), cs, w)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, audit.events, "new:A1")

	data, err := os.ReadFile(filepath.Join(dir, "job-1-spec-new.json"))
	require.NoError(t, err)
	assert.Equal(t, "{\"unitID\":\"A1\"}\n", string(data))
}

func TestHandleUpdatesCopiesRecAndHashFromImport(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := store.New(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT rec FROM "specimen_current" WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"rec"}).AddRow([]byte(`{"unitID":"A1","v":1}`)))
	mock.ExpectQuery(`SELECT rec FROM "specimen_import" WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"rec"}).AddRow([]byte(`{"unitID":"A1","v":2}`)))
	mock.ExpectExec(`UPDATE "specimen_current" AS c SET rec = i.rec, hash = i.hash FROM "specimen_import" AS i WHERE i.id = \$1 AND c.id = \$2`).
		WithArgs(int64(1), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	audit := &fakeAudit{}
	m := New(st, &fakeEnrich{}, audit)
	cs := domain.NewChangeSet()
	cs.Update["A1"] = domain.UpdateEntry{ImportID: 1, CurrentID: 5}

	dir := t.TempDir()
	w := delta.New(dir, "job-4")
	defer w.Close()

	res, err := m.HandleUpdates(context.Background(), "job-4", testSource(), cs, w)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, audit.events, "update:A1")

	data, err := os.ReadFile(filepath.Join(dir, "job-4-spec-update.json"))
	require.NoError(t, err)
	assert.Equal(t, "{\"unitID\":\"A1\",\"v\":2}\n", string(data))
}

func TestHandleDeletesRejectsIncrementalSource(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := store.New(db)

	m := New(st, &fakeEnrich{}, &fakeAudit{})
	src := testSource()
	src.Incremental = true

	_, err = m.HandleDeletes(context.Background(), "job-2", src, domain.NewChangeSet(), delta.New(t.TempDir(), "job-2"))
	assert.ErrorIs(t, err, ErrIncrementalSource)
}

func TestHandleExplicitDeletesWritesKillRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := store.New(db)

	file := filepath.Join(t.TempDir(), "kill.txt")
	require.NoError(t, os.WriteFile(file, []byte("A1\n"), 0o644))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM "specimen_current" WHERE rec->>'unitID' = \$1`).
		WithArgs("A1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectQuery(`SELECT rec FROM "specimen_current" WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"rec"}).AddRow([]byte(`{"unitID":"A1","sourceSystem":{"code":"BRAHMS"}}`)))
	mock.ExpectExec(`INSERT INTO "delete_registry"`).
		WithArgs("A1", "REMOVED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "specimen_current" WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	dir := t.TempDir()
	w := delta.New(dir, "job-3")
	defer w.Close()

	audit := &fakeAudit{}
	m := New(st, &fakeEnrich{}, audit)
	res, err := m.HandleExplicitDeletes(context.Background(), "job-3", testSource(), file, w)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, audit.events, "kill:A1")

	data, err := os.ReadFile(filepath.Join(dir, "job-3-spec-kill.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"unitID":"A1"`)
	assert.Contains(t, string(data), `"status":"REMOVED"`)
}
