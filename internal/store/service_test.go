package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestTruncate(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec(`TRUNCATE TABLE "specimen_import"`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Truncate(context.Background(), "specimen_import")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupByLogicalIDNotFound(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`SELECT id FROM "specimen_current" WHERE rec->>'unitID' = \$1`).
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.LookupByLogicalID(context.Background(), "specimen_current", "unitID", "abc")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeftAntiJoin(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`LEFT JOIN "specimen_current"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))

	ids, err := s.LeftAntiJoin(context.Background(), "specimen_import", "specimen_current")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceJSONNotFound(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec(`UPDATE "specimen_current" SET rec = \$1, hash = \$2 WHERE id = \$3`).
		WithArgs([]byte(`{}`), "h", int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.ReplaceJSON(context.Background(), "specimen_current", 9, []byte(`{}`), "h")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindDuplicates(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`GROUP BY rec->>'unitID'`).
		WillReturnRows(sqlmock.NewRows([]string{"logical_id", "array_agg"}).
			AddRow("X1", "{1,2,3}"))

	groups, err := s.FindDuplicates(context.Background(), "specimen_import", "unitID")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "X1", groups[0].LogicalID)
	assert.Equal(t, []int64{1, 2, 3}, groups[0].RowIDs)
}
