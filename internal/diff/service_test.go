package diff

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naturalis/percolator/internal/domain"
	"github.com/naturalis/percolator/internal/store"
)

// fakeStore is an in-memory stand-in keyed the same way the real tables
// are: row id -> JSON doc, plus hand-fed anti-join results.
type fakeStore struct {
	docs        map[int64][]byte
	left, right []int64
	nullHash    int
}

func (f *fakeStore) LeftAntiJoin(ctx context.Context, importTable, currentTable string) ([]int64, error) {
	return f.left, nil
}
func (f *fakeStore) RightAntiJoin(ctx context.Context, importTable, currentTable string) ([]int64, error) {
	return f.right, nil
}
func (f *fakeStore) LookupByLogicalID(ctx context.Context, table, idField, logicalID string) (int64, error) {
	for id, doc := range f.docs {
		lid, ok := domain.LogicalID(doc, idField)
		if ok && lid == logicalID && belongsTo(table, id) {
			return id, nil
		}
	}
	return 0, store.ErrNotFound
}
func (f *fakeStore) FetchJSON(ctx context.Context, table string, id int64) ([]byte, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return doc, nil
}
func (f *fakeStore) CountNullHash(ctx context.Context, importTable string) (int, error) {
	return f.nullHash, nil
}

// row ids below 100 belong to "current", 100+ belong to "import", so
// LookupByLogicalID can restrict its search by table without a real schema.
func belongsTo(table string, id int64) bool {
	if table == "specimen_current" {
		return id < 100
	}
	return id >= 100
}

func TestDiffClassifiesNewRecord(t *testing.T) {
	fs := &fakeStore{
		docs: map[int64][]byte{
			101: []byte(`{"unitID":"A"}`),
		},
		left: []int64{101},
	}
	src := domain.Source{Table: "specimen", IDField: "unitID", Incremental: false}
	d := New(fs)

	result, err := d.Diff(context.Background(), src)
	require.NoError(t, err)
	assert.Contains(t, result.ChangeSet.New, "A")
	assert.Empty(t, result.ChangeSet.Update)
	assert.Empty(t, result.ChangeSet.Delete)
}

func TestDiffClassifiesIncrementalUpdate(t *testing.T) {
	fs := &fakeStore{
		docs: map[int64][]byte{
			1:   []byte(`{"unitID":"A"}`),
			101: []byte(`{"unitID":"A"}`),
		},
		left: []int64{101},
	}
	src := domain.Source{Table: "specimen", IDField: "unitID", Incremental: true}
	d := New(fs)

	result, err := d.Diff(context.Background(), src)
	require.NoError(t, err)
	require.Contains(t, result.ChangeSet.Update, "A")
	assert.Equal(t, int64(101), result.ChangeSet.Update["A"].ImportID)
	assert.Equal(t, int64(1), result.ChangeSet.Update["A"].CurrentID)
	assert.Empty(t, result.ChangeSet.New)

	// incremental sources never run the right anti-join
	assert.Empty(t, result.ChangeSet.Delete)
}

func TestDiffPromotesNewToUpdateViaRightAntiJoin(t *testing.T) {
	fs := &fakeStore{
		docs: map[int64][]byte{
			1:   []byte(`{"unitID":"A"}`),
			101: []byte(`{"unitID":"A"}`),
		},
		left:  []int64{101},
		right: []int64{1},
	}
	src := domain.Source{Table: "specimen", IDField: "unitID", Incremental: false}
	d := New(fs)

	result, err := d.Diff(context.Background(), src)
	require.NoError(t, err)
	require.Contains(t, result.ChangeSet.Update, "A")
	assert.Equal(t, int64(101), result.ChangeSet.Update["A"].ImportID)
	assert.Equal(t, int64(1), result.ChangeSet.Update["A"].CurrentID)
	assert.Empty(t, result.ChangeSet.New)
	assert.Empty(t, result.ChangeSet.Delete)
}

func TestDiffClassifiesDelete(t *testing.T) {
	fs := &fakeStore{
		docs: map[int64][]byte{
			2: []byte(`{"unitID":"B"}`),
		},
		right: []int64{2},
	}
	src := domain.Source{Table: "specimen", IDField: "unitID", Incremental: false}
	d := New(fs)

	result, err := d.Diff(context.Background(), src)
	require.NoError(t, err)
	assert.Contains(t, result.ChangeSet.Delete, "B")
	assert.True(t, result.ChangeSet.Disjoint())
}

func TestDiffSkipsRightAntiJoinForIncrementalSources(t *testing.T) {
	fs := &fakeStore{right: []int64{2}}
	src := domain.Source{Table: "specimen", IDField: "unitID", Incremental: true}
	d := New(fs)

	result, err := d.Diff(context.Background(), src)
	require.NoError(t, err)
	assert.Empty(t, result.ChangeSet.Delete)
}

func TestDiffReportsNullHashCount(t *testing.T) {
	fs := &fakeStore{nullHash: 4}
	src := domain.Source{Table: "specimen", IDField: "unitID"}
	d := New(fs)

	result, err := d.Diff(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 4, result.NullHashCount)
	assert.True(t, result.ChangeSet.Empty())
}
