package stage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naturalis/percolator/internal/domain"
)

type fakeStore struct {
	truncated   []string
	copied      int64
	rebuiltArgs []string
}

func (f *fakeStore) Truncate(ctx context.Context, table string) error {
	f.truncated = append(f.truncated, table)
	return nil
}
func (f *fakeStore) DropIndexes(ctx context.Context, table string) error { return nil }
func (f *fakeStore) CopyLines(table string, r io.Reader) (int64, error) {
	data, _ := io.ReadAll(r)
	f.copied = int64(len(data))
	return 3, nil
}
func (f *fakeStore) UpdateHashes(ctx context.Context, table string) (int64, error) { return 3, nil }
func (f *fakeStore) RebuildIndexes(ctx context.Context, table, idField string, consumes, produces bool) error {
	f.rebuiltArgs = append(f.rebuiltArgs, table)
	return nil
}

func TestStage(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "in.json")
	require.NoError(t, os.WriteFile(file, []byte("{}\n{}\n{}\n"), 0o644))

	fs := &fakeStore{}
	s := New(fs)
	src := domain.Source{Table: "specimen", IDField: "unitID"}

	n, err := s.Stage(context.Background(), src, src.ImportTable(), file)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, []string{"specimen_import"}, fs.truncated)
	assert.Equal(t, []string{"specimen_import"}, fs.rebuiltArgs)
}

func TestStageMissingFile(t *testing.T) {
	s := New(&fakeStore{})
	src := domain.Source{Table: "specimen", IDField: "unitID"}

	_, err := s.Stage(context.Background(), src, src.ImportTable(), "/nonexistent/file.json")
	assert.ErrorIs(t, err, ErrFileUnreadable)
}
