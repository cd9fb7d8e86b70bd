package delta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesOneLinePerRecord(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "job-1")

	require.NoError(t, w.Append("coltaxa", ActionNew, []byte(`{"a":1}`)))
	require.NoError(t, w.Append("coltaxa", ActionNew, []byte(`{"a":2}`)))
	require.NoError(t, w.Close())

	path := filepath.Join(dir, "job-1-coltaxa-new.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"a\":2}\n", string(data))
}

func TestFileNameFallsBackToNoindex(t *testing.T) {
	w := New(t.TempDir(), "job-2")
	assert.Equal(t, "job-2-noindex-kill.json", w.FileName("", ActionKill))
}

func TestCountsAndPaths(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "job-3")
	require.NoError(t, w.AppendValue("spec", ActionUpdate, map[string]string{"unitID": "x"}))
	require.NoError(t, w.AppendValue("spec", ActionUpdate, map[string]string{"unitID": "y"}))
	require.NoError(t, w.Close())

	counts := w.Counts()
	assert.Equal(t, 2, counts["job-3-spec-update.json"])
	assert.Len(t, w.Paths(), 1)
}

func TestAppendAfterCloseFails(t *testing.T) {
	w := New(t.TempDir(), "job-4")
	require.NoError(t, w.Close())
	err := w.Append("spec", ActionNew, []byte(`{}`))
	assert.ErrorIs(t, err, ErrClosed)
}
