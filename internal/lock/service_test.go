package lock

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	require.NoError(t, l.Acquire("job-1"))

	state, err := l.Read()
	require.NoError(t, err)
	assert.Equal(t, "job-1", state.Job)
	assert.Equal(t, os.Getpid(), state.PID)

	require.NoError(t, l.Release())
	_, err = os.Stat(filepath.Join(dir, fileName))
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireHeldByLiveProcess(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	require.NoError(t, l.Acquire("job-1"))

	l2 := New(dir)
	err := l2.Acquire("job-2")
	assert.ErrorIs(t, err, ErrHeld)
}

func TestAcquireDetectsStaleLock(t *testing.T) {
	dir := t.TempDir()

	// A process that has already exited is guaranteed to have a dead pid.
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	deadPID := cmd.Process.Pid

	lockPath := filepath.Join(dir, fileName)
	require.NoError(t, os.WriteFile(lockPath, []byte(`{"job":"job-0","pid":`+strconv.Itoa(deadPID)+`}`), 0o644))

	l := New(dir)
	err := l.Acquire("job-1")
	var stale *StaleLockError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "job-0", stale.Prior.Job)

	require.NoError(t, l.Clear())
	require.NoError(t, l.Acquire("job-1"))
}
