package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const fileName = ".lock"

// State is the JSON contents of the lock file: which job holds it and
// under which pid.
type State struct {
	Job string `json:"job"`
	PID int    `json:"pid"`
}

// FileLock is the single-writer lock of §5: a file in the jobs directory
// serialising job runners, with PID-based liveness recovery from a crash.
type FileLock struct {
	path string
}

// New returns a FileLock bound to the ".lock" file inside jobsDir.
func New(jobsDir string) *FileLock {
	return &FileLock{path: filepath.Join(jobsDir, fileName)}
}

// StaleLockError is returned by Acquire when an existing lock file refers
// to a pid that is no longer running. The caller (Job Runner) is
// responsible for quarantining the in-flight manifest before calling
// Clear and retrying Acquire, per §4.1/§7(e).
type StaleLockError struct {
	Prior State
}

func (e *StaleLockError) Error() string {
	return fmt.Sprintf("lock: stale lock left by pid %d for job %q", e.Prior.PID, e.Prior.Job)
}

// Acquire attempts to create the lock file for the given job id. It
// returns ErrHeld if a live process already holds it, or a *StaleLockError
// if the recorded pid is dead — in which case the lock file has NOT been
// removed yet; call Clear before retrying.
func (l *FileLock) Acquire(job string) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if !os.IsExist(err) {
			return fmt.Errorf("lock: create %s: %w", l.path, err)
		}
		return l.handleExisting()
	}
	defer f.Close()

	state := State{Job: job, PID: os.Getpid()}
	enc := json.NewEncoder(f)
	if err := enc.Encode(state); err != nil {
		return fmt.Errorf("lock: write %s: %w", l.path, err)
	}
	return nil
}

func (l *FileLock) handleExisting() error {
	prior, err := l.Read()
	if err != nil {
		return fmt.Errorf("lock: read existing %s: %w", l.path, err)
	}
	if processAlive(prior.PID) {
		return ErrHeld
	}
	return &StaleLockError{Prior: prior}
}

// Read returns the current lock file's contents without modifying it.
func (l *FileLock) Read() (State, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return State{}, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("lock: malformed lock file: %w", err)
	}
	return s, nil
}

// Clear removes a stale lock file. Callers must only do this after
// confirming the recorded pid is dead and quarantining the in-flight
// manifest (§7(e)).
func (l *FileLock) Clear() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock: clear %s: %w", l.path, err)
	}
	return nil
}

// Release removes the lock file held by this process, at the end of a
// successful job run (§4.1 step 5).
func (l *FileLock) Release() error {
	return l.Clear()
}

// processAlive reports whether pid refers to a still-running process,
// using the kill(pid, 0) idiom: no signal is actually delivered, but the
// kernel still validates that the pid exists and is reachable.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
