package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naturalis/percolator/internal/auditlog"
	"github.com/naturalis/percolator/internal/dedupe"
	"github.com/naturalis/percolator/internal/delta"
	"github.com/naturalis/percolator/internal/diff"
	"github.com/naturalis/percolator/internal/domain"
	"github.com/naturalis/percolator/internal/lock"
	"github.com/naturalis/percolator/internal/mutate"
)

type fakeStager struct{ staged int }

func (f *fakeStager) Stage(ctx context.Context, src domain.Source, table, file string) (int64, error) {
	f.staged++
	return 1, nil
}

type fakeDedupe struct{}

func (fakeDedupe) Dedupe(ctx context.Context, table, idField string) (dedupe.Result, error) {
	return dedupe.Result{}, nil
}

type fakeDiffer struct{ cs *domain.ChangeSet }

func (f fakeDiffer) Diff(ctx context.Context, src domain.Source) (diff.Result, error) {
	return diff.Result{ChangeSet: f.cs}, nil
}

type fakeMutator struct {
	newCalls, updateCalls, deleteCalls, explicitCalls, tabulaRasaCalls int
}

func (f *fakeMutator) HandleNew(ctx context.Context, jobID string, src domain.Source, cs *domain.ChangeSet, w *delta.Writer) (mutate.Result, error) {
	f.newCalls++
	return mutate.Result{Count: len(cs.New)}, nil
}

func (f *fakeMutator) HandleUpdates(ctx context.Context, jobID string, src domain.Source, cs *domain.ChangeSet, w *delta.Writer) (mutate.Result, error) {
	f.updateCalls++
	return mutate.Result{Count: len(cs.Update)}, nil
}

func (f *fakeMutator) HandleDeletes(ctx context.Context, jobID string, src domain.Source, cs *domain.ChangeSet, w *delta.Writer) (mutate.Result, error) {
	f.deleteCalls++
	return mutate.Result{Count: len(cs.Delete)}, nil
}

func (f *fakeMutator) HandleExplicitDeletes(ctx context.Context, jobID string, src domain.Source, file string, w *delta.Writer) (mutate.Result, error) {
	f.explicitCalls++
	return mutate.Result{Count: 1}, nil
}

func (f *fakeMutator) HandleTabulaRasa(ctx context.Context, jobID string, src domain.Source, w *delta.Writer) (mutate.Result, error) {
	f.tabulaRasaCalls++
	return mutate.Result{Count: 1}, nil
}

type fakeLock struct {
	acquireErr error
	acquired   []string
	released   bool
}

func (f *fakeLock) Acquire(job string) error {
	f.acquired = append(f.acquired, job)
	return f.acquireErr
}
func (f *fakeLock) Read() (lock.State, error) { return lock.State{}, nil }
func (f *fakeLock) Clear() error              { return nil }
func (f *fakeLock) Release() error            { f.released = true; return nil }

type fakeAudit struct{ events []string }

func (f *fakeAudit) EmitStart(ctx context.Context, jobID, source string) {
	f.events = append(f.events, "start:"+jobID)
}
func (f *fakeAudit) EmitFinish(ctx context.Context, jobID, source, comment string) {
	f.events = append(f.events, "finish:"+jobID)
}
func (f *fakeAudit) EmitFail(ctx context.Context, jobID, source, comment string) {
	f.events = append(f.events, "fail:"+jobID)
}
func (f *fakeAudit) EmitRecord(ctx context.Context, jobID string, state auditlog.State, typ, source, recid string) {
	f.events = append(f.events, string(state)+":"+jobID)
}

type fakeNotify struct{ started, finished bool }

func (f *fakeNotify) JobStarted(ctx context.Context, jobID string)           { f.started = true }
func (f *fakeNotify) JobFinished(ctx context.Context, jobID string)          { f.finished = true }
func (f *fakeNotify) JobFailed(ctx context.Context, jobID string, err error) {}

type fakeRegistry struct{ sources map[string]domain.Source }

func (f fakeRegistry) Lookup(code string) (domain.Source, bool) {
	s, ok := f.sources[code]
	return s, ok
}

func writeManifestJSON(t *testing.T, dir, id, raw string) string {
	t.Helper()
	path := filepath.Join(dir, id+".json")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	return path
}

func TestRunManifestDispatchesNewAndFinalizes(t *testing.T) {
	jobsDir := t.TempDir()
	doneDir := t.TempDir()
	deltaDir := t.TempDir()

	infile := filepath.Join(jobsDir, "specimens.json")
	require.NoError(t, os.WriteFile(infile, []byte(`{"unitID":"A1"}`+"\n"), 0o644))

	raw := fmt.Sprintf(`{"id":"job-1","data_supplier":"brahms","validator":{"specimen":{"results":{"outfiles":{"valid":[%q]}}}}}`, infile)
	path := writeManifestJSON(t, jobsDir, "job-1", raw)

	cs := domain.NewChangeSet()
	cs.New["A1"] = domain.NewEntry{ImportID: 1}

	mut := &fakeMutator{}
	l := &fakeLock{}
	audit := &fakeAudit{}
	notify := &fakeNotify{}
	reg := fakeRegistry{sources: map[string]domain.Source{
		"brahms-specimen": {Code: "spec", Table: "specimen", IDField: "unitID", Index: "spec"},
	}}

	r := New(&fakeStager{}, fakeDedupe{}, fakeDiffer{cs: cs}, mut, l, audit, notify, reg,
		Dirs{Jobs: jobsDir, Done: doneDir, Delta: deltaDir, Failed: t.TempDir()})

	err := r.RunManifest(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 1, mut.newCalls)
	assert.True(t, l.released)
	assert.True(t, notify.started)
	assert.True(t, notify.finished)
	assert.Contains(t, audit.events, "start:job-1")
	assert.Contains(t, audit.events, "finish:job-1")

	_, err = os.Stat(filepath.Join(doneDir, "job-1.json"))
	require.NoError(t, err)
}

func TestRunManifestSkipsUnresolvedSource(t *testing.T) {
	jobsDir := t.TempDir()
	doneDir := t.TempDir()

	raw := `{"id":"job-2","data_supplier":"brahms","validator":{"unknown":{}}}`
	path := writeManifestJSON(t, jobsDir, "job-2", raw)

	mut := &fakeMutator{}
	audit := &fakeAudit{}
	r := New(&fakeStager{}, fakeDedupe{}, fakeDiffer{cs: domain.NewChangeSet()}, mut,
		&fakeLock{}, audit, &fakeNotify{}, fakeRegistry{sources: map[string]domain.Source{}},
		Dirs{Jobs: jobsDir, Done: doneDir, Delta: t.TempDir(), Failed: t.TempDir()})

	err := r.RunManifest(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, audit.events, "fail:job-2")
	assert.Equal(t, 0, mut.newCalls)
}

func TestRunManifestQuarantinesStaleLock(t *testing.T) {
	jobsDir := t.TempDir()
	failedDir := t.TempDir()
	doneDir := t.TempDir()

	crashed := filepath.Join(jobsDir, "crashed-job.json")
	require.NoError(t, os.WriteFile(crashed, []byte(`{}`), 0o644))

	raw := `{"id":"job-3","data_supplier":"brahms"}`
	path := writeManifestJSON(t, jobsDir, "job-3", raw)

	staleErr := &lock.StaleLockError{Prior: lock.State{Job: "crashed-job", PID: 99999}}

	r := New(&fakeStager{}, fakeDedupe{}, fakeDiffer{cs: domain.NewChangeSet()}, &fakeMutator{},
		&stubLock{first: staleErr}, &fakeAudit{}, &fakeNotify{}, fakeRegistry{sources: map[string]domain.Source{}},
		Dirs{Jobs: jobsDir, Done: doneDir, Delta: t.TempDir(), Failed: failedDir})

	err := r.RunManifest(context.Background(), path)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(failedDir, "crashed-job.json"))
	require.NoError(t, err)
}

// stubLock returns a stale-lock error on the first Acquire call and
// succeeds thereafter, modelling the crash-recovery retry of §7(e).
type stubLock struct {
	first error
	calls int
}

func (s *stubLock) Acquire(job string) error {
	s.calls++
	if s.calls == 1 {
		return s.first
	}
	return nil
}
func (s *stubLock) Read() (lock.State, error) { return lock.State{}, nil }
func (s *stubLock) Clear() error              { return nil }
func (s *stubLock) Release() error            { return nil }
