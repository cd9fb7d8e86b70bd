package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/naturalis/percolator/internal/auditlog"
	"github.com/naturalis/percolator/internal/dedupe"
	"github.com/naturalis/percolator/internal/delta"
	"github.com/naturalis/percolator/internal/diff"
	"github.com/naturalis/percolator/internal/domain"
	"github.com/naturalis/percolator/internal/lock"
	"github.com/naturalis/percolator/internal/mutate"
	"github.com/naturalis/percolator/internal/pkg/logger"
)

// Stager is the subset of the Stager the Runner needs.
type Stager interface {
	Stage(ctx context.Context, src domain.Source, table, file string) (int64, error)
}

// Deduplicator is the subset of the Deduplicator the Runner needs.
type Deduplicator interface {
	Dedupe(ctx context.Context, table, idField string) (dedupe.Result, error)
}

// Differ is the subset of the Differ the Runner needs.
type Differ interface {
	Diff(ctx context.Context, src domain.Source) (diff.Result, error)
}

// Mutator is the subset of the Mutator the Runner needs.
type Mutator interface {
	HandleNew(ctx context.Context, jobID string, src domain.Source, cs *domain.ChangeSet, w *delta.Writer) (mutate.Result, error)
	HandleUpdates(ctx context.Context, jobID string, src domain.Source, cs *domain.ChangeSet, w *delta.Writer) (mutate.Result, error)
	HandleDeletes(ctx context.Context, jobID string, src domain.Source, cs *domain.ChangeSet, w *delta.Writer) (mutate.Result, error)
	HandleExplicitDeletes(ctx context.Context, jobID string, src domain.Source, file string, w *delta.Writer) (mutate.Result, error)
	HandleTabulaRasa(ctx context.Context, jobID string, src domain.Source, w *delta.Writer) (mutate.Result, error)
}

// Lock is the subset of the FileLock the Runner needs.
type Lock interface {
	Acquire(job string) error
	Read() (lock.State, error)
	Clear() error
	Release() error
}

// AuditLogger is the subset of the Audit Logger the Runner needs.
type AuditLogger interface {
	EmitStart(ctx context.Context, jobID, source string)
	EmitFinish(ctx context.Context, jobID, source, comment string)
	EmitFail(ctx context.Context, jobID, source, comment string)
	EmitRecord(ctx context.Context, jobID string, state auditlog.State, typ, source, recid string)
}

// Notifier is the subset of the Notifier the Runner needs.
type Notifier interface {
	JobStarted(ctx context.Context, jobID string)
	JobFinished(ctx context.Context, jobID string)
	JobFailed(ctx context.Context, jobID string, err error)
}

// Registry resolves a manifest's data-supplier/kind pairs to Sources.
type Registry interface {
	Lookup(code string) (domain.Source, bool)
}

// Metrics receives the operational counters and histograms of §6's
// operational surface. A Runner with no metrics set records nothing.
type Metrics interface {
	RecordJob(success bool)
	RecordAction(action string, n int)
	RecordDeltaBytes(n int64)
	ObserveStage(stage string, seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) RecordJob(success bool)                     {}
func (noopMetrics) RecordAction(action string, n int)          {}
func (noopMetrics) RecordDeltaBytes(n int64)                   {}
func (noopMetrics) ObserveStage(stage string, seconds float64) {}

// Dirs is the subset of the directory layout (§6) the Runner touches.
type Dirs struct {
	Jobs   string
	Failed string
	Done   string
	Delta  string
}

// Runner implements the Job Runner of §4.1.
type Runner struct {
	stager   Stager
	dedupe   Deduplicator
	differ   Differ
	mutator  Mutator
	lock     Lock
	audit    AuditLogger
	notify   Notifier
	registry Registry
	dirs     Dirs
	metrics  Metrics
}

// New returns a Runner wired to the given collaborators.
func New(stager Stager, dedup Deduplicator, differ Differ, mutator Mutator, l Lock, audit AuditLogger, notify Notifier, registry Registry, dirs Dirs) *Runner {
	return &Runner{
		stager:   stager,
		dedupe:   dedup,
		differ:   differ,
		mutator:  mutator,
		lock:     l,
		audit:    audit,
		notify:   notify,
		registry: registry,
		dirs:     dirs,
		metrics:  noopMetrics{},
	}
}

// SetMetrics wires an operational-surface Metrics recorder (§6) into the
// Runner. Safe to call once before the Runner is used; a Runner with no
// metrics set is a no-op recorder.
func (r *Runner) SetMetrics(m Metrics) {
	if m != nil {
		r.metrics = m
	}
}

// RunManifest processes one job manifest end to end: lock acquisition
// with crash recovery, per-file dispatch across every validated kind and
// every explicit-delete file, and finalization into the done directory
// (§4.1).
func (r *Runner) RunManifest(ctx context.Context, manifestPath string) error {
	manifest, err := readManifest(manifestPath)
	if err != nil {
		return fmt.Errorf("runner: %w", err)
	}

	if err := r.acquireLock(manifest.ID); err != nil {
		return err
	}
	defer func() {
		if err := r.lock.Release(); err != nil {
			logger.Error("runner: release lock", "job", manifest.ID, "error", err.Error())
		}
	}()

	r.audit.EmitStart(ctx, manifest.ID, manifest.DataSupplier)
	r.notify.JobStarted(ctx, manifest.ID)

	w := delta.New(r.dirs.Delta, manifest.ID)
	defer w.Close()

	percolator := make(map[string]domain.SourceMeta)

	for kind, entry := range manifest.Validator {
		source := strings.ToLower(manifest.DataSupplier + "-" + kind)
		src, ok := r.registry.Lookup(source)
		if !ok {
			logger.Error("runner: unresolved source", "job", manifest.ID, "source", source)
			r.audit.EmitFail(ctx, manifest.ID, source, ErrNoSuchKind.Error())
			continue
		}

		for _, file := range entry.Results.Outfiles.Valid {
			meta := r.processFile(ctx, manifest.ID, src, file, manifest.TabulaRasa, w)
			percolator[source] = meta
		}
	}

	for kind, files := range manifest.Delete {
		source := strings.ToLower(manifest.DataSupplier + "-" + kind)
		src, ok := r.registry.Lookup(source)
		if !ok {
			logger.Error("runner: unresolved delete source", "job", manifest.ID, "source", source)
			r.audit.EmitFail(ctx, manifest.ID, source, ErrNoSuchKind.Error())
			continue
		}
		for _, file := range files {
			meta := r.processExplicitDelete(ctx, manifest.ID, src, file, w)
			existing := percolator[source]
			existing = mergeMeta(existing, meta)
			percolator[source] = existing
		}
	}

	manifest.Percolator = percolator
	if err := r.finalize(manifest, manifestPath); err != nil {
		r.audit.EmitFail(ctx, manifest.ID, manifest.DataSupplier, err.Error())
		r.notify.JobFailed(ctx, manifest.ID, err)
		r.metrics.RecordJob(false)
		return fmt.Errorf("runner: %w", err)
	}

	r.metrics.RecordDeltaBytes(deltaBytesWritten(w.Paths()))
	r.metrics.RecordJob(true)
	r.audit.EmitFinish(ctx, manifest.ID, manifest.DataSupplier, "")
	r.notify.JobFinished(ctx, manifest.ID)
	return nil
}

// deltaBytesWritten sums the size of every delta file touched by the job,
// for the "delta file bytes written" counter of §6's operational surface.
func deltaBytesWritten(paths []string) int64 {
	var total int64
	for _, p := range paths {
		if fi, err := os.Stat(p); err == nil {
			total += fi.Size()
		}
	}
	return total
}

// acquireLock implements §4.1 step 2 and the crash-recovery path of §7(e):
// a stale lock (dead pid) quarantines whatever manifest it names and is
// cleared before retrying; a live lock aborts this run without side
// effects.
func (r *Runner) acquireLock(job string) error {
	err := r.lock.Acquire(job)
	if err == nil {
		return nil
	}

	var stale *lock.StaleLockError
	if !asStaleLockError(err, &stale) {
		return fmt.Errorf("runner: %w", err)
	}

	if err := r.quarantine(stale.Prior.Job); err != nil {
		logger.Error("runner: quarantine crashed job", "job", stale.Prior.Job, "error", err.Error())
	}
	if err := r.lock.Clear(); err != nil {
		return fmt.Errorf("runner: clear stale lock: %w", err)
	}
	if err := r.lock.Acquire(job); err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	return nil
}

func asStaleLockError(err error, target **lock.StaleLockError) bool {
	if e, ok := err.(*lock.StaleLockError); ok {
		*target = e
		return true
	}
	return false
}

// quarantine moves a crashed job's manifest file, if it still exists in
// jobs/, into the failed directory (§4.1, §7(e)).
func (r *Runner) quarantine(jobID string) error {
	if jobID == "" {
		return nil
	}
	src := filepath.Join(r.dirs.Jobs, jobID+".json")
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	if err := os.MkdirAll(r.dirs.Failed, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(r.dirs.Failed, jobID+".json")
	return os.Rename(src, dst)
}

// processFile runs the normal or tabula-rasa import path for one input
// file, never returning an error: a file-level failure is logged and
// recorded in the returned SourceMeta per §7(c), so the job continues
// with the next file.
func (r *Runner) processFile(ctx context.Context, jobID string, src domain.Source, file string, tabulaRasa bool, w *delta.Writer) domain.SourceMeta {
	meta := domain.SourceMeta{
		InputPath:   file,
		Counts:      make(map[string]int),
		ElapsedSecs: make(map[string]float64),
	}

	table := src.ImportTable()
	if tabulaRasa {
		table = src.CurrentTable()
	}

	if _, err := r.stager.Stage(ctx, src, table, file); err != nil {
		return r.fail(ctx, jobID, src.Code, meta, fmt.Errorf("stage %s: %w", file, err))
	}
	r.audit.EmitRecord(ctx, jobID, auditlog.StateImport, src.Code, src.Code, "")

	if _, err := r.dedupe.Dedupe(ctx, table, src.IDField); err != nil {
		return r.fail(ctx, jobID, src.Code, meta, fmt.Errorf("dedupe %s: %w", table, err))
	}

	if tabulaRasa {
		start := time.Now()
		res, err := r.mutator.HandleTabulaRasa(ctx, jobID, src, w)
		if err != nil {
			return r.fail(ctx, jobID, src.Code, meta, err)
		}
		meta.Counts["new"] = res.Count
		meta.ElapsedSecs["new"] = time.Since(start).Seconds()
		for k, v := range res.EnrichCounts {
			meta.Counts[k] += v
		}
	} else if err := r.runChangeSet(ctx, jobID, src, w, &meta); err != nil {
		return r.fail(ctx, jobID, src.Code, meta, err)
	}

	meta.DeltaFiles = w.Paths()
	r.recordActionMetrics(meta)
	return meta
}

// recordActionMetrics feeds a file's per-action counts and elapsed time
// into the Metrics recorder (§6's "records by action" counter and
// "per-file stage duration" histogram).
func (r *Runner) recordActionMetrics(meta domain.SourceMeta) {
	for action, n := range meta.Counts {
		r.metrics.RecordAction(action, n)
	}
	for stage, secs := range meta.ElapsedSecs {
		r.metrics.ObserveStage(stage, secs)
	}
}

// runChangeSet implements the "normal path" of §4.1: diff the import and
// current tables, then dispatch new/update/delete to the Mutator,
// recording each action's count and elapsed time under its own meta key
// rather than collapsing them into one combined total (§6).
func (r *Runner) runChangeSet(ctx context.Context, jobID string, src domain.Source, w *delta.Writer, meta *domain.SourceMeta) error {
	diffResult, err := r.differ.Diff(ctx, src)
	if err != nil {
		return fmt.Errorf("diff %s: %w", src.Code, err)
	}
	cs := diffResult.ChangeSet
	if diffResult.NullHashCount > 0 {
		r.audit.EmitFail(ctx, jobID, src.Code,
			fmt.Sprintf("%d import rows without hash skipped", diffResult.NullHashCount))
	}

	mergeEnrich := func(res mutate.Result) {
		for k, v := range res.EnrichCounts {
			meta.Counts[k] += v
		}
	}

	if len(cs.New) > 0 {
		start := time.Now()
		res, err := r.mutator.HandleNew(ctx, jobID, src, cs, w)
		if err != nil {
			return fmt.Errorf("handleNew %s: %w", src.Code, err)
		}
		meta.Counts["new"] = res.Count
		meta.ElapsedSecs["new"] = time.Since(start).Seconds()
		mergeEnrich(res)
	}
	if len(cs.Update) > 0 {
		start := time.Now()
		res, err := r.mutator.HandleUpdates(ctx, jobID, src, cs, w)
		if err != nil {
			return fmt.Errorf("handleUpdates %s: %w", src.Code, err)
		}
		meta.Counts["update"] = res.Count
		meta.ElapsedSecs["update"] = time.Since(start).Seconds()
		mergeEnrich(res)
	}
	if len(cs.Delete) > 0 && !src.Incremental {
		start := time.Now()
		res, err := r.mutator.HandleDeletes(ctx, jobID, src, cs, w)
		if err != nil {
			return fmt.Errorf("handleDeletes %s: %w", src.Code, err)
		}
		meta.Counts["delete"] = res.Count
		meta.ElapsedSecs["delete"] = time.Since(start).Seconds()
		mergeEnrich(res)
	}

	return nil
}

// processExplicitDelete runs the manifest's delete-list path for one
// incremental Source's kill file (§4.1 step 4, §4.5).
func (r *Runner) processExplicitDelete(ctx context.Context, jobID string, src domain.Source, file string, w *delta.Writer) domain.SourceMeta {
	meta := domain.SourceMeta{
		InputPath:   file,
		Counts:      make(map[string]int),
		ElapsedSecs: make(map[string]float64),
	}
	start := time.Now()

	res, err := r.mutator.HandleExplicitDeletes(ctx, jobID, src, file, w)
	if err != nil {
		return r.fail(ctx, jobID, src.Code, meta, fmt.Errorf("handleExplicitDeletes %s: %w", file, err))
	}

	meta.Counts["kill"] = res.Count
	meta.ElapsedSecs["kill"] = time.Since(start).Seconds()
	for k, v := range res.EnrichCounts {
		meta.Counts[k] += v
	}
	meta.DeltaFiles = w.Paths()
	r.recordActionMetrics(meta)
	return meta
}

// fail logs a file-level failure, emits the corresponding audit event
// (§7(c)), and records the failure in meta rather than aborting the job.
func (r *Runner) fail(ctx context.Context, jobID, source string, meta domain.SourceMeta, err error) domain.SourceMeta {
	logger.Error("runner: file failed", "job", jobID, "input", meta.InputPath, "error", err.Error())
	r.audit.EmitFail(ctx, jobID, source, err.Error())
	meta.Failed = true
	meta.Error = err.Error()
	return meta
}

func mergeMeta(a, b domain.SourceMeta) domain.SourceMeta {
	if a.Counts == nil {
		return b
	}
	for k, v := range b.Counts {
		a.Counts[k] += v
	}
	for k, v := range b.ElapsedSecs {
		a.ElapsedSecs[k] += v
	}
	a.DeltaFiles = b.DeltaFiles
	if b.Failed {
		a.Failed = true
		a.Error = b.Error
	}
	return a
}

// finalize writes the augmented manifest into the done directory (§4.1
// step 5, §6).
func (r *Runner) finalize(manifest *domain.Manifest, originalPath string) error {
	if err := os.MkdirAll(r.dirs.Done, 0o755); err != nil {
		return fmt.Errorf("create done dir: %w", err)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode finalized manifest: %w", err)
	}

	dst := filepath.Join(r.dirs.Done, filepath.Base(originalPath))
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write finalized manifest: %w", err)
	}
	return nil
}

func readManifest(path string) (*domain.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m domain.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}
