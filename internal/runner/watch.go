package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/naturalis/percolator/internal/pkg/logger"
)

// Watch runs the long-lived dispatch loop of §4.1: it watches jobsDir for
// newly-written manifest files and processes each through the identical
// per-manifest code path used by one-shot invocation, serialized through
// the same single-writer lock. It blocks until ctx is cancelled.
func (r *Runner) Watch(ctx context.Context, jobsDir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("runner: watch: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(jobsDir); err != nil {
		return fmt.Errorf("runner: watch %s: %w", jobsDir, err)
	}

	logger.Info("runner: watching for manifests", "dir", jobsDir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if err := r.RunManifest(ctx, event.Name); err != nil {
				logger.Error("runner: manifest failed", "path", event.Name, "error", err.Error())
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("runner: watch error", "error", err.Error())
		}
	}
}
