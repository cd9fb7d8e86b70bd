package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/naturalis/percolator/internal/auditlog"
	"github.com/naturalis/percolator/internal/config"
	"github.com/naturalis/percolator/internal/dedupe"
	"github.com/naturalis/percolator/internal/deleteregistry"
	"github.com/naturalis/percolator/internal/diff"
	"github.com/naturalis/percolator/internal/domain"
	"github.com/naturalis/percolator/internal/enrich"
	"github.com/naturalis/percolator/internal/lock"
	"github.com/naturalis/percolator/internal/mutate"
	"github.com/naturalis/percolator/internal/notify"
	"github.com/naturalis/percolator/internal/stage"
	"github.com/naturalis/percolator/internal/store"
)

// Pipeline bundles every component the Job Runner drives for one process
// lifetime: the database pool, the enrichment cache, the Source registry,
// and every service built on top of them.
type Pipeline struct {
	Config *config.Config

	DB       *sql.DB
	Store    *store.Store
	Cache    *enrich.Cache
	Registry *domain.Registry

	Stager         *stage.Stager
	Dedupe         *dedupe.Deduplicator
	Differ         *diff.Differ
	Enrich         *enrich.Engine
	Mutator        *mutate.Mutator
	DeleteRegistry *deleteregistry.Registry
	Lock           *lock.FileLock

	Audit  *auditlog.Logger
	Notify *notify.Notifier
}

// Open builds a Pipeline from cfg: connects to the database, recreates
// the enrichment cache file fresh (§5's "cleared on startup"), validates
// the Source registry, and runs the startup dependency checks of §5
// concurrently — database reachability, cache file, and the delta
// directory's writability probe of §4.1 — failing fast on the first
// error.
func Open(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	registry, err := domain.NewRegistry(cfg.Sources)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())
	db.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime())

	if err := os.MkdirAll(cfg.Cache.Dir, 0o755); err != nil {
		db.Close()
		return nil, fmt.Errorf("pipeline: create cache dir: %w", err)
	}
	cache, err := enrich.OpenCache(cfg.Cache.Path())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	st := store.New(db)
	engine := enrich.New(st, cache, registry)

	audit, err := auditlog.New(cfg.Audit.URL, cfg.Audit.Timeout(), cfg.Audit.MaxRetries)
	if err != nil {
		db.Close()
		cache.Close()
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		Config:         cfg,
		DB:             db,
		Store:          st,
		Cache:          cache,
		Registry:       registry,
		Stager:         stage.New(st),
		Dedupe:         dedupe.New(st),
		Differ:         diff.New(st),
		Enrich:         engine,
		Mutator:        mutate.New(st, engine, audit),
		DeleteRegistry: deleteregistry.New(st),
		Lock:           lock.New(cfg.Dirs.Jobs),
		Audit:          audit,
		Notify:         notify.New(cfg.Notify.WebhookURL, cfg.Notify.Timeout(), cfg.Notify.MaxRetries),
	}

	if err := p.checkStartupDependencies(ctx); err != nil {
		p.Close()
		return nil, err
	}

	return p, nil
}

// checkStartupDependencies runs the database ping, cache roundtrip, and
// delta-directory writability probe concurrently with a shared
// cancellation (§5, §11's errgroup wiring), reporting the first failure.
func (p *Pipeline) checkStartupDependencies(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := p.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("pipeline: database unreachable: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		const probeKey = "__pipeline_startup_probe__"
		if err := p.Cache.Put(probeKey, nil); err != nil {
			return fmt.Errorf("pipeline: cache unreachable: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return probeWritable(p.Config.Dirs.Delta)
	})

	return g.Wait()
}

// probeWritable implements the startup writability test of §4.1: write a
// throwaway file into dir and remove it, failing fast if either step
// errors.
func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pipeline: delta directory unwritable: %w", err)
	}
	probe := filepath.Join(dir, ".percolator-writability-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("pipeline: delta directory unwritable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("pipeline: delta directory unwritable: %w", err)
	}
	return nil
}

// Close releases the cache file and database connection pool.
func (p *Pipeline) Close() error {
	var firstErr error
	if p.Cache != nil {
		if err := p.Cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.DB != nil {
		if err := p.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
