package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/naturalis/percolator/internal/config"
	"github.com/naturalis/percolator/internal/health"
	"github.com/naturalis/percolator/internal/pipeline"
	"github.com/naturalis/percolator/internal/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve only the read-only health/metrics surface of §6 (no job processing)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Health.Enabled {
			return errors.New("health.enabled is false in config; nothing to serve")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := pipeline.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open pipeline: %w", err)
		}
		defer p.Close()

		metrics := health.NewMetrics()
		p.Enrich.SetMetrics(metrics)

		return serveHealth(ctx, cfg, p, metrics)
	},
}

// serveHealth runs the health/metrics HTTP server until ctx is cancelled.
// Shared by the standalone `serve` command and `watch`, which mounts the
// same surface alongside its job-dispatch loop.
func serveHealth(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, metrics *health.Metrics) error {
	srv := health.NewServer(p.DB, p.Cache, metrics)
	httpSrv := &http.Server{Addr: cfg.Health.Addr, Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("percolator: health surface listening", "addr", cfg.Health.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return httpSrv.Shutdown(context.Background())
	case err := <-errCh:
		return fmt.Errorf("health server: %w", err)
	}
}
