package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/naturalis/percolator/internal/health"
	"github.com/naturalis/percolator/internal/pipeline"
	"github.com/naturalis/percolator/internal/pkg/logger"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the jobs directory and process manifests as they appear",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := pipeline.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open pipeline: %w", err)
		}
		defer p.Close()

		var metrics *health.Metrics
		if cfg.Health.Enabled {
			metrics = health.NewMetrics()
			go serveHealth(ctx, cfg, p, metrics)
		}

		r := newRunner(p, cfg, metrics)
		logger.Info("percolator: entering watch mode", "dir", cfg.Dirs.Jobs)
		return r.Watch(ctx, cfg.Dirs.Jobs)
	},
}
