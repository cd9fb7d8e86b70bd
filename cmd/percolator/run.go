package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/naturalis/percolator/internal/health"
	"github.com/naturalis/percolator/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run <manifest.json>",
	Short: "Process one job manifest and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		p, err := pipeline.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open pipeline: %w", err)
		}
		defer p.Close()

		var metrics *health.Metrics
		if cfg.Health.Enabled {
			metrics = health.NewMetrics()
		}

		r := newRunner(p, cfg, metrics)
		return r.RunManifest(ctx, args[0])
	},
}
