package main

import (
	"github.com/naturalis/percolator/internal/config"
	"github.com/naturalis/percolator/internal/health"
	"github.com/naturalis/percolator/internal/pipeline"
	"github.com/naturalis/percolator/internal/runner"
)

// newRunner assembles a Runner from an already-opened Pipeline's
// collaborators and the configured directory layout, wiring in metrics
// when the health surface is enabled.
func newRunner(p *pipeline.Pipeline, cfg *config.Config, metrics *health.Metrics) *runner.Runner {
	r := runner.New(
		p.Stager,
		p.Dedupe,
		p.Differ,
		p.Mutator,
		p.Lock,
		p.Audit,
		p.Notify,
		p.Registry,
		runner.Dirs{
			Jobs:   cfg.Dirs.Jobs,
			Failed: cfg.Dirs.Failed,
			Done:   cfg.Dirs.Done,
			Delta:  cfg.Dirs.Delta,
		},
	)
	if metrics != nil {
		r.SetMetrics(metrics)
		p.Enrich.SetMetrics(metrics)
	}
	return r
}
