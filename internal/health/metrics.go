package health

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the Prometheus-backed recorder for the counters and
// histograms named in §6's operational surface. It satisfies
// runner.Metrics and enrich.CacheMetrics structurally, so the Runner and
// Enrichment Engine never import this package directly.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal     *prometheus.CounterVec
	recordsTotal  *prometheus.CounterVec
	deltaBytes    prometheus.Counter
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	stageDuration *prometheus.HistogramVec
}

// NewMetrics builds and registers every percolator metric on a fresh
// registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "percolator",
			Name:      "jobs_total",
			Help:      "Number of job manifests processed, by outcome.",
		}, []string{"outcome"}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "percolator",
			Name:      "records_total",
			Help:      "Number of records processed, by action (new/update/delete/kill/enrich).",
		}, []string{"action"}),
		deltaBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "percolator",
			Name:      "delta_bytes_written_total",
			Help:      "Total bytes written to delta files.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "percolator",
			Name:      "enrichment_cache_hits_total",
			Help:      "Enrichment cache lookups served from the disk cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "percolator",
			Name:      "enrichment_cache_misses_total",
			Help:      "Enrichment cache lookups that fell through to the Store Adapter.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "percolator",
			Name:      "file_stage_duration_seconds",
			Help:      "Per-file processing duration, by stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}

	reg.MustRegister(m.jobsTotal, m.recordsTotal, m.deltaBytes, m.cacheHits, m.cacheMisses, m.stageDuration)
	return m
}

// Registry returns the underlying Prometheus registry, for mounting a
// /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordJob implements runner.Metrics.
func (m *Metrics) RecordJob(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.jobsTotal.WithLabelValues(outcome).Inc()
}

// RecordAction implements runner.Metrics.
func (m *Metrics) RecordAction(action string, n int) {
	if n <= 0 {
		return
	}
	m.recordsTotal.WithLabelValues(action).Add(float64(n))
}

// RecordDeltaBytes implements runner.Metrics.
func (m *Metrics) RecordDeltaBytes(n int64) {
	if n <= 0 {
		return
	}
	m.deltaBytes.Add(float64(n))
}

// ObserveStage implements runner.Metrics.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordCacheHit implements enrich.CacheMetrics.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Inc()
}

// RecordCacheMiss implements enrich.CacheMetrics.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Inc()
}
