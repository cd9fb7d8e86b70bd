// Package health implements the operational surface of §6: a read-only
// liveness/readiness endpoint reporting database and cache reachability,
// and a Prometheus metrics endpoint exposing jobs-processed, records-by-
// action, delta-bytes-written and enrichment-cache hit/miss counters plus
// a per-file stage-duration histogram. Neither endpoint is consulted by
// the pipeline itself.
package health
