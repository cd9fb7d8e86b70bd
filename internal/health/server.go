package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/naturalis/percolator/internal/enrich"
)

// ComponentCheck reports the reachability of a single dependency.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// Status is the body of the /health/ready and /health/live responses.
type Status struct {
	Status string                    `json:"status"`
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks,omitempty"`
}

const probeKey = "__percolator_health_probe__"

// Server exposes the operational surface of §6 on a port separate from
// any pipeline activity: it never participates in a job run, only
// reports on the state of what the pipeline already opened.
type Server struct {
	db        *sql.DB
	cache     *enrich.Cache
	metrics   *Metrics
	startTime time.Time
}

// NewServer builds a health Server reporting on db and cache reachability
// and serving metrics, backed by the given Metrics recorder.
func NewServer(db *sql.DB, cache *enrich.Cache, metrics *Metrics) *Server {
	return &Server{db: db, cache: cache, metrics: metrics, startTime: time.Now()}
}

// Handler returns the chi router serving /health/live, /health/ready and
// /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/health/live", s.handleLiveness)
	r.Get("/health/ready", s.handleReadiness)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	return r
}

// handleLiveness always returns 200 while the process is running.
//
//	GET /health/live
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, Status{
		Status: "alive",
		Uptime: formatUptime(time.Since(s.startTime)),
	})
}

// handleReadiness checks the database and enrichment cache and returns
// 503 when a critical dependency is unreachable.
//
//	GET /health/ready
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := s.runChecks(r.Context())
	overall := determineOverallStatus(checks)

	httpStatus := http.StatusOK
	if overall == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	respondJSON(w, httpStatus, Status{
		Status: overall,
		Uptime: formatUptime(time.Since(s.startTime)),
		Checks: checks,
	})
}

func (s *Server) runChecks(ctx context.Context) map[string]ComponentCheck {
	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, 2)

	go func() { ch <- result{"database", s.checkDatabase(ctx)} }()
	go func() { ch <- result{"cache", s.checkCache(ctx)} }()

	checks := make(map[string]ComponentCheck, 2)
	for i := 0; i < 2; i++ {
		r := <-ch
		checks[r.name] = r.check
	}
	return checks
}

// checkDatabase pings Postgres with a 3-second timeout.
func (s *Server) checkDatabase(ctx context.Context) ComponentCheck {
	if s.db == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := s.db.PingContext(pingCtx)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "connected"}
}

// checkCache probes the disk-backed enrichment cache with a harmless
// lookup of a key that is never written by the pipeline.
func (s *Server) checkCache(ctx context.Context) ComponentCheck {
	if s.cache == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	start := time.Now()
	_, _, err := s.cache.Get(probeKey)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("probe failed: %v", err)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "reachable"}
}

// determineOverallStatus treats the database as the only critical
// dependency: a cache outage degrades enrichment but never blocks the
// readiness probe outright.
func determineOverallStatus(checks map[string]ComponentCheck) string {
	if db, ok := checks["database"]; ok && db.Status == "down" && db.Message != "not configured" {
		return "unhealthy"
	}
	for _, c := range checks {
		if c.Status == "down" && c.Message != "not configured" {
			return "degraded"
		}
	}
	return "healthy"
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func formatUptime(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
