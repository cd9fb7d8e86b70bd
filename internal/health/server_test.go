package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/naturalis/percolator/internal/enrich"
)

var errUnreachable = errors.New("connection refused")

func newTestCache(t *testing.T) *enrich.Cache {
	t.Helper()
	cache, err := enrich.OpenCache(t.TempDir() + "/cache.sqlite3")
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestHandleLivenessAlwaysOK(t *testing.T) {
	srv := NewServer(nil, newTestCache(t), NewMetrics())

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "alive", body.Status)
}

func TestHandleReadinessHealthyWhenDatabaseReachable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	srv := NewServer(db, newTestCache(t), NewMetrics())

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "healthy", body.Status)
	require.Equal(t, "up", body.Checks["database"].Status)
	require.Equal(t, "up", body.Checks["cache"].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleReadinessUnhealthyWhenDatabaseDown(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errUnreachable)

	srv := NewServer(db, newTestCache(t), NewMetrics())

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "unhealthy", body.Status)
	require.Equal(t, "down", body.Checks["database"].Status)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	m := NewMetrics()
	m.RecordJob(true)
	m.RecordAction("new", 5)

	srv := NewServer(nil, newTestCache(t), m)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "percolator_jobs_total")
	require.Contains(t, rec.Body.String(), "percolator_records_total")
}
