package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up() Pinger { return PingFunc(func(ctx context.Context) error { return nil }) }

func down(msg string) Pinger {
	return PingFunc(func(ctx context.Context) error { return errors.New(msg) })
}

func TestHealthAllUp(t *testing.T) {
	h := NewHandler(Config{
		Checks:  []Check{{Name: "database", Pinger: up(), Critical: true}, {Name: "storage", Pinger: up()}},
		Version: "1.2.3",
	})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "up", resp.Services["database"].Status)
	assert.Equal(t, "up", resp.Services["storage"].Status)
}

func TestHealthDegraded(t *testing.T) {
	h := NewHandler(Config{Checks: []Check{
		{Name: "database", Pinger: up(), Critical: true},
		{Name: "redis", Pinger: down("connection refused")},
		{Name: "storage"},
	}})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "connection refused", resp.Services["redis"].Error)
	assert.Equal(t, "storage not configured", resp.Services["storage"].Error)
}

func TestReadinessOnlyCountsCriticalChecks(t *testing.T) {
	h := NewHandler(Config{Checks: []Check{
		{Name: "database", Pinger: up(), Critical: true},
		{Name: "storage", Pinger: down("timeout")},
	}})

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.SetReady(false)
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h = NewHandler(Config{Checks: []Check{{Name: "database", Pinger: down("refused"), Critical: true}}})
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChecksRunConcurrently(t *testing.T) {
	slow := PingFunc(func(ctx context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	h := NewHandler(Config{Checks: []Check{
		{Name: "a", Pinger: slow}, {Name: "b", Pinger: slow}, {Name: "c", Pinger: slow},
	}})

	start := time.Now()
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestLiveness(t *testing.T) {
	h := NewHandler(Config{})
	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alive":true`)
}
