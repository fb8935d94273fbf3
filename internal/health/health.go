// Package health provides health check endpoints for the backend service.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Pinger is anything that can report its own reachability.
// *pgxpool.Pool and *storage.ImageStore satisfy it directly.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RedisPinger adapts a go-redis client
func RedisPinger(client redis.UniversalClient) Pinger {
	return PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// Check is one dependency. A Critical check failing also fails readiness.
type Check struct {
	Name     string
	Pinger   Pinger
	Critical bool
}

// ServiceStatus represents the status of a single service
type ServiceStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the structured health check response
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
	Version   string                   `json:"version,omitempty"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Ready     bool   `json:"ready"`
	Timestamp string `json:"timestamp"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Alive     bool   `json:"alive"`
	Timestamp string `json:"timestamp"`
}

// Handler handles health check requests
type Handler struct {
	checks  []Check
	version string
	timeout time.Duration

	mu    sync.RWMutex
	ready bool
}

// Config holds health handler configuration
type Config struct {
	Checks  []Check
	Version string
	Timeout time.Duration // default 5 seconds
}

// NewHandler creates a new health check handler
func NewHandler(cfg Config) *Handler {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	checks := append([]Check(nil), cfg.Checks...)
	sort.SliceStable(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	return &Handler{
		checks:  checks,
		version: cfg.Version,
		timeout: timeout,
		ready:   true,
	}
}

// SetReady sets the readiness state; shutdown flips it off before draining
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the current readiness state
func (h *Handler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	statuses := h.runChecks(ctx, h.checks)

	overall := "healthy"
	for _, s := range statuses {
		if s.Status != "up" {
			overall = "degraded"
		}
	}

	status := http.StatusOK
	if overall != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  statuses,
		Version:   h.version,
	})
}

// Readiness handles GET /health/ready
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ready := h.IsReady()
	if ready {
		var critical []Check
		for _, c := range h.checks {
			if c.Critical {
				critical = append(critical, c)
			}
		}
		for _, s := range h.runChecks(ctx, critical) {
			if s.Status != "up" {
				ready = false
			}
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, ReadinessResponse{
		Ready:     ready,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Liveness handles GET /health/live
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Alive:     true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// runChecks pings every dependency concurrently. Failures are reported per
// service, never returned, so one slow dependency does not hide the others.
func (h *Handler) runChecks(ctx context.Context, checks []Check) map[string]ServiceStatus {
	results := make([]ServiceStatus, len(checks))

	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i] = ping(ctx, c)
			return nil
		})
	}
	g.Wait()

	out := make(map[string]ServiceStatus, len(checks))
	for i, c := range checks {
		out[c.Name] = results[i]
	}
	return out
}

func ping(ctx context.Context, c Check) ServiceStatus {
	if c.Pinger == nil {
		return ServiceStatus{Status: "down", Error: c.Name + " not configured"}
	}

	start := time.Now()
	err := c.Pinger.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return ServiceStatus{Status: "down", Latency: latency.String(), Error: err.Error()}
	}
	return ServiceStatus{Status: "up", Latency: latency.String()}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
