package handler

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ComUnity/voiceid-service/internal/client"
	"github.com/ComUnity/voiceid-service/internal/util/logger"
)

var startTime = time.Now()

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

type HealthResponse struct {
	Status      HealthStatus           `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Version     string                 `json:"version,omitempty"`
	Environment string                 `json:"environment"`
	Uptime      string                 `json:"uptime"`
	Checks      map[string]CheckResult `json:"checks,omitempty"`
	Summary     HealthSummary          `json:"summary"`
}

type HealthSummary struct {
	TotalChecks     int `json:"total_checks"`
	HealthyChecks   int `json:"healthy_checks"`
	DegradedChecks  int `json:"degraded_checks"`
	UnhealthyChecks int `json:"unhealthy_checks"`
}

type CheckResult struct {
	Status   HealthStatus           `json:"status"`
	Message  string                 `json:"message,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Latency  string                 `json:"latency,omitempty"`
	Critical bool                   `json:"critical"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// HealthChecker probes one dependency. Critical checkers gate readiness.
type HealthChecker interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) CheckResult
}

type HealthHandler struct {
	env      string
	version  string
	timeout  time.Duration
	checkers []HealthChecker
}

func NewHealthHandler(env, version string, checkers ...HealthChecker) *HealthHandler {
	return &HealthHandler{env: env, version: version, timeout: 3 * time.Second, checkers: checkers}
}

// ServeHTTP handles /health.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	response := HealthResponse{
		Status:      HealthStatusHealthy,
		Timestamp:   time.Now().UTC(),
		Version:     h.version,
		Environment: h.env,
		Uptime:      time.Since(startTime).String(),
		Checks:      h.runChecks(ctx),
	}

	for _, res := range response.Checks {
		response.Summary.TotalChecks++
		switch res.Status {
		case HealthStatusHealthy:
			response.Summary.HealthyChecks++
		case HealthStatusDegraded:
			response.Summary.DegradedChecks++
			if response.Status == HealthStatusHealthy {
				response.Status = HealthStatusDegraded
			}
		case HealthStatusUnhealthy:
			response.Summary.UnhealthyChecks++
			if res.Critical {
				response.Status = HealthStatusUnhealthy
			} else if response.Status == HealthStatusHealthy {
				response.Status = HealthStatusDegraded
			}
		}
	}

	status := http.StatusOK
	if response.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
		logger.Warn("health check unhealthy: %d of %d checks failing", response.Summary.UnhealthyChecks, response.Summary.TotalChecks)
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, status, response)
}

// ReadinessHandler handles /ready.
func (h *HealthHandler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	for name, res := range h.runChecks(ctx) {
		if res.Critical && res.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "not ready - %s: %s\n", name, res.Error)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ready")
}

// LivenessHandler handles /live.
func (h *HealthHandler) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "live - uptime: %s\n", time.Since(startTime).String())
}

func (h *HealthHandler) runChecks(ctx context.Context) map[string]CheckResult {
	out := make(map[string]CheckResult, len(h.checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range h.checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()
			start := time.Now()
			res := c.Check(ctx)
			res.Latency = time.Since(start).String()
			res.Critical = c.Critical()
			mu.Lock()
			out[c.Name()] = res
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return out
}

// DatabaseHealthChecker pings the profile database.
type DatabaseHealthChecker struct {
	DB *sql.DB
}

func (d DatabaseHealthChecker) Name() string { return "database" }
func (d DatabaseHealthChecker) Critical() bool { return true }

func (d DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	if err := d.DB.PingContext(ctx); err != nil {
		logger.Error("Database ping error: %v", err)
		return CheckResult{Status: HealthStatusUnhealthy, Error: fmt.Sprintf("ping failed: %v", err)}
	}
	stats := d.DB.Stats()
	return CheckResult{
		Status: HealthStatusHealthy,
		Metadata: map[string]interface{}{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
			"wait_count":       stats.WaitCount,
		},
	}
}

// RedisHealthChecker pings the session store. An open circuit reports degraded.
type RedisHealthChecker struct {
	Client *client.RedisClient
}

func (r RedisHealthChecker) Name() string { return "redis" }
func (r RedisHealthChecker) Critical() bool { return true }

func (r RedisHealthChecker) Check(ctx context.Context) CheckResult {
	state := r.Client.CircuitBreakerState()
	meta := map[string]interface{}{"circuit_breaker": state}
	if err := r.Client.HealthCheck(ctx); err != nil {
		status := HealthStatusUnhealthy
		if state == "open" {
			status = HealthStatusDegraded
		}
		return CheckResult{Status: status, Error: err.Error(), Metadata: meta}
	}
	return CheckResult{Status: HealthStatusHealthy, Metadata: meta}
}

// StaticHealthChecker reports a fixed status, e.g. for in-memory fallbacks.
type StaticHealthChecker struct {
	CheckName string
	Status    HealthStatus
	Message   string
}

func (s StaticHealthChecker) Name() string { return s.CheckName }
func (s StaticHealthChecker) Critical() bool { return false }

func (s StaticHealthChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: s.Status, Message: s.Message}
}
