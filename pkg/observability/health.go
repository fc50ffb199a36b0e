package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthChecker probes the service's dependencies.
type HealthChecker struct {
	db    *sql.DB
	redis *redis.Client
}

// NewHealthChecker creates a health checker. The redis client may be nil
// when session revocation is disabled.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client) *HealthChecker {
	return &HealthChecker{db: db, redis: redisClient}
}

// HealthStatus is the readiness probe payload.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus reports one dependency's health.
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Liveness always reports healthy while the process is serving.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now().UTC(),
	})
}

// Readiness checks every dependency. The database is load-bearing, so its
// failure reports unhealthy (503); Redis failure only degrades because the
// rate limiter fails open and executions surface transient errors.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check probes all dependencies and aggregates the result.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Dependencies: make(map[string]DependencyStatus),
	}

	dbStatus := h.checkDB(ctx)
	status.Dependencies["database"] = dbStatus
	if dbStatus.Status != StatusHealthy {
		status.Status = StatusUnhealthy
	}

	if h.redis != nil {
		redisStatus := h.checkRedis(ctx)
		status.Dependencies["redis"] = redisStatus
		if redisStatus.Status != StatusHealthy && status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

func (h *HealthChecker) checkDB(ctx context.Context) DependencyStatus {
	start := time.Now()
	if err := h.db.PingContext(ctx); err != nil {
		return DependencyStatus{
			Status:    StatusUnhealthy,
			Message:   err.Error(),
			LatencyMS: time.Since(start).Milliseconds(),
		}
	}
	return DependencyStatus{Status: StatusHealthy, LatencyMS: time.Since(start).Milliseconds()}
}

func (h *HealthChecker) checkRedis(ctx context.Context) DependencyStatus {
	start := time.Now()
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return DependencyStatus{
			Status:    StatusUnhealthy,
			Message:   err.Error(),
			LatencyMS: time.Since(start).Milliseconds(),
		}
	}
	return DependencyStatus{Status: StatusHealthy, LatencyMS: time.Since(start).Milliseconds()}
}
