package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP surface
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization decisions
	AuthzDecisionsTotal *prometheus.CounterVec

	// Request lifecycle
	TransitionsTotal       *prometheus.CounterVec
	ExecutionFailuresTotal prometheus.Counter
	PendingRequests        prometheus.Gauge

	// Resolver cache
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Database pool
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers the instruments on the given registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_authz_decisions_total",
				Help: "Authorization decisions by outcome",
			},
			[]string{"outcome"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_request_transitions_total",
				Help: "Sensitive-action request transitions by type and resulting status",
			},
			[]string{"request_type", "status"},
		),
		ExecutionFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_execution_failures_total",
				Help: "Executor failures that reverted a request to APPROVED",
			},
		),
		PendingRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_pending_requests",
				Help: "Requests currently awaiting review",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_resolver_cache_hits_total",
				Help: "Resolver cache hits",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_resolver_cache_misses_total",
				Help: "Resolver cache misses",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_active",
				Help: "Open database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.TransitionsTotal,
		m.ExecutionFailuresTotal,
		m.PendingRequests,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)
	return m
}

// Handler returns the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type metricsRecorder struct {
	http.ResponseWriter
	status int
}

func (r *metricsRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// InstrumentHandler wraps an HTTP handler with request count and duration
// instruments. The path label is the route template, so callers should
// wrap mux routes rather than raw paths to keep cardinality bounded.
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &metricsRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(recorder.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RouteMiddleware instruments matched mux routes, labeling by the route's
// path template. Suitable for mux.Router.Use.
func (m *Metrics) RouteMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		m.InstrumentHandler(path, next).ServeHTTP(w, r)
	})
}
