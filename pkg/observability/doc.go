// Package observability provides structured logging, Prometheus metrics,
// and health probes.
//
// Logging uses logrus with a JSON formatter. Metrics cover the HTTP
// surface plus the domain counters that matter for an authorization
// service: decisions by outcome, request transitions by status, and
// resolver cache effectiveness. The health checker exposes liveness and
// readiness probes over the database and Redis dependencies.
package observability
