// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, and request parsing.
//
// The central piece is WriteDomainError, which maps the error taxonomy of
// pkg/apperrors onto HTTP status codes:
//
//	validation -> 400
//	not_found  -> 404
//	forbidden  -> 403
//	conflict   -> 409
//	transient  -> 503
//	anything else -> 500
//
// Error responses carry the error kind and any structured details the
// domain attached (missing capability code, required vs actual approval
// level, current request status) so callers can explain a denial without
// string-matching messages.
package httputil
