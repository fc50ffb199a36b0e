// Package middleware provides the HTTP middleware chain: actor resolution
// from upstream gateway headers, request ID propagation, request logging,
// capability gating, and Redis-backed rate limiting.
//
// Authentication itself happens upstream. The gateway terminates the user
// session and forwards the verified identity in X-User-ID and X-Tenant-ID
// headers; this service only authorizes.
package middleware
