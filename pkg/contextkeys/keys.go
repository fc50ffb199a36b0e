// Package contextkeys provides centralized context key definitions.
//
// All context keys used across the application are defined here. This
// prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

// Key is the type for context keys to prevent collisions.
type Key string

const (
	// ActorKey contains *middleware.Actor.
	// Set by: middleware.ActorMiddleware (pkg/middleware/actor.go)
	// Required by: all authorization-gated endpoints
	ActorKey Key = "actor"

	// RequestIDKey contains the request ID string (UUID).
	// Set by: middleware.RequestIDMiddleware
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"
)
