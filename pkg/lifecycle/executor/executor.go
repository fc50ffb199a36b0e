package executor

import (
	"context"
	"fmt"
)

// Executor performs the side effect of one request type.
type Executor interface {
	// Type returns the request type this executor handles.
	Type() string
	// Execute performs the side effect against the target user. It must
	// be idempotent.
	Execute(ctx context.Context, targetUserID string) error
}

// Registry maps request types to executors.
type Registry struct {
	byType map[string]Executor
}

// NewRegistry creates a registry from the given executors.
func NewRegistry(executors ...Executor) (*Registry, error) {
	byType := make(map[string]Executor, len(executors))
	for _, e := range executors {
		if _, exists := byType[e.Type()]; exists {
			return nil, fmt.Errorf("duplicate executor for request type %s", e.Type())
		}
		byType[e.Type()] = e
	}
	return &Registry{byType: byType}, nil
}

// Get returns the executor for a request type.
func (r *Registry) Get(requestType string) (Executor, bool) {
	e, ok := r.byType[requestType]
	return e, ok
}
