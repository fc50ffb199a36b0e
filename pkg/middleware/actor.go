package middleware

import (
	"context"
	"net/http"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/contextkeys"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/httputil"
)

// Header names the upstream gateway uses to forward the verified identity.
const (
	HeaderUserID   = "X-User-ID"
	HeaderTenantID = "X-Tenant-ID"
)

// Actor is the verified identity making a request.
type Actor struct {
	UserID   string
	TenantID string
}

// ActorMiddleware resolves the acting user from gateway headers and places
// it in the request context. Requests without an identity are rejected.
type ActorMiddleware struct{}

// NewActorMiddleware creates the actor resolution middleware.
func NewActorMiddleware() *ActorMiddleware {
	return &ActorMiddleware{}
}

// Handler wraps an HTTP handler with actor resolution.
func (m *ActorMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			httputil.WriteUnauthorized(w, "missing identity headers")
			return
		}

		actor := &Actor{
			UserID:   userID,
			TenantID: r.Header.Get(HeaderTenantID),
		}
		ctx := WithActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, contextkeys.ActorKey, actor)
}

// ActorFromContext extracts the actor, or nil when unauthenticated.
func ActorFromContext(ctx context.Context) *Actor {
	actor, ok := ctx.Value(contextkeys.ActorKey).(*Actor)
	if !ok {
		return nil
	}
	return actor
}

// GetActor extracts the actor from a request.
func GetActor(r *http.Request) *Actor {
	return ActorFromContext(r.Context())
}
