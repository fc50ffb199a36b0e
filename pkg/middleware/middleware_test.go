package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/capability"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestActorMiddleware_ResolvesFromHeaders(t *testing.T) {
	var captured *Actor
	handler := NewActorMiddleware().Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetActor(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/requests/pending", nil)
	req.Header.Set(HeaderUserID, "manager-1")
	req.Header.Set(HeaderTenantID, "tenant-acme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "manager-1", captured.UserID)
	assert.Equal(t, "tenant-acme", captured.TenantID)
}

func TestActorMiddleware_RejectsMissingIdentity(t *testing.T) {
	handler := NewActorMiddleware().Handler(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/requests/pending", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	// Upstream ID is reused.
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderRequestID, "upstream-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-id", seen)
	assert.Equal(t, "upstream-id", rec.Header().Get(HeaderRequestID))

	// Missing ID gets generated.
	req = httptest.NewRequest("GET", "/", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
}

type stubAuthorizer struct {
	allowed bool
	err     error

	gotUserID  string
	gotSpaceID string
	gotCode    capability.Code
}

func (s *stubAuthorizer) Allowed(ctx context.Context, userID, spaceID string, code capability.Code) (bool, error) {
	s.gotUserID = userID
	s.gotSpaceID = spaceID
	s.gotCode = code
	return s.allowed, s.err
}

func TestRequireCapability(t *testing.T) {
	code := capability.MustCode("audit.read")

	newRouter := func(authz Authorizer) *mux.Router {
		r := mux.NewRouter()
		r.Handle("/api/v1/spaces/{spaceID}/audit",
			RequireCapability(authz, code)(okHandler())).Methods("GET")
		r.Use(func(next http.Handler) http.Handler {
			return NewActorMiddleware().Handler(next)
		})
		return r
	}

	t.Run("allowed", func(t *testing.T) {
		authz := &stubAuthorizer{allowed: true}
		req := httptest.NewRequest("GET", "/api/v1/spaces/space-support/audit", nil)
		req.Header.Set(HeaderUserID, "manager-1")
		rec := httptest.NewRecorder()
		newRouter(authz).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "manager-1", authz.gotUserID)
		assert.Equal(t, "space-support", authz.gotSpaceID)
		assert.Equal(t, code, authz.gotCode)
	})

	t.Run("denied", func(t *testing.T) {
		authz := &stubAuthorizer{allowed: false}
		req := httptest.NewRequest("GET", "/api/v1/spaces/space-support/audit", nil)
		req.Header.Set(HeaderUserID, "agent-1")
		rec := httptest.NewRecorder()
		newRouter(authz).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		authz := &stubAuthorizer{allowed: true}
		req := httptest.NewRequest("GET", "/api/v1/spaces/space-support/audit", nil)
		rec := httptest.NewRecorder()
		newRouter(authz).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func newTestRateLimiter(t *testing.T, perWindow int) *RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: perWindow,
		WindowDuration:    time.Minute,
	}, log)
}

func TestRateLimiter_EnforcesWindowBudget(t *testing.T) {
	rl := newTestRateLimiter(t, 3)
	handler := rl.Handler(okHandler())

	send := func(userID string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(WithActor(req.Context(), &Actor{UserID: userID}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, send("manager-1"))
	}
	assert.Equal(t, http.StatusTooManyRequests, send("manager-1"))

	// Budgets are per actor.
	assert.Equal(t, http.StatusOK, send("lead-1"))
}

func TestRateLimiter_FailsOpenWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	log := logrus.New()
	log.SetOutput(io.Discard)
	rl := NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, log)

	mr.Close()

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	rl.Handler(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
