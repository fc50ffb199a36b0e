package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/capability"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/middleware"
)

type allowAll struct{}

func (allowAll) Allowed(ctx context.Context, userID, spaceID string, code capability.Code) (bool, error) {
	return true, nil
}

type denyAll struct{}

func (denyAll) Allowed(ctx context.Context, userID, spaceID string, code capability.Code) (bool, error) {
	return false, nil
}

func newAuditRouter(t *testing.T, authz middleware.Authorizer) (*mux.Router, *DBSink) {
	t.Helper()
	sink, _ := newTestDBSink(t)

	r := mux.NewRouter()
	NewHandlers(sink).RegisterRoutes(r, authz)
	r.Use(func(next http.Handler) http.Handler {
		return middleware.NewActorMiddleware().Handler(next)
	})
	return r, sink
}

func TestHandlers_Search(t *testing.T) {
	router, sink := newAuditRouter(t, allowAll{})
	ctx := context.Background()

	require.NoError(t, sink.Append(ctx,
		NewEntry("manager-1", ActionReviewApproved, TargetRequest, "req-1", OutcomeSuccess)))
	require.NoError(t, sink.Append(ctx,
		NewEntry("director-1", ActionReviewRejected, TargetRequest, "req-2", OutcomeSuccess)))

	req := httptest.NewRequest("GET", "/api/v1/spaces/space-support/audit?actor_id=manager-1", nil)
	req.Header.Set(middleware.HeaderUserID, "auditor-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Entries []Entry `json:"entries"`
		Count   int     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, ActionReviewApproved, resp.Entries[0].Action)
}

func TestHandlers_SearchRequiresCapability(t *testing.T) {
	router, _ := newAuditRouter(t, denyAll{})

	req := httptest.NewRequest("GET", "/api/v1/spaces/space-support/audit", nil)
	req.Header.Set(middleware.HeaderUserID, "agent-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlers_SearchRejectsBadTimestamp(t *testing.T) {
	router, _ := newAuditRouter(t, allowAll{})

	req := httptest.NewRequest("GET", "/api/v1/spaces/space-support/audit?since=yesterday", nil)
	req.Header.Set(middleware.HeaderUserID, "auditor-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
