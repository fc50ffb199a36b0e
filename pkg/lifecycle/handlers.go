package lifecycle

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/httputil"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/middleware"
)

// Handlers provides the HTTP surface of the approval workflow.
type Handlers struct {
	manager *Manager
}

// NewHandlers creates lifecycle handlers.
func NewHandlers(manager *Manager) *Handlers {
	return &Handlers{manager: manager}
}

// RegisterRoutes registers the request lifecycle routes. Actor resolution
// must run before these handlers.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/requests", h.CreateRequest).Methods("POST")
	r.HandleFunc("/api/v1/requests/pending", h.ListPending).Methods("GET")
	r.HandleFunc("/api/v1/requests/{id}", h.GetRequest).Methods("GET")
	r.HandleFunc("/api/v1/requests/{id}/review", h.ReviewRequest).Methods("POST")
	r.HandleFunc("/api/v1/requests/{id}/execute", h.ExecuteRequest).Methods("POST")
}

// CreateRequestBody is the payload for POST /api/v1/requests.
type CreateRequestBody struct {
	Type          string `json:"type"`
	SpaceID       string `json:"space_id"`
	TargetUserID  string `json:"target_user_id"`
	Justification string `json:"justification"`
}

// CreateRequest handles POST /api/v1/requests.
func (h *Handlers) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)
	if actor == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var body CreateRequestBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if body.SpaceID == "" {
		httputil.WriteBadRequest(w, "space_id is required")
		return
	}

	req, err := h.manager.Create(r.Context(), actor.UserID, body.SpaceID, body.Type, body.TargetUserID, body.Justification)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, req)
}

// ListPending handles GET /api/v1/requests/pending?space_ids=a,b. The
// result is scoped to the caller's grant spaces; space_ids only narrows it.
func (h *Handlers) ListPending(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)
	if actor == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var spaceIDs []string
	if raw := httputil.ParseQueryString(r, "space_ids", ""); raw != "" {
		spaceIDs = strings.Split(raw, ",")
	}

	requests, err := h.manager.ListPendingFor(r.Context(), actor.UserID, spaceIDs)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if requests == nil {
		requests = []*Request{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"requests": requests,
		"count":    len(requests),
	})
}

// GetRequest handles GET /api/v1/requests/{id}.
func (h *Handlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	req, err := h.manager.Get(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, req)
}

// ReviewRequestBody is the payload for POST /api/v1/requests/{id}/review.
type ReviewRequestBody struct {
	Action ReviewAction `json:"action"`
	Reason string       `json:"reason,omitempty"`
}

// ReviewRequest handles POST /api/v1/requests/{id}/review.
func (h *Handlers) ReviewRequest(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)
	if actor == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var body ReviewRequestBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	req, err := h.manager.Review(r.Context(), id, actor.UserID, body.Action, body.Reason)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, req)
}

// ExecuteRequest handles POST /api/v1/requests/{id}/execute.
func (h *Handlers) ExecuteRequest(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)
	if actor == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	req, err := h.manager.Execute(r.Context(), id, actor.UserID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, req)
}
