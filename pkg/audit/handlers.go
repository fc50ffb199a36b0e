package audit

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/capability"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/httputil"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/middleware"
)

// CapabilityRead gates access to the audit trail.
var CapabilityRead = capability.MustCode("audit.read")

// Handlers provides HTTP handlers for searching the audit trail.
type Handlers struct {
	store *DBSink
}

// NewHandlers creates audit handlers backed by the database sink.
func NewHandlers(store *DBSink) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers the audit routes, gated on audit.read.
func (h *Handlers) RegisterRoutes(r *mux.Router, authorizer middleware.Authorizer) {
	gate := middleware.RequireCapability(authorizer, CapabilityRead)
	r.Handle("/api/v1/spaces/{spaceID}/audit",
		gate(http.HandlerFunc(h.Search))).Methods("GET")
}

// Search handles GET /api/v1/spaces/{spaceID}/audit.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	filter := Filter{
		ActorID:    httputil.ParseQueryString(r, "actor_id", ""),
		Action:     Action(httputil.ParseQueryString(r, "action", "")),
		TargetType: TargetType(httputil.ParseQueryString(r, "target_type", "")),
		TargetID:   httputil.ParseQueryString(r, "target_id", ""),
	}

	var err error
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", 50); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid since timestamp, want RFC3339")
			return
		}
		filter.Since = &t
	}
	if until := r.URL.Query().Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid until timestamp, want RFC3339")
			return
		}
		filter.Until = &t
	}

	entries, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
