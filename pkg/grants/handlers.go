package grants

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/audit"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/capability"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/httputil"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/middleware"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/space"
)

// Capabilities gating grant administration.
var (
	CapabilityGrantsRead  = capability.MustCode("users.read")
	CapabilityGrantsWrite = capability.MustCode("users.update")
)

// Handlers provides the grant administration HTTP surface.
type Handlers struct {
	store *Store
	roles *space.Store
	audit audit.Sink
	log   *logrus.Entry
}

// NewHandlers creates grant administration handlers. The role store backs
// role expansion on listings.
func NewHandlers(store *Store, roles *space.Store, sink audit.Sink, log *logrus.Logger) *Handlers {
	return &Handlers{
		store: store,
		roles: roles,
		audit: sink,
		log:   log.WithField("component", "grants.handlers"),
	}
}

// RegisterRoutes registers the grant routes. Actor resolution must run
// before these handlers.
func (h *Handlers) RegisterRoutes(r *mux.Router, authorizer middleware.Authorizer) {
	read := middleware.RequireCapability(authorizer, CapabilityGrantsRead)
	write := middleware.RequireCapability(authorizer, CapabilityGrantsWrite)

	r.Handle("/api/v1/spaces/{spaceID}/grants",
		read(http.HandlerFunc(h.ListGrants))).Methods("GET")
	r.Handle("/api/v1/spaces/{spaceID}/grants/{userID}",
		read(http.HandlerFunc(h.GetGrant))).Methods("GET")
	r.Handle("/api/v1/spaces/{spaceID}/grants/{userID}",
		write(http.HandlerFunc(h.UpsertGrant))).Methods("PUT")
	r.Handle("/api/v1/spaces/{spaceID}/grants/{userID}",
		write(http.HandlerFunc(h.DeleteGrant))).Methods("DELETE")
}

// GrantWithRole is a grant joined with its role for listings.
type GrantWithRole struct {
	*UserSpaceGrant
	Role *space.SpaceRole `json:"role,omitempty"`
}

// ListGrants handles GET /api/v1/spaces/{spaceID}/grants. Each grant
// carries its role so the caller sees the full authorization state in one
// response.
func (h *Handlers) ListGrants(w http.ResponseWriter, r *http.Request) {
	spaceID, ok := httputil.ParsePathStringOrError(w, r, "spaceID")
	if !ok {
		return
	}

	grantList, err := h.store.ListBySpace(r.Context(), spaceID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	var roleIDs []int64
	for _, g := range grantList {
		if g.RoleID != nil {
			roleIDs = append(roleIDs, *g.RoleID)
		}
	}
	roles, err := h.roles.GetRolesByIDs(r.Context(), roleIDs)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	byID := make(map[int64]*space.SpaceRole, len(roles))
	for _, role := range roles {
		byID[role.ID] = role
	}

	result := make([]GrantWithRole, 0, len(grantList))
	for _, g := range grantList {
		gr := GrantWithRole{UserSpaceGrant: g}
		if g.RoleID != nil {
			gr.Role = byID[*g.RoleID]
		}
		result = append(result, gr)
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"grants": result,
		"count":  len(result),
	})
}

// GetGrant handles GET /api/v1/spaces/{spaceID}/grants/{userID}.
func (h *Handlers) GetGrant(w http.ResponseWriter, r *http.Request) {
	spaceID, userID, ok := parseGrantPath(w, r)
	if !ok {
		return
	}

	grant, err := h.store.Get(r.Context(), userID, spaceID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, grant)
}

// UpsertGrantBody is the payload for PUT /api/v1/spaces/{spaceID}/grants/{userID}.
type UpsertGrantBody struct {
	RoleID             *int64   `json:"role_id,omitempty"`
	CustomPermissions  []string `json:"custom_permissions,omitempty"`
	RevokedPermissions []string `json:"revoked_permissions,omitempty"`
}

// UpsertGrant handles PUT /api/v1/spaces/{spaceID}/grants/{userID}.
func (h *Handlers) UpsertGrant(w http.ResponseWriter, r *http.Request) {
	spaceID, userID, ok := parseGrantPath(w, r)
	if !ok {
		return
	}
	var body UpsertGrantBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	grant, err := h.store.Upsert(r.Context(), UpsertParams{
		UserID:             userID,
		SpaceID:            spaceID,
		RoleID:             body.RoleID,
		CustomPermissions:  body.CustomPermissions,
		RevokedPermissions: body.RevokedPermissions,
	})
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.record(r, audit.ActionGrantUpdated, userID, spaceID)
	httputil.WriteSuccess(w, grant)
}

// DeleteGrant handles DELETE /api/v1/spaces/{spaceID}/grants/{userID}.
func (h *Handlers) DeleteGrant(w http.ResponseWriter, r *http.Request) {
	spaceID, userID, ok := parseGrantPath(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), userID, spaceID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.record(r, audit.ActionGrantDeleted, userID, spaceID)
	httputil.WriteNoContent(w)
}

// record appends a best-effort audit entry for a grant write.
func (h *Handlers) record(r *http.Request, action audit.Action, targetUserID, spaceID string) {
	actorID := ""
	if actor := middleware.GetActor(r); actor != nil {
		actorID = actor.UserID
	}

	entry := audit.NewEntry(actorID, action, audit.TargetGrant, targetUserID, audit.OutcomeSuccess).
		WithMetadata("space_id", spaceID)
	if err := h.audit.Append(r.Context(), entry); err != nil {
		h.log.WithError(err).WithField("action", action).Warn("failed to append grant audit entry")
	}
}

func parseGrantPath(w http.ResponseWriter, r *http.Request) (spaceID, userID string, ok bool) {
	spaceID, ok = httputil.ParsePathStringOrError(w, r, "spaceID")
	if !ok {
		return "", "", false
	}
	userID, ok = httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return "", "", false
	}
	return spaceID, userID, true
}
