package space

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/audit"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/capability"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/httputil"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/middleware"
)

// Capabilities gating role administration.
var (
	CapabilityRolesRead   = capability.MustCode("roles.read")
	CapabilityRolesManage = capability.MustCode("roles.manage")
)

// Handlers provides the role administration HTTP surface.
type Handlers struct {
	store *Store
	audit audit.Sink
	log   *logrus.Entry
}

// NewHandlers creates role administration handlers.
func NewHandlers(store *Store, sink audit.Sink, log *logrus.Logger) *Handlers {
	return &Handlers{
		store: store,
		audit: sink,
		log:   log.WithField("component", "space.handlers"),
	}
}

// RegisterRoutes registers the role routes. Actor resolution must run
// before these handlers.
func (h *Handlers) RegisterRoutes(r *mux.Router, authorizer middleware.Authorizer) {
	read := middleware.RequireCapability(authorizer, CapabilityRolesRead)
	manage := middleware.RequireCapability(authorizer, CapabilityRolesManage)

	r.Handle("/api/v1/spaces/{spaceID}/roles",
		read(http.HandlerFunc(h.ListRoles))).Methods("GET")
	r.Handle("/api/v1/spaces/{spaceID}/roles",
		manage(http.HandlerFunc(h.CreateRole))).Methods("POST")
	r.Handle("/api/v1/spaces/{spaceID}/roles/{id}",
		manage(http.HandlerFunc(h.UpdateRole))).Methods("PATCH")
	r.Handle("/api/v1/spaces/{spaceID}/roles/{id}",
		manage(http.HandlerFunc(h.DeleteRole))).Methods("DELETE")
}

// CreateRoleBody is the payload for POST /api/v1/spaces/{spaceID}/roles.
type CreateRoleBody struct {
	Code             string        `json:"code"`
	Name             string        `json:"name"`
	Hierarchy        int           `json:"hierarchy"`
	Capabilities     []string      `json:"capabilities"`
	CanApproveGrants bool          `json:"can_approve_grants"`
	ApprovalLevel    ApprovalLevel `json:"approval_level"`
}

// CreateRole handles POST /api/v1/spaces/{spaceID}/roles.
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	spaceID, ok := httputil.ParsePathStringOrError(w, r, "spaceID")
	if !ok {
		return
	}
	var body CreateRoleBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	role, err := h.store.CreateRole(r.Context(), CreateRoleParams{
		SpaceID:          spaceID,
		Code:             body.Code,
		Name:             body.Name,
		Hierarchy:        body.Hierarchy,
		Capabilities:     body.Capabilities,
		CanApproveGrants: body.CanApproveGrants,
		ApprovalLevel:    body.ApprovalLevel,
	})
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.record(r, audit.ActionRoleCreated, role.ID, role.SpaceID, role.Code)
	httputil.WriteCreated(w, role)
}

// ListRoles handles GET /api/v1/spaces/{spaceID}/roles.
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	spaceID, ok := httputil.ParsePathStringOrError(w, r, "spaceID")
	if !ok {
		return
	}

	roles, err := h.store.ListRoles(r.Context(), spaceID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if roles == nil {
		roles = []*SpaceRole{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"roles": roles,
		"count": len(roles),
	})
}

// UpdateRole handles PATCH /api/v1/spaces/{spaceID}/roles/{id}. The body is
// a RolePatch; only provided fields change.
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRoleID(w, r)
	if !ok {
		return
	}
	var patch RolePatch
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}

	role, err := h.store.UpdateRole(r.Context(), id, patch)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.record(r, audit.ActionRoleUpdated, role.ID, role.SpaceID, role.Code)
	httputil.WriteSuccess(w, role)
}

// DeleteRole handles DELETE /api/v1/spaces/{spaceID}/roles/{id}.
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	spaceID, ok := httputil.ParsePathStringOrError(w, r, "spaceID")
	if !ok {
		return
	}
	id, ok := parseRoleID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteRole(r.Context(), id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.record(r, audit.ActionRoleDeleted, id, spaceID, "")
	httputil.WriteNoContent(w)
}

// record appends a best-effort audit entry for a role write.
func (h *Handlers) record(r *http.Request, action audit.Action, roleID int64, spaceID, code string) {
	actorID := ""
	if actor := middleware.GetActor(r); actor != nil {
		actorID = actor.UserID
	}

	entry := audit.NewEntry(actorID, action, audit.TargetRole,
		strconv.FormatInt(roleID, 10), audit.OutcomeSuccess).
		WithMetadata("space_id", spaceID)
	if code != "" {
		entry = entry.WithMetadata("code", code)
	}
	if err := h.audit.Append(r.Context(), entry); err != nil {
		h.log.WithError(err).WithField("action", action).Warn("failed to append role audit entry")
	}
}

func parseRoleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "role id must be an integer")
		return 0, false
	}
	return id, true
}
