package space

import (
	"context"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/apperrors"
)

// RoleDefinition is a seed definition for a built-in role.
type RoleDefinition struct {
	SpaceCode        string
	Code             string
	Name             string
	Hierarchy        int
	Capabilities     []string
	CanApproveGrants bool
	ApprovalLevel    ApprovalLevel
}

// DefaultRoles returns the built-in role set for the standard spaces. The
// hierarchy within a space orders roles from least to most authority.
func DefaultRoles() []RoleDefinition {
	return []RoleDefinition{
		{
			SpaceCode: "SUPPORT", Code: "SUPPORT_AGENT", Name: "Support Agent",
			Hierarchy: 1, ApprovalLevel: ApprovalNone,
			Capabilities: []string{
				"tickets.read", "tickets.create", "tickets.update",
				"tickets.assign", "tickets.close",
				"customers.read", "kb.read",
			},
		},
		{
			SpaceCode: "SUPPORT", Code: "SUPPORT_LEAD", Name: "Support Lead",
			Hierarchy: 2, CanApproveGrants: true, ApprovalLevel: ApprovalNormal,
			Capabilities: []string{
				"tickets.read", "tickets.create", "tickets.update", "tickets.delete",
				"tickets.assign", "tickets.close", "tickets.reopen", "tickets.export",
				"customers.read", "customers.update", "kb.read", "kb.manage",
				"auth.2fa_reset.review",
			},
		},
		{
			SpaceCode: "SUPPORT", Code: "SUPPORT_MANAGER", Name: "Support Manager",
			Hierarchy: 3, CanApproveGrants: true, ApprovalLevel: ApprovalSensitive,
			Capabilities: []string{
				"tickets.read", "tickets.create", "tickets.update", "tickets.delete",
				"tickets.assign", "tickets.close", "tickets.reopen", "tickets.export",
				"customers.read", "customers.update", "kb.read", "kb.manage",
				"users.export",
				"auth.2fa_reset.request", "auth.2fa_reset.review",
			},
		},
		{
			SpaceCode: "EXECUTIVE", Code: "MANAGER", Name: "Manager",
			Hierarchy: 2, CanApproveGrants: true, ApprovalLevel: ApprovalNormal,
			Capabilities: []string{
				"users.read", "users.create", "users.update",
				"roles.read", "audit.read",
			},
		},
		{
			SpaceCode: "EXECUTIVE", Code: "DIRECTOR", Name: "Director",
			Hierarchy: 3, CanApproveGrants: true, ApprovalLevel: ApprovalSensitive,
			Capabilities: []string{
				"users.read", "users.create", "users.update", "users.delete",
				"users.export", "roles.read", "roles.manage",
				"settings.read", "audit.read", "audit.export",
				"auth.2fa_reset.request", "auth.2fa_reset.review", "auth.2fa_reset.execute",
			},
		},
		{
			SpaceCode: "EXECUTIVE", Code: "VP", Name: "Vice President",
			Hierarchy: 4, CanApproveGrants: true, ApprovalLevel: ApprovalCritical,
			Capabilities: []string{
				"users.read", "users.create", "users.update", "users.delete",
				"users.export", "roles.read", "roles.manage",
				"settings.read", "settings.manage", "audit.read", "audit.export",
				"impersonate.user",
				"auth.2fa_reset.request", "auth.2fa_reset.review", "auth.2fa_reset.execute",
				"auth.impersonation.request", "auth.impersonation.review", "auth.impersonation.execute",
			},
		},
	}
}

// InitializeDefaultRoles creates any missing built-in roles for the given
// space, mapping space codes to the concrete space ID. Existing roles are
// left untouched.
func InitializeDefaultRoles(ctx context.Context, store *Store, spaceIDs map[string]string) error {
	for _, def := range DefaultRoles() {
		spaceID, ok := spaceIDs[def.SpaceCode]
		if !ok {
			continue
		}
		_, err := store.CreateRole(ctx, CreateRoleParams{
			SpaceID:          spaceID,
			Code:             def.Code,
			Name:             def.Name,
			Hierarchy:        def.Hierarchy,
			Capabilities:     def.Capabilities,
			CanApproveGrants: def.CanApproveGrants,
			ApprovalLevel:    def.ApprovalLevel,
		})
		if err != nil {
			// Already-seeded roles surface as conflicts; skip them.
			if apperrors.Is(err, apperrors.KindConflict) {
				continue
			}
			return err
		}
	}
	return nil
}
