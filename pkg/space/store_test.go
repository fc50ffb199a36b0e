package space

import (
	"context"
	"database/sql"
	"io"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/apperrors"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/capability"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE space_roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			space_id TEXT NOT NULL,
			code TEXT NOT NULL,
			name TEXT NOT NULL,
			hierarchy INTEGER NOT NULL DEFAULT 0,
			capabilities TEXT NOT NULL DEFAULT '[]',
			can_approve_grants INTEGER NOT NULL DEFAULT 0,
			approval_level TEXT NOT NULL DEFAULT 'NONE',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (space_id, code)
		);
	`)
	require.NoError(t, err)
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(setupTestDB(t), capability.DefaultCatalog(), testLogger())
}

func TestApprovalLevelOrdering(t *testing.T) {
	assert.True(t, ApprovalCritical.AtLeast(ApprovalSensitive))
	assert.True(t, ApprovalSensitive.AtLeast(ApprovalSensitive))
	assert.False(t, ApprovalNormal.AtLeast(ApprovalSensitive))
	assert.False(t, ApprovalNone.AtLeast(ApprovalNormal))
}

func TestParseApprovalLevel(t *testing.T) {
	for _, name := range []string{"NONE", "NORMAL", "SENSITIVE", "CRITICAL"} {
		level, err := ParseApprovalLevel(name)
		require.NoError(t, err)
		assert.Equal(t, name, level.String())
	}
	_, err := ParseApprovalLevel("SUPER")
	require.Error(t, err)
}

func TestCreateRole(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	role, err := store.CreateRole(ctx, CreateRoleParams{
		SpaceID:       "space-support",
		Code:          "SUPPORT_AGENT",
		Name:          "Support Agent",
		Hierarchy:     1,
		Capabilities:  []string{"tickets.read", "kb.read"},
		ApprovalLevel: ApprovalNone,
	})
	require.NoError(t, err)
	assert.NotZero(t, role.ID)
	assert.True(t, role.HasCapability("tickets.read"))
	assert.False(t, role.HasCapability("tickets.delete"))
}

func TestCreateRole_UnknownCapability(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateRole(context.Background(), CreateRoleParams{
		SpaceID:      "space-support",
		Code:         "BROKEN",
		Name:         "Broken",
		Capabilities: []string{"tickets.read", "ghosts.summon"},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Contains(t, apperrors.DetailsOf(err), "ghosts.summon")
}

func TestCreateRole_DuplicateCode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	params := CreateRoleParams{
		SpaceID:      "space-support",
		Code:         "SUPPORT_AGENT",
		Name:         "Support Agent",
		Capabilities: []string{"tickets.read"},
	}
	_, err := store.CreateRole(ctx, params)
	require.NoError(t, err)

	_, err = store.CreateRole(ctx, params)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestUpdateRole(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	role, err := store.CreateRole(ctx, CreateRoleParams{
		SpaceID:       "space-support",
		Code:          "SUPPORT_LEAD",
		Name:          "Support Lead",
		Hierarchy:     2,
		Capabilities:  []string{"tickets.read"},
		ApprovalLevel: ApprovalNormal,
	})
	require.NoError(t, err)

	newLevel := ApprovalSensitive
	newCaps := []string{"tickets.read", "tickets.export"}
	updated, err := store.UpdateRole(ctx, role.ID, RolePatch{
		ApprovalLevel: &newLevel,
		Capabilities:  &newCaps,
	})
	require.NoError(t, err)
	assert.Equal(t, ApprovalSensitive, updated.ApprovalLevel)
	assert.Len(t, updated.Capabilities, 2)
	// Untouched fields survive the patch.
	assert.Equal(t, "Support Lead", updated.Name)
	assert.Equal(t, 2, updated.Hierarchy)

	reread, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalSensitive, reread.ApprovalLevel)
}

func TestUpdateRole_UnknownCapability(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	role, err := store.CreateRole(ctx, CreateRoleParams{
		SpaceID:      "space-support",
		Code:         "SUPPORT_LEAD",
		Name:         "Support Lead",
		Capabilities: []string{"tickets.read"},
	})
	require.NoError(t, err)

	bad := []string{"not.registered"}
	_, err = store.UpdateRole(ctx, role.ID, RolePatch{Capabilities: &bad})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestGetRole_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetRole(context.Background(), 9999)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestListRoles_OrderedByHierarchy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, def := range []struct {
		code      string
		hierarchy int
	}{
		{"SUPPORT_MANAGER", 3},
		{"SUPPORT_AGENT", 1},
		{"SUPPORT_LEAD", 2},
	} {
		_, err := store.CreateRole(ctx, CreateRoleParams{
			SpaceID:      "space-support",
			Code:         def.code,
			Name:         def.code,
			Hierarchy:    def.hierarchy,
			Capabilities: []string{"tickets.read"},
		})
		require.NoError(t, err)
	}

	roles, err := store.ListRoles(ctx, "space-support")
	require.NoError(t, err)
	require.Len(t, roles, 3)
	assert.Equal(t, "SUPPORT_AGENT", roles[0].Code)
	assert.Equal(t, "SUPPORT_LEAD", roles[1].Code)
	assert.Equal(t, "SUPPORT_MANAGER", roles[2].Code)
}

func TestDeleteRole(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	role, err := store.CreateRole(ctx, CreateRoleParams{
		SpaceID:      "space-support",
		Code:         "TEMP",
		Name:         "Temp",
		Capabilities: []string{"tickets.read"},
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteRole(ctx, role.ID))
	_, err = store.GetRole(ctx, role.ID)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

type recordingInvalidator struct {
	spaces []string
}

func (r *recordingInvalidator) InvalidateSpace(spaceID string) {
	r.spaces = append(r.spaces, spaceID)
}

func TestStoreWrites_NotifyInvalidator(t *testing.T) {
	store := newTestStore(t)
	inv := &recordingInvalidator{}
	store.SetInvalidator(inv)
	ctx := context.Background()

	role, err := store.CreateRole(ctx, CreateRoleParams{
		SpaceID:      "space-a",
		Code:         "R1",
		Name:         "R1",
		Capabilities: []string{"tickets.read"},
	})
	require.NoError(t, err)

	name := "renamed"
	_, err = store.UpdateRole(ctx, role.ID, RolePatch{Name: &name})
	require.NoError(t, err)

	require.NoError(t, store.DeleteRole(ctx, role.ID))
	assert.Equal(t, []string{"space-a", "space-a", "space-a"}, inv.spaces)
}

func TestDefaultRoles_CapabilitiesAreRegistered(t *testing.T) {
	catalog := capability.DefaultCatalog()
	for _, def := range DefaultRoles() {
		_, err := catalog.ValidateCodes(def.Capabilities)
		require.NoError(t, err, "role %s", def.Code)
	}
}
