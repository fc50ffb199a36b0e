package space

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/apperrors"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/capability"
)

// Store handles space-role persistence.
type Store struct {
	db          *sql.DB
	catalog     *capability.Catalog
	invalidator Invalidator
	log         *logrus.Entry
}

// NewStore creates a space-role store backed by db. All capability codes
// written through the store are validated against catalog.
func NewStore(db *sql.DB, catalog *capability.Catalog, log *logrus.Logger) *Store {
	return &Store{
		db:      db,
		catalog: catalog,
		log:     log.WithField("component", "space.store"),
	}
}

// SetInvalidator registers the cache invalidator notified on every write.
func (s *Store) SetInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// CreateRoleParams are the inputs for CreateRole.
type CreateRoleParams struct {
	SpaceID          string
	Code             string
	Name             string
	Hierarchy        int
	Capabilities     []string
	CanApproveGrants bool
	ApprovalLevel    ApprovalLevel
}

// CreateRole creates a role in a space. It fails with a validation error
// when any capability code is unknown and a conflict error when
// (spaceID, code) already exists.
func (s *Store) CreateRole(ctx context.Context, params CreateRoleParams) (*SpaceRole, error) {
	if params.SpaceID == "" || params.Code == "" {
		return nil, apperrors.New(apperrors.KindValidation, "space id and role code are required")
	}

	codes, err := s.catalog.ValidateCodes(params.Capabilities)
	if err != nil {
		return nil, err
	}

	capsJSON, err := json.Marshal(codes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	query := `
		INSERT INTO space_roles (space_id, code, name, hierarchy, capabilities, can_approve_grants, approval_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	now := time.Now().UTC()
	role := &SpaceRole{
		SpaceID:          params.SpaceID,
		Code:             params.Code,
		Name:             params.Name,
		Hierarchy:        params.Hierarchy,
		Capabilities:     codes,
		CanApproveGrants: params.CanApproveGrants,
		ApprovalLevel:    params.ApprovalLevel,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.db.QueryRowContext(ctx, query,
		role.SpaceID, role.Code, role.Name, role.Hierarchy,
		string(capsJSON), role.CanApproveGrants, role.ApprovalLevel, now, now,
	).Scan(&role.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Newf(apperrors.KindConflict,
				"role %q already exists in space %s", role.Code, role.SpaceID).
				WithDetail("space_id", role.SpaceID).
				WithDetail("code", role.Code)
		}
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"space_id": role.SpaceID,
		"role":     role.Code,
		"level":    role.ApprovalLevel.String(),
	}).Info("role created")

	s.invalidate(role.SpaceID)
	return role, nil
}

// UpdateRole applies a partial update to a role. Capability codes in the
// patch are validated the same way as on create.
func (s *Store) UpdateRole(ctx context.Context, id int64, patch RolePatch) (*SpaceRole, error) {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		role.Name = *patch.Name
	}
	if patch.Hierarchy != nil {
		role.Hierarchy = *patch.Hierarchy
	}
	if patch.CanApproveGrants != nil {
		role.CanApproveGrants = *patch.CanApproveGrants
	}
	if patch.ApprovalLevel != nil {
		role.ApprovalLevel = *patch.ApprovalLevel
	}
	if patch.Capabilities != nil {
		codes, err := s.catalog.ValidateCodes(*patch.Capabilities)
		if err != nil {
			return nil, err
		}
		role.Capabilities = codes
	}

	capsJSON, err := json.Marshal(role.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	query := `
		UPDATE space_roles
		SET name = $1, hierarchy = $2, capabilities = $3, can_approve_grants = $4, approval_level = $5, updated_at = $6
		WHERE id = $7
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		role.Name, role.Hierarchy, string(capsJSON),
		role.CanApproveGrants, role.ApprovalLevel, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return nil, apperrors.Newf(apperrors.KindNotFound, "role %d not found", id)
	}

	role.UpdatedAt = now
	s.invalidate(role.SpaceID)
	return role, nil
}

// GetRole retrieves a role by ID.
func (s *Store) GetRole(ctx context.Context, id int64) (*SpaceRole, error) {
	query := `
		SELECT id, space_id, code, name, hierarchy, capabilities, can_approve_grants, approval_level, created_at, updated_at
		FROM space_roles
		WHERE id = $1
	`
	role, err := scanRole(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.KindNotFound, "role %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles returns the roles of a space ordered by hierarchy ascending.
func (s *Store) ListRoles(ctx context.Context, spaceID string) ([]*SpaceRole, error) {
	query := `
		SELECT id, space_id, code, name, hierarchy, capabilities, can_approve_grants, approval_level, created_at, updated_at
		FROM space_roles
		WHERE space_id = $1
		ORDER BY hierarchy ASC
	`
	rows, err := s.db.QueryContext(ctx, query, spaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*SpaceRole
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRolesByIDs fetches several roles in one round trip. Missing IDs are
// skipped, not errors; membership rows can outlive deleted roles.
func (s *Store) GetRolesByIDs(ctx context.Context, ids []int64) ([]*SpaceRole, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, space_id, code, name, hierarchy, capabilities, can_approve_grants, approval_level, created_at, updated_at
		FROM space_roles
		WHERE id IN (%s)
	`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get roles: %w", err)
	}
	defer rows.Close()

	var roles []*SpaceRole
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// DeleteRole removes a role. Grants referencing it fall back to custom
// permissions only.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM space_roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return apperrors.Newf(apperrors.KindNotFound, "role %d not found", id)
	}

	s.log.WithFields(logrus.Fields{
		"space_id": role.SpaceID,
		"role":     role.Code,
	}).Info("role deleted")

	s.invalidate(role.SpaceID)
	return nil
}

func (s *Store) invalidate(spaceID string) {
	if s.invalidator != nil {
		s.invalidator.InvalidateSpace(spaceID)
	}
}

// isUniqueViolation detects a unique-constraint violation from postgres
// (class 23505) or sqlite (used by tests).
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// scanRole scans a role from a database row.
func scanRole(scanner interface {
	Scan(dest ...interface{}) error
}) (*SpaceRole, error) {
	var role SpaceRole
	var capsJSON string

	err := scanner.Scan(
		&role.ID,
		&role.SpaceID,
		&role.Code,
		&role.Name,
		&role.Hierarchy,
		&capsJSON,
		&role.CanApproveGrants,
		&role.ApprovalLevel,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if capsJSON != "" {
		if err := json.Unmarshal([]byte(capsJSON), &role.Capabilities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
		}
	}
	if role.Capabilities == nil {
		role.Capabilities = []capability.Code{}
	}

	return &role, nil
}
