package grants

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/apperrors"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/capability"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/space"
)

// Store handles user-space-grant persistence.
type Store struct {
	db          *sql.DB
	catalog     *capability.Catalog
	invalidator space.Invalidator
	log         *logrus.Entry
}

// NewStore creates a grant store backed by db. Capability codes written
// through the store are validated against catalog; the wildcard is exempt.
func NewStore(db *sql.DB, catalog *capability.Catalog, log *logrus.Logger) *Store {
	return &Store{
		db:      db,
		catalog: catalog,
		log:     log.WithField("component", "grants.store"),
	}
}

// SetInvalidator registers the cache invalidator notified on every write.
func (s *Store) SetInvalidator(inv space.Invalidator) {
	s.invalidator = inv
}

// UpsertParams are the inputs for Upsert.
type UpsertParams struct {
	UserID             string
	SpaceID            string
	RoleID             *int64
	CustomPermissions  []string
	RevokedPermissions []string
}

// Upsert creates or replaces the grant for (UserID, SpaceID).
func (s *Store) Upsert(ctx context.Context, params UpsertParams) (*UserSpaceGrant, error) {
	if params.UserID == "" || params.SpaceID == "" {
		return nil, apperrors.New(apperrors.KindValidation, "user id and space id are required")
	}

	if err := s.validateCodes(params.CustomPermissions, true); err != nil {
		return nil, err
	}
	if err := s.validateCodes(params.RevokedPermissions, false); err != nil {
		return nil, err
	}

	customJSON, err := json.Marshal(emptyIfNil(params.CustomPermissions))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal custom permissions: %w", err)
	}
	revokedJSON, err := json.Marshal(emptyIfNil(params.RevokedPermissions))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal revoked permissions: %w", err)
	}

	query := `
		INSERT INTO user_space_grants (user_id, space_id, role_id, custom_permissions, revoked_permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (user_id, space_id)
		DO UPDATE SET role_id = EXCLUDED.role_id,
		              custom_permissions = EXCLUDED.custom_permissions,
		              revoked_permissions = EXCLUDED.revoked_permissions,
		              updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	now := time.Now().UTC()
	grant := &UserSpaceGrant{
		UserID:             params.UserID,
		SpaceID:            params.SpaceID,
		RoleID:             params.RoleID,
		CustomPermissions:  emptyIfNil(params.CustomPermissions),
		RevokedPermissions: emptyIfNil(params.RevokedPermissions),
		UpdatedAt:          now,
	}

	err = s.db.QueryRowContext(ctx, query,
		grant.UserID, grant.SpaceID, grant.RoleID,
		string(customJSON), string(revokedJSON), now,
	).Scan(&grant.ID, &grant.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert grant: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id":  grant.UserID,
		"space_id": grant.SpaceID,
		"wildcard": grant.HasWildcard(),
	}).Info("grant upserted")

	s.invalidate(grant.SpaceID)
	return grant, nil
}

// Get retrieves the grant for (userID, spaceID).
func (s *Store) Get(ctx context.Context, userID, spaceID string) (*UserSpaceGrant, error) {
	query := `
		SELECT id, user_id, space_id, role_id, custom_permissions, revoked_permissions, created_at, updated_at
		FROM user_space_grants
		WHERE user_id = $1 AND space_id = $2
	`
	grant, err := scanGrant(s.db.QueryRowContext(ctx, query, userID, spaceID))
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.KindNotFound,
			"no grant for user %s in space %s", userID, spaceID).
			WithDetail("user_id", userID).
			WithDetail("space_id", spaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return grant, nil
}

// Delete removes the grant for (userID, spaceID).
func (s *Store) Delete(ctx context.Context, userID, spaceID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_space_grants WHERE user_id = $1 AND space_id = $2`,
		userID, spaceID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return apperrors.Newf(apperrors.KindNotFound,
			"no grant for user %s in space %s", userID, spaceID)
	}

	s.invalidate(spaceID)
	return nil
}

// ListBySpace returns every grant in the space ordered by user ID.
func (s *Store) ListBySpace(ctx context.Context, spaceID string) ([]*UserSpaceGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, space_id, role_id, custom_permissions, revoked_permissions, created_at, updated_at
		FROM user_space_grants
		WHERE space_id = $1
		ORDER BY user_id
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var result []*UserSpaceGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		result = append(result, grant)
	}
	return result, rows.Err()
}

// ListSpacesForUser returns the space IDs the user holds a grant in.
func (s *Store) ListSpacesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT space_id FROM user_space_grants WHERE user_id = $1 ORDER BY space_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list spaces: %w", err)
	}
	defer rows.Close()

	var spaces []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan space id: %w", err)
		}
		spaces = append(spaces, id)
	}
	return spaces, rows.Err()
}

func (s *Store) validateCodes(raw []string, allowWildcard bool) error {
	filtered := make([]string, 0, len(raw))
	for _, r := range raw {
		if r == Wildcard {
			if allowWildcard {
				continue
			}
			return apperrors.New(apperrors.KindValidation,
				"wildcard is not allowed in revoked permissions")
		}
		filtered = append(filtered, r)
	}
	_, err := s.catalog.ValidateCodes(filtered)
	return err
}

func (s *Store) invalidate(spaceID string) {
	if s.invalidator != nil {
		s.invalidator.InvalidateSpace(spaceID)
	}
}

func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// scanGrant scans a grant from a database row.
func scanGrant(scanner interface {
	Scan(dest ...interface{}) error
}) (*UserSpaceGrant, error) {
	var grant UserSpaceGrant
	var roleID sql.NullInt64
	var customJSON, revokedJSON string

	err := scanner.Scan(
		&grant.ID,
		&grant.UserID,
		&grant.SpaceID,
		&roleID,
		&customJSON,
		&revokedJSON,
		&grant.CreatedAt,
		&grant.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if roleID.Valid {
		id := roleID.Int64
		grant.RoleID = &id
	}
	if err := json.Unmarshal([]byte(customJSON), &grant.CustomPermissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal custom permissions: %w", err)
	}
	if err := json.Unmarshal([]byte(revokedJSON), &grant.RevokedPermissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal revoked permissions: %w", err)
	}

	return &grant, nil
}
