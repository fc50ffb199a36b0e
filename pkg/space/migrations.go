package space

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is a single schema migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the schema for the authorization core: roles, grants,
// sensitive-action requests, and the 2FA enrollments the reset executor
// operates on. Audit storage ships its own schema (pkg/audit).
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create space_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS space_roles (
					id BIGSERIAL PRIMARY KEY,
					space_id VARCHAR(64) NOT NULL,
					code VARCHAR(100) NOT NULL,
					name VARCHAR(255) NOT NULL,
					hierarchy INTEGER NOT NULL DEFAULT 0,
					capabilities JSONB NOT NULL DEFAULT '[]',
					can_approve_grants BOOLEAN NOT NULL DEFAULT FALSE,
					approval_level VARCHAR(20) NOT NULL DEFAULT 'NONE',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE (space_id, code)
				);

				CREATE INDEX IF NOT EXISTS idx_space_roles_space_id ON space_roles(space_id);
				CREATE INDEX IF NOT EXISTS idx_space_roles_hierarchy ON space_roles(space_id, hierarchy);
			`,
		},
		{
			Version:     2,
			Description: "Create user_space_grants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_space_grants (
					id BIGSERIAL PRIMARY KEY,
					user_id VARCHAR(64) NOT NULL,
					space_id VARCHAR(64) NOT NULL,
					role_id BIGINT REFERENCES space_roles(id) ON DELETE SET NULL,
					custom_permissions JSONB NOT NULL DEFAULT '[]',
					revoked_permissions JSONB NOT NULL DEFAULT '[]',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE (user_id, space_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_space_grants_user ON user_space_grants(user_id);
				CREATE INDEX IF NOT EXISTS idx_user_space_grants_space ON user_space_grants(space_id);
			`,
		},
		{
			Version:     3,
			Description: "Create sensitive_action_requests table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sensitive_action_requests (
					id VARCHAR(36) PRIMARY KEY,
					request_type VARCHAR(50) NOT NULL,
					space_id VARCHAR(64) NOT NULL,
					target_user_id VARCHAR(64) NOT NULL,
					requester_id VARCHAR(64) NOT NULL,
					justification TEXT NOT NULL,
					status VARCHAR(20) NOT NULL,
					required_approval_level VARCHAR(20) NOT NULL,
					created_at TIMESTAMP NOT NULL,
					reviewed_by VARCHAR(64),
					reviewed_at TIMESTAMP,
					review_reason TEXT,
					executed_by VARCHAR(64),
					executed_at TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_sar_status ON sensitive_action_requests(status);
				CREATE INDEX IF NOT EXISTS idx_sar_space ON sensitive_action_requests(space_id);
				CREATE INDEX IF NOT EXISTS idx_sar_created_at ON sensitive_action_requests(created_at);
			`,
		},
		{
			Version:     4,
			Description: "Create user_mfa_methods table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_mfa_methods (
					id BIGSERIAL PRIMARY KEY,
					user_id VARCHAR(64) NOT NULL,
					method VARCHAR(20) NOT NULL,
					enrolled_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_user_mfa_methods_user ON user_mfa_methods(user_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations, recording applied versions
// in authz_migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS authz_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM authz_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range Migrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO authz_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
