package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/apperrors"
)

// DBSink records audit entries in a relational table.
type DBSink struct {
	db *sql.DB
}

// NewDBSink creates a database-backed sink and ensures its table exists.
func NewDBSink(db *sql.DB) (*DBSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	sink := &DBSink{db: db}
	if err := sink.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_entries table: %w", err)
	}
	return sink, nil
}

func (s *DBSink) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id VARCHAR(36) PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		actor_id VARCHAR(64) NOT NULL,
		action VARCHAR(50) NOT NULL,
		target_type VARCHAR(20) NOT NULL,
		target_id VARCHAR(64) NOT NULL,
		outcome VARCHAR(20) NOT NULL,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_actor ON audit_entries(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_entries(action);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_target ON audit_entries(target_type, target_id);
	`
	_, err := s.db.Exec(query)
	return err
}

const insertEntrySQL = `
	INSERT INTO audit_entries (id, timestamp, actor_id, action, target_type, target_id, outcome, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// Append records the entry.
func (s *DBSink) Append(ctx context.Context, entry Entry) error {
	args, err := entryArgs(entry)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, insertEntrySQL, args...); err != nil {
		return apperrors.Wrap(apperrors.KindTransient, "failed to append audit entry", err)
	}
	return nil
}

// AppendTx records the entry inside a caller-owned transaction so a status
// transition and its audit entry commit or roll back together.
func (s *DBSink) AppendTx(ctx context.Context, tx *sql.Tx, entry Entry) error {
	args, err := entryArgs(entry)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, insertEntrySQL, args...); err != nil {
		return apperrors.Wrap(apperrors.KindTransient, "failed to append audit entry", err)
	}
	return nil
}

// Close is a no-op; the sink does not own the database handle.
func (s *DBSink) Close() error {
	return nil
}

// Search returns entries matching the filter, newest first.
func (s *DBSink) Search(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT id, timestamp, actor_id, action, target_type, target_id, outcome, metadata
		FROM audit_entries
		WHERE 1=1
	`
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ActorID != "" {
		conds = append(conds, "actor_id = "+arg(filter.ActorID))
	}
	if filter.Action != "" {
		conds = append(conds, "action = "+arg(string(filter.Action)))
	}
	if filter.TargetType != "" {
		conds = append(conds, "target_type = "+arg(string(filter.TargetType)))
	}
	if filter.TargetID != "" {
		conds = append(conds, "target_id = "+arg(filter.TargetID))
	}
	if filter.Since != nil {
		conds = append(conds, "timestamp >= "+arg(*filter.Since))
	}
	if filter.Until != nil {
		conds = append(conds, "timestamp <= "+arg(*filter.Until))
	}
	if len(conds) > 0 {
		query += " AND " + strings.Join(conds, " AND ")
	}

	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	query += " LIMIT " + arg(limit) + " OFFSET " + arg(filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var metadataJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorID, &e.Action, &e.TargetType, &e.TargetID, &e.Outcome, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func entryArgs(entry Entry) ([]interface{}, error) {
	var metadataJSON interface{}
	if entry.Metadata != nil {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		metadataJSON = string(data)
	}
	return []interface{}{
		entry.ID, entry.Timestamp, entry.ActorID, string(entry.Action),
		string(entry.TargetType), entry.TargetID, string(entry.Outcome), metadataJSON,
	}, nil
}
