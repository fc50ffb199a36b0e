package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/apperrors"
)

// Store persists sensitive-action requests. Status transitions go through
// the compare-and-swap helpers so concurrent writers cannot both win.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

// NewStore creates a request store.
func NewStore(db *sql.DB, log *logrus.Logger) *Store {
	return &Store{
		db:  db,
		log: log.WithField("component", "lifecycle.store"),
	}
}

const requestColumns = `id, request_type, space_id, target_user_id, requester_id, justification,
	status, required_approval_level, created_at, reviewed_by, reviewed_at, review_reason,
	executed_by, executed_at`

// insertTx writes a new request inside the caller's transaction.
func (s *Store) insertTx(ctx context.Context, tx *sql.Tx, req *Request) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sensitive_action_requests
			(id, request_type, space_id, target_user_id, requester_id, justification,
			 status, required_approval_level, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, req.ID, req.Type, req.SpaceID, req.TargetUserID, req.RequesterID,
		req.Justification, string(req.Status), req.RequiredApprovalLevel, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

// Get returns the request by ID.
func (s *Store) Get(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM sensitive_action_requests WHERE id = $1", id)
	req, err := scanRequest(row.Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.KindNotFound, "request %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// ListPending returns PENDING requests in the given spaces, oldest first.
func (s *Store) ListPending(ctx context.Context, spaceIDs []string) ([]*Request, error) {
	if len(spaceIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(spaceIDs))
	args := make([]interface{}, 0, len(spaceIDs)+1)
	args = append(args, string(StatusPending))
	for i, spaceID := range spaceIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, spaceID)
	}

	query := "SELECT " + requestColumns + ` FROM sensitive_action_requests
		WHERE status = $1 AND space_id IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY created_at ASC`

	return s.queryRequests(ctx, query, args...)
}

// CountPending returns how many requests are awaiting review.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sensitive_action_requests WHERE status = $1
	`, string(StatusPending)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending requests: %w", err)
	}
	return n, nil
}

// ListStale returns PENDING and APPROVED requests of the type created
// before the cutoff.
func (s *Store) ListStale(ctx context.Context, requestType string, cutoff time.Time) ([]*Request, error) {
	query := "SELECT " + requestColumns + ` FROM sensitive_action_requests
		WHERE request_type = $1 AND status IN ($2, $3) AND created_at < $4
		ORDER BY created_at ASC`
	return s.queryRequests(ctx, query,
		requestType, string(StatusPending), string(StatusApproved), cutoff)
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...interface{}) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []*Request
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// casReviewTx records a review verdict if and only if the request is still
// PENDING. Returns false when a concurrent transition won.
func (s *Store) casReviewTx(ctx context.Context, tx *sql.Tx, id string, to Status, reviewerID, reason string, at time.Time) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE sensitive_action_requests
		SET status = $1, reviewed_by = $2, reviewed_at = $3, review_reason = $4
		WHERE id = $5 AND status = $6
	`, string(to), reviewerID, at, nullIfEmpty(reason), id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("failed to update request status: %w", err)
	}
	return oneRowAffected(result)
}

// casExecuteTx claims execution if and only if the request is still
// APPROVED. The winner proceeds to run the executor.
func (s *Store) casExecuteTx(ctx context.Context, tx *sql.Tx, id, executorID string, at time.Time) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE sensitive_action_requests
		SET status = $1, executed_by = $2, executed_at = $3
		WHERE id = $4 AND status = $5
	`, string(StatusExecuted), executorID, at, id, string(StatusApproved))
	if err != nil {
		return false, fmt.Errorf("failed to claim execution: %w", err)
	}
	return oneRowAffected(result)
}

// casRevertExecutionTx returns a request whose executor failed to the
// APPROVED state so it can be retried.
func (s *Store) casRevertExecutionTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE sensitive_action_requests
		SET status = $1, executed_by = NULL, executed_at = NULL
		WHERE id = $2 AND status = $3
	`, string(StatusApproved), id, string(StatusExecuted))
	if err != nil {
		return false, fmt.Errorf("failed to revert execution claim: %w", err)
	}
	return oneRowAffected(result)
}

// casExpireTx expires a request if its status has not moved since it was
// selected for the sweep.
func (s *Store) casExpireTx(ctx context.Context, tx *sql.Tx, id string, from Status) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE sensitive_action_requests
		SET status = $1
		WHERE id = $2 AND status = $3
	`, string(StatusExpired), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to expire request: %w", err)
	}
	return oneRowAffected(result)
}

func oneRowAffected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanRequest(scan func(dest ...interface{}) error) (*Request, error) {
	var req Request
	var status string
	var reviewedBy, reviewReason, executedBy sql.NullString
	var reviewedAt, executedAt sql.NullTime

	err := scan(
		&req.ID, &req.Type, &req.SpaceID, &req.TargetUserID, &req.RequesterID,
		&req.Justification, &status, &req.RequiredApprovalLevel, &req.CreatedAt,
		&reviewedBy, &reviewedAt, &reviewReason, &executedBy, &executedAt,
	)
	if err != nil {
		return nil, err
	}

	req.Status = Status(status)
	if reviewedBy.Valid {
		req.ReviewedBy = &reviewedBy.String
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		req.ReviewedAt = &t
	}
	if reviewReason.Valid {
		req.ReviewReason = &reviewReason.String
	}
	if executedBy.Valid {
		req.ExecutedBy = &executedBy.String
	}
	if executedAt.Valid {
		t := executedAt.Time
		req.ExecutedAt = &t
	}
	return &req, nil
}
