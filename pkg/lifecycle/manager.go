package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/apperrors"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/audit"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/capability"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/lifecycle/executor"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/observability"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/space"
)

// SystemActorID is the audit actor for automated transitions (expiry sweep).
const SystemActorID = "system"

// MinJustificationLength is the shortest acceptable justification.
const MinJustificationLength = 10

// DefaultExecutionTimeout bounds how long an executor may run.
const DefaultExecutionTimeout = 30 * time.Second

// revertTimeout bounds the transaction that returns a claimed request to
// APPROVED after an executor failure.
const revertTimeout = 10 * time.Second

// Authority answers capability and approval-level questions for an actor
// in a space. *grants.Resolver satisfies it.
type Authority interface {
	Allowed(ctx context.Context, userID, spaceID string, code capability.Code) (bool, error)
	ApprovalLevel(ctx context.Context, userID, spaceID string) (space.ApprovalLevel, error)
	SpacesForUser(ctx context.Context, userID string) ([]string, error)
}

// Manager drives sensitive-action requests through their lifecycle. All
// gates (capability, approval level, self-review) are enforced here; the
// store only provides compare-and-swap persistence.
type Manager struct {
	store       *Store
	authority   Authority
	policies    *PolicyTable
	audit       audit.TxSink
	executors   *executor.Registry
	log         *logrus.Entry
	execTimeout time.Duration
	metrics     *observability.Metrics
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithExecutionTimeout bounds executor runtime.
func WithExecutionTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.execTimeout = d
		}
	}
}

// WithMetrics reports transitions, authorization decisions, and execution
// failures to the given instruments.
func WithMetrics(m *observability.Metrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// NewManager creates a lifecycle manager.
func NewManager(store *Store, authority Authority, policies *PolicyTable, auditSink audit.TxSink, registry *executor.Registry, log *logrus.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		authority:   authority,
		policies:    policies,
		audit:       auditSink,
		executors:   registry,
		log:         log.WithField("component", "lifecycle.manager"),
		execTimeout: DefaultExecutionTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the request by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Request, error) {
	return m.store.Get(ctx, id)
}

// ListPending returns the PENDING queue for the given spaces, oldest first.
func (m *Manager) ListPending(ctx context.Context, spaceIDs []string) ([]*Request, error) {
	return m.store.ListPending(ctx, spaceIDs)
}

// ListPendingFor returns the PENDING queue visible to the caller: the
// spaces they hold a grant in, optionally narrowed to the requested IDs.
// Requested spaces the caller is not a member of are dropped, so the queue
// never leaks requests from unrelated spaces.
func (m *Manager) ListPendingFor(ctx context.Context, callerID string, requested []string) ([]*Request, error) {
	member, err := m.authority.SpacesForUser(ctx, callerID)
	if err != nil {
		return nil, err
	}

	spaces := member
	if len(requested) > 0 {
		allowed := make(map[string]struct{}, len(member))
		for _, id := range member {
			allowed[id] = struct{}{}
		}
		spaces = nil
		for _, id := range requested {
			if _, ok := allowed[id]; ok {
				spaces = append(spaces, id)
			}
		}
	}
	if len(spaces) == 0 {
		return nil, nil
	}
	return m.store.ListPending(ctx, spaces)
}

// PendingCount returns how many requests are awaiting review across all
// spaces, for the pending-queue gauge.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	return m.store.CountPending(ctx)
}

// Create opens a new request in PENDING. The requester must hold the
// type's request capability and supply a meaningful justification.
func (m *Manager) Create(ctx context.Context, requesterID, spaceID, requestType, targetUserID, justification string) (*Request, error) {
	policy, ok := m.policies.Lookup(requestType)
	if !ok {
		return nil, apperrors.Newf(apperrors.KindValidation, "unknown request type %s", requestType)
	}
	if targetUserID == "" {
		return nil, apperrors.New(apperrors.KindValidation, "target user is required")
	}
	if len(strings.TrimSpace(justification)) < MinJustificationLength {
		return nil, apperrors.Newf(apperrors.KindValidation,
			"justification must be at least %d characters", MinJustificationLength)
	}

	if err := m.requireCapability(ctx, requesterID, spaceID, policy.RequestCapability(), "request", requestType); err != nil {
		return nil, err
	}

	req := &Request{
		ID:                    uuid.NewString(),
		Type:                  requestType,
		SpaceID:               spaceID,
		TargetUserID:          targetUserID,
		RequesterID:           requesterID,
		Justification:         justification,
		Status:                StatusPending,
		RequiredApprovalLevel: policy.RequiredLevel,
		CreatedAt:             time.Now().UTC(),
	}

	entry := audit.NewEntry(requesterID, audit.ActionRequestCreated, audit.TargetRequest, req.ID, audit.OutcomeSuccess).
		WithMetadata("request_type", requestType).
		WithMetadata("space_id", spaceID).
		WithMetadata("target_user_id", targetUserID)

	err := m.inTx(ctx, func(tx *sql.Tx) error {
		if err := m.store.insertTx(ctx, tx, req); err != nil {
			return err
		}
		return m.audit.AppendTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	m.observeTransition(requestType, StatusPending)
	m.log.WithFields(logrus.Fields{
		"request_id":   req.ID,
		"request_type": requestType,
		"requester_id": requesterID,
	}).Info("request created")
	return req, nil
}

// Review records an approve or reject verdict on a PENDING request. The
// reviewer must not be the requester, must hold the review capability, and
// must carry at least the request's required approval level.
func (m *Manager) Review(ctx context.Context, requestID, reviewerID string, action ReviewAction, reason string) (*Request, error) {
	if action != ReviewApprove && action != ReviewReject {
		return nil, apperrors.Newf(apperrors.KindValidation, "unknown review action %s", action)
	}

	req, err := m.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, apperrors.Newf(apperrors.KindConflict,
			"request %s is %s, only PENDING requests can be reviewed", requestID, req.Status)
	}
	if reviewerID == req.RequesterID {
		return nil, apperrors.New(apperrors.KindForbidden, "requester cannot review their own request")
	}

	policy, ok := m.policies.Lookup(req.Type)
	if !ok {
		return nil, fmt.Errorf("no policy for request type %s", req.Type)
	}
	if err := m.requireCapability(ctx, reviewerID, req.SpaceID, policy.ReviewCapability(), "review", req.Type); err != nil {
		return nil, err
	}
	if err := m.requireApprovalLevel(ctx, reviewerID, req); err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	if action == ReviewReject && reason == "" {
		return nil, apperrors.New(apperrors.KindValidation, "rejection requires a reason")
	}

	to := StatusApproved
	auditAction := audit.ActionReviewApproved
	if action == ReviewReject {
		to = StatusRejected
		auditAction = audit.ActionReviewRejected
	}
	now := time.Now().UTC()

	entry := audit.NewEntry(reviewerID, auditAction, audit.TargetRequest, req.ID, audit.OutcomeSuccess).
		WithMetadata("request_type", req.Type).
		WithMetadata("space_id", req.SpaceID)
	if reason != "" {
		entry = entry.WithMetadata("reason", reason)
	}

	err = m.inTx(ctx, func(tx *sql.Tx) error {
		won, err := m.store.casReviewTx(ctx, tx, req.ID, to, reviewerID, reason, now)
		if err != nil {
			return err
		}
		if !won {
			return apperrors.Newf(apperrors.KindConflict,
				"request %s was transitioned concurrently", req.ID)
		}
		return m.audit.AppendTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	req.Status = to
	req.ReviewedBy = &reviewerID
	req.ReviewedAt = &now
	if reason != "" {
		req.ReviewReason = &reason
	}

	m.observeTransition(req.Type, to)
	m.log.WithFields(logrus.Fields{
		"request_id":  req.ID,
		"reviewer_id": reviewerID,
		"status":      req.Status,
	}).Info("request reviewed")
	return req, nil
}

// Execute performs an APPROVED request's side effect. The EXECUTED status
// write wins before the executor runs, so concurrent callers cannot both
// trigger the side effect; the loser observes a conflict. Executor failure
// or timeout reverts the request to APPROVED for retry.
func (m *Manager) Execute(ctx context.Context, requestID, executorID string) (*Request, error) {
	req, err := m.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusApproved {
		return nil, apperrors.Newf(apperrors.KindConflict,
			"request %s is %s, only APPROVED requests can be executed", requestID, req.Status)
	}
	if executorID == req.RequesterID {
		return nil, apperrors.New(apperrors.KindForbidden, "requester cannot execute their own request")
	}

	policy, ok := m.policies.Lookup(req.Type)
	if !ok {
		return nil, fmt.Errorf("no policy for request type %s", req.Type)
	}
	if err := m.requireCapability(ctx, executorID, req.SpaceID, policy.ExecuteCapability(), "execute", req.Type); err != nil {
		return nil, err
	}
	if err := m.requireApprovalLevel(ctx, executorID, req); err != nil {
		return nil, err
	}

	exec, ok := m.executors.Get(req.Type)
	if !ok {
		return nil, fmt.Errorf("no executor registered for request type %s", req.Type)
	}

	now := time.Now().UTC()
	err = m.inTx(ctx, func(tx *sql.Tx) error {
		won, err := m.store.casExecuteTx(ctx, tx, req.ID, executorID, now)
		if err != nil {
			return err
		}
		if !won {
			return apperrors.Newf(apperrors.KindConflict,
				"request %s was transitioned concurrently", req.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if execErr := m.runExecutor(ctx, exec, req.TargetUserID); execErr != nil {
		m.revertExecution(ctx, req, executorID, execErr)
		return nil, fmt.Errorf("execution of request %s failed: %w", req.ID, execErr)
	}

	entry := audit.NewEntry(executorID, audit.ActionExecuteSucceeded, audit.TargetRequest, req.ID, audit.OutcomeSuccess).
		WithMetadata("request_type", req.Type).
		WithMetadata("space_id", req.SpaceID).
		WithMetadata("target_user_id", req.TargetUserID)
	if err := m.audit.Append(ctx, entry); err != nil {
		m.log.WithError(err).WithField("request_id", req.ID).Error("failed to append execution audit entry")
	}

	req.Status = StatusExecuted
	req.ExecutedBy = &executorID
	req.ExecutedAt = &now

	m.observeTransition(req.Type, StatusExecuted)
	m.log.WithFields(logrus.Fields{
		"request_id":  req.ID,
		"executor_id": executorID,
	}).Info("request executed")
	return req, nil
}

func (m *Manager) runExecutor(ctx context.Context, exec executor.Executor, targetUserID string) error {
	execCtx, cancel := context.WithTimeout(ctx, m.execTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- exec.Execute(execCtx, targetUserID)
	}()

	select {
	case err := <-done:
		return err
	case <-execCtx.Done():
		return apperrors.Wrap(apperrors.KindTransient, "executor timed out", execCtx.Err())
	}
}

// revertExecution returns the request to APPROVED after an executor
// failure and records execute.failed in the same transaction. The caller's
// context may already be dead (client disconnect, executor timeout), so the
// revert runs detached from it; otherwise the request stays claimed as
// EXECUTED with the side effect never performed.
func (m *Manager) revertExecution(ctx context.Context, req *Request, executorID string, execErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revertTimeout)
	defer cancel()

	entry := audit.NewEntry(executorID, audit.ActionExecuteFailed, audit.TargetRequest, req.ID, audit.OutcomeFailure).
		WithMetadata("request_type", req.Type).
		WithMetadata("error", execErr.Error())

	err := m.inTx(ctx, func(tx *sql.Tx) error {
		won, err := m.store.casRevertExecutionTx(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		if !won {
			return fmt.Errorf("request %s no longer claimed", req.ID)
		}
		return m.audit.AppendTx(ctx, tx, entry)
	})
	if err != nil {
		m.log.WithError(err).WithField("request_id", req.ID).Error("failed to revert execution claim")
		return
	}

	if m.metrics != nil {
		m.metrics.ExecutionFailuresTotal.Inc()
	}
	m.log.WithError(execErr).WithField("request_id", req.ID).Warn("execution failed, request returned to APPROVED")
}

// ExpireStale transitions PENDING and APPROVED requests older than their
// type's TTL to EXPIRED. Returns how many requests were expired.
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	expired := 0
	for _, typ := range m.policies.Types() {
		policy, _ := m.policies.Lookup(typ)
		cutoff := time.Now().UTC().Add(-policy.TTL)

		stale, err := m.store.ListStale(ctx, typ, cutoff)
		if err != nil {
			return expired, err
		}

		for _, req := range stale {
			entry := audit.NewEntry(SystemActorID, audit.ActionRequestExpired, audit.TargetRequest, req.ID, audit.OutcomeSuccess).
				WithMetadata("request_type", req.Type).
				WithMetadata("previous_status", string(req.Status))

			err := m.inTx(ctx, func(tx *sql.Tx) error {
				won, err := m.store.casExpireTx(ctx, tx, req.ID, req.Status)
				if err != nil {
					return err
				}
				if !won {
					// Transitioned between selection and sweep; leave it.
					return errSkipped
				}
				return m.audit.AppendTx(ctx, tx, entry)
			})
			if err == errSkipped {
				continue
			}
			if err != nil {
				return expired, err
			}
			m.observeTransition(typ, StatusExpired)
			expired++
		}
	}

	if expired > 0 {
		m.log.WithField("count", expired).Info("expired stale requests")
	}
	return expired, nil
}

var errSkipped = fmt.Errorf("skipped")

func (m *Manager) requireCapability(ctx context.Context, userID, spaceID string, code capability.Code, step, requestType string) error {
	allowed, err := m.authority.Allowed(ctx, userID, spaceID, code)
	if err != nil {
		return err
	}
	if allowed {
		m.observeAuthz("allowed")
		return nil
	}
	m.observeAuthz("denied")

	entry := audit.NewEntry(userID, audit.ActionAuthzDenied, audit.TargetRequest, requestType, audit.OutcomeDenied).
		WithMetadata("capability", string(code)).
		WithMetadata("space_id", spaceID).
		WithMetadata("step", step)
	if err := m.audit.Append(ctx, entry); err != nil {
		m.log.WithError(err).Warn("failed to append denial audit entry")
	}

	return apperrors.Newf(apperrors.KindForbidden, "missing capability %s", code).
		WithDetail("capability", string(code)).
		WithDetail("space_id", spaceID)
}

func (m *Manager) requireApprovalLevel(ctx context.Context, userID string, req *Request) error {
	level, err := m.authority.ApprovalLevel(ctx, userID, req.SpaceID)
	if err != nil {
		return err
	}
	if level.AtLeast(req.RequiredApprovalLevel) {
		return nil
	}
	return apperrors.Newf(apperrors.KindForbidden,
		"approval level %s is insufficient, request requires %s", level, req.RequiredApprovalLevel).
		WithDetail("held_level", level.String()).
		WithDetail("required_level", req.RequiredApprovalLevel.String())
}

func (m *Manager) observeTransition(requestType string, to Status) {
	if m.metrics == nil {
		return
	}
	m.metrics.TransitionsTotal.WithLabelValues(requestType, string(to)).Inc()
}

func (m *Manager) observeAuthz(outcome string) {
	if m.metrics == nil {
		return
	}
	m.metrics.AuthzDecisionsTotal.WithLabelValues(outcome).Inc()
}

// inTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (m *Manager) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
