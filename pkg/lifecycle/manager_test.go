package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/apperrors"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/audit"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/capability"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/grants"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/lifecycle/executor"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/space"
)

const testSpace = "space-support"

// fakeExecutor counts invocations and fails on demand.
type fakeExecutor struct {
	calls int32
	mu    sync.Mutex
	err   error
	delay time.Duration
}

func (f *fakeExecutor) Type() string { return "2FA_RESET" }

func (f *fakeExecutor) Execute(ctx context.Context, targetUserID string) error {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeExecutor) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeExecutor) invocations() int {
	return int(atomic.LoadInt32(&f.calls))
}

type env struct {
	db      *sql.DB
	manager *Manager
	sink    *audit.DBSink
	exec    *fakeExecutor
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// setupEnv wires the full stack on an in-memory database: role and grant
// stores, the resolver, the audit sink, and a fake executor. Personas:
// agent-1 (SUPPORT_AGENT, no 2FA capabilities), lead-1 (SUPPORT_LEAD,
// review capability but NORMAL authority), manager-1 and manager-2
// (SUPPORT_MANAGER, full 2FA capabilities at SENSITIVE), architect-1
// (wildcard grant).
func setupEnv(t *testing.T, opts ...ManagerOption) *env {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
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

		CREATE TABLE user_space_grants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			space_id TEXT NOT NULL,
			role_id INTEGER,
			custom_permissions TEXT NOT NULL DEFAULT '[]',
			revoked_permissions TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (user_id, space_id)
		);

		CREATE TABLE sensitive_action_requests (
			id TEXT PRIMARY KEY,
			request_type TEXT NOT NULL,
			space_id TEXT NOT NULL,
			target_user_id TEXT NOT NULL,
			requester_id TEXT NOT NULL,
			justification TEXT NOT NULL,
			status TEXT NOT NULL,
			required_approval_level TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			reviewed_by TEXT,
			reviewed_at TIMESTAMP,
			review_reason TEXT,
			executed_by TEXT,
			executed_at TIMESTAMP
		);
	`)
	require.NoError(t, err)

	log := testLogger()
	catalog := capability.DefaultCatalog()
	roleStore := space.NewStore(db, catalog, log)
	grantStore := grants.NewStore(db, catalog, log)
	resolver := grants.NewResolver(grantStore, roleStore, log)

	ctx := context.Background()
	roles := map[string]struct {
		caps  []string
		level space.ApprovalLevel
	}{
		"SUPPORT_AGENT": {
			caps:  []string{"tickets.read", "kb.read"},
			level: space.ApprovalNone,
		},
		"SUPPORT_LEAD": {
			caps:  []string{"tickets.read", "auth.2fa_reset.review"},
			level: space.ApprovalNormal,
		},
		"SUPPORT_MANAGER": {
			caps: []string{
				"auth.2fa_reset.request", "auth.2fa_reset.review", "auth.2fa_reset.execute",
			},
			level: space.ApprovalSensitive,
		},
	}
	roleIDs := make(map[string]int64)
	for _, code := range []string{"SUPPORT_AGENT", "SUPPORT_LEAD", "SUPPORT_MANAGER"} {
		def := roles[code]
		role, err := roleStore.CreateRole(ctx, space.CreateRoleParams{
			SpaceID:       testSpace,
			Code:          code,
			Name:          code,
			Capabilities:  def.caps,
			ApprovalLevel: def.level,
		})
		require.NoError(t, err)
		roleIDs[code] = role.ID
	}

	memberships := map[string]string{
		"agent-1":   "SUPPORT_AGENT",
		"lead-1":    "SUPPORT_LEAD",
		"manager-1": "SUPPORT_MANAGER",
		"manager-2": "SUPPORT_MANAGER",
	}
	for userID, roleCode := range memberships {
		roleID := roleIDs[roleCode]
		_, err := grantStore.Upsert(ctx, grants.UpsertParams{
			UserID:  userID,
			SpaceID: testSpace,
			RoleID:  &roleID,
		})
		require.NoError(t, err)
	}
	_, err = grantStore.Upsert(ctx, grants.UpsertParams{
		UserID:            "architect-1",
		SpaceID:           testSpace,
		CustomPermissions: []string{grants.Wildcard},
	})
	require.NoError(t, err)

	sink, err := audit.NewDBSink(db)
	require.NoError(t, err)

	policies, err := NewPolicyTable(DefaultPolicies())
	require.NoError(t, err)

	exec := &fakeExecutor{}
	registry, err := executor.NewRegistry(exec)
	require.NoError(t, err)

	manager := NewManager(NewStore(db, log), resolver, policies, sink, registry, log, opts...)
	return &env{db: db, manager: manager, sink: sink, exec: exec}
}

func (e *env) auditCount(t *testing.T, targetID string, action audit.Action) int {
	t.Helper()
	entries, err := e.sink.Search(context.Background(), audit.Filter{
		TargetID: targetID,
		Action:   action,
	})
	require.NoError(t, err)
	return len(entries)
}

func (e *env) createPending(t *testing.T) *Request {
	t.Helper()
	req, err := e.manager.Create(context.Background(),
		"manager-1", testSpace, "2FA_RESET", "victim-1", "lost device, verified via phone")
	require.NoError(t, err)
	return req
}

func (e *env) createApproved(t *testing.T) *Request {
	t.Helper()
	req := e.createPending(t)
	req, err := e.manager.Review(context.Background(), req.ID, "manager-2", ReviewApprove, "")
	require.NoError(t, err)
	return req
}

func TestCreate_WithoutCapabilityForbidden(t *testing.T) {
	e := setupEnv(t)

	_, err := e.manager.Create(context.Background(),
		"agent-1", testSpace, "2FA_RESET", "victim-1", "lost device, verified via phone")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	// The denial itself is audited.
	assert.Equal(t, 1, e.auditCount(t, "2FA_RESET", audit.ActionAuthzDenied))
}

func TestCreate(t *testing.T) {
	e := setupEnv(t)

	req := e.createPending(t)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, space.ApprovalSensitive, req.RequiredApprovalLevel)
	assert.Equal(t, "manager-1", req.RequesterID)
	assert.Equal(t, 1, e.auditCount(t, req.ID, audit.ActionRequestCreated))

	stored, err := e.manager.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestCreate_Validation(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	_, err := e.manager.Create(ctx, "manager-1", testSpace, "ACCOUNT_DELETE", "victim-1", "lost device, verified")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = e.manager.Create(ctx, "manager-1", testSpace, "2FA_RESET", "", "lost device, verified")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = e.manager.Create(ctx, "manager-1", testSpace, "2FA_RESET", "victim-1", "short")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestReview_ApprovalLevelGate(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	req := e.createPending(t)

	// Holds the review capability but only NORMAL authority.
	_, err := e.manager.Review(ctx, req.ID, "lead-1", ReviewApprove, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	details := apperrors.DetailsOf(err)
	assert.Equal(t, "NORMAL", details["held_level"])
	assert.Equal(t, "SENSITIVE", details["required_level"])

	// SENSITIVE authority passes.
	reviewed, err := e.manager.Review(ctx, req.ID, "manager-2", ReviewApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, reviewed.Status)
	require.NotNil(t, reviewed.ReviewedBy)
	assert.Equal(t, "manager-2", *reviewed.ReviewedBy)
	assert.Equal(t, 1, e.auditCount(t, req.ID, audit.ActionReviewApproved))
}

func TestReview_WithoutCapabilityForbidden(t *testing.T) {
	e := setupEnv(t)
	req := e.createPending(t)

	_, err := e.manager.Review(context.Background(), req.ID, "agent-1", ReviewApprove, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
}

func TestReview_SelfReviewForbidden(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	req := e.createPending(t)

	_, err := e.manager.Review(ctx, req.ID, "manager-1", ReviewApprove, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	// A wildcard grant does not bypass the separation of duties.
	wreq, err := e.manager.Create(ctx, "architect-1", testSpace, "2FA_RESET", "victim-2", "compromised account, verified")
	require.NoError(t, err)
	_, err = e.manager.Review(ctx, wreq.ID, "architect-1", ReviewApprove, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
}

func TestReview_WildcardGrantCanApprove(t *testing.T) {
	e := setupEnv(t)
	req := e.createPending(t)

	reviewed, err := e.manager.Review(context.Background(), req.ID, "architect-1", ReviewApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, reviewed.Status)
}

func TestReview_RejectRequiresReason(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	req := e.createPending(t)

	_, err := e.manager.Review(ctx, req.ID, "manager-2", ReviewReject, "  ")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	rejected, err := e.manager.Review(ctx, req.ID, "manager-2", ReviewReject, "target identity not verified")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	require.NotNil(t, rejected.ReviewReason)
	assert.Equal(t, "target identity not verified", *rejected.ReviewReason)
	assert.Equal(t, 1, e.auditCount(t, req.ID, audit.ActionReviewRejected))
}

func TestReview_TerminalStatusConflict(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	req := e.createPending(t)

	_, err := e.manager.Review(ctx, req.ID, "manager-2", ReviewReject, "not verified")
	require.NoError(t, err)

	_, err = e.manager.Review(ctx, req.ID, "manager-2", ReviewApprove, "")
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	_, err = e.manager.Execute(ctx, req.ID, "manager-2")
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestExecute(t *testing.T) {
	e := setupEnv(t)
	req := e.createApproved(t)

	executed, err := e.manager.Execute(context.Background(), req.ID, "manager-2")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, executed.Status)
	require.NotNil(t, executed.ExecutedBy)
	assert.Equal(t, "manager-2", *executed.ExecutedBy)
	assert.Equal(t, 1, e.exec.invocations())

	// Exactly one audit entry per transition.
	assert.Equal(t, 1, e.auditCount(t, req.ID, audit.ActionRequestCreated))
	assert.Equal(t, 1, e.auditCount(t, req.ID, audit.ActionReviewApproved))
	assert.Equal(t, 1, e.auditCount(t, req.ID, audit.ActionExecuteSucceeded))
}

func TestExecute_PendingConflict(t *testing.T) {
	e := setupEnv(t)
	req := e.createPending(t)

	_, err := e.manager.Execute(context.Background(), req.ID, "manager-2")
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	assert.Zero(t, e.exec.invocations())
}

func TestExecute_SelfExecuteForbidden(t *testing.T) {
	e := setupEnv(t)
	req := e.createApproved(t)

	_, err := e.manager.Execute(context.Background(), req.ID, "manager-1")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	assert.Zero(t, e.exec.invocations())
}

func TestExecute_ExactlyOnceUnderConcurrency(t *testing.T) {
	e := setupEnv(t)
	req := e.createApproved(t)

	const callers = 8
	results := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.manager.Execute(context.Background(), req.ID, "manager-2")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, conflicted int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case apperrors.Is(err, apperrors.KindConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, conflicted)
	assert.Equal(t, 1, e.exec.invocations())
}

func TestExecute_FailureRevertsAndStaysRetryable(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	req := e.createApproved(t)

	e.exec.setErr(errors.New("downstream unavailable"))
	_, err := e.manager.Execute(ctx, req.ID, "manager-2")
	require.Error(t, err)

	stored, err := e.manager.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, stored.Status)
	assert.Nil(t, stored.ExecutedBy)
	assert.Equal(t, 1, e.auditCount(t, req.ID, audit.ActionExecuteFailed))

	// The retry succeeds once the downstream recovers.
	e.exec.setErr(nil)
	executed, err := e.manager.Execute(ctx, req.ID, "manager-2")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, executed.Status)
	assert.Equal(t, 2, e.exec.invocations())
}

func TestExecute_TimeoutReverts(t *testing.T) {
	e := setupEnv(t, WithExecutionTimeout(30*time.Millisecond))
	ctx := context.Background()
	req := e.createApproved(t)

	e.exec.delay = 300 * time.Millisecond
	_, err := e.manager.Execute(ctx, req.ID, "manager-2")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindTransient, apperrors.KindOf(err))

	// The revert races the still-sleeping executor goroutine; wait it out.
	time.Sleep(350 * time.Millisecond)
	stored, err := e.manager.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, stored.Status)
}

func TestExecute_CallerCancellationReverts(t *testing.T) {
	e := setupEnv(t)
	req := e.createApproved(t)

	e.exec.delay = 300 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := e.manager.Execute(ctx, req.ID, "manager-2")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindTransient, apperrors.KindOf(err))

	// The revert must land even though the caller's context is dead; wait
	// out the executor goroutine still sleeping in the background.
	time.Sleep(350 * time.Millisecond)
	stored, err := e.manager.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, stored.Status)
	assert.Nil(t, stored.ExecutedBy)
	assert.Equal(t, 1, e.auditCount(t, req.ID, audit.ActionExecuteFailed))
}

func TestListPendingFor_ScopedToCallerSpaces(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	req := e.createPending(t)

	// A member with no filter sees their spaces' queue.
	visible, err := e.manager.ListPendingFor(ctx, "manager-2", nil)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, req.ID, visible[0].ID)

	// Requested spaces are intersected with the caller's grants.
	visible, err = e.manager.ListPendingFor(ctx, "manager-2", []string{testSpace, "space-finance"})
	require.NoError(t, err)
	assert.Len(t, visible, 1)

	// An actor with no grant anywhere sees nothing, even when asking for a
	// space by ID.
	visible, err = e.manager.ListPendingFor(ctx, "outsider-1", []string{testSpace})
	require.NoError(t, err)
	assert.Empty(t, visible)
}

func TestListPending(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	first := e.createPending(t)
	second, err := e.manager.Create(ctx, "manager-1", testSpace, "2FA_RESET", "victim-2", "lost device, verified via phone")
	require.NoError(t, err)
	_, err = e.manager.Review(ctx, second.ID, "manager-2", ReviewReject, "not verified")
	require.NoError(t, err)

	pending, err := e.manager.ListPending(ctx, []string{testSpace})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)

	none, err := e.manager.ListPending(ctx, []string{"space-finance"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestExpireStale(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	stalePending := e.createPending(t)
	staleApproved := e.createApproved(t)
	fresh := e.createPending(t)
	rejected, err := e.manager.Create(ctx, "manager-1", testSpace, "2FA_RESET", "victim-3", "lost device, verified via phone")
	require.NoError(t, err)
	_, err = e.manager.Review(ctx, rejected.ID, "manager-2", ReviewReject, "not verified")
	require.NoError(t, err)

	backdate := time.Now().UTC().Add(-80 * time.Hour)
	for _, id := range []string{stalePending.ID, staleApproved.ID, rejected.ID} {
		_, err := e.db.Exec(
			"UPDATE sensitive_action_requests SET created_at = $1 WHERE id = $2", backdate, id)
		require.NoError(t, err)
	}

	count, err := e.manager.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, tc := range []struct {
		id   string
		want Status
	}{
		{stalePending.ID, StatusExpired},
		{staleApproved.ID, StatusExpired},
		{fresh.ID, StatusPending},
		{rejected.ID, StatusRejected},
	} {
		stored, err := e.manager.Get(ctx, tc.id)
		require.NoError(t, err)
		assert.Equal(t, tc.want, stored.Status, "request %s", tc.id)
	}

	assert.Equal(t, 1, e.auditCount(t, stalePending.ID, audit.ActionRequestExpired))
	assert.Equal(t, 1, e.auditCount(t, staleApproved.ID, audit.ActionRequestExpired))

	// A second sweep finds nothing.
	count, err = e.manager.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
