package executor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/apperrors"
)

// TypeTwoFactorReset is the request type handled by TwoFactorResetExecutor.
const TypeTwoFactorReset = "2FA_RESET"

// TwoFactorResetExecutor removes the target user's 2FA enrollments and
// revokes their active sessions so a hijacked session cannot outlive the
// reset. Both steps succeed trivially when there is nothing to remove,
// which makes re-runs safe.
type TwoFactorResetExecutor struct {
	db    *sql.DB
	redis *redis.Client
	log   *logrus.Entry
}

// NewTwoFactorResetExecutor creates the 2FA reset executor.
func NewTwoFactorResetExecutor(db *sql.DB, redisClient *redis.Client, log *logrus.Logger) *TwoFactorResetExecutor {
	return &TwoFactorResetExecutor{
		db:    db,
		redis: redisClient,
		log:   log.WithField("component", "executor.2fa_reset"),
	}
}

// Type implements Executor.
func (e *TwoFactorResetExecutor) Type() string {
	return TypeTwoFactorReset
}

// Execute implements Executor.
func (e *TwoFactorResetExecutor) Execute(ctx context.Context, targetUserID string) error {
	result, err := e.db.ExecContext(ctx,
		"DELETE FROM user_mfa_methods WHERE user_id = $1", targetUserID)
	if err != nil {
		return fmt.Errorf("failed to remove 2fa enrollments: %w", err)
	}
	removed, _ := result.RowsAffected()

	if err := e.revokeSessions(ctx, targetUserID); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"target_user_id":      targetUserID,
		"enrollments_removed": removed,
	}).Info("2fa reset executed")
	return nil
}

func (e *TwoFactorResetExecutor) revokeSessions(ctx context.Context, targetUserID string) error {
	key := fmt.Sprintf("sessions:%s", targetUserID)

	sessions, err := e.redis.SMembers(ctx, key).Result()
	if err != nil {
		return apperrors.Wrap(apperrors.KindTransient, "failed to list active sessions", err)
	}
	if len(sessions) == 0 {
		return nil
	}

	pipe := e.redis.Pipeline()
	for _, session := range sessions {
		pipe.Del(ctx, fmt.Sprintf("session:%s", session))
	}
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Wrap(apperrors.KindTransient, "failed to revoke sessions", err)
	}
	return nil
}
