package goMembership

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/goMembership/internal/limiters"
	"github.com/MrEthical07/goMembership/repository"
)

// UnlockUser clears the lockout flag and failure counters of username. It
// reports false when the user does not exist.
func (e *Engine) UnlockUser(ctx context.Context, username string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}

	app := e.applicationName(ctx)
	rec, err := e.findUser(ctx, app, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}

	rec.IsLockedOut = false
	rec.FailedPasswordAttemptCount = 0
	rec.FailedPasswordAttemptWindowStart = nil
	rec.FailedPasswordAnswerAttemptCount = 0
	rec.FailedPasswordAnswerAttemptWindowStart = nil

	if err := e.users.Update(ctx, rec, repository.WithOptimisticConcurrency()); err != nil {
		return false, e.providerError(ctx, "unlock_user", err, slog.String("username", rec.Username))
	}
	e.resetFailures(ctx, app, rec)

	e.metricInc(MetricUserUnlocked)
	e.emitAudit(ctx, auditEventUserUnlocked, true, rec.Username, rec.ID, "", nil, nil)
	return true, nil
}

// UpdateUser writes the email, comment and approval flag of user and stamps
// its activity time. The user is looked up by UserName.
func (e *Engine) UpdateUser(ctx context.Context, user MembershipUser) error {
	if err := e.ready(); err != nil {
		return err
	}

	app := e.applicationName(ctx)
	rec, err := e.findUser(ctx, app, user.UserName)
	if err != nil {
		return err
	}

	email := strings.TrimSpace(user.Email)
	if e.config.Membership.RequiresUniqueEmail && repository.FoldKey(email) != repository.FoldKey(rec.Email) {
		if email == "" {
			return ErrInvalidEmail
		}
		other, err := e.users.FindOne(ctx, repository.UserFilter{
			ApplicationName: app,
			Email:           email,
		}, repository.WaitForNonStale())
		switch {
		case err == nil && other.ID != rec.ID:
			return ErrDuplicateEmail
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return e.providerError(ctx, "update_user", err, slog.String("username", rec.Username))
		}
	}

	rec.Email = email
	rec.Comment = user.Comment
	rec.IsApproved = user.IsApproved
	rec.LastActivityDate = e.clock()

	if err := e.users.Update(ctx, rec, repository.WithOptimisticConcurrency()); err != nil {
		return e.providerError(ctx, "update_user", err, slog.String("username", rec.Username))
	}

	e.emitAudit(ctx, auditEventUserUpdated, true, rec.Username, rec.ID, "", nil, nil)
	return nil
}

// DeleteUser removes username. With deleteAllRelatedData the user's failure
// windows are cleared as well. It reports false when nothing was deleted.
func (e *Engine) DeleteUser(ctx context.Context, username string, deleteAllRelatedData bool) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}

	app := e.applicationName(ctx)
	rec, err := e.findUser(ctx, app, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := e.users.Delete(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, e.providerError(ctx, "delete_user", err, slog.String("username", rec.Username))
	}
	if deleteAllRelatedData {
		e.resetFailures(ctx, app, rec)
	}

	e.metricInc(MetricUserDeleted)
	e.emitAudit(ctx, auditEventUserDeleted, true, rec.Username, rec.ID, "", nil, func() map[string]string {
		if deleteAllRelatedData {
			return map[string]string{"related_data": "deleted"}
		}
		return nil
	})
	return true, nil
}

// recordFailure counts one failed check and locks the user when the window
// is full. Limiter outages are logged and otherwise ignored.
func (e *Engine) recordFailure(ctx context.Context, app string, rec *repository.UserRecord, kind limiters.AttemptKind) {
	attempt, err := e.attempts.RecordFailure(ctx, app, repository.FoldKey(rec.Username), kind)
	if err != nil {
		e.logger.WarnContext(ctx, "failed attempt not recorded",
			slog.String("application", app),
			slog.String("username", rec.Username),
			slog.Any("error", err),
		)
		return
	}
	if !attempt.Reached {
		return
	}

	locked := rec.Clone()
	applyLockout(locked, kind, attempt, e.clock())
	err = e.users.Update(ctx, locked, repository.WithOptimisticConcurrency())
	if errors.Is(err, repository.ErrConflict) {
		// Re-apply on the latest revision.
		var fresh *repository.UserRecord
		fresh, err = e.findUser(ctx, app, rec.Username)
		if err == nil {
			locked = fresh
			applyLockout(locked, kind, attempt, e.clock())
			err = e.users.Update(ctx, locked, repository.WithOptimisticConcurrency())
		}
	}
	if err != nil {
		e.logger.WarnContext(ctx, "user lockout not stored",
			slog.String("application", app),
			slog.String("username", rec.Username),
			slog.Any("error", err),
		)
		return
	}

	e.logger.WarnContext(ctx, "user locked out",
		slog.String("application", app),
		slog.String("username", locked.Username),
		slog.Int("failures", attempt.Count),
		slog.String("kind", string(kind)),
	)
	e.metricInc(MetricUserLockedOut)
	e.emitAudit(ctx, auditEventUserLockedOut, false, locked.Username, locked.ID, "", ErrUserLockedOut, func() map[string]string {
		return map[string]string{"kind": string(kind)}
	})
}

func applyLockout(rec *repository.UserRecord, kind limiters.AttemptKind, attempt limiters.Attempt, now time.Time) {
	start := attempt.WindowStart
	rec.IsLockedOut = true
	rec.LastLockedOutDate = &now
	switch kind {
	case limiters.KindPasswordAnswer:
		rec.FailedPasswordAnswerAttemptCount = attempt.Count
		rec.FailedPasswordAnswerAttemptWindowStart = &start
	default:
		rec.FailedPasswordAttemptCount = attempt.Count
		rec.FailedPasswordAttemptWindowStart = &start
	}
}

func (e *Engine) resetFailures(ctx context.Context, app string, rec *repository.UserRecord, kinds ...limiters.AttemptKind) {
	if err := e.attempts.Reset(ctx, app, repository.FoldKey(rec.Username), kinds...); err != nil {
		e.logger.WarnContext(ctx, "failed attempt window not cleared",
			slog.String("application", app),
			slog.String("username", rec.Username),
			slog.Any("error", err),
		)
	}
}
