package goMembership

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/MrEthical07/goMembership/internal"
	"github.com/MrEthical07/goMembership/repository"
)

const maxSessionIDLength = 80

// NewSessionID returns a random 24 character session id. Any non-empty id
// up to 80 bytes is accepted by the session operations.
func NewSessionID() (string, error) {
	return internal.NewSessionID()
}

func validSessionID(id string) error {
	if id == "" || len(id) > maxSessionIDLength {
		return ErrInvalidSessionID
	}
	return nil
}

func (e *Engine) sessionFilter(ctx context.Context, id string) repository.SessionFilter {
	return repository.SessionFilter{
		ApplicationName: e.applicationName(ctx),
		ID:              id,
	}
}

func (e *Engine) sessionTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return e.config.SessionState.Timeout
	}
	return timeout
}

func (e *Engine) sessionProviderError(ctx context.Context, op, id string, err error) error {
	return e.providerError(ctx, op, err, slog.String("session_id", id))
}

// Get reads session id. A locked session reports Locked with the holder's
// LockID and LockAge and no items. An expired session is deleted and
// reported as not found. With exclusive, an unlocked session is locked
// under a new LockID; losing that race returns ErrLockConflict.
func (e *Engine) Get(ctx context.Context, id string, exclusive bool) (*SessionItem, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := validSessionID(id); err != nil {
		return nil, err
	}

	rec, err := e.sessions.FindOne(ctx, e.sessionFilter(ctx, id), repository.WaitForNonStale())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &SessionItem{Found: false}, nil
		}
		return nil, e.sessionProviderError(ctx, "session_get", id, err)
	}

	now := e.clock()
	if rec.IsLocked {
		e.metricInc(MetricSessionLockBusy)
		return &SessionItem{
			Found:   true,
			Locked:  true,
			LockAge: now.Sub(rec.LockDate),
			LockID:  rec.LockID,
			Actions: rec.Flags,
			Timeout: rec.Timeout,
		}, nil
	}

	if rec.Expired(now) {
		err := e.sessions.Delete(ctx, rec, repository.WithOptimisticConcurrency())
		if err != nil && !errors.Is(err, repository.ErrNotFound) && !errors.Is(err, repository.ErrConflict) {
			return nil, e.sessionProviderError(ctx, "session_expire", id, err)
		}
		e.metricInc(MetricSessionExpired)
		return &SessionItem{Found: false}, nil
	}

	item := &SessionItem{
		Found:   true,
		Items:   maps.Clone(rec.Items),
		LockID:  rec.LockID,
		Actions: rec.Flags,
		Timeout: rec.Timeout,
	}
	if item.Items == nil || rec.Flags == repository.FlagsInitializeItem {
		item.Items = map[string]string{}
	}
	if !exclusive {
		return item, nil
	}

	rec.IsLocked = true
	rec.LockID++
	rec.LockDate = now
	rec.Flags = repository.FlagsNone
	if err := e.sessions.Update(ctx, rec, repository.WithOptimisticConcurrency()); err != nil {
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
			return nil, e.lockConflict(ctx, id)
		}
		return nil, e.sessionProviderError(ctx, "session_lock", id, err)
	}

	item.LockID = rec.LockID
	e.metricInc(MetricSessionLockAcquired)
	return item, nil
}

// ReleaseExclusive unlocks session id when lockID is the current holder's
// and restarts its timeout.
func (e *Engine) ReleaseExclusive(ctx context.Context, id string, lockID int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := validSessionID(id); err != nil {
		return err
	}

	rec, err := e.lockedSession(ctx, id, lockID)
	if err != nil {
		return err
	}

	rec.IsLocked = false
	rec.ExpireDate = e.clock().Add(e.sessionTimeout(rec.Timeout))
	if err := e.writeLocked(ctx, id, rec); err != nil {
		return err
	}
	e.metricInc(MetricSessionReleased)
	return nil
}

// SetAndReleaseExclusive stores items and releases the lock. With isNew the
// session is created; a live session with the same id fails with
// ErrSessionAlreadyExists and an expired one is replaced. Otherwise lockID
// must be the current holder's.
func (e *Engine) SetAndReleaseExclusive(ctx context.Context, id string, items map[string]string, lockID int, isNew bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := validSessionID(id); err != nil {
		return err
	}

	if isNew {
		return e.insertSession(ctx, id, items, lockID)
	}

	rec, err := e.lockedSession(ctx, id, lockID)
	if err != nil {
		return err
	}

	rec.Items = maps.Clone(items)
	if rec.Items == nil {
		rec.Items = map[string]string{}
	}
	rec.IsLocked = false
	rec.Flags = repository.FlagsNone
	rec.ExpireDate = e.clock().Add(e.sessionTimeout(rec.Timeout))
	if err := e.writeLocked(ctx, id, rec); err != nil {
		return err
	}
	e.metricInc(MetricSessionReleased)
	return nil
}

func (e *Engine) insertSession(ctx context.Context, id string, items map[string]string, lockID int) error {
	now := e.clock()
	timeout := e.sessionTimeout(0)
	rec := &repository.SessionRecord{
		ID:              repository.SessionRecordID(id),
		ApplicationName: e.applicationName(ctx),
		CreationDate:    now,
		ExpireDate:      now.Add(timeout),
		LockID:          lockID,
		Timeout:         timeout,
		Flags:           repository.FlagsNone,
		Items:           maps.Clone(items),
	}
	if rec.Items == nil {
		rec.Items = map[string]string{}
	}

	err := e.sessions.Create(ctx, rec)
	if errors.Is(err, repository.ErrDuplicate) {
		err = e.replaceExpired(ctx, id, rec)
	}
	if err != nil {
		if errors.Is(err, ErrSessionAlreadyExists) {
			e.emitAudit(ctx, auditEventSessionAlreadyExists, false, "", "", id, err, nil)
			return err
		}
		return e.sessionProviderError(ctx, "session_create", id, err)
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionCreated, true, "", "", id, nil, nil)
	return nil
}

// replaceExpired deletes an expired record occupying id and inserts rec in
// its place. A live record yields ErrSessionAlreadyExists.
func (e *Engine) replaceExpired(ctx context.Context, id string, rec *repository.SessionRecord) error {
	existing, err := e.sessions.FindOne(ctx, e.sessionFilter(ctx, id), repository.WaitForNonStale())
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return err
	case !existing.Expired(rec.CreationDate):
		return ErrSessionAlreadyExists
	default:
		if err := e.sessions.Delete(ctx, existing, repository.WithOptimisticConcurrency()); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrSessionAlreadyExists
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}
		// Lock ids keep increasing across the replacement.
		rec.LockID = max(rec.LockID, existing.LockID)
	}

	if err := e.sessions.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return ErrSessionAlreadyExists
		}
		return err
	}
	return nil
}

// Remove deletes session id when lockID matches. Any mismatch, including a
// missing session, is a no-op.
func (e *Engine) Remove(ctx context.Context, id string, lockID int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := validSessionID(id); err != nil {
		return err
	}

	rec, err := e.sessions.FindOne(ctx, e.sessionFilter(ctx, id).WithLockID(lockID), repository.WaitForNonStale())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return e.sessionProviderError(ctx, "session_remove", id, err)
	}

	err = e.sessions.Delete(ctx, rec, repository.WithOptimisticConcurrency())
	switch {
	case err == nil:
		e.metricInc(MetricSessionRemoved)
		e.emitAudit(ctx, auditEventSessionRemoved, true, "", "", id, nil, nil)
		return nil
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrConflict):
		return nil
	default:
		return e.sessionProviderError(ctx, "session_remove", id, err)
	}
}

// ResetTimeout restarts the timeout of session id without touching its lock.
// A missing session is a no-op.
func (e *Engine) ResetTimeout(ctx context.Context, id string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := validSessionID(id); err != nil {
		return err
	}

	rec, err := e.sessions.FindOne(ctx, e.sessionFilter(ctx, id), repository.WaitForNonStale())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return e.sessionProviderError(ctx, "session_reset_timeout", id, err)
	}

	rec.ExpireDate = e.clock().Add(e.sessionTimeout(rec.Timeout))
	err = e.sessions.Update(ctx, rec, repository.WithOptimisticConcurrency())
	switch {
	case err == nil, errors.Is(err, repository.ErrNotFound):
		return nil
	case errors.Is(err, repository.ErrConflict):
		return e.lockConflict(ctx, id)
	default:
		return e.sessionProviderError(ctx, "session_reset_timeout", id, err)
	}
}

// CreateUninitializedItem reserves session id with no items, flagged so the
// next exclusive reader initializes it. An existing session is left as it is.
func (e *Engine) CreateUninitializedItem(ctx context.Context, id string, timeout time.Duration) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := validSessionID(id); err != nil {
		return err
	}

	now := e.clock()
	timeout = e.sessionTimeout(timeout)
	rec := &repository.SessionRecord{
		ID:              repository.SessionRecordID(id),
		ApplicationName: e.applicationName(ctx),
		CreationDate:    now,
		ExpireDate:      now.Add(timeout),
		Timeout:         timeout,
		Flags:           repository.FlagsInitializeItem,
		Items:           map[string]string{},
	}

	err := e.sessions.Create(ctx, rec)
	switch {
	case err == nil:
		e.metricInc(MetricSessionCreated)
		return nil
	case errors.Is(err, repository.ErrDuplicate):
		return nil
	default:
		return e.sessionProviderError(ctx, "session_create_uninitialized", id, err)
	}
}

// CreateNewStoreData returns an empty, unsaved session item.
func (e *Engine) CreateNewStoreData(timeout time.Duration) *SessionItem {
	if e != nil {
		timeout = e.sessionTimeout(timeout)
	}
	return &SessionItem{
		Items:   map[string]string{},
		Actions: ActionNone,
		Timeout: timeout,
	}
}

// lockedSession loads session id only when lockID is its current lock id.
func (e *Engine) lockedSession(ctx context.Context, id string, lockID int) (*repository.SessionRecord, error) {
	rec, err := e.sessions.FindOne(ctx, e.sessionFilter(ctx, id).WithLockID(lockID), repository.WaitForNonStale())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, e.lockConflict(ctx, id)
		}
		return nil, e.sessionProviderError(ctx, "session_find_locked", id, err)
	}
	return rec, nil
}

func (e *Engine) writeLocked(ctx context.Context, id string, rec *repository.SessionRecord) error {
	if err := e.sessions.Update(ctx, rec, repository.WithOptimisticConcurrency()); err != nil {
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
			return e.lockConflict(ctx, id)
		}
		return e.sessionProviderError(ctx, "session_write", id, err)
	}
	return nil
}

func (e *Engine) lockConflict(ctx context.Context, id string) error {
	e.metricInc(MetricSessionLockConflict)
	e.emitAudit(ctx, auditEventSessionLockConflict, false, "", "", id, ErrLockConflict, nil)
	return ErrLockConflict
}
