package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no record matches a lookup or write target.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned by Create when the record or one of its unique
	// keys already exists.
	ErrDuplicate = errors.New("record already exists")
	// ErrConflict is returned by optimistic writes when the stored version
	// differs from the version the caller read.
	ErrConflict = errors.New("record changed since read")
)

// UserRepository stores membership users.
type UserRepository interface {
	FindOne(ctx context.Context, filter UserFilter, opts ...QueryOption) (*UserRecord, error)
	FindMany(ctx context.Context, filter UserFilter, opts ...QueryOption) ([]*UserRecord, error)
	Count(ctx context.Context, filter UserFilter, opts ...QueryOption) (int, error)
	// Create inserts rec, assigning rec.ID when empty. Username collisions
	// within the application return ErrDuplicate.
	Create(ctx context.Context, rec *UserRecord) error
	Update(ctx context.Context, rec *UserRecord, opts ...WriteOption) error
	Delete(ctx context.Context, rec *UserRecord, opts ...WriteOption) error
	Search(ctx context.Context, query SearchQuery, opts ...QueryOption) (SearchResult, error)
}

// SessionRepository stores session state records.
type SessionRepository interface {
	FindOne(ctx context.Context, filter SessionFilter, opts ...QueryOption) (*SessionRecord, error)
	// Create inserts rec unless a record with the same key exists, in which
	// case it returns ErrDuplicate.
	Create(ctx context.Context, rec *SessionRecord) error
	Update(ctx context.Context, rec *SessionRecord, opts ...WriteOption) error
	Delete(ctx context.Context, rec *SessionRecord, opts ...WriteOption) error
}

// UserFilter selects users within one application. Zero-valued fields do not
// constrain the match. Username and Email compare case-insensitively.
type UserFilter struct {
	ApplicationName string
	ID              string
	Username        string
	Email           string
	// ActiveSince matches users whose LastActivityDate is at or after it.
	ActiveSince time.Time
}

// Match reports whether u satisfies f.
func (f UserFilter) Match(u *UserRecord) bool {
	if u == nil || u.ApplicationName != f.ApplicationName {
		return false
	}
	if f.ID != "" && u.ID != f.ID {
		return false
	}
	if f.Username != "" && FoldKey(u.Username) != FoldKey(f.Username) {
		return false
	}
	if f.Email != "" && FoldKey(u.Email) != FoldKey(f.Email) {
		return false
	}
	if !f.ActiveSince.IsZero() && u.LastActivityDate.Before(f.ActiveSince) {
		return false
	}
	return true
}

// SessionFilter selects one session. When MatchLockID is set the record must
// also carry LockID.
type SessionFilter struct {
	ApplicationName string
	ID              string
	LockID          int
	MatchLockID     bool
}

// WithLockID returns a copy of f that additionally requires lockID.
func (f SessionFilter) WithLockID(lockID int) SessionFilter {
	f.LockID = lockID
	f.MatchLockID = true
	return f
}

// Match reports whether s satisfies f.
func (f SessionFilter) Match(s *SessionRecord) bool {
	if s == nil || s.ApplicationName != f.ApplicationName || s.ID != SessionRecordID(f.ID) {
		return false
	}
	return !f.MatchLockID || s.LockID == f.LockID
}

// Consistency controls whether a query may observe an index that lags writes.
type Consistency uint8

const (
	// ConsistencyDefault lets the backend answer from whatever state it has.
	ConsistencyDefault Consistency = iota
	// ConsistencyWaitForNonStale requires results as of the latest write.
	ConsistencyWaitForNonStale
)

// QueryOptions is the resolved form of a list of QueryOption.
type QueryOptions struct {
	Consistency Consistency
}

// QueryOption adjusts a single query.
type QueryOption func(*QueryOptions)

// WaitForNonStale requires the backend to catch up to the last write before
// answering.
func WaitForNonStale() QueryOption {
	return func(o *QueryOptions) {
		o.Consistency = ConsistencyWaitForNonStale
	}
}

// ResolveQueryOptions applies opts in order.
func ResolveQueryOptions(opts []QueryOption) QueryOptions {
	var o QueryOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WriteOptions is the resolved form of a list of WriteOption.
type WriteOptions struct {
	Optimistic bool
}

// WriteOption adjusts a single write.
type WriteOption func(*WriteOptions)

// WithOptimisticConcurrency makes the write fail with ErrConflict unless the
// stored version equals the record's Version.
func WithOptimisticConcurrency() WriteOption {
	return func(o *WriteOptions) {
		o.Optimistic = true
	}
}

// ResolveWriteOptions applies opts in order.
func ResolveWriteOptions(opts []WriteOption) WriteOptions {
	var o WriteOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// NewID returns a time-ordered identifier for a new record.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
