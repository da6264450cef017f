package repository

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// UserRecord is the persisted form of a membership user.
type UserRecord struct {
	ID              string
	ApplicationName string
	Username        string

	PasswordHash       string
	PasswordSalt       string
	PasswordQuestion   string
	PasswordAnswerHash string
	PasswordAnswerSalt string

	Email      string
	Comment    string
	IsApproved bool

	IsLockedOut bool

	CreationDate            time.Time
	LastLoginDate           *time.Time
	LastActivityDate        time.Time
	LastPasswordChangedDate *time.Time
	LastLockedOutDate       *time.Time

	FailedPasswordAttemptCount             int
	FailedPasswordAttemptWindowStart       *time.Time
	FailedPasswordAnswerAttemptCount       int
	FailedPasswordAnswerAttemptWindowStart *time.Time

	Roles []string

	// Version is the repository revision the record was read at. Backends
	// bump it on every successful write.
	Version int64
}

// Clone returns a deep copy of u.
func (u *UserRecord) Clone() *UserRecord {
	if u == nil {
		return nil
	}
	c := *u
	c.LastLoginDate = cloneTime(u.LastLoginDate)
	c.LastPasswordChangedDate = cloneTime(u.LastPasswordChangedDate)
	c.LastLockedOutDate = cloneTime(u.LastLockedOutDate)
	c.FailedPasswordAttemptWindowStart = cloneTime(u.FailedPasswordAttemptWindowStart)
	c.FailedPasswordAnswerAttemptWindowStart = cloneTime(u.FailedPasswordAnswerAttemptWindowStart)
	c.Roles = slices.Clone(u.Roles)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// SessionFlags describes what the next reader of a session must do with it.
type SessionFlags uint8

const (
	// FlagsNone marks a session whose items can be read as stored.
	FlagsNone SessionFlags = 0
	// FlagsInitializeItem marks a session created empty; the next exclusive
	// reader populates it from scratch.
	FlagsInitializeItem SessionFlags = 1
	// FlagsUninitialized marks a record reserved before any item was written.
	FlagsUninitialized SessionFlags = 2
)

// SessionKeyPrefix is prepended to external session ids to form record ids.
const SessionKeyPrefix = "sessionstates/"

// SessionRecordID returns the storage id for an external session id.
func SessionRecordID(sessionID string) string {
	if strings.HasPrefix(sessionID, SessionKeyPrefix) {
		return sessionID
	}
	return SessionKeyPrefix + sessionID
}

// SessionRecord is the persisted state of one session.
type SessionRecord struct {
	ID              string
	ApplicationName string

	CreationDate time.Time
	ExpireDate   time.Time
	LockDate     time.Time
	LockID       int
	IsLocked     bool
	Timeout      time.Duration
	Flags        SessionFlags
	Items        map[string]string

	Version int64
}

// Expired reports whether the record's expiry is at or before now.
func (s *SessionRecord) Expired(now time.Time) bool {
	return !s.ExpireDate.After(now)
}

// Clone returns a deep copy of s.
func (s *SessionRecord) Clone() *SessionRecord {
	if s == nil {
		return nil
	}
	c := *s
	c.Items = maps.Clone(s.Items)
	return &c
}
