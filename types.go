package goMembership

import (
	"context"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goMembership/internal/audit"
	"github.com/MrEthical07/goMembership/repository"
)

// CredentialStore manages users, their credentials and their lockout state
// within one application.
type CredentialStore interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*MembershipUser, error)
	ValidateUser(ctx context.Context, username, password string) (bool, error)
	ChangePassword(ctx context.Context, username, oldPassword, newPassword string) (bool, error)
	ChangePasswordQuestionAndAnswer(ctx context.Context, username, password, question, answer string) (bool, error)
	ResetPassword(ctx context.Context, username, answer string) (string, error)
	GetPassword(ctx context.Context, username, answer string) (string, error)
	GetUser(ctx context.Context, username string) (*MembershipUser, error)
	GetUserByKey(ctx context.Context, key string) (*MembershipUser, error)
	GetUserNameByEmail(ctx context.Context, email string) (string, error)
	FindUsersByName(ctx context.Context, term string, pageIndex, pageSize int) (UserPage, error)
	FindUsersByEmail(ctx context.Context, term string, pageIndex, pageSize int) (UserPage, error)
	GetAllUsers(ctx context.Context, pageIndex, pageSize int) (UserPage, error)
	UnlockUser(ctx context.Context, username string) (bool, error)
	UpdateUser(ctx context.Context, user MembershipUser) error
	DeleteUser(ctx context.Context, username string, deleteAllRelatedData bool) (bool, error)
	GetNumberOfUsersOnline(ctx context.Context) (int, error)
}

// SessionStore manages session state guarded by an advisory lock. The lock
// id returned by an exclusive Get must be presented to release or replace
// the session.
type SessionStore interface {
	Get(ctx context.Context, id string, exclusive bool) (*SessionItem, error)
	ReleaseExclusive(ctx context.Context, id string, lockID int) error
	SetAndReleaseExclusive(ctx context.Context, id string, items map[string]string, lockID int, isNew bool) error
	Remove(ctx context.Context, id string, lockID int) error
	ResetTimeout(ctx context.Context, id string) error
	CreateUninitializedItem(ctx context.Context, id string, timeout time.Duration) error
	CreateNewStoreData(timeout time.Duration) *SessionItem
}

var (
	_ CredentialStore = (*Engine)(nil)
	_ SessionStore    = (*Engine)(nil)
)

// MembershipUser is the public view of a stored user. Credential hashes and
// salts never leave the engine. A zero Last* time means the event never
// happened.
type MembershipUser struct {
	ProviderUserKey         string
	ApplicationName         string
	UserName                string
	Email                   string
	PasswordQuestion        string
	Comment                 string
	IsApproved              bool
	IsLockedOut             bool
	CreationDate            time.Time
	LastLoginDate           time.Time
	LastActivityDate        time.Time
	LastPasswordChangedDate time.Time
	LastLockoutDate         time.Time
	Roles                   []string
}

// IsOnline reports whether the user was active within window of now.
func (u *MembershipUser) IsOnline(now time.Time, window time.Duration) bool {
	return u != nil && !u.LastActivityDate.Before(now.Add(-window))
}

// UserPage is one page of a user listing.
type UserPage struct {
	Users []*MembershipUser
	// TotalRecords counts every match, not just this page.
	TotalRecords int
}

// CreateUserRequest carries the inputs of CreateUser.
type CreateUserRequest struct {
	Username         string
	Password         string
	Email            string
	PasswordQuestion string
	PasswordAnswer   string
	IsApproved       bool
	// ProviderUserKey is used as the record id when set.
	ProviderUserKey string
	Comment         string
	Roles           []string
}

// PasswordValidator is an extra check run after the password policy on
// CreateUser, ChangePassword and ResetPassword. A non-nil error rejects the
// password.
type PasswordValidator func(ctx context.Context, username, password string, isNewUser bool) error

// SessionActions mirrors the flags stored on a session record.
type SessionActions = repository.SessionFlags

const (
	ActionNone           = repository.FlagsNone
	ActionInitializeItem = repository.FlagsInitializeItem
	ActionUninitialized  = repository.FlagsUninitialized
)

// SessionItem is the result of a session read.
type SessionItem struct {
	Found bool
	// Items is nil when the session is locked by another holder.
	Items   map[string]string
	Locked  bool
	LockAge time.Duration
	LockID  int
	Actions SessionActions
	Timeout time.Duration
}

// AuditEvent is a structured record of one audited operation.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink is an [AuditSink] that logs events through a [slog.Logger].
type SlogSink = internalaudit.SlogSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink creates a [SlogSink]. A nil logger uses slog.Default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
