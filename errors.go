package goMembership

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPassword is returned when a password fails the configured policy or validation hook.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrDuplicateEmail is returned when unique emails are required and the email is taken.
	ErrDuplicateEmail = errors.New("duplicate email")
	// ErrDuplicateUserName is returned when the user name already exists in the application.
	ErrDuplicateUserName = errors.New("duplicate user name")
	// ErrProviderError wraps every repository or Redis failure.
	ErrProviderError = errors.New("provider error")
	// ErrNotSupported is returned for operations the configuration or the store cannot perform.
	ErrNotSupported = errors.New("operation not supported")
	// ErrPasswordMismatch is returned when a password or password answer does not match.
	ErrPasswordMismatch = errors.New("password mismatch")
	// ErrLockConflict is returned when a session lock id is stale or a lock race was lost.
	ErrLockConflict = errors.New("session lock conflict")
	// ErrSessionAlreadyExists is returned when a new session collides with a live one.
	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrUserNotFound = errors.New("user not found")
	ErrUserLockedOut = errors.New("user locked out")
	// The ErrInvalid* values describe rejected CreateUser and UpdateUser input.
	ErrInvalidUserName = errors.New("invalid user name")
	ErrInvalidEmail = errors.New("invalid email")
	ErrInvalidQuestion = errors.New("invalid password question")
	ErrInvalidAnswer = errors.New("invalid password answer")
	// ErrInvalidCredentials is returned by IssueTicket when ValidateUser fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTicketsDisabled is returned by ticket operations when no ticket signer is configured.
	ErrTicketsDisabled = errors.New("tickets disabled")
	// ErrInvalidSessionID is returned for empty or oversized session ids.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrInvalidPaging is returned for a negative page index or a non-positive page size.
	ErrInvalidPaging = errors.New("invalid paging arguments")
	// ErrEngineNotReady is returned by methods on a zero Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// CreateStatus is the outcome of CreateUser.
type CreateStatus int

const (
	StatusSuccess CreateStatus = iota
	StatusInvalidUserName
	StatusInvalidPassword
	StatusInvalidQuestion
	StatusInvalidAnswer
	StatusInvalidEmail
	StatusDuplicateUserName
	StatusDuplicateEmail
	StatusProviderError
)

var createStatusNames = [...]string{
	StatusSuccess:           "Success",
	StatusInvalidUserName:   "InvalidUserName",
	StatusInvalidPassword:   "InvalidPassword",
	StatusInvalidQuestion:   "InvalidQuestion",
	StatusInvalidAnswer:     "InvalidAnswer",
	StatusInvalidEmail:      "InvalidEmail",
	StatusDuplicateUserName: "DuplicateUserName",
	StatusDuplicateEmail:    "DuplicateEmail",
	StatusProviderError:     "ProviderError",
}

func (s CreateStatus) String() string {
	if s < 0 || int(s) >= len(createStatusNames) {
		return fmt.Sprintf("CreateStatus(%d)", int(s))
	}
	return createStatusNames[s]
}

// Err returns the sentinel matching s, or nil for StatusSuccess.
func (s CreateStatus) Err() error {
	switch s {
	case StatusInvalidUserName:
		return ErrInvalidUserName
	case StatusInvalidPassword:
		return ErrInvalidPassword
	case StatusInvalidQuestion:
		return ErrInvalidQuestion
	case StatusInvalidAnswer:
		return ErrInvalidAnswer
	case StatusInvalidEmail:
		return ErrInvalidEmail
	case StatusDuplicateUserName:
		return ErrDuplicateUserName
	case StatusDuplicateEmail:
		return ErrDuplicateEmail
	case StatusProviderError:
		return ErrProviderError
	default:
		return nil
	}
}

// CreateUserError reports why CreateUser wrote nothing. errors.Is matches
// both the status sentinel and the underlying cause.
type CreateUserError struct {
	Status CreateStatus
	Err    error
}

func (e *CreateUserError) Error() string {
	if e.Err != nil {
		return "create user: " + e.Status.String() + ": " + e.Err.Error()
	}
	return "create user: " + e.Status.String()
}

func (e *CreateUserError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e.Status.
func (e *CreateUserError) Is(target error) bool {
	sentinel := e.Status.Err()
	return sentinel != nil && target == sentinel
}

func createError(status CreateStatus, cause error) *CreateUserError {
	return &CreateUserError{Status: status, Err: cause}
}
