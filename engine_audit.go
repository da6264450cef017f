package goMembership

import (
	"context"
	"errors"
)

const (
	auditEventUserCreated             = "user_created"
	auditEventUserCreateRejected      = "user_create_rejected"
	auditEventValidateSuccess         = "validate_success"
	auditEventValidateFailure         = "validate_failure"
	auditEventUserLockedOut           = "user_locked_out"
	auditEventUserUnlocked            = "user_unlocked"
	auditEventUserUpdated             = "user_updated"
	auditEventUserDeleted             = "user_deleted"
	auditEventPasswordChangeSuccess   = "password_change_success"
	auditEventPasswordChangeFailure   = "password_change_failure"
	auditEventQuestionAnswerChanged   = "password_question_changed"
	auditEventPasswordResetSuccess    = "password_reset_success"
	auditEventPasswordResetFailure    = "password_reset_failure"
	auditEventSessionCreated          = "session_created"
	auditEventSessionRemoved          = "session_removed"
	auditEventSessionLockConflict     = "session_lock_conflict"
	auditEventSessionAlreadyExists    = "session_already_exists"
	auditEventTicketIssued            = "ticket_issued"
	auditEventPasswordRetrievalDenied = "password_retrieval_denied"
)

// AuditErrorCode is the stable error label recorded on failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidPassword      AuditErrorCode = "invalid_password"
	auditErrInvalidUserName      AuditErrorCode = "invalid_user_name"
	auditErrInvalidEmail         AuditErrorCode = "invalid_email"
	auditErrInvalidQuestion      AuditErrorCode = "invalid_question"
	auditErrInvalidAnswer        AuditErrorCode = "invalid_answer"
	auditErrDuplicateUserName    AuditErrorCode = "duplicate_user_name"
	auditErrDuplicateEmail       AuditErrorCode = "duplicate_email"
	auditErrPasswordMismatch     AuditErrorCode = "password_mismatch"
	auditErrInvalidCredentials   AuditErrorCode = "invalid_credentials"
	auditErrUserNotFound         AuditErrorCode = "user_not_found"
	auditErrUserLockedOut        AuditErrorCode = "user_locked_out"
	auditErrNotSupported         AuditErrorCode = "not_supported"
	auditErrLockConflict         AuditErrorCode = "lock_conflict"
	auditErrSessionAlreadyExists AuditErrorCode = "session_already_exists"
	auditErrUnavailable          AuditErrorCode = "backend_unavailable"
	auditErrInternal             AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	username string,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:       e.clock(),
		EventType:       eventType,
		ApplicationName: e.applicationName(ctx),
		Username:        username,
		UserID:          userID,
		SessionID:       sessionID,
		IP:              clientIPFromContext(ctx),
		Success:         success,
		Metadata:        metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidPassword):
		return auditErrInvalidPassword
	case errors.Is(err, ErrInvalidUserName):
		return auditErrInvalidUserName
	case errors.Is(err, ErrInvalidEmail):
		return auditErrInvalidEmail
	case errors.Is(err, ErrInvalidQuestion):
		return auditErrInvalidQuestion
	case errors.Is(err, ErrInvalidAnswer):
		return auditErrInvalidAnswer
	case errors.Is(err, ErrDuplicateUserName):
		return auditErrDuplicateUserName
	case errors.Is(err, ErrDuplicateEmail):
		return auditErrDuplicateEmail
	case errors.Is(err, ErrPasswordMismatch):
		return auditErrPasswordMismatch
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrUserLockedOut):
		return auditErrUserLockedOut
	case errors.Is(err, ErrNotSupported):
		return auditErrNotSupported
	case errors.Is(err, ErrLockConflict):
		return auditErrLockConflict
	case errors.Is(err, ErrSessionAlreadyExists):
		return auditErrSessionAlreadyExists
	case errors.Is(err, ErrProviderError):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
