package goMembership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/goMembership/internal/limiters"
	"github.com/MrEthical07/goMembership/password"
	"github.com/MrEthical07/goMembership/repository"
)

const (
	minGeneratedPasswordLength  = 10
	minGeneratedNonAlphanumeric = 1
)

// CreateUser validates req and stores a new user with a freshly salted
// credential. Every rejection is a *CreateUserError carrying the
// [CreateStatus]; nothing is written unless the status is StatusSuccess.
func (e *Engine) CreateUser(ctx context.Context, req CreateUserRequest) (*MembershipUser, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	app := e.applicationName(ctx)
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)

	reject := func(status CreateStatus, cause error) (*MembershipUser, error) {
		cerr := createError(status, cause)
		e.metricInc(MetricUserCreateRejected)
		e.emitAudit(ctx, auditEventUserCreateRejected, false, username, "", "", cerr, func() map[string]string {
			return map[string]string{"status": status.String()}
		})
		return nil, cerr
	}

	if err := e.checkNewPassword(ctx, username, req.Password, true); err != nil {
		return reject(StatusInvalidPassword, err)
	}
	if username == "" {
		return reject(StatusInvalidUserName, nil)
	}
	if e.config.Membership.RequiresQuestionAndAnswer {
		if strings.TrimSpace(req.PasswordQuestion) == "" {
			return reject(StatusInvalidQuestion, nil)
		}
		if strings.TrimSpace(req.PasswordAnswer) == "" {
			return reject(StatusInvalidAnswer, nil)
		}
	}
	if !utf8.ValidString(req.PasswordAnswer) {
		return reject(StatusInvalidAnswer, password.ErrInvalidUTF8)
	}

	if e.config.Membership.RequiresUniqueEmail {
		if email == "" {
			return reject(StatusInvalidEmail, nil)
		}
		_, err := e.users.FindOne(ctx, repository.UserFilter{
			ApplicationName: app,
			Email:           email,
		}, repository.WaitForNonStale())
		switch {
		case err == nil:
			return reject(StatusDuplicateEmail, nil)
		case !errors.Is(err, repository.ErrNotFound):
			return reject(StatusProviderError, e.providerError(ctx, "create_user", err, slog.String("username", username)))
		}
	}

	_, err := e.users.FindOne(ctx, repository.UserFilter{
		ApplicationName: app,
		Username:        username,
	}, repository.WaitForNonStale())
	switch {
	case err == nil:
		return reject(StatusDuplicateUserName, nil)
	case !errors.Is(err, repository.ErrNotFound):
		return reject(StatusProviderError, e.providerError(ctx, "create_user", err, slog.String("username", username)))
	}

	salt, hash, err := e.newCredential(req.Password)
	if err != nil {
		return reject(StatusProviderError, err)
	}
	answerHash := ""
	if req.PasswordAnswer != "" {
		answerHash, err = e.encoder.Encode(req.PasswordAnswer, salt)
		if err != nil {
			return reject(StatusProviderError, err)
		}
	}

	now := e.clock()
	rec := &repository.UserRecord{
		ID:                      strings.TrimSpace(req.ProviderUserKey),
		ApplicationName:         app,
		Username:                username,
		PasswordHash:            hash,
		PasswordSalt:            salt,
		PasswordQuestion:        req.PasswordQuestion,
		PasswordAnswerHash:      answerHash,
		PasswordAnswerSalt:      salt,
		Email:                   email,
		Comment:                 req.Comment,
		IsApproved:              req.IsApproved,
		CreationDate:            now,
		LastActivityDate:        now,
		LastPasswordChangedDate: &now,
		Roles:                   append([]string(nil), req.Roles...),
	}

	if err := e.users.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return reject(StatusDuplicateUserName, err)
		}
		return reject(StatusProviderError, e.providerError(ctx, "create_user", err, slog.String("username", username)))
	}

	e.metricInc(MetricUserCreated)
	e.emitAudit(ctx, auditEventUserCreated, true, rec.Username, rec.ID, "", nil, nil)
	return toMembershipUser(rec), nil
}

// ValidateUser reports whether password is correct for an approved user
// that is not locked out. A wrong password is counted against the user's
// attempt window and locks the user once the window is full; the stored
// record is otherwise left as it was.
func (e *Engine) ValidateUser(ctx context.Context, username, password string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricValidateLatency, time.Since(start))
		}
	}()

	app := e.applicationName(ctx)
	rec, err := e.findUser(ctx, app, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.validateFailed(ctx, username, "", ErrInvalidCredentials)
			return false, nil
		}
		return false, err
	}

	if rec.IsLockedOut {
		e.validateFailed(ctx, rec.Username, rec.ID, ErrUserLockedOut)
		return false, nil
	}
	if !e.encoder.Verify(password, rec.PasswordSalt, rec.PasswordHash) {
		e.recordFailure(ctx, app, rec, limiters.KindPassword)
		e.validateFailed(ctx, rec.Username, rec.ID, ErrPasswordMismatch)
		return false, nil
	}
	if !rec.IsApproved {
		e.validateFailed(ctx, rec.Username, rec.ID, ErrInvalidCredentials)
		return false, nil
	}

	now := e.clock()
	rec.LastLoginDate = &now
	rec.LastActivityDate = now
	rec.FailedPasswordAttemptCount = 0
	rec.FailedPasswordAttemptWindowStart = nil
	if e.encoder.NeedsUpgrade(rec.PasswordHash) {
		if upgraded, err := e.encoder.Encode(password, rec.PasswordSalt); err == nil {
			rec.PasswordHash = upgraded
		}
	}

	if err := e.users.Update(ctx, rec, repository.WithOptimisticConcurrency()); err != nil {
		// A concurrent writer won; the credentials were still valid.
		if !errors.Is(err, repository.ErrConflict) {
			return false, e.providerError(ctx, "validate_user", err, slog.String("username", rec.Username))
		}
	}
	e.resetFailures(ctx, app, rec, limiters.KindPassword)

	e.metricInc(MetricValidateSuccess)
	e.emitAudit(ctx, auditEventValidateSuccess, true, rec.Username, rec.ID, "", nil, nil)
	return true, nil
}

func (e *Engine) validateFailed(ctx context.Context, username, userID string, reason error) {
	e.metricInc(MetricValidateFailure)
	e.emitAudit(ctx, auditEventValidateFailure, false, username, userID, "", reason, nil)
}

// ChangePassword replaces the credential of username when oldPassword
// matches. The new password must pass the policy and the validation hook.
func (e *Engine) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}

	app := e.applicationName(ctx)
	rec, ok, err := e.authenticate(ctx, app, username, oldPassword)
	if err != nil || !ok {
		reason := err
		if reason == nil {
			reason = ErrPasswordMismatch
		}
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, username, "", "", reason, nil)
		return false, err
	}

	if err := e.checkNewPassword(ctx, rec.Username, newPassword, false); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, rec.Username, rec.ID, "", ErrInvalidPassword, nil)
		return false, fmt.Errorf("%w: %v", ErrInvalidPassword, err)
	}

	salt, hash, err := e.newCredential(newPassword)
	if err != nil {
		return false, err
	}
	now := e.clock()
	rec.PasswordSalt = salt
	rec.PasswordHash = hash
	rec.LastPasswordChangedDate = &now

	if err := e.users.Update(ctx, rec, repository.WithOptimisticConcurrency()); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		return false, e.providerError(ctx, "change_password", err, slog.String("username", rec.Username))
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, rec.Username, rec.ID, "", nil, nil)
	return true, nil
}

// ChangePasswordQuestionAndAnswer replaces the security question and answer
// when password matches. The answer is hashed with the user's current salt.
func (e *Engine) ChangePasswordQuestionAndAnswer(ctx context.Context, username, password, question, answer string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}

	if e.config.Membership.RequiresQuestionAndAnswer {
		if strings.TrimSpace(question) == "" {
			return false, ErrInvalidQuestion
		}
		if strings.TrimSpace(answer) == "" {
			return false, ErrInvalidAnswer
		}
	}

	if !utf8.ValidString(answer) {
		return false, ErrInvalidAnswer
	}

	app := e.applicationName(ctx)
	rec, ok, err := e.authenticate(ctx, app, username, password)
	if err != nil || !ok {
		return false, err
	}

	answerHash := ""
	if answer != "" {
		answerHash, err = e.encoder.Encode(answer, rec.PasswordSalt)
		if err != nil {
			return false, err
		}
	}
	rec.PasswordQuestion = question
	rec.PasswordAnswerHash = answerHash
	rec.PasswordAnswerSalt = rec.PasswordSalt

	if err := e.users.Update(ctx, rec, repository.WithOptimisticConcurrency()); err != nil {
		return false, e.providerError(ctx, "change_password_question", err, slog.String("username", rec.Username))
	}

	e.emitAudit(ctx, auditEventQuestionAnswerChanged, true, rec.Username, rec.ID, "", nil, nil)
	return true, nil
}

// ResetPassword replaces the user's password with a generated one and
// returns it. When question and answer are required, answer must match the
// stored answer; wrong answers count toward lockout.
func (e *Engine) ResetPassword(ctx context.Context, username, answer string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if !e.config.Membership.EnablePasswordReset {
		return "", ErrNotSupported
	}

	app := e.applicationName(ctx)
	fail := func(rec *repository.UserRecord, err error) (string, error) {
		e.metricInc(MetricPasswordResetFailure)
		name, id := username, ""
		if rec != nil {
			name, id = rec.Username, rec.ID
		}
		e.emitAudit(ctx, auditEventPasswordResetFailure, false, name, id, "", err, nil)
		return "", err
	}

	rec, err := e.findUser(ctx, app, username)
	if err != nil {
		return fail(nil, err)
	}
	if rec.IsLockedOut {
		return fail(rec, ErrUserLockedOut)
	}

	requiresAnswer := e.config.Membership.RequiresQuestionAndAnswer
	if requiresAnswer && !e.encoder.Verify(answer, rec.PasswordAnswerSalt, rec.PasswordAnswerHash) {
		e.recordFailure(ctx, app, rec, limiters.KindPasswordAnswer)
		return fail(rec, ErrPasswordMismatch)
	}

	generated, err := password.GeneratePassword(
		max(e.config.Password.MinRequiredPasswordLength, minGeneratedPasswordLength),
		max(e.config.Password.MinRequiredNonAlphanumericCharacters, minGeneratedNonAlphanumeric),
	)
	if err != nil {
		return fail(rec, err)
	}
	if e.validator != nil {
		if err := e.validator(ctx, rec.Username, generated, false); err != nil {
			return fail(rec, fmt.Errorf("%w: %v", ErrInvalidPassword, err))
		}
	}

	salt, hash, err := e.newCredential(generated)
	if err != nil {
		return fail(rec, err)
	}
	if requiresAnswer && rec.PasswordAnswerHash != "" {
		answerHash, err := e.encoder.Encode(answer, salt)
		if err != nil {
			return fail(rec, err)
		}
		rec.PasswordAnswerHash = answerHash
		rec.PasswordAnswerSalt = salt
	}

	now := e.clock()
	rec.PasswordSalt = salt
	rec.PasswordHash = hash
	rec.LastPasswordChangedDate = &now
	rec.FailedPasswordAnswerAttemptCount = 0
	rec.FailedPasswordAnswerAttemptWindowStart = nil

	if err := e.users.Update(ctx, rec, repository.WithOptimisticConcurrency()); err != nil {
		return fail(rec, e.providerError(ctx, "reset_password", err, slog.String("username", rec.Username)))
	}
	e.resetFailures(ctx, app, rec, limiters.KindPasswordAnswer)

	e.metricInc(MetricPasswordReset)
	e.emitAudit(ctx, auditEventPasswordResetSuccess, true, rec.Username, rec.ID, "", nil, nil)
	return generated, nil
}

// GetPassword always fails with ErrNotSupported: stored credentials are
// one-way hashes. Use ResetPassword instead.
func (e *Engine) GetPassword(ctx context.Context, username, _ string) (string, error) {
	e.emitAudit(ctx, auditEventPasswordRetrievalDenied, false, username, "", "", ErrNotSupported, nil)
	return "", ErrNotSupported
}

// authenticate loads username and checks password without touching login
// timestamps. Unknown, locked-out and mismatching users report false.
func (e *Engine) authenticate(ctx context.Context, app, username, password string) (*repository.UserRecord, bool, error) {
	rec, err := e.findUser(ctx, app, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if rec.IsLockedOut {
		return rec, false, nil
	}
	if !e.encoder.Verify(password, rec.PasswordSalt, rec.PasswordHash) {
		e.recordFailure(ctx, app, rec, limiters.KindPassword)
		return rec, false, nil
	}
	return rec, true, nil
}

func (e *Engine) findUser(ctx context.Context, app, username string) (*repository.UserRecord, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrUserNotFound
	}
	rec, err := e.users.FindOne(ctx, repository.UserFilter{
		ApplicationName: app,
		Username:        username,
	}, repository.WaitForNonStale())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, e.providerError(ctx, "find_user", err, slog.String("username", username))
	}
	return rec, nil
}

func (e *Engine) checkNewPassword(ctx context.Context, username, pw string, isNewUser bool) error {
	if err := e.policy.Validate(pw); err != nil {
		return err
	}
	if e.validator != nil {
		return e.validator(ctx, username, pw, isNewUser)
	}
	return nil
}

// newCredential returns a fresh salt and the hash of pw under it.
func (e *Engine) newCredential(pw string) (string, string, error) {
	salt, err := password.GenerateSalt()
	if err != nil {
		return "", "", err
	}
	hash, err := e.encoder.Encode(pw, salt)
	if err != nil {
		return "", "", err
	}
	return salt, hash, nil
}

func toMembershipUser(rec *repository.UserRecord) *MembershipUser {
	if rec == nil {
		return nil
	}
	u := &MembershipUser{
		ProviderUserKey:  rec.ID,
		ApplicationName:  rec.ApplicationName,
		UserName:         rec.Username,
		Email:            rec.Email,
		PasswordQuestion: rec.PasswordQuestion,
		Comment:          rec.Comment,
		IsApproved:       rec.IsApproved,
		IsLockedOut:      rec.IsLockedOut,
		CreationDate:     rec.CreationDate,
		LastActivityDate: rec.LastActivityDate,
		Roles:            append([]string(nil), rec.Roles...),
	}
	if rec.LastLoginDate != nil {
		u.LastLoginDate = *rec.LastLoginDate
	}
	if rec.LastPasswordChangedDate != nil {
		u.LastPasswordChangedDate = *rec.LastPasswordChangedDate
	}
	if rec.LastLockedOutDate != nil {
		u.LastLockoutDate = *rec.LastLockedOutDate
	}
	return u
}
