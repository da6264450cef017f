package goMembership

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/MrEthical07/goMembership/repository"
)

// GetUser returns username and stamps its LastActivityDate. A concurrent
// write that wins the race keeps its own stamp; GetUser never reports a
// version conflict.
func (e *Engine) GetUser(ctx context.Context, username string) (*MembershipUser, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	rec, err := e.findUser(ctx, e.applicationName(ctx), username)
	if err != nil {
		return nil, err
	}
	return e.touchUser(ctx, rec)
}

// GetUserByKey returns the user whose ProviderUserKey is key and stamps its
// LastActivityDate.
func (e *Engine) GetUserByKey(ctx context.Context, key string) (*MembershipUser, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrUserNotFound
	}
	rec, err := e.users.FindOne(ctx, repository.UserFilter{
		ApplicationName: e.applicationName(ctx),
		ID:              key,
	}, repository.WaitForNonStale())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, e.providerError(ctx, "get_user_by_key", err, slog.String("key", key))
	}
	return e.touchUser(ctx, rec)
}

func (e *Engine) touchUser(ctx context.Context, rec *repository.UserRecord) (*MembershipUser, error) {
	rec.LastActivityDate = e.clock()
	err := e.users.Update(ctx, rec)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrUserNotFound
	default:
		return nil, e.providerError(ctx, "touch_user", err, slog.String("username", rec.Username))
	}
	return toMembershipUser(rec), nil
}

// GetUserNameByEmail returns the user name registered with email, or ""
// when there is none.
func (e *Engine) GetUserNameByEmail(ctx context.Context, email string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	email = strings.TrimSpace(email)
	if email == "" {
		return "", nil
	}
	rec, err := e.users.FindOne(ctx, repository.UserFilter{
		ApplicationName: e.applicationName(ctx),
		Email:           email,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil
		}
		return "", e.providerError(ctx, "get_user_name_by_email", err)
	}
	return rec.Username, nil
}

// FindUsersByName returns one page of users whose name matches every token
// of term. A '*' inside a token matches any run of characters.
func (e *Engine) FindUsersByName(ctx context.Context, term string, pageIndex, pageSize int) (UserPage, error) {
	return e.searchUsers(ctx, repository.FieldUsername, term, pageIndex, pageSize)
}

// FindUsersByEmail is FindUsersByName over the email field.
func (e *Engine) FindUsersByEmail(ctx context.Context, term string, pageIndex, pageSize int) (UserPage, error) {
	return e.searchUsers(ctx, repository.FieldEmail, term, pageIndex, pageSize)
}

// GetAllUsers returns one page of every user of the application.
func (e *Engine) GetAllUsers(ctx context.Context, pageIndex, pageSize int) (UserPage, error) {
	return e.searchUsers(ctx, repository.FieldUsername, repository.MatchAllTerm, pageIndex, pageSize)
}

func (e *Engine) searchUsers(ctx context.Context, field repository.SearchField, term string, pageIndex, pageSize int) (UserPage, error) {
	if err := e.ready(); err != nil {
		return UserPage{}, err
	}
	if pageIndex < 0 || pageSize <= 0 {
		return UserPage{}, ErrInvalidPaging
	}
	// Punctuation-only terms have no tokens and must not widen to match-all.
	if !repository.IsMatchAll(term) && len(repository.TermTokens(term)) == 0 {
		return UserPage{Users: []*MembershipUser{}}, nil
	}

	res, err := e.users.Search(ctx, repository.SearchQuery{
		ApplicationName: e.applicationName(ctx),
		Field:           field,
		Term:            term,
		Mode:            repository.SearchAnd,
		Skip:            pageIndex * pageSize,
		Take:            pageSize,
	})
	if err != nil {
		return UserPage{}, e.providerError(ctx, "search_users", err, slog.String("field", string(field)))
	}

	page := UserPage{
		Users:        make([]*MembershipUser, 0, len(res.Records)),
		TotalRecords: res.Total,
	}
	for _, rec := range res.Records {
		page.Users = append(page.Users, toMembershipUser(rec))
	}
	return page, nil
}

// GetNumberOfUsersOnline counts users active within
// Membership.UserIsOnlineTimeWindow.
func (e *Engine) GetNumberOfUsersOnline(ctx context.Context) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}

	since := e.clock().Add(-e.config.Membership.UserIsOnlineTimeWindow)
	n, err := e.users.Count(ctx, repository.UserFilter{
		ApplicationName: e.applicationName(ctx),
		ActiveSince:     since,
	})
	if err != nil {
		return 0, e.providerError(ctx, "users_online", err)
	}
	return n, nil
}
