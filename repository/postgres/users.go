package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/goMembership/repository"
)

// Users is a repository.UserRepository over the membership_users table.
// Every read sees the latest committed write, so WaitForNonStale needs no
// extra work here.
type Users struct {
	pool *pgxpool.Pool
}

var _ repository.UserRepository = (*Users)(nil)

// NewUsers returns a repository over pool. Run Migrate first.
func NewUsers(pool *pgxpool.Pool) *Users {
	return &Users{pool: pool}
}

// Ping checks the pool.
func (u *Users) Ping(ctx context.Context) error {
	return Healthcheck(u.pool)(ctx)
}

func (u *Users) FindOne(ctx context.Context, filter repository.UserFilter, _ ...repository.QueryOption) (*repository.UserRecord, error) {
	w := userWhere(filter)
	query := "SELECT " + userColumns + " FROM " + usersTable + w.String() + " LIMIT 1"

	rec, err := scanUser(u.pool.QueryRow(ctx, query, w.args...))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return rec, nil
}

func (u *Users) FindMany(ctx context.Context, filter repository.UserFilter, _ ...repository.QueryOption) ([]*repository.UserRecord, error) {
	return u.list(ctx, userWhere(filter), 0, 0)
}

func (u *Users) Count(ctx context.Context, filter repository.UserFilter, _ ...repository.QueryOption) (int, error) {
	return u.count(ctx, userWhere(filter))
}

func (u *Users) Search(ctx context.Context, query repository.SearchQuery, _ ...repository.QueryOption) (repository.SearchResult, error) {
	w := searchWhere(query)

	total, err := u.count(ctx, w)
	if err != nil {
		return repository.SearchResult{}, err
	}
	if query.Skip >= total {
		return repository.SearchResult{Records: []*repository.UserRecord{}, Total: total}, nil
	}

	recs, err := u.list(ctx, w, query.Skip, query.Take)
	if err != nil {
		return repository.SearchResult{}, err
	}
	return repository.SearchResult{Records: recs, Total: total}, nil
}

func (u *Users) count(ctx context.Context, w *where) (int, error) {
	var n int
	if err := u.pool.QueryRow(ctx, "SELECT count(*) FROM "+usersTable+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (u *Users) list(ctx context.Context, w *where, skip, take int) ([]*repository.UserRecord, error) {
	query := "SELECT " + userColumns + " FROM " + usersTable + w.String() + " ORDER BY username_key, id"
	args := slices.Clone(w.args)
	if skip > 0 {
		args = append(args, skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	if take > 0 {
		args = append(args, take)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := u.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := []*repository.UserRecord{}
	for rows.Next() {
		rec, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

func (u *Users) Create(ctx context.Context, rec *repository.UserRecord) error {
	if rec.ID == "" {
		id, err := repository.NewID()
		if err != nil {
			return err
		}
		rec.ID = id
	}

	const query = `INSERT INTO ` + usersTable + ` (
		id, application_name, username, username_key, username_tokens,
		email, email_key, email_tokens,
		password_hash, password_salt, password_question, password_answer_hash, password_answer_salt,
		comment, is_approved, is_locked_out,
		creation_date, last_login_date, last_activity_date, last_password_changed_date, last_locked_out_date,
		failed_password_attempt_count, failed_password_attempt_window_start,
		failed_password_answer_attempt_count, failed_password_answer_attempt_window_start,
		roles, version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, 1)`

	if _, err := u.pool.Exec(ctx, query, append([]any{rec.ID}, userValues(rec)...)...); err != nil {
		if IsDuplicateKeyError(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	rec.Version = 1
	return nil
}

func (u *Users) Update(ctx context.Context, rec *repository.UserRecord, opts ...repository.WriteOption) error {
	query := `UPDATE ` + usersTable + ` SET
		application_name = $2, username = $3, username_key = $4, username_tokens = $5,
		email = $6, email_key = $7, email_tokens = $8,
		password_hash = $9, password_salt = $10, password_question = $11,
		password_answer_hash = $12, password_answer_salt = $13,
		comment = $14, is_approved = $15, is_locked_out = $16,
		creation_date = $17, last_login_date = $18, last_activity_date = $19,
		last_password_changed_date = $20, last_locked_out_date = $21,
		failed_password_attempt_count = $22, failed_password_attempt_window_start = $23,
		failed_password_answer_attempt_count = $24, failed_password_answer_attempt_window_start = $25,
		roles = $26, version = version + 1
	WHERE id = $1 AND application_name = $2`

	args := append([]any{rec.ID}, userValues(rec)...)
	if repository.ResolveWriteOptions(opts).Optimistic {
		args = append(args, rec.Version)
		query += fmt.Sprintf(" AND version = $%d", len(args))
	}
	query += " RETURNING version"

	var version int64
	if err := u.pool.QueryRow(ctx, query, args...).Scan(&version); err != nil {
		switch {
		case IsNotFoundError(err):
			return u.missed(ctx, rec)
		case IsDuplicateKeyError(err):
			return repository.ErrDuplicate
		}
		return fmt.Errorf("update user: %w", err)
	}
	rec.Version = version
	return nil
}

func (u *Users) Delete(ctx context.Context, rec *repository.UserRecord, opts ...repository.WriteOption) error {
	query := "DELETE FROM " + usersTable + " WHERE id = $1 AND application_name = $2"
	args := []any{rec.ID, rec.ApplicationName}
	if repository.ResolveWriteOptions(opts).Optimistic {
		args = append(args, rec.Version)
		query += " AND version = $3"
	}

	tag, err := u.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return u.missed(ctx, rec)
	}
	return nil
}

// missed tells a version mismatch from a missing row after a write touched
// nothing.
func (u *Users) missed(ctx context.Context, rec *repository.UserRecord) error {
	var exists bool
	err := u.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM "+usersTable+" WHERE id = $1 AND application_name = $2)",
		rec.ID, rec.ApplicationName,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

// userValues returns the column values for placeholders $2 through $26.
func userValues(rec *repository.UserRecord) []any {
	return []any{
		rec.ApplicationName,
		rec.Username,
		repository.FoldKey(rec.Username),
		nonNil(repository.Tokenize(rec.Username)),
		rec.Email,
		repository.FoldKey(rec.Email),
		nonNil(repository.Tokenize(rec.Email)),
		rec.PasswordHash,
		rec.PasswordSalt,
		rec.PasswordQuestion,
		rec.PasswordAnswerHash,
		rec.PasswordAnswerSalt,
		rec.Comment,
		rec.IsApproved,
		rec.IsLockedOut,
		rec.CreationDate,
		rec.LastLoginDate,
		rec.LastActivityDate,
		rec.LastPasswordChangedDate,
		rec.LastLockedOutDate,
		rec.FailedPasswordAttemptCount,
		rec.FailedPasswordAttemptWindowStart,
		rec.FailedPasswordAnswerAttemptCount,
		rec.FailedPasswordAnswerAttemptWindowStart,
		nonNil(rec.Roles),
	}
}

func scanUser(row pgx.Row) (*repository.UserRecord, error) {
	var rec repository.UserRecord
	err := row.Scan(
		&rec.ID,
		&rec.ApplicationName,
		&rec.Username,
		&rec.Email,
		&rec.PasswordHash,
		&rec.PasswordSalt,
		&rec.PasswordQuestion,
		&rec.PasswordAnswerHash,
		&rec.PasswordAnswerSalt,
		&rec.Comment,
		&rec.IsApproved,
		&rec.IsLockedOut,
		&rec.CreationDate,
		&rec.LastLoginDate,
		&rec.LastActivityDate,
		&rec.LastPasswordChangedDate,
		&rec.LastLockedOutDate,
		&rec.FailedPasswordAttemptCount,
		&rec.FailedPasswordAttemptWindowStart,
		&rec.FailedPasswordAnswerAttemptCount,
		&rec.FailedPasswordAnswerAttemptWindowStart,
		&rec.Roles,
		&rec.Version,
	)
	if err != nil {
		return nil, err
	}

	rec.CreationDate = rec.CreationDate.UTC()
	rec.LastActivityDate = rec.LastActivityDate.UTC()
	for _, p := range []**time.Time{
		&rec.LastLoginDate,
		&rec.LastPasswordChangedDate,
		&rec.LastLockedOutDate,
		&rec.FailedPasswordAttemptWindowStart,
		&rec.FailedPasswordAnswerAttemptWindowStart,
	} {
		if *p != nil {
			t := (*p).UTC()
			*p = &t
		}
	}
	if len(rec.Roles) == 0 {
		rec.Roles = nil
	}
	return &rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
