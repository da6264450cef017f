package postgres

import (
	"fmt"
	"strings"

	"github.com/MrEthical07/goMembership/repository"
)

const usersTable = "membership_users"

const userColumns = `id, application_name, username, email,
	password_hash, password_salt, password_question, password_answer_hash, password_answer_salt,
	comment, is_approved, is_locked_out,
	creation_date, last_login_date, last_activity_date, last_password_changed_date, last_locked_out_date,
	failed_password_attempt_count, failed_password_attempt_window_start,
	failed_password_answer_attempt_count, failed_password_answer_attempt_window_start,
	roles, version`

// where accumulates AND-ed predicates and their positional arguments.
type where struct {
	clauses []string
	args    []any
}

// add appends a predicate. format holds one %d verb for the placeholder.
func (w *where) add(format string, v any) {
	w.args = append(w.args, v)
	w.clauses = append(w.clauses, fmt.Sprintf(format, len(w.args)))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func userWhere(f repository.UserFilter) *where {
	w := &where{}
	w.add("application_name = $%d", f.ApplicationName)
	if f.ID != "" {
		w.add("id = $%d", f.ID)
	}
	if f.Username != "" {
		w.add("username_key = $%d", repository.FoldKey(f.Username))
	}
	if f.Email != "" {
		w.add("email_key = $%d", repository.FoldKey(f.Email))
	}
	if !f.ActiveSince.IsZero() {
		w.add("last_activity_date >= $%d", f.ActiveSince)
	}
	return w
}

// searchWhere matches each term token against the field's token array.
// Wildcard tokens become LIKE patterns over single array elements.
func searchWhere(q repository.SearchQuery) *where {
	w := &where{}
	w.add("application_name = $%d", q.ApplicationName)

	terms := repository.TermTokens(q.Term)
	if len(terms) == 0 {
		return w
	}

	column := "username_tokens"
	if q.Field == repository.FieldEmail {
		column = "email_tokens"
	}

	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		if strings.Contains(term, "*") {
			w.args = append(w.args, repository.LikePattern(term))
			parts = append(parts, fmt.Sprintf(
				`EXISTS (SELECT 1 FROM unnest(%s) AS t(tok) WHERE t.tok LIKE $%d ESCAPE '\')`,
				column, len(w.args)))
			continue
		}
		w.args = append(w.args, term)
		parts = append(parts, fmt.Sprintf("$%d = ANY(%s)", len(w.args), column))
	}

	sep := " AND "
	if q.Mode == repository.SearchOr {
		sep = " OR "
	}
	w.clauses = append(w.clauses, "("+strings.Join(parts, sep)+")")
	return w
}
