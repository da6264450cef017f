package repository

import (
	"regexp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// SearchField names the user field a search runs against.
type SearchField string

const (
	FieldUsername SearchField = "username"
	FieldEmail    SearchField = "email"
)

// SearchMode combines the tokens of a search term.
type SearchMode uint8

const (
	// SearchAnd requires every term token to match.
	SearchAnd SearchMode = iota
	// SearchOr requires at least one term token to match.
	SearchOr
)

// MatchAllTerm selects every record of the application.
const MatchAllTerm = "*"

// SearchQuery is a paged token search over one user field.
type SearchQuery struct {
	ApplicationName string
	Field           SearchField
	Term            string
	Mode            SearchMode
	Skip            int
	Take            int
}

// SearchResult holds one page of matches and the unpaged match count.
type SearchResult struct {
	Records []*UserRecord
	Total   int
}

// FoldKey returns the case-folded form used for unique keys and equality.
func FoldKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Tokenize splits a field value into case-folded tokens on every character
// that is neither a letter nor a digit.
func Tokenize(s string) []string {
	return splitTokens(s, false)
}

// TermTokens splits a search term like Tokenize but keeps '*' wildcards.
// It returns nil for terms that match everything.
func TermTokens(term string) []string {
	if IsMatchAll(term) {
		return nil
	}
	return splitTokens(term, true)
}

// IsMatchAll reports whether term selects every record.
func IsMatchAll(term string) bool {
	t := strings.TrimSpace(term)
	return t == "" || strings.Trim(t, "*") == ""
}

func splitTokens(s string, keepWildcard bool) []string {
	fields := strings.FieldsFunc(cases.Fold().String(s), func(r rune) bool {
		if keepWildcard && r == '*' {
			return false
		}
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if keepWildcard && strings.Trim(f, "*") == "" {
			continue
		}
		out = append(out, f)
	}
	return slices.Compact(out)
}

// FieldValue returns the value of field on u.
func FieldValue(u *UserRecord, field SearchField) string {
	if field == FieldEmail {
		return u.Email
	}
	return u.Username
}

// MatchTerms reports whether the field tokens satisfy the term tokens under
// mode. An empty term list matches everything.
func MatchTerms(fieldTokens, termTokens []string, mode SearchMode) bool {
	if len(termTokens) == 0 {
		return true
	}
	for _, term := range termTokens {
		hit := slices.ContainsFunc(fieldTokens, func(tok string) bool {
			return MatchToken(tok, term)
		})
		if mode == SearchOr && hit {
			return true
		}
		if mode == SearchAnd && !hit {
			return false
		}
	}
	return mode == SearchAnd
}

// MatchToken reports whether a field token matches a term token, where '*'
// in the term matches any run of characters.
func MatchToken(token, term string) bool {
	if !strings.Contains(term, "*") {
		return token == term
	}

	parts := strings.Split(term, "*")
	if !strings.HasPrefix(token, parts[0]) {
		return false
	}
	rest := token[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, mid := range parts[1 : len(parts)-1] {
		i := strings.Index(rest, mid)
		if i < 0 {
			return false
		}
		rest = rest[i+len(mid):]
	}
	return strings.HasSuffix(rest, last)
}

// LikePattern converts a term token into a SQL LIKE pattern with '\' as the
// escape character.
func LikePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `%`)
	return r.Replace(term)
}

// RegexPattern converts a term token into an anchored regular expression.
func RegexPattern(term string) string {
	parts := strings.Split(term, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return "^" + strings.Join(parts, ".*") + "$"
}

// SortUsers orders records by folded username, then id, giving stable pages.
func SortUsers(records []*UserRecord) {
	slices.SortFunc(records, func(a, b *UserRecord) int {
		if c := strings.Compare(FoldKey(a.Username), FoldKey(b.Username)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// Page returns the [skip, skip+take) window of records. take <= 0 means no
// upper bound.
func Page(records []*UserRecord, skip, take int) []*UserRecord {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(records) {
		return []*UserRecord{}
	}
	end := len(records)
	if take > 0 && skip+take < end {
		end = skip + take
	}
	return records[skip:end]
}
