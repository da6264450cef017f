package mongo

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/MrEthical07/goMembership/repository"
)

// Document field names.
const (
	fieldID               = "_id"
	fieldApplication      = "application_name"
	fieldUsernameKey      = "username_key"
	fieldUsernameTokens   = "username_tokens"
	fieldEmailKey         = "email_key"
	fieldEmailTokens      = "email_tokens"
	fieldLastActivityDate = "last_activity_date"
	fieldVersion          = "version"
)

// userDocument is the stored shape of a user. The *_key and *_tokens fields
// are derived on every write and drive lookups and search.
type userDocument struct {
	ID              string `bson:"_id"`
	ApplicationName string `bson:"application_name"`

	Username       string   `bson:"username"`
	UsernameKey    string   `bson:"username_key"`
	UsernameTokens []string `bson:"username_tokens"`

	Email       string   `bson:"email"`
	EmailKey    string   `bson:"email_key"`
	EmailTokens []string `bson:"email_tokens"`

	PasswordHash       string `bson:"password_hash"`
	PasswordSalt       string `bson:"password_salt"`
	PasswordQuestion   string `bson:"password_question,omitempty"`
	PasswordAnswerHash string `bson:"password_answer_hash,omitempty"`
	PasswordAnswerSalt string `bson:"password_answer_salt,omitempty"`

	Comment     string `bson:"comment,omitempty"`
	IsApproved  bool   `bson:"is_approved"`
	IsLockedOut bool   `bson:"is_locked_out"`

	CreationDate            time.Time  `bson:"creation_date"`
	LastLoginDate           *time.Time `bson:"last_login_date,omitempty"`
	LastActivityDate        time.Time  `bson:"last_activity_date"`
	LastPasswordChangedDate *time.Time `bson:"last_password_changed_date,omitempty"`
	LastLockedOutDate       *time.Time `bson:"last_locked_out_date,omitempty"`

	FailedPasswordAttemptCount             int        `bson:"failed_password_attempt_count"`
	FailedPasswordAttemptWindowStart       *time.Time `bson:"failed_password_attempt_window_start,omitempty"`
	FailedPasswordAnswerAttemptCount       int        `bson:"failed_password_answer_attempt_count"`
	FailedPasswordAnswerAttemptWindowStart *time.Time `bson:"failed_password_answer_attempt_window_start,omitempty"`

	Roles []string `bson:"roles,omitempty"`

	Version int64 `bson:"version"`
}

func toDocument(rec *repository.UserRecord) *userDocument {
	return &userDocument{
		ID:                                     rec.ID,
		ApplicationName:                        rec.ApplicationName,
		Username:                               rec.Username,
		UsernameKey:                            repository.FoldKey(rec.Username),
		UsernameTokens:                         repository.Tokenize(rec.Username),
		Email:                                  rec.Email,
		EmailKey:                               repository.FoldKey(rec.Email),
		EmailTokens:                            repository.Tokenize(rec.Email),
		PasswordHash:                           rec.PasswordHash,
		PasswordSalt:                           rec.PasswordSalt,
		PasswordQuestion:                       rec.PasswordQuestion,
		PasswordAnswerHash:                     rec.PasswordAnswerHash,
		PasswordAnswerSalt:                     rec.PasswordAnswerSalt,
		Comment:                                rec.Comment,
		IsApproved:                             rec.IsApproved,
		IsLockedOut:                            rec.IsLockedOut,
		CreationDate:                           rec.CreationDate,
		LastLoginDate:                          rec.LastLoginDate,
		LastActivityDate:                       rec.LastActivityDate,
		LastPasswordChangedDate:                rec.LastPasswordChangedDate,
		LastLockedOutDate:                      rec.LastLockedOutDate,
		FailedPasswordAttemptCount:             rec.FailedPasswordAttemptCount,
		FailedPasswordAttemptWindowStart:       rec.FailedPasswordAttemptWindowStart,
		FailedPasswordAnswerAttemptCount:       rec.FailedPasswordAnswerAttemptCount,
		FailedPasswordAnswerAttemptWindowStart: rec.FailedPasswordAnswerAttemptWindowStart,
		Roles:                                  rec.Roles,
		Version:                                rec.Version,
	}
}

func (d *userDocument) record() *repository.UserRecord {
	return &repository.UserRecord{
		ID:                                     d.ID,
		ApplicationName:                        d.ApplicationName,
		Username:                               d.Username,
		Email:                                  d.Email,
		PasswordHash:                           d.PasswordHash,
		PasswordSalt:                           d.PasswordSalt,
		PasswordQuestion:                       d.PasswordQuestion,
		PasswordAnswerHash:                     d.PasswordAnswerHash,
		PasswordAnswerSalt:                     d.PasswordAnswerSalt,
		Comment:                                d.Comment,
		IsApproved:                             d.IsApproved,
		IsLockedOut:                            d.IsLockedOut,
		CreationDate:                           d.CreationDate.UTC(),
		LastLoginDate:                          utcPtr(d.LastLoginDate),
		LastActivityDate:                       d.LastActivityDate.UTC(),
		LastPasswordChangedDate:                utcPtr(d.LastPasswordChangedDate),
		LastLockedOutDate:                      utcPtr(d.LastLockedOutDate),
		FailedPasswordAttemptCount:             d.FailedPasswordAttemptCount,
		FailedPasswordAttemptWindowStart:       utcPtr(d.FailedPasswordAttemptWindowStart),
		FailedPasswordAnswerAttemptCount:       d.FailedPasswordAnswerAttemptCount,
		FailedPasswordAnswerAttemptWindowStart: utcPtr(d.FailedPasswordAnswerAttemptWindowStart),
		Roles:                                  d.Roles,
		Version:                                d.Version,
	}
}

// BSON dates carry millisecond precision and decode in local time.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func userFilterDoc(f repository.UserFilter) bson.D {
	doc := bson.D{{Key: fieldApplication, Value: f.ApplicationName}}
	if f.ID != "" {
		doc = append(doc, bson.E{Key: fieldID, Value: f.ID})
	}
	if f.Username != "" {
		doc = append(doc, bson.E{Key: fieldUsernameKey, Value: repository.FoldKey(f.Username)})
	}
	if f.Email != "" {
		doc = append(doc, bson.E{Key: fieldEmailKey, Value: repository.FoldKey(f.Email)})
	}
	if !f.ActiveSince.IsZero() {
		doc = append(doc, bson.E{Key: fieldLastActivityDate, Value: bson.D{{Key: "$gte", Value: f.ActiveSince}}})
	}
	return doc
}

// searchFilterDoc matches the query terms against the field's token array.
// A term with '*' becomes an anchored regex over single tokens.
func searchFilterDoc(q repository.SearchQuery) bson.D {
	doc := bson.D{{Key: fieldApplication, Value: q.ApplicationName}}

	terms := repository.TermTokens(q.Term)
	if len(terms) == 0 {
		return doc
	}

	field := fieldUsernameTokens
	if q.Field == repository.FieldEmail {
		field = fieldEmailTokens
	}

	clauses := make(bson.A, 0, len(terms))
	for _, term := range terms {
		var match any = term
		if strings.Contains(term, "*") {
			match = bson.Regex{Pattern: repository.RegexPattern(term)}
		}
		clauses = append(clauses, bson.D{{Key: field, Value: match}})
	}

	op := "$and"
	if q.Mode == repository.SearchOr {
		op = "$or"
	}
	return append(doc, bson.E{Key: op, Value: clauses})
}
