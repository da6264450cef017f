package memory

import (
	"context"
	"sync"

	"github.com/MrEthical07/goMembership/repository"
)

// Users is a mutex-guarded repository.UserRepository.
type Users struct {
	mu      sync.RWMutex
	records map[string]*repository.UserRecord
}

var _ repository.UserRepository = (*Users)(nil)

// NewUsers returns an empty user repository.
func NewUsers() *Users {
	return &Users{records: make(map[string]*repository.UserRecord)}
}

func (u *Users) matches(filter repository.UserFilter) []*repository.UserRecord {
	out := make([]*repository.UserRecord, 0)
	for _, rec := range u.records {
		if filter.Match(rec) {
			out = append(out, rec)
		}
	}
	repository.SortUsers(out)
	return out
}

// FindOne returns the first match in username order.
func (u *Users) FindOne(ctx context.Context, filter repository.UserFilter, _ ...repository.QueryOption) (*repository.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()

	found := u.matches(filter)
	if len(found) == 0 {
		return nil, repository.ErrNotFound
	}
	return found[0].Clone(), nil
}

func (u *Users) FindMany(ctx context.Context, filter repository.UserFilter, _ ...repository.QueryOption) ([]*repository.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()

	found := u.matches(filter)
	for i, rec := range found {
		found[i] = rec.Clone()
	}
	return found, nil
}

func (u *Users) Count(ctx context.Context, filter repository.UserFilter, _ ...repository.QueryOption) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()

	n := 0
	for _, rec := range u.records {
		if filter.Match(rec) {
			n++
		}
	}
	return n, nil
}

func (u *Users) usernameTaken(rec *repository.UserRecord) bool {
	key := repository.FoldKey(rec.Username)
	for _, other := range u.records {
		if other.ID != rec.ID &&
			other.ApplicationName == rec.ApplicationName &&
			repository.FoldKey(other.Username) == key {
			return true
		}
	}
	return false
}

// Create stores rec with Version 1, assigning an ID when empty.
func (u *Users) Create(ctx context.Context, rec *repository.UserRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		id, err := repository.NewID()
		if err != nil {
			return err
		}
		rec.ID = id
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, exists := u.records[rec.ID]; exists || u.usernameTaken(rec) {
		return repository.ErrDuplicate
	}
	rec.Version = 1
	u.records[rec.ID] = rec.Clone()
	return nil
}

func (u *Users) Update(ctx context.Context, rec *repository.UserRecord, opts ...repository.WriteOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := repository.ResolveWriteOptions(opts)

	u.mu.Lock()
	defer u.mu.Unlock()

	stored, ok := u.records[rec.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if o.Optimistic && stored.Version != rec.Version {
		return repository.ErrConflict
	}
	if u.usernameTaken(rec) {
		return repository.ErrDuplicate
	}
	rec.Version = stored.Version + 1
	u.records[rec.ID] = rec.Clone()
	return nil
}

func (u *Users) Delete(ctx context.Context, rec *repository.UserRecord, opts ...repository.WriteOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := repository.ResolveWriteOptions(opts)

	u.mu.Lock()
	defer u.mu.Unlock()

	stored, ok := u.records[rec.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if o.Optimistic && stored.Version != rec.Version {
		return repository.ErrConflict
	}
	delete(u.records, rec.ID)
	return nil
}

// Search tokenizes the query field of every record in the application.
func (u *Users) Search(ctx context.Context, query repository.SearchQuery, _ ...repository.QueryOption) (repository.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return repository.SearchResult{}, err
	}
	terms := repository.TermTokens(query.Term)

	u.mu.RLock()
	defer u.mu.RUnlock()

	hits := make([]*repository.UserRecord, 0)
	for _, rec := range u.records {
		if rec.ApplicationName != query.ApplicationName {
			continue
		}
		tokens := repository.Tokenize(repository.FieldValue(rec, query.Field))
		if repository.MatchTerms(tokens, terms, query.Mode) {
			hits = append(hits, rec)
		}
	}
	repository.SortUsers(hits)

	page := repository.Page(hits, query.Skip, query.Take)
	out := make([]*repository.UserRecord, len(page))
	for i, rec := range page {
		out[i] = rec.Clone()
	}
	return repository.SearchResult{Records: out, Total: len(hits)}, nil
}
