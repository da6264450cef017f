package memory

import (
	"context"
	"sync"

	"github.com/MrEthical07/goMembership/repository"
)

type sessionKey struct {
	app string
	id  string
}

// Sessions is a mutex-guarded repository.SessionRepository. Expired records
// stay until a caller deletes them.
type Sessions struct {
	mu      sync.Mutex
	records map[sessionKey]*repository.SessionRecord
}

var _ repository.SessionRepository = (*Sessions)(nil)

// NewSessions returns an empty session repository.
func NewSessions() *Sessions {
	return &Sessions{records: make(map[sessionKey]*repository.SessionRecord)}
}

func keyOf(app, id string) sessionKey {
	return sessionKey{app: app, id: repository.SessionRecordID(id)}
}

func (s *Sessions) FindOne(ctx context.Context, filter repository.SessionFilter, _ ...repository.QueryOption) (*repository.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[keyOf(filter.ApplicationName, filter.ID)]
	if !ok || !filter.Match(rec) {
		return nil, repository.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Sessions) Create(ctx context.Context, rec *repository.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.ID = repository.SessionRecordID(rec.ID)
	k := keyOf(rec.ApplicationName, rec.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[k]; exists {
		return repository.ErrDuplicate
	}
	rec.Version = 1
	s.records[k] = rec.Clone()
	return nil
}

func (s *Sessions) Update(ctx context.Context, rec *repository.SessionRecord, opts ...repository.WriteOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := repository.ResolveWriteOptions(opts)
	k := keyOf(rec.ApplicationName, rec.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[k]
	if !ok {
		return repository.ErrNotFound
	}
	if o.Optimistic && stored.Version != rec.Version {
		return repository.ErrConflict
	}
	rec.Version = stored.Version + 1
	s.records[k] = rec.Clone()
	return nil
}

func (s *Sessions) Delete(ctx context.Context, rec *repository.SessionRecord, opts ...repository.WriteOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := repository.ResolveWriteOptions(opts)
	k := keyOf(rec.ApplicationName, rec.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[k]
	if !ok {
		return repository.ErrNotFound
	}
	if o.Optimistic && stored.Version != rec.Version {
		return repository.ErrConflict
	}
	delete(s.records, k)
	return nil
}

// Len returns the number of stored sessions across all applications.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
