package goMembership

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goMembership/repository"
	"github.com/MrEthical07/goMembership/repository/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Membership.ApplicationName = "shop"
	cfg.Membership.MaxInvalidPasswordAttempts = 3
	cfg.Membership.PasswordAttemptWindow = 10 * time.Minute
	cfg.SessionState.Timeout = 20 * time.Minute
	return cfg
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// newMembershipTestEngine builds an engine over in-memory users and a
// miniredis-backed session store.
func newMembershipTestEngine(t *testing.T, cfg Config, sink AuditSink) (*Engine, func()) {
	t.Helper()

	engine, _, done := newRedisTestEngine(t, cfg, sink)
	return engine, done
}

func newRedisTestEngine(t *testing.T, cfg Config, sink AuditSink) (*Engine, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	builder := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserRepository(memory.NewUsers())
	if sink != nil {
		builder = builder.WithAuditSink(sink)
	}

	engine, err := builder.Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	return engine, mr, func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newMemoryTestEngine builds an engine over in-memory repositories with a
// controllable clock, so expiry can be tested without sleeping. Without
// Redis, failed attempts are not counted.
func newMemoryTestEngine(t testing.TB, cfg Config) (*Engine, *memory.Sessions, *fakeClock) {
	t.Helper()

	sessions := memory.NewSessions()
	engine, err := New().
		WithConfig(cfg).
		WithUserRepository(memory.NewUsers()).
		WithSessionRepository(sessions).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	clock := newFakeClock()
	engine.now = clock.Now
	return engine, sessions, clock
}

func createTestUser(t testing.TB, e *Engine, username, email, password string) *MembershipUser {
	t.Helper()

	u, err := e.CreateUser(context.Background(), CreateUserRequest{
		Username:         username,
		Password:         password,
		Email:            email,
		PasswordQuestion: "favourite colour",
		PasswordAnswer:   "blue",
		IsApproved:       true,
	})
	if err != nil {
		t.Fatalf("CreateUser(%q) failed: %v", username, err)
	}
	return u
}

func storedUser(t *testing.T, e *Engine, username string) *repository.UserRecord {
	t.Helper()

	rec, err := e.users.FindOne(context.Background(), repository.UserFilter{
		ApplicationName: e.config.Membership.ApplicationName,
		Username:        username,
	})
	if err != nil {
		t.Fatalf("FindOne(%q) failed: %v", username, err)
	}
	return rec
}

type captureSink struct {
	events chan AuditEvent
}

func newCaptureSink(buffer int) *captureSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &captureSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *captureSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// failingUsers wraps a repository and fails selected calls.
type failingUsers struct {
	repository.UserRepository
	failCreate error
	failFind   error
	failUpdate error
}

func (f *failingUsers) Create(ctx context.Context, rec *repository.UserRecord) error {
	if f.failCreate != nil {
		return f.failCreate
	}
	return f.UserRepository.Create(ctx, rec)
}

func (f *failingUsers) FindOne(ctx context.Context, filter repository.UserFilter, opts ...repository.QueryOption) (*repository.UserRecord, error) {
	if f.failFind != nil {
		return nil, f.failFind
	}
	return f.UserRepository.FindOne(ctx, filter, opts...)
}

func (f *failingUsers) Update(ctx context.Context, rec *repository.UserRecord, opts ...repository.WriteOption) error {
	if f.failUpdate != nil {
		return f.failUpdate
	}
	return f.UserRepository.Update(ctx, rec, opts...)
}
