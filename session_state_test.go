package goMembership

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSessionUninitializedLifecycle(t *testing.T) {
	engine, _, _ := newMemoryTestEngine(t, testConfig())
	ctx := context.Background()

	if err := engine.CreateUninitializedItem(ctx, "s1", 0); err != nil {
		t.Fatalf("CreateUninitializedItem failed: %v", err)
	}

	item, err := engine.Get(ctx, "s1", true)
	if err != nil {
		t.Fatalf("exclusive Get failed: %v", err)
	}
	if !item.Found || item.Locked {
		t.Fatalf("expected found and acquired, got %+v", item)
	}
	if item.LockID != 1 {
		t.Fatalf("expected first acquisition to take lock id 1, got %d", item.LockID)
	}
	if item.Actions != ActionInitializeItem {
		t.Fatalf("expected ActionInitializeItem, got %v", item.Actions)
	}
	if item.Items == nil || len(item.Items) != 0 {
		t.Fatalf("expected empty items, got %v", item.Items)
	}
	if item.Timeout != 20*time.Minute {
		t.Fatalf("expected configured timeout, got %v", item.Timeout)
	}

	if err := engine.SetAndReleaseExclusive(ctx, "s1", map[string]string{"cart": "3"}, item.LockID, false); err != nil {
		t.Fatalf("SetAndReleaseExclusive failed: %v", err)
	}

	got, err := engine.Get(ctx, "s1", false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Locked || got.Items["cart"] != "3" {
		t.Fatalf("expected released session with cart=3, got %+v", got)
	}
	if got.Actions != ActionNone {
		t.Fatalf("expected flags cleared, got %v", got.Actions)
	}
	if got.LockID != item.LockID {
		t.Fatalf("expected lock id %d, got %d", item.LockID, got.LockID)
	}
}

func TestSessionLockIDIncreasesPerAcquisition(t *testing.T) {
	engine, _, _ := newMemoryTestEngine(t, testConfig())
	ctx := context.Background()

	if err := engine.SetAndReleaseExclusive(ctx, "s1", nil, 0, true); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	last := 0
	for i := 0; i < 3; i++ {
		item, err := engine.Get(ctx, "s1", true)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if item.LockID <= last {
			t.Fatalf("lock id did not increase: %d after %d", item.LockID, last)
		}
		last = item.LockID
		if err := engine.ReleaseExclusive(ctx, "s1", item.LockID); err != nil {
			t.Fatalf("ReleaseExclusive failed: %v", err)
		}
	}
}

func TestSessionLockedReportsHolder(t *testing.T) {
	engine, _, clock := newMemoryTestEngine(t, testConfig())
	ctx := context.Background()

	if err := engine.SetAndReleaseExclusive(ctx, "s1", map[string]string{"k": "v"}, 0, true); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	held, err := engine.Get(ctx, "s1", true)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	clock.Advance(5 * time.Second)
	for _, exclusive := range []bool{false, true} {
		item, err := engine.Get(ctx, "s1", exclusive)
		if err != nil {
			t.Fatalf("Get(exclusive=%v) failed: %v", exclusive, err)
		}
		if !item.Locked || item.Items != nil {
			t.Fatalf("expected locked without items, got %+v", item)
		}
		if item.LockID != held.LockID {
			t.Fatalf("expected holder lock id %d, got %d", held.LockID, item.LockID)
		}
		if item.LockAge != 5*time.Second {
			t.Fatalf("expected lock age 5s, got %v", item.LockAge)
		}
	}
}

func TestSessionStaleLockIDConflicts(t *testing.T) {
	engine, _, _ := newMemoryTestEngine(t, testConfig())
	ctx := context.Background()

	if err := engine.SetAndReleaseExclusive(ctx, "s1", map[string]string{"k": "v"}, 0, true); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	item, err := engine.Get(ctx, "s1", true)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	stale := item.LockID - 1

	if err := engine.ReleaseExclusive(ctx, "s1", stale); !errors.Is(err, ErrLockConflict) {
		t.Fatalf("expected ErrLockConflict on release, got %v", err)
	}
	if err := engine.SetAndReleaseExclusive(ctx, "s1", map[string]string{"k": "lost"}, stale, false); !errors.Is(err, ErrLockConflict) {
		t.Fatalf("expected ErrLockConflict on set, got %v", err)
	}

	// The holder's write still wins.
	if err := engine.SetAndReleaseExclusive(ctx, "s1", map[string]string{"k": "kept"}, item.LockID, false); err != nil {
		t.Fatalf("holder write failed: %v", err)
	}
	got, _ := engine.Get(ctx, "s1", false)
	if got.Items["k"] != "kept" {
		t.Fatalf("expected holder's items, got %v", got.Items)
	}
}

func TestSessionExpiredIsDeletedOnRead(t *testing.T) {
	engine, sessions, clock := newMemoryTestEngine(t, testConfig())
	ctx := context.Background()

	if err := engine.CreateUninitializedItem(ctx, "s1", 0); err != nil {
		t.Fatalf("CreateUninitializedItem failed: %v", err)
	}
	clock.Advance(21 * time.Minute)

	item, err := engine.Get(ctx, "s1", false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item.Found {
		t.Fatalf("expected expired session to be reported missing, got %+v", item)
	}
	if sessions.Len() != 0 {
		t.Fatalf("expected expired session deleted, %d remain", sessions.Len())
	}
}

func TestSessionIsNewConflictsWithLiveSession(t *testing.T) {
	engine, _, clock := newMemoryTestEngine(t, testConfig())
	ctx := context.Background()

	if err := engine.SetAndReleaseExclusive(ctx, "s2", map[string]string{"a": "1"}, 0, true); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	item, _ := engine.Get(ctx, "s2", true)
	if err := engine.ReleaseExclusive(ctx, "s2", item.LockID); err != nil {
		t.Fatalf("ReleaseExclusive failed: %v", err)
	}

	if err := engine.SetAndReleaseExclusive(ctx, "s2", map[string]string{"a": "2"}, 0, true); !errors.Is(err, ErrSessionAlreadyExists) {
		t.Fatalf("expected ErrSessionAlreadyExists, got %v", err)
	}

	clock.Advance(21 * time.Minute)
	if err := engine.SetAndReleaseExclusive(ctx, "s2", map[string]string{"a": "3"}, 0, true); err != nil {
		t.Fatalf("expected expired session to be replaced, got %v", err)
	}
	got, err := engine.Get(ctx, "s2", false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Items["a"] != "3" {
		t.Fatalf("expected replacement items, got %v", got.Items)
	}
	if got.LockID < item.LockID {
		t.Fatalf("lock id went backwards: %d < %d", got.LockID, item.LockID)
	}
}

func TestSessionRemove(t *testing.T) {
	engine, sessions, _ := newMemoryTestEngine(t, testConfig())
	ctx := context.Background()

	if err := engine.SetAndReleaseExclusive(ctx, "s1", nil, 0, true); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	item, _ := engine.Get(ctx, "s1", true)

	if err := engine.Remove(ctx, "s1", item.LockID+7); err != nil {
		t.Fatalf("mismatched Remove returned %v", err)
	}
	if sessions.Len() != 1 {
		t.Fatal("mismatched Remove deleted the session")
	}
	if err := engine.Remove(ctx, "s1", item.LockID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if sessions.Len() != 0 {
		t.Fatal("expected session removed")
	}
	if err := engine.Remove(ctx, "s1", item.LockID); err != nil {
		t.Fatalf("Remove of missing session returned %v", err)
	}
}

func TestSessionResetTimeout(t *testing.T) {
	engine, _, clock := newMemoryTestEngine(t, testConfig())
	ctx := context.Background()

	if err := engine.SetAndReleaseExclusive(ctx, "s1", map[string]string{"k": "v"}, 0, true); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	clock.Advance(15 * time.Minute)
	if err := engine.ResetTimeout(ctx, "s1"); err != nil {
		t.Fatalf("ResetTimeout failed: %v", err)
	}
	clock.Advance(15 * time.Minute)

	item, err := engine.Get(ctx, "s1", false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !item.Found {
		t.Fatal("expected ResetTimeout to extend the session")
	}

	if err := engine.ResetTimeout(ctx, "missing"); err != nil {
		t.Fatalf("ResetTimeout on a missing session returned %v", err)
	}
}

func TestSessionCreateUninitializedKeepsExisting(t *testing.T) {
	engine, _, _ := newMemoryTestEngine(t, testConfig())
	ctx := context.Background()

	if err := engine.SetAndReleaseExclusive(ctx, "s1", map[string]string{"k": "v"}, 0, true); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := engine.CreateUninitializedItem(ctx, "s1", time.Minute); err != nil {
		t.Fatalf("CreateUninitializedItem on existing session returned %v", err)
	}
	item, _ := engine.Get(ctx, "s1", false)
	if item.Items["k"] != "v" || item.Actions != ActionNone {
		t.Fatalf("existing session was overwritten: %+v", item)
	}
}

func TestSessionApplicationsAreIsolated(t *testing.T) {
	engine, _, _ := newMemoryTestEngine(t, testConfig())
	shop := WithApplicationName(context.Background(), "shop")
	blog := WithApplicationName(context.Background(), "blog")

	if err := engine.SetAndReleaseExclusive(shop, "s1", map[string]string{"k": "v"}, 0, true); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	item, err := engine.Get(blog, "s1", false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item.Found {
		t.Fatal("session leaked across applications")
	}
}

func TestSessionInvalidID(t *testing.T) {
	engine, _, _ := newMemoryTestEngine(t, testConfig())
	ctx := context.Background()

	if _, err := engine.Get(ctx, "", false); !errors.Is(err, ErrInvalidSessionID) {
		t.Fatalf("expected ErrInvalidSessionID, got %v", err)
	}
	long := strings.Repeat("x", maxSessionIDLength+1)
	if err := engine.CreateUninitializedItem(ctx, long, 0); !errors.Is(err, ErrInvalidSessionID) {
		t.Fatalf("expected ErrInvalidSessionID, got %v", err)
	}
}

func TestCreateNewStoreData(t *testing.T) {
	engine, _, _ := newMemoryTestEngine(t, testConfig())

	item := engine.CreateNewStoreData(0)
	if item.Items == nil || len(item.Items) != 0 {
		t.Fatalf("expected empty items, got %v", item.Items)
	}
	if item.Actions != ActionNone || item.Timeout != 20*time.Minute {
		t.Fatalf("unexpected store data %+v", item)
	}
	if got := engine.CreateNewStoreData(time.Minute).Timeout; got != time.Minute {
		t.Fatalf("expected explicit timeout, got %v", got)
	}
}

func TestNewSessionIDIsUsable(t *testing.T) {
	engine, _, _ := newMemoryTestEngine(t, testConfig())

	id, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID failed: %v", err)
	}
	if err := engine.CreateUninitializedItem(context.Background(), id, 0); err != nil {
		t.Fatalf("CreateUninitializedItem(%q) failed: %v", id, err)
	}
}

func TestRedisSessionLifecycle(t *testing.T) {
	engine, done := newMembershipTestEngine(t, testConfig(), nil)
	defer done()
	ctx := context.Background()

	if err := engine.CreateUninitializedItem(ctx, "s1", 0); err != nil {
		t.Fatalf("CreateUninitializedItem failed: %v", err)
	}
	item, err := engine.Get(ctx, "s1", true)
	if err != nil {
		t.Fatalf("exclusive Get failed: %v", err)
	}
	if item.Actions != ActionInitializeItem {
		t.Fatalf("expected ActionInitializeItem, got %v", item.Actions)
	}

	busy, err := engine.Get(ctx, "s1", true)
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if !busy.Locked || busy.LockID != item.LockID {
		t.Fatalf("expected locked by %d, got %+v", item.LockID, busy)
	}

	if err := engine.SetAndReleaseExclusive(ctx, "s1", map[string]string{"cart": "3"}, item.LockID, false); err != nil {
		t.Fatalf("SetAndReleaseExclusive failed: %v", err)
	}
	got, err := engine.Get(ctx, "s1", false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Items["cart"] != "3" {
		t.Fatalf("expected cart=3, got %v", got.Items)
	}

	if err := engine.SetAndReleaseExclusive(ctx, "s2", nil, 0, true); err != nil {
		t.Fatalf("create s2 failed: %v", err)
	}
	n, err := engine.EstimateActiveSessions(ctx)
	if err != nil {
		t.Fatalf("EstimateActiveSessions failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 sessions, got %d", n)
	}

	if err := engine.Remove(ctx, "s1", got.LockID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if gone, _ := engine.Get(ctx, "s1", false); gone.Found {
		t.Fatal("expected s1 removed")
	}
}

func TestPingReportsBackends(t *testing.T) {
	engine, done := newMembershipTestEngine(t, testConfig(), nil)
	defer done()

	status, err := engine.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if !status.SessionsAvailable {
		t.Fatalf("expected sessions available, got %+v", status)
	}
}

func TestEstimateActiveSessionsWithoutRedis(t *testing.T) {
	engine, _, _ := newMemoryTestEngine(t, testConfig())
	if _, err := engine.EstimateActiveSessions(context.Background()); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

func TestSessionConcurrentExclusiveGetSingleWinner(t *testing.T) {
	backends := map[string]func(t *testing.T) *Engine{
		"memory": func(t *testing.T) *Engine {
			engine, _, _ := newMemoryTestEngine(t, testConfig())
			return engine
		},
		"redis": func(t *testing.T) *Engine {
			engine, _, done := newRedisTestEngine(t, testConfig(), nil)
			t.Cleanup(done)
			return engine
		},
	}

	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			engine := build(t)
			ctx := context.Background()
			if err := engine.SetAndReleaseExclusive(ctx, "race", map[string]string{"n": "1"}, 0, true); err != nil {
				t.Fatalf("seed session: %v", err)
			}

			const callers = 50
			var (
				acquired, busy atomic.Int32
				winnerLockID   atomic.Int64
				start          = make(chan struct{})
				wg             sync.WaitGroup
				failures       = make(chan error, callers)
			)
			for range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					item, err := engine.Get(ctx, "race", true)
					switch {
					case errors.Is(err, ErrLockConflict):
						busy.Add(1)
					case err != nil:
						failures <- err
					case item.Locked:
						busy.Add(1)
					case item.Found:
						acquired.Add(1)
						winnerLockID.Store(int64(item.LockID))
					default:
						failures <- errors.New("session vanished")
					}
				}()
			}
			close(start)
			wg.Wait()
			close(failures)

			for err := range failures {
				t.Fatalf("unexpected Get result: %v", err)
			}
			if acquired.Load() != 1 || busy.Load() != callers-1 {
				t.Fatalf("expected one winner, got acquired=%d busy=%d", acquired.Load(), busy.Load())
			}

			held, err := engine.Get(ctx, "race", false)
			if err != nil || !held.Locked || int64(held.LockID) != winnerLockID.Load() {
				t.Fatalf("expected lock held by the winner, got %+v err=%v", held, err)
			}
		})
	}
}
