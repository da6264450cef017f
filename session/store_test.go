package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goMembership/repository"
)

func newSessionStoreTest(t *testing.T) (*Store, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, "gm", time.Minute)
	return store, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func testRecord() *repository.SessionRecord {
	now := time.Now().UTC()
	return &repository.SessionRecord{
		ID:              "abc",
		ApplicationName: "shop",
		CreationDate:    now,
		ExpireDate:      now.Add(20 * time.Minute),
		Timeout:         20 * time.Minute,
		Items:           map[string]string{"cart": "3"},
	}
}

func testFilter() repository.SessionFilter {
	return repository.SessionFilter{ApplicationName: "shop", ID: "abc"}
}

func TestStoreCreateAndFind(t *testing.T) {
	store, mr, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	rec := testRecord()

	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Version != 1 || rec.ID != "sessionstates/abc" {
		t.Fatalf("unexpected identity after create: %q v%d", rec.ID, rec.Version)
	}

	key := "gm:shop:sessionstates/abc"
	if !mr.Exists(key) {
		t.Fatalf("expected key %s", key)
	}
	if ttl := mr.TTL(key); ttl <= 20*time.Minute || ttl > 21*time.Minute {
		t.Fatalf("expected ttl to cover expiry plus retention, got %v", ttl)
	}

	got, err := store.FindOne(ctx, testFilter())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Items["cart"] != "3" || got.Version != 1 || got.ApplicationName != "shop" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.ExpireDate.Equal(rec.ExpireDate) {
		t.Fatalf("expire date mismatch: %v vs %v", got.ExpireDate, rec.ExpireDate)
	}
}

func TestStoreCreateDuplicate(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Create(ctx, testRecord()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, testRecord()); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestStoreFindMissingAndLockMismatch(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if _, err := store.FindOne(ctx, testFilter()); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rec := testRecord()
	rec.LockID = 4
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.FindOne(ctx, testFilter().WithLockID(5)); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected lock mismatch to read as not found, got %v", err)
	}
	if _, err := store.FindOne(ctx, testFilter().WithLockID(4)); err != nil {
		t.Fatalf("expected lock match, got %v", err)
	}
}

func TestStoreOptimisticUpdate(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Create(ctx, testRecord()); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, _ := store.FindOne(ctx, testFilter())
	second, _ := store.FindOne(ctx, testFilter())

	first.IsLocked = true
	first.LockID = 1
	if err := store.Update(ctx, first, repository.WithOptimisticConcurrency()); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if first.Version != 2 {
		t.Fatalf("expected version 2, got %d", first.Version)
	}

	second.IsLocked = true
	second.LockID = 1
	if err := store.Update(ctx, second, repository.WithOptimisticConcurrency()); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// Without the option the write wins regardless of version.
	second.Items["cart"] = "9"
	if err := store.Update(ctx, second); err != nil {
		t.Fatalf("blind update: %v", err)
	}
	got, _ := store.FindOne(ctx, testFilter())
	if got.Version != 3 || got.Items["cart"] != "9" {
		t.Fatalf("unexpected record after blind update: %+v", got)
	}
}

func TestStoreUpdateMissing(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()

	err := store.Update(context.Background(), testRecord())
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreDelete(t *testing.T) {
	store, mr, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Create(ctx, testRecord()); err != nil {
		t.Fatalf("create: %v", err)
	}
	stale, _ := store.FindOne(ctx, testFilter())
	stale.Version = 7
	if err := store.Delete(ctx, stale, repository.WithOptimisticConcurrency()); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	stale.Version = 1
	if err := store.Delete(ctx, stale, repository.WithOptimisticConcurrency()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("gm:shop:sessionstates/abc") {
		t.Fatal("expected key removed")
	}
	if err := store.Delete(ctx, stale); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStoreCorruptBlob(t *testing.T) {
	store, mr, done := newSessionStoreTest(t)
	defer done()

	mr.HSet("gm:shop:sessionstates/abc", "v", "1", "d", "\x09garbage")
	if _, err := store.FindOne(context.Background(), testFilter()); !errors.Is(err, ErrSessionCorrupt) {
		t.Fatalf("expected ErrSessionCorrupt, got %v", err)
	}
}

func TestStoreExpiredRecordTTLFloor(t *testing.T) {
	store, mr, done := newSessionStoreTest(t)
	defer done()

	rec := testRecord()
	rec.ExpireDate = time.Now().Add(-time.Hour)
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ttl := mr.TTL("gm:shop:sessionstates/abc"); ttl != minKeyTTL {
		t.Fatalf("expected ttl floor %v, got %v", minKeyTTL, ttl)
	}
}

func TestEstimateActiveSessions(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		rec := testRecord()
		rec.ID = id
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	other := testRecord()
	other.ApplicationName = "blog"
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("create other: %v", err)
	}

	n, err := store.EstimateActiveSessions(ctx, "shop")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 sessions, got %d", n)
	}
}

func TestStoreRedisDown(t *testing.T) {
	store, mr, done := newSessionStoreTest(t)
	defer done()

	mr.Close()
	if _, err := store.FindOne(context.Background(), testFilter()); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if _, err := store.Ping(context.Background()); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ping failure, got %v", err)
	}
}
