package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newAttemptLimiterTest(t *testing.T, cfg AttemptConfig) (*AttemptLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewAttemptLimiter(rdb, cfg), mr
}

func TestAttemptLimiterReachesThreshold(t *testing.T) {
	l, mr := newAttemptLimiterTest(t, AttemptConfig{Enabled: true, Threshold: 3, Window: 10 * time.Minute})
	ctx := context.Background()

	var last Attempt
	for i := 1; i <= 3; i++ {
		a, err := l.RecordFailure(ctx, "shop", "bob", KindPassword)
		if err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
		if a.Count != i {
			t.Fatalf("expected count %d, got %d", i, a.Count)
		}
		if a.Reached != (i == 3) {
			t.Fatalf("attempt %d: unexpected reached=%v", i, a.Reached)
		}
		if i > 1 && !a.WindowStart.Equal(last.WindowStart) {
			t.Fatalf("window start moved: %v -> %v", last.WindowStart, a.WindowStart)
		}
		last = a
	}

	if ttl := mr.TTL("gma:pw:shop:bob"); ttl <= 0 || ttl > 10*time.Minute {
		t.Fatalf("expected window ttl, got %v", ttl)
	}
}

func TestAttemptLimiterWindowExpires(t *testing.T) {
	l, mr := newAttemptLimiterTest(t, AttemptConfig{Enabled: true, Threshold: 2, Window: time.Minute})
	ctx := context.Background()

	if _, err := l.RecordFailure(ctx, "shop", "bob", KindPassword); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	a, err := l.RecordFailure(ctx, "shop", "bob", KindPassword)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if a.Count != 1 || a.Reached {
		t.Fatalf("expected a fresh window, got %+v", a)
	}
}

// windowCount reads the raw counter; "" means no open window.
func windowCount(mr *miniredis.Miniredis, kind AttemptKind) string {
	return mr.HGet("gma:"+string(kind)+":shop:bob", "count")
}

func TestAttemptLimiterKindsAreSeparate(t *testing.T) {
	l, mr := newAttemptLimiterTest(t, AttemptConfig{Enabled: true, Threshold: 5, Window: time.Minute})
	ctx := context.Background()

	_, _ = l.RecordFailure(ctx, "shop", "bob", KindPassword)
	_, _ = l.RecordFailure(ctx, "shop", "bob", KindPassword)
	_, _ = l.RecordFailure(ctx, "shop", "bob", KindPasswordAnswer)

	if pw, pa := windowCount(mr, KindPassword), windowCount(mr, KindPasswordAnswer); pw != "2" || pa != "1" {
		t.Fatalf("expected 2/1, got %q/%q", pw, pa)
	}

	if err := l.Reset(ctx, "shop", "bob", KindPassword); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if pw, pa := windowCount(mr, KindPassword), windowCount(mr, KindPasswordAnswer); pw != "" || pa != "1" {
		t.Fatalf("expected only the answer window after reset, got %q/%q", pw, pa)
	}

	if err := l.Reset(ctx, "shop", "bob"); err != nil {
		t.Fatalf("reset all: %v", err)
	}
	if pa := windowCount(mr, KindPasswordAnswer); pa != "" {
		t.Fatalf("expected answer window cleared, got %q", pa)
	}
}

func TestAttemptLimiterDisabledAndNil(t *testing.T) {
	var nilLimiter *AttemptLimiter
	if a, err := nilLimiter.RecordFailure(context.Background(), "shop", "bob", KindPassword); err != nil || a.Reached {
		t.Fatalf("nil limiter should be inert, got %+v %v", a, err)
	}

	l := NewAttemptLimiter(nil, AttemptConfig{Enabled: true, Threshold: 1})
	if a, err := l.RecordFailure(context.Background(), "shop", "bob", KindPassword); err != nil || a.Reached {
		t.Fatalf("limiter without redis should be inert, got %+v %v", a, err)
	}
}

func TestAttemptLimiterRedisDown(t *testing.T) {
	l, mr := newAttemptLimiterTest(t, AttemptConfig{Enabled: true, Threshold: 3, Window: time.Minute})
	mr.Close()

	_, err := l.RecordFailure(context.Background(), "shop", "bob", KindPassword)
	if !errors.Is(err, ErrAttemptsUnavailable) {
		t.Fatalf("expected ErrAttemptsUnavailable, got %v", err)
	}
}
