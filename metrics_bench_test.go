package goMembership

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goMembership/password"
)

// sessionMix approximates the counter traffic of a busy session store:
// mostly lock handoffs, with the occasional busy read and expiry.
var sessionMix = [...]MetricID{
	MetricSessionLockAcquired,
	MetricSessionReleased,
	MetricSessionLockAcquired,
	MetricSessionReleased,
	MetricSessionLockBusy,
	MetricSessionLockAcquired,
	MetricSessionReleased,
	MetricSessionExpired,
}

func BenchmarkMetricsIncDisabled(b *testing.B) {
	m := NewMetrics(MetricsConfig{})
	b.ReportAllocs()
	for b.Loop() {
		m.Inc(MetricSessionLockAcquired)
	}
}

func BenchmarkMetricsSessionMixParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	var seed atomic.Uint32

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := int(seed.Add(1))
		for pb.Next() {
			m.Inc(sessionMix[i%len(sessionMix)])
			i++
		}
	})
}

func BenchmarkMetricsObserveValidateLatency(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	durations := [...]time.Duration{
		2 * time.Millisecond,
		18 * time.Millisecond,
		75 * time.Millisecond,
		600 * time.Millisecond,
	}

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			m.Observe(MetricValidateLatency, durations[i&3])
			i++
		}
	})
}

func BenchmarkMetricsSnapshot(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	for _, id := range sessionMix {
		m.Inc(id)
	}
	b.ReportAllocs()
	for b.Loop() {
		_ = m.Snapshot()
	}
}

func BenchmarkSessionLockHandoff(b *testing.B) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	engine, _, _ := newMemoryTestEngine(b, cfg)
	ctx := context.Background()

	const id = "bench-session"
	if err := engine.SetAndReleaseExclusive(ctx, id, map[string]string{"n": "0"}, 0, true); err != nil {
		b.Fatalf("seed session: %v", err)
	}

	b.ReportAllocs()
	n := 0
	for b.Loop() {
		item, err := engine.Get(ctx, id, true)
		if err != nil {
			b.Fatalf("Get: %v", err)
		}
		n++
		item.Items["n"] = strconv.Itoa(n)
		if err := engine.SetAndReleaseExclusive(ctx, id, item.Items, item.LockID, false); err != nil {
			b.Fatalf("SetAndReleaseExclusive: %v", err)
		}
	}
}

func BenchmarkValidateUserSHA256(b *testing.B) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Password.HashAlgorithm = string(password.SHA256)
	engine, _, _ := newMemoryTestEngine(b, cfg)
	createTestUser(b, engine, "bench", "bench@example.com", "correct-password-1!")
	ctx := context.Background()

	b.ReportAllocs()
	for b.Loop() {
		ok, err := engine.ValidateUser(ctx, "bench", "correct-password-1!")
		if err != nil || !ok {
			b.Fatalf("ValidateUser: ok=%v err=%v", ok, err)
		}
	}
}
