package goMembership

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a counter or histogram in the in-process metrics system.
type MetricID uint16

const (
	// MetricUserCreated counts successful CreateUser calls.
	MetricUserCreated MetricID = iota
	// MetricUserCreateRejected counts CreateUser calls that returned a CreateUserError.
	MetricUserCreateRejected
	// MetricValidateSuccess counts ValidateUser calls that returned true.
	MetricValidateSuccess
	// MetricValidateFailure counts ValidateUser calls that returned false.
	MetricValidateFailure
	// MetricUserLockedOut counts users locked after too many failed attempts.
	MetricUserLockedOut
	MetricUserUnlocked
	MetricPasswordChanged
	MetricPasswordChangeFailure
	MetricPasswordReset
	MetricPasswordResetFailure
	MetricUserDeleted
	// MetricSessionCreated counts session records inserted by the session store.
	MetricSessionCreated
	// MetricSessionLockAcquired counts exclusive reads that took the lock.
	MetricSessionLockAcquired
	// MetricSessionLockBusy counts reads that found the session locked by another holder.
	MetricSessionLockBusy
	// MetricSessionLockConflict counts ErrLockConflict results.
	MetricSessionLockConflict
	// MetricSessionReleased counts successful lock releases, with or without new items.
	MetricSessionReleased
	// MetricSessionExpired counts expired records deleted on read.
	MetricSessionExpired
	MetricSessionRemoved
	// MetricProviderError counts repository failures surfaced as ErrProviderError.
	MetricProviderError
	// MetricTicketIssued counts signed forms-authentication tickets.
	MetricTicketIssued
	// MetricValidateLatency is the ValidateUser latency histogram.
	MetricValidateLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds, in milliseconds, of every
// histogram bucket but the last. The last bucket takes everything slower.
var latencyBounds = [...]int64{5, 10, 25, 50, 100, 250, 500}

const histBucketCount = len(latencyBounds) + 1

// slot keeps each counter on its own cache line so hot session counters
// incremented from many goroutines do not false-share.
type slot struct {
	n atomic.Uint64
	_ [56]byte
}

// Metrics holds lock-free counters indexed by MetricID. A nil or disabled
// Metrics ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]slot
	latency       [histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of all counters and histograms.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether ValidateUser latency is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter for id. Safe for concurrent use.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount {
		return
	}
	m.counters[id].n.Add(1)
}

// Observe records d in the histogram for id. Only MetricValidateLatency
// has a histogram; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricValidateLatency {
		return
	}
	m.latency[bucketIndex(d)].Add(1)
}

// Value returns the current count for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].n.Load()
}

// Snapshot copies every counter. Disabled metrics return empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}

	for id := range metricIDCount {
		s.Counters[id] = m.counters[id].n.Load()
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.latency[i].Load()
		}
		s.Histograms[MetricValidateLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	for i, bound := range latencyBounds {
		if ms <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
