package metrics

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a counter or histogram slot.
type MetricID uint16

const (
	MetricLockAcquired MetricID = iota
	MetricLockTimeout
	// MetricLockQueued counts callers that joined the in-process queue
	// instead of running the cross-context protocol.
	MetricLockQueued
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshDeduplicated
	MetricRefreshRetry
	MetricSessionSaved
	MetricSessionRemoved
	MetricSignIn
	MetricSignOut
	MetricUserUpdated
	MetricEventNotified
	MetricEventBroadcast
	MetricEventReceived
	MetricSubscriberError
	MetricAutoRefreshTick
	MetricAutoRefreshSkipped
	MetricLockWaitLatency
	MetricIDCount
)

// lockWaitBounds are the inclusive upper bounds of the first seven lock-wait
// buckets; the eighth is unbounded.
var lockWaitBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const bucketCount = len(lockWaitBounds) + 1

// counter sits on its own cache line; clients on many goroutines bump
// neighbouring ids.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

// Config toggles collection.
type Config struct {
	Enabled       bool
	EnableLatency bool
}

// Metrics holds lock-free counters and the lock wait histogram. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	enabled  bool
	latency  bool
	counters [MetricIDCount]counter
	lockWait [bucketCount]atomic.Uint64
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// New returns a metrics set. Latency histograms need both flags.
func New(cfg Config) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatency,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.latency
}

// Inc increments a counter.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= MetricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Observe records d in the histogram for id. Only MetricLockWaitLatency has a
// histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricLockWaitLatency {
		return
	}
	m.lockWait[bucketIndex(d)].Add(1)
}

// Value returns the current counter value.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies every counter and, when enabled, the histogram.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := range MetricLockWaitLatency {
		s.Counters[id] = m.counters[id].Load()
	}
	if m.latency {
		buckets := make([]uint64, bucketCount)
		for i := range buckets {
			buckets[i] = m.lockWait[i].Load()
		}
		s.Histograms[MetricLockWaitLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range lockWaitBounds {
		if d <= bound {
			return i
		}
	}
	return len(lockWaitBounds)
}
