package internaldefs

import (
	goAuthSync "github.com/MrEthical07/goAuthSync"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   goAuthSync.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   goAuthSync.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: goAuthSync.MetricLockAcquired, Name: "goauth_lock_acquired_total", Help: "Successful session lock acquisitions."},
	{ID: goAuthSync.MetricLockTimeout, Name: "goauth_lock_timeout_total", Help: "Session lock acquisitions that timed out."},
	{ID: goAuthSync.MetricLockQueued, Name: "goauth_lock_queued_total", Help: "Operations queued behind the in-process lock holder."},
	{ID: goAuthSync.MetricRefreshSuccess, Name: "goauth_refresh_success_total", Help: "Successful token refreshes."},
	{ID: goAuthSync.MetricRefreshFailure, Name: "goauth_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: goAuthSync.MetricRefreshDeduplicated, Name: "goauth_refresh_deduplicated_total", Help: "Refresh calls that joined an in-flight refresh."},
	{ID: goAuthSync.MetricRefreshRetry, Name: "goauth_refresh_retry_total", Help: "Refresh attempts retried after a transient failure."},
	{ID: goAuthSync.MetricSessionSaved, Name: "goauth_session_saved_total", Help: "Session records written to storage."},
	{ID: goAuthSync.MetricSessionRemoved, Name: "goauth_session_removed_total", Help: "Session records removed from storage."},
	{ID: goAuthSync.MetricSignIn, Name: "goauth_sign_in_total", Help: "Completed sign-ins."},
	{ID: goAuthSync.MetricSignOut, Name: "goauth_sign_out_total", Help: "Completed sign-outs."},
	{ID: goAuthSync.MetricUserUpdated, Name: "goauth_user_updated_total", Help: "Completed user updates."},
	{ID: goAuthSync.MetricEventNotified, Name: "goauth_events_notified_total", Help: "Auth events delivered to local subscribers."},
	{ID: goAuthSync.MetricEventBroadcast, Name: "goauth_events_broadcast_total", Help: "Auth events posted to other contexts."},
	{ID: goAuthSync.MetricEventReceived, Name: "goauth_events_received_total", Help: "Auth events received from other contexts."},
	{ID: goAuthSync.MetricSubscriberError, Name: "goauth_subscriber_error_total", Help: "Subscriber callbacks that failed or panicked."},
	{ID: goAuthSync.MetricAutoRefreshTick, Name: "goauth_auto_refresh_tick_total", Help: "Auto-refresh ticks executed."},
	{ID: goAuthSync.MetricAutoRefreshSkipped, Name: "goauth_auto_refresh_skipped_total", Help: "Auto-refresh ticks skipped because the lock was busy."},
}

// HistogramDefs lists every histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: goAuthSync.MetricLockWaitLatency, Name: "goauth_lock_wait_latency_seconds", Help: "Time spent waiting for the session lock."},
}

// HistogramBounds are the upper bounds, in seconds, of the eight latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, zero-filling
// missing entries.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
