package goAuthSync

import (
	"context"
	"io"

	internalaudit "github.com/MrEthical07/goAuthSync/internal/audit"
	internalmetrics "github.com/MrEthical07/goAuthSync/internal/metrics"
	"github.com/MrEthical07/goAuthSync/internal/subscribers"
	"github.com/MrEthical07/goAuthSync/session"
	"go.uber.org/zap"
)

// Event names a session state change.
type Event = session.Event

const (
	EventInitialSession = session.EventInitialSession
	EventSignedIn       = session.EventSignedIn
	EventSignedOut      = session.EventSignedOut
	EventTokenRefreshed = session.EventTokenRefreshed
	EventUserUpdated    = session.EventUserUpdated
)

// Session is the persisted credential record.
type Session = session.Session

// User is the account snapshot attached to a session.
type User = session.User

// Snapshot is a frozen, read-only view of a session handed to callers and
// subscribers.
type Snapshot = session.Snapshot

// AuthStateCallback observes session events. snap is nil for SIGNED_OUT and
// for INITIAL_SESSION without a stored session. A returned error is logged and
// does not stop delivery to other subscribers.
//
// Callbacks run inside the session lock. Calls back into the Client must pass
// ctx along; a call made with an unrelated context waits for the lock the
// callback is holding and never returns.
type AuthStateCallback func(ctx context.Context, event Event, snap *Snapshot) error

// Subscription is returned by [Client.OnAuthStateChange].
type Subscription = subscribers.Subscription

// SignOutScope selects which sessions a sign-out revokes.
type SignOutScope string

const (
	ScopeGlobal SignOutScope = "global"
	ScopeLocal  SignOutScope = "local"
	// ScopeOthers revokes every other session and keeps this one.
	ScopeOthers SignOutScope = "others"
)

// Credentials identify a password sign-in. Exactly one of Email or Phone is
// set.
type Credentials struct {
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
}

// UserAttributes is the body of an UpdateUser call. Empty fields are left
// unchanged.
type UserAttributes struct {
	Email    string         `json:"email,omitempty"`
	Phone    string         `json:"phone,omitempty"`
	Password string         `json:"password,omitempty"`
	Nonce    string         `json:"nonce,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// AuditEvent is an audit record emitted by the client.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events.
type AuditSink = internalaudit.Sink

// NoOpSink discards audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers audit events in a channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes audit events as JSON lines.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink logs audit events.
type ZapSink = internalaudit.ZapSink

func NewChannelSink(buffer int) *ChannelSink { return internalaudit.NewChannelSink(buffer) }

func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return internalaudit.NewJSONWriterSink(w) }

func NewZapSink(log *zap.Logger) *ZapSink { return internalaudit.NewZapSink(log) }

// MetricID identifies a counter or histogram.
type MetricID = internalmetrics.MetricID

const (
	MetricLockAcquired        = internalmetrics.MetricLockAcquired
	MetricLockTimeout         = internalmetrics.MetricLockTimeout
	MetricLockQueued          = internalmetrics.MetricLockQueued
	MetricRefreshSuccess      = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure      = internalmetrics.MetricRefreshFailure
	MetricRefreshDeduplicated = internalmetrics.MetricRefreshDeduplicated
	MetricRefreshRetry        = internalmetrics.MetricRefreshRetry
	MetricSessionSaved        = internalmetrics.MetricSessionSaved
	MetricSessionRemoved      = internalmetrics.MetricSessionRemoved
	MetricSignIn              = internalmetrics.MetricSignIn
	MetricSignOut             = internalmetrics.MetricSignOut
	MetricUserUpdated         = internalmetrics.MetricUserUpdated
	MetricEventNotified       = internalmetrics.MetricEventNotified
	MetricEventBroadcast      = internalmetrics.MetricEventBroadcast
	MetricEventReceived       = internalmetrics.MetricEventReceived
	MetricSubscriberError     = internalmetrics.MetricSubscriberError
	MetricAutoRefreshTick     = internalmetrics.MetricAutoRefreshTick
	MetricAutoRefreshSkipped  = internalmetrics.MetricAutoRefreshSkipped
	MetricLockWaitLatency     = internalmetrics.MetricLockWaitLatency
	MetricIDCount             = internalmetrics.MetricIDCount
)

// MetricsSnapshot is a point-in-time copy of the client's metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// Metrics is the client's counter set.
type Metrics = internalmetrics.Metrics

// NewMetrics returns a standalone metrics set.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
