package flows

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/goAuthSync/session"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNoRefreshToken is returned when a refresh is requested without a token.
var ErrNoRefreshToken = errors.New("refresh: no refresh token")

// ErrEmptyGrant is returned when the server answered without a session.
var ErrEmptyGrant = errors.New("refresh: response carried no session")

const refreshKey = "refresh"

// RefreshFailureKind classifies refresh failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureMissingToken
	// RefreshFailureRejected: the server refused the token. The session was
	// purged and SIGNED_OUT was emitted.
	RefreshFailureRejected
	// RefreshFailureExhausted: every retry failed with a retryable error
	// inside the tick window. The session was kept.
	RefreshFailureExhausted
	RefreshFailureSave
	RefreshFailureCanceled
)

func (k RefreshFailureKind) String() string {
	switch k {
	case RefreshFailureNone:
		return "none"
	case RefreshFailureMissingToken:
		return "missing_token"
	case RefreshFailureRejected:
		return "rejected"
	case RefreshFailureExhausted:
		return "exhausted"
	case RefreshFailureSave:
		return "save"
	case RefreshFailureCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// RefreshResult carries either the new session or failure metadata.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error
	Session *session.Session
	// Attempts counts network calls made by the flight.
	Attempts int
	// Shared is set for callers that joined a flight started by someone else.
	Shared bool
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	// Call performs one refresh-token grant.
	Call func(ctx context.Context, refreshToken string) (*session.Session, error)
	// Retryable classifies Call failures (network or 5xx).
	Retryable func(error) bool
	Save      func(ctx context.Context, sess *session.Session) error
	Remove    func(ctx context.Context) error
	Notify    func(ctx context.Context, event session.Event, snap *session.Snapshot) error

	// TickDuration bounds the whole retry schedule.
	TickDuration time.Duration
	// BaseBackoff is the first retry delay; each later delay doubles.
	BaseBackoff time.Duration
	Logger      *zap.Logger

	OnRetry   func(attempt int, wait time.Duration, err error)
	OnSettled func(RefreshResult)
}

// Coordinator deduplicates refreshes. At most one refresh is in flight per
// coordinator; concurrent callers share its result.
type Coordinator struct {
	deps  RefreshDeps
	group singleflight.Group

	mu      sync.Mutex
	pending string
}

// NewCoordinator returns a coordinator with defaults filled in.
func NewCoordinator(deps RefreshDeps) *Coordinator {
	if deps.TickDuration <= 0 {
		deps.TickDuration = 30 * time.Second
	}
	if deps.BaseBackoff <= 0 {
		deps.BaseBackoff = 200 * time.Millisecond
	}
	if deps.Retryable == nil {
		deps.Retryable = func(error) bool { return false }
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Coordinator{deps: deps}
}

// Pending returns the refresh token of the in-flight refresh, if any.
func (c *Coordinator) Pending() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending, c.pending != ""
}

func (c *Coordinator) setPending(token string) {
	c.mu.Lock()
	c.pending = token
	c.mu.Unlock()
}

// Refresh exchanges refreshToken for a new session. A call made while another
// refresh is in flight joins it instead of issuing a second request, even
// when the tokens differ. The flight runs to completion if ctx is canceled;
// only this caller stops waiting.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	if refreshToken == "" {
		return RefreshResult{Failure: RefreshFailureMissingToken, Err: ErrNoRefreshToken}
	}

	flight := context.WithoutCancel(ctx)
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		c.setPending(refreshToken)
		defer c.setPending("")
		res := c.run(flight, refreshToken)
		if c.deps.OnSettled != nil {
			c.deps.OnSettled(res)
		}
		return res, nil
	})

	select {
	case r := <-ch:
		res := r.Val.(RefreshResult)
		res.Session = res.Session.Clone()
		res.Shared = r.Shared
		return res
	case <-ctx.Done():
		return RefreshResult{Failure: RefreshFailureCanceled, Err: ctx.Err()}
	}
}

func (c *Coordinator) run(ctx context.Context, refreshToken string) RefreshResult {
	log := c.deps.Logger

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.deps.BaseBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.deps.TickDuration

	attempts := 0
	op := func() (*session.Session, error) {
		attempts++
		sess, err := c.deps.Call(ctx, refreshToken)
		if err == nil {
			if sess == nil {
				return nil, backoff.Permanent(ErrEmptyGrant)
			}
			return sess, nil
		}
		if !c.deps.Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, wait time.Duration) {
		log.Debug("refresh: retrying", zap.Int("attempt", attempts), zap.Duration("wait", wait), zap.Error(err))
		if c.deps.OnRetry != nil {
			c.deps.OnRetry(attempts, wait, err)
		}
	}

	sess, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(c.deps.TickDuration),
		backoff.WithNotify(notify),
	)
	if err != nil {
		if c.deps.Retryable(err) {
			log.Debug("refresh: retries exhausted", zap.Int("attempt", attempts), zap.Error(err))
			return RefreshResult{Failure: RefreshFailureExhausted, Err: err, Attempts: attempts}
		}

		log.Info("refresh: token rejected, signing out", zap.Error(err))
		if rerr := c.deps.Remove(ctx); rerr != nil {
			log.Error("refresh: purge after rejection failed", zap.Error(rerr))
		}
		if nerr := c.deps.Notify(ctx, session.EventSignedOut, nil); nerr != nil {
			log.Error("refresh: sign-out notification failed", zap.Error(nerr))
		}
		return RefreshResult{Failure: RefreshFailureRejected, Err: err, Attempts: attempts}
	}
	if err := c.deps.Save(ctx, sess); err != nil {
		return RefreshResult{Failure: RefreshFailureSave, Err: err, Attempts: attempts}
	}
	if err := c.deps.Notify(ctx, session.EventTokenRefreshed, session.Fresh(sess)); err != nil {
		log.Error("refresh: notification failed", zap.Error(err))
	}
	return RefreshResult{Session: sess, Attempts: attempts}
}
