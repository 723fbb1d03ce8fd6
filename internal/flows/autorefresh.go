package flows

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MrEthical07/goAuthSync/lock"
	"github.com/MrEthical07/goAuthSync/session"
	"go.uber.org/zap"
)

// TickOutcome reports what one auto-refresh tick did.
type TickOutcome int

const (
	TickNoSession TickOutcome = iota
	TickNotDue
	TickRefreshed
	// TickSkipped: the lock was held elsewhere, presumably by a context that
	// is already refreshing.
	TickSkipped
	TickFailed
)

func (o TickOutcome) String() string {
	switch o {
	case TickNoSession:
		return "no_session"
	case TickNotDue:
		return "not_due"
	case TickRefreshed:
		return "refreshed"
	case TickSkipped:
		return "skipped"
	case TickFailed:
		return "failed"
	default:
		return fmt.Sprintf("TickOutcome(%d)", int(o))
	}
}

// AutoRefreshDeps captures auto-refresh dependencies.
type AutoRefreshDeps struct {
	// TryLock runs fn under the session lock without waiting for it.
	TryLock func(ctx context.Context, fn lock.Func) error
	Load    func(ctx context.Context) (*session.Snapshot, error)
	Refresh func(ctx context.Context, refreshToken string) RefreshResult

	TickDuration time.Duration
	// Threshold is the number of ticks before expiry at which a refresh
	// starts.
	Threshold int
	Now       func() time.Time
	Logger    *zap.Logger
	OnTick    func(TickOutcome)
}

func (d *AutoRefreshDeps) fill() {
	if d.TickDuration <= 0 {
		d.TickDuration = 30 * time.Second
	}
	if d.Threshold <= 0 {
		d.Threshold = 3
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
}

// RemainingTicks returns how many whole ticks remain until expiresAt (Unix
// seconds).
func RemainingTicks(expiresAt int64, now time.Time, tick time.Duration) int64 {
	remainingMs := expiresAt*1000 - now.UnixMilli()
	return int64(math.Floor(float64(remainingMs) / float64(tick.Milliseconds())))
}

// RunAutoRefreshTick performs one tick: under a non-blocking lock, load the
// session and refresh it when it expires within Threshold ticks.
func RunAutoRefreshTick(ctx context.Context, deps AutoRefreshDeps) (TickOutcome, error) {
	deps.fill()

	outcome := TickNoSession
	err := deps.TryLock(ctx, func(ctx context.Context) error {
		snap, err := deps.Load(ctx)
		if err != nil {
			outcome = TickFailed
			return err
		}
		if snap == nil || snap.RefreshToken() == "" || snap.ExpiresAt() == 0 {
			outcome = TickNoSession
			return nil
		}

		remaining := RemainingTicks(snap.ExpiresAt(), deps.Now(), deps.TickDuration)
		if remaining > int64(deps.Threshold) {
			outcome = TickNotDue
			return nil
		}

		deps.Logger.Debug("autorefresh: session near expiry", zap.Int64("remaining_ticks", remaining))
		res := deps.Refresh(ctx, snap.RefreshToken())
		if res.Err != nil {
			outcome = TickFailed
			return res.Err
		}
		outcome = TickRefreshed
		return nil
	})
	if lock.IsAcquireTimeout(err) {
		deps.Logger.Debug("autorefresh: lock busy, skipping tick")
		outcome, err = TickSkipped, nil
	}
	if deps.OnTick != nil {
		deps.OnTick(outcome)
	}
	return outcome, err
}

// AutoRefresher runs RunAutoRefreshTick on a fixed interval. The first tick
// fires immediately on Start.
type AutoRefresher struct {
	deps AutoRefreshDeps

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAutoRefresher returns a stopped scheduler.
func NewAutoRefresher(deps AutoRefreshDeps) *AutoRefresher {
	deps.fill()
	return &AutoRefresher{deps: deps}
}

// Start (re)starts the ticker. ctx bounds the ticker's lifetime.
func (a *AutoRefresher) Start(ctx context.Context) {
	a.Stop()

	a.mu.Lock()
	defer a.mu.Unlock()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.cancel, a.done = cancel, done
	go a.loop(ctx, done)
}

// Stop halts the ticker. A tick already running completes in the background,
// so Stop is safe to call from inside a tick. The returned channel closes once
// the loop has exited.
func (a *AutoRefresher) Stop() <-chan struct{} {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	cancel()
	return done
}

// Running reports whether the ticker is active.
func (a *AutoRefresher) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancel != nil
}

func (a *AutoRefresher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.deps.TickDuration)
	defer ticker.Stop()

	for {
		if outcome, err := RunAutoRefreshTick(ctx, a.deps); err != nil && ctx.Err() == nil {
			a.deps.Logger.Warn("autorefresh: tick failed", zap.Stringer("outcome", outcome), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
