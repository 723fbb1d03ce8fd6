package lock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/MrEthical07/goAuthSync/broadcast"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultWait is the claim window (LOCK_WAIT) used when Options.Wait is zero.
	DefaultWait = 25 * time.Millisecond
	// DefaultMaxBackoffExponent caps the jitter multiplier at 2^6.
	DefaultMaxBackoffExponent = 6

	kindClaim = "lock.claim"
	kindHeld  = "lock.held"
	kindGrant = "lock.go"

	inboxSize = 64
)

// State is a participant's position in the claim protocol.
type State uint8

const (
	StateIdle State = iota
	StateAcquiring
	StateBackoff
	StateAcquired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateBackoff:
		return "backoff"
	case StateAcquired:
		return "acquired"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Options tunes a [Distributed] lock.
type Options struct {
	// Wait is the claim window. Zero selects DefaultWait.
	Wait time.Duration
	// MaxBackoffExponent caps the exponential jitter multiplier. Zero selects
	// DefaultMaxBackoffExponent.
	MaxBackoffExponent int
	Logger             *zap.Logger
}

// Distributed is the broadcast claim-protocol lock. Every Acquire call is an
// independent participant with its own channel subscription, so goroutines in
// one process exclude each other exactly like separate processes do.
type Distributed struct {
	opener broadcast.Opener
	wait   time.Duration
	maxExp int
	log    *zap.Logger
	jitter func() float64
}

// NewDistributed creates a lock that coordinates over channels from opener.
func NewDistributed(opener broadcast.Opener, opts Options) *Distributed {
	if opts.Wait <= 0 {
		opts.Wait = DefaultWait
	}
	if opts.MaxBackoffExponent <= 0 {
		opts.MaxBackoffExponent = DefaultMaxBackoffExponent
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Distributed{
		opener: opener,
		wait:   opts.Wait,
		maxExp: opts.MaxBackoffExponent,
		log:    opts.Logger,
		jitter: rand.Float64,
	}
}

// Acquire runs fn while holding name. See [Locker] for timeout semantics.
func (d *Distributed) Acquire(ctx context.Context, name string, timeout time.Duration, fn Func) error {
	ch, err := d.opener.Open(name)
	if err != nil {
		return fmt.Errorf("lock: open channel %q: %w", name, err)
	}

	p := &participant{
		d:     d,
		id:    uuid.NewString(),
		name:  name,
		ch:    ch,
		inbox: make(chan broadcast.Message, inboxSize),
		done:  make(chan struct{}),
	}
	p.log = d.log.With(zap.String("lock", name), zap.String("participant", p.id))
	ch.OnMessage(p.receive)
	defer p.teardown()

	if err := p.acquire(ctx, timeout); err != nil {
		return err
	}
	return p.hold(ctx, fn)
}

func (d *Distributed) backoff(attempt int) time.Duration {
	exp := attempt
	if exp > d.maxExp {
		exp = d.maxExp
	}
	jitter := time.Duration(d.jitter() * float64(d.wait) * float64(uint(1)<<uint(exp)))
	return d.wait + jitter
}

type outcome uint8

const (
	outcomeAcquired outcome = iota
	outcomeContended
	outcomeRetry
)

type participant struct {
	d     *Distributed
	id    string
	name  string
	ch    broadcast.Channel
	log   *zap.Logger
	state State

	inbox chan broadcast.Message
	done  chan struct{}
}

func (p *participant) receive(msg broadcast.Message) {
	if msg.Target != "" && msg.Target != p.id {
		return
	}
	select {
	case p.inbox <- msg:
	case <-p.done:
	}
}

func (p *participant) teardown() {
	close(p.done)
	if err := p.ch.Close(); err != nil {
		p.log.Debug("lock: channel close failed", zap.Error(err))
	}
	p.setState(StateIdle)
}

func (p *participant) setState(s State) {
	if p.state == s {
		return
	}
	p.state = s
	p.log.Debug("lock: state", zap.Stringer("state", s))
}

func (p *participant) timeoutErr(timeout time.Duration) error {
	return &AcquireTimeoutError{Name: p.name, Timeout: timeout}
}

func (p *participant) acquire(ctx context.Context, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for attempt := 1; ; attempt++ {
		p.setState(StateAcquiring)
		if err := p.ch.Post(ctx, broadcast.Message{Kind: kindClaim, Sender: p.id}); err != nil {
			return fmt.Errorf("lock: post claim: %w", err)
		}

		res, err := p.claimWindow(ctx, deadline, timeout)
		if err != nil {
			return err
		}
		if res == outcomeAcquired {
			p.setState(StateAcquired)
			return nil
		}
		if timeout == 0 {
			return p.timeoutErr(timeout)
		}

		p.setState(StateBackoff)
		res, err = p.backoff(ctx, deadline, timeout, attempt)
		if err != nil {
			return err
		}
		if res == outcomeAcquired {
			p.setState(StateAcquired)
			return nil
		}
	}
}

func (p *participant) claimWindow(ctx context.Context, deadline <-chan time.Time, timeout time.Duration) (outcome, error) {
	window := time.NewTimer(p.d.wait)
	defer window.Stop()

	for {
		select {
		case <-window.C:
			return outcomeAcquired, nil
		case msg := <-p.inbox:
			switch msg.Kind {
			case kindGrant:
				return outcomeAcquired, nil
			case kindClaim, kindHeld:
				return outcomeContended, nil
			}
		case <-deadline:
			return 0, p.timeoutErr(timeout)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (p *participant) backoff(ctx context.Context, deadline <-chan time.Time, timeout time.Duration, attempt int) (outcome, error) {
	sleep := p.d.backoff(attempt)
	t := time.NewTimer(sleep)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			return outcomeRetry, nil
		case msg := <-p.inbox:
			switch msg.Kind {
			case kindGrant:
				return outcomeAcquired, nil
			case kindHeld:
				// A live holder: keep sleeping rather than re-claiming.
				t.Reset(sleep)
			}
		case <-deadline:
			return 0, p.timeoutErr(timeout)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (p *participant) hold(ctx context.Context, fn Func) error {
	// Announce right away: a claimant whose claim raced the grant that woke us
	// must still see a holder inside its window.
	held := broadcast.Message{Kind: kindHeld, Sender: p.id}
	if err := p.ch.Post(context.WithoutCancel(ctx), held); err != nil {
		p.log.Debug("lock: holder announce failed", zap.Error(err))
	}

	stop := make(chan struct{})
	responded := make(chan string, 1)

	go func() {
		var next string
		defer func() { responded <- next }()
		for {
			select {
			case <-stop:
				return
			case msg := <-p.inbox:
				next = p.answer(ctx, msg, next)
			}
		}
	}()

	defer func() {
		close(stop)
		next := <-responded
		if next == "" {
			return
		}
		grant := broadcast.Message{Kind: kindGrant, Sender: p.id, Target: next}
		if err := p.ch.Post(context.WithoutCancel(ctx), grant); err != nil {
			p.log.Debug("lock: grant post failed", zap.String("next", next), zap.Error(err))
		}
	}()

	return fn(ctx)
}

// answer handles one message while the lock is held and returns the updated
// priority claimant. Only the first distinct claimant is remembered.
func (p *participant) answer(ctx context.Context, msg broadcast.Message, next string) string {
	switch msg.Kind {
	case kindClaim:
		if next == "" {
			next = msg.Sender
		}
		held := broadcast.Message{Kind: kindHeld, Sender: p.id}
		if err := p.ch.Post(context.WithoutCancel(ctx), held); err != nil {
			p.log.Debug("lock: holder reply failed", zap.Error(err))
		}
	case kindHeld:
		p.log.Warn("lock: second holder detected", zap.String("other", msg.Sender))
	}
	return next
}
