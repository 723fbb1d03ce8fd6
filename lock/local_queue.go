package lock

import (
	"context"
	"sync"
	"time"
)

// LocalQueue serializes callers inside one context behind a single acquisition
// of the wrapped [Locker].
//
// The first caller acquires the underlying lock. Callers arriving while it is
// held join a FIFO chain instead of re-entering the protocol, which would
// deadlock against their own context. The lock is released only after every
// queued operation has settled, successfully or not.
type LocalQueue struct {
	locker   Locker
	name     string
	onQueued func()

	mu      sync.Mutex
	held    bool
	tail    chan struct{}
	pending []chan struct{}
}

// QueueOption configures a [LocalQueue].
type QueueOption func(*LocalQueue)

// OnQueued registers a hook invoked each time a caller joins the local chain
// instead of acquiring the underlying lock.
func OnQueued(f func()) QueueOption {
	return func(q *LocalQueue) { q.onQueued = f }
}

// NewLocalQueue wraps locker for the lock called name.
func NewLocalQueue(locker Locker, name string, opts ...QueueOption) *LocalQueue {
	if locker == nil {
		locker = NewProcess()
	}
	q := &LocalQueue{locker: locker, name: name}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the lock name.
func (q *LocalQueue) Name() string { return q.name }

// Held reports whether this context currently holds the underlying lock.
func (q *LocalQueue) Held() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.held
}

type holdingKey struct{ q *LocalQueue }

// Holding reports whether ctx was handed out by q to a running critical
// section. Nested Acquire calls with such a context run inline.
func (q *LocalQueue) Holding(ctx context.Context) bool {
	v, _ := ctx.Value(holdingKey{q}).(bool)
	return v
}

// Acquire runs fn exclusively. Timeout semantics follow [Locker] and apply to
// the underlying acquisition only; queued callers wait for the chain.
func (q *LocalQueue) Acquire(ctx context.Context, timeout time.Duration, fn Func) error {
	if q.Holding(ctx) {
		return fn(ctx)
	}

	q.mu.Lock()
	if q.held {
		prev := q.tail
		done := make(chan struct{})
		q.tail = done
		q.pending = append(q.pending, done)
		q.mu.Unlock()

		if q.onQueued != nil {
			q.onQueued()
		}
		select {
		case <-prev:
		case <-ctx.Done():
			// Keep the chain intact: successors still wait for prev.
			go func() {
				<-prev
				close(done)
			}()
			return ctx.Err()
		}
		defer close(done)
		return fn(context.WithValue(ctx, holdingKey{q}, true))
	}
	q.mu.Unlock()

	return q.locker.Acquire(ctx, q.name, timeout, func(lctx context.Context) error {
		done := make(chan struct{})
		q.mu.Lock()
		q.held = true
		q.tail = done
		q.pending = append(q.pending, done)
		q.mu.Unlock()

		err := func() error {
			defer close(done)
			return fn(context.WithValue(lctx, holdingKey{q}, true))
		}()

		q.drain()
		return err
	})
}

// drain waits for every operation queued while the lock was held, including
// operations queued during the drain itself, then marks the lock released.
func (q *LocalQueue) drain() {
	for {
		q.mu.Lock()
		waitOn := q.pending
		q.pending = nil
		if len(waitOn) == 0 {
			q.held = false
			q.tail = nil
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		for _, c := range waitOn {
			<-c
		}
	}
}
