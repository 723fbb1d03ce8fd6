package lock

import (
	"context"
	"sync"
	"time"
)

// Func is a critical section. The context passed in is derived from the
// acquiring caller's context.
type Func func(ctx context.Context) error

// Locker grants exclusive access to a named resource.
//
// timeout < 0 waits without bound, timeout == 0 fails immediately with an
// [AcquireTimeoutError] when the lock is contended, and timeout > 0 bounds the
// acquisition. The error returned is fn's error once fn ran.
type Locker interface {
	Acquire(ctx context.Context, name string, timeout time.Duration, fn Func) error
}

// Process is the degenerate lock for environments without a broadcast bus: the
// process is the sole participant, so exclusion reduces to a per-name mutex
// shared by its goroutines.
type Process struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewProcess returns an empty process-local lock table.
func NewProcess() *Process {
	return &Process{slots: make(map[string]chan struct{})}
}

func (p *Process) slot(name string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[name]
	if !ok {
		s = make(chan struct{}, 1)
		p.slots[name] = s
	}
	return s
}

// Acquire runs fn while holding name. See [Locker] for timeout semantics.
func (p *Process) Acquire(ctx context.Context, name string, timeout time.Duration, fn Func) error {
	s := p.slot(name)

	switch {
	case timeout == 0:
		select {
		case s <- struct{}{}:
		default:
			return &AcquireTimeoutError{Name: name, Timeout: timeout}
		}
	case timeout > 0:
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case s <- struct{}{}:
		case <-t.C:
			return &AcquireTimeoutError{Name: name, Timeout: timeout}
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		select {
		case s <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer func() { <-s }()

	return fn(ctx)
}
