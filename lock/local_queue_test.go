package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthSync/broadcast"
)

func TestLocalQueueFIFOWhileHeld(t *testing.T) {
	queued := make(chan struct{}, 8)
	q := NewLocalQueue(NewProcess(), "k", OnQueued(func() { queued <- struct{}{} }))

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	record := func(i int) {
		mu.Lock()
		order = append(order, i)
		mu.Unlock()
	}

	acquired := make(chan struct{})
	release := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Acquire(context.Background(), -1, func(context.Context) error {
			close(acquired)
			<-release
			record(0)
			return nil
		})
	}()
	<-acquired

	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Acquire(context.Background(), -1, func(context.Context) error {
				time.Sleep(2 * time.Millisecond)
				record(i)
				return nil
			})
		}(i)
		<-queued
	}

	close(release)
	wg.Wait()

	want := []int{0, 1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected FIFO order %v, got %v", want, order)
		}
	}
	if q.Held() {
		t.Fatal("expected queue to release after drain")
	}
}

func TestLocalQueueDrainsBeforeOtherContext(t *testing.T) {
	hub := broadcast.NewHub()
	shared := NewDistributed(hub, Options{Wait: 10 * time.Millisecond})

	queued := make(chan struct{}, 1)
	contextA := NewLocalQueue(shared, "k", OnQueued(func() { queued <- struct{}{} }))
	contextB := NewLocalQueue(shared, "k")

	var (
		mu          sync.Mutex
		queuedEnded time.Time
		bStarted    time.Time
	)

	acquired := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		_ = contextA.Acquire(context.Background(), -1, func(context.Context) error {
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired

	boom := errors.New("queued failure")
	queuedErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		queuedErr <- contextA.Acquire(context.Background(), -1, func(context.Context) error {
			time.Sleep(40 * time.Millisecond)
			mu.Lock()
			queuedEnded = time.Now()
			mu.Unlock()
			return boom
		})
	}()
	<-queued

	go func() {
		defer wg.Done()
		_ = contextB.Acquire(context.Background(), -1, func(context.Context) error {
			mu.Lock()
			bStarted = time.Now()
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if err := <-queuedErr; !errors.Is(err, boom) {
		t.Fatalf("queued caller should observe its own error, got %v", err)
	}
	if bStarted.Before(queuedEnded) {
		t.Fatalf("other context started at %v before queued work ended at %v", bStarted, queuedEnded)
	}
}

func TestLocalQueueNestedAcquireRunsInline(t *testing.T) {
	q := NewLocalQueue(NewProcess(), "k")

	done := make(chan error, 1)
	go func() {
		done <- q.Acquire(context.Background(), -1, func(ctx context.Context) error {
			if !q.Holding(ctx) {
				return errors.New("expected holder context")
			}
			return q.Acquire(ctx, -1, func(context.Context) error { return nil })
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("nested acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("nested acquire deadlocked")
	}
}

func TestLocalQueueZeroTimeoutAcrossContexts(t *testing.T) {
	process := NewProcess()
	a := NewLocalQueue(process, "k")
	b := NewLocalQueue(process, "k")

	acquired := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = a.Acquire(context.Background(), -1, func(context.Context) error {
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired
	defer close(release)

	err := b.Acquire(context.Background(), 0, func(context.Context) error { return nil })
	if !IsAcquireTimeout(err) {
		t.Fatalf("expected acquire timeout from another context, got %v", err)
	}
}

func TestProcessLockBoundedTimeout(t *testing.T) {
	p := NewProcess()
	acquired := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = p.Acquire(context.Background(), "k", -1, func(context.Context) error {
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired

	err := p.Acquire(context.Background(), "k", 20*time.Millisecond, func(context.Context) error { return nil })
	if !IsAcquireTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	close(release)

	if err := p.Acquire(context.Background(), "other", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("independent names must not contend: %v", err)
	}
}

func TestIsAcquireTimeout(t *testing.T) {
	if IsAcquireTimeout(nil) {
		t.Fatal("nil is not a timeout")
	}
	if IsAcquireTimeout(errors.New("other")) {
		t.Fatal("unrelated error is not a timeout")
	}
	wrapped := errors.Join(errors.New("ctx"), &AcquireTimeoutError{Name: "k"})
	if !IsAcquireTimeout(wrapped) {
		t.Fatal("wrapped timeout should be detected")
	}
}
