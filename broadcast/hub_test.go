package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"
)

func collect(c Channel) (func() []Message, *sync.WaitGroup) {
	var (
		mu  sync.Mutex
		got []Message
		wg  sync.WaitGroup
	)
	c.OnMessage(func(m Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
		wg.Done()
	})
	return func() []Message {
		mu.Lock()
		defer mu.Unlock()
		out := make([]Message, len(got))
		copy(out, got)
		return out
	}, &wg
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestHubDeliversToPeersNotSelf(t *testing.T) {
	hub := NewHub()
	a, _ := hub.Open("k")
	b, _ := hub.Open("k")
	other, _ := hub.Open("other")
	defer a.Close()
	defer b.Close()
	defer other.Close()

	gotA, _ := collect(a)
	gotB, wgB := collect(b)
	gotOther, _ := collect(other)

	wgB.Add(2)
	ctx := context.Background()
	if err := a.Post(ctx, Message{Kind: "one"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := a.Post(ctx, Message{Kind: "two"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	waitGroup(t, wgB)

	msgs := gotB()
	if len(msgs) != 2 || msgs[0].Kind != "one" || msgs[1].Kind != "two" {
		t.Fatalf("expected ordered delivery to peer, got %+v", msgs)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(gotA()); n != 0 {
		t.Fatalf("poster must not receive its own messages, got %d", n)
	}
	if n := len(gotOther()); n != 0 {
		t.Fatalf("channels with another name must not receive messages, got %d", n)
	}
}

func TestHubCloseStopsDeliveryAndRejectsPost(t *testing.T) {
	hub := NewHub()
	a, _ := hub.Open("k")
	b, _ := hub.Open("k")

	if got := hub.Participants("k"); got != 2 {
		t.Fatalf("expected 2 participants, got %d", got)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := hub.Participants("k"); got != 1 {
		t.Fatalf("expected 1 participant after close, got %d", got)
	}
	if err := b.Post(context.Background(), Message{Kind: "late"}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := a.Post(context.Background(), Message{Kind: "alone"}); err != nil {
		t.Fatalf("post with no peers should succeed: %v", err)
	}
	_ = a.Close()
	if got := hub.Participants("k"); got != 0 {
		t.Fatalf("expected no participants, got %d", got)
	}
}
