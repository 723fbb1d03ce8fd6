package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisOpener(t *testing.T) (*Redis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedis(rdb, "test:", nil), func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func TestRedisChannelCrossesConnectionsAndSkipsOrigin(t *testing.T) {
	opener, done := newRedisOpener(t)
	defer done()

	a, err := opener.Open("session")
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	b, err := opener.Open("session")
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()

	gotA, _ := collect(a)
	gotB, wgB := collect(b)
	wgB.Add(1)

	payload, _ := json.Marshal(map[string]string{"event": "SIGNED_OUT"})
	if err := a.Post(context.Background(), Message{Kind: "auth", Sender: "a", Payload: payload}); err != nil {
		t.Fatalf("post: %v", err)
	}
	waitGroup(t, wgB)

	msgs := gotB()
	if len(msgs) != 1 || msgs[0].Kind != "auth" || msgs[0].Sender != "a" {
		t.Fatalf("unexpected delivery: %+v", msgs)
	}
	var decoded map[string]string
	if err := json.Unmarshal(msgs[0].Payload, &decoded); err != nil || decoded["event"] != "SIGNED_OUT" {
		t.Fatalf("payload not preserved: %s (%v)", msgs[0].Payload, err)
	}

	time.Sleep(30 * time.Millisecond)
	if n := len(gotA()); n != 0 {
		t.Fatalf("origin must not receive its own publish, got %d", n)
	}
}

func TestRedisChannelPostAfterClose(t *testing.T) {
	opener, done := newRedisOpener(t)
	defer done()

	c, err := opener.Open("x")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Post(context.Background(), Message{Kind: "late"}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
