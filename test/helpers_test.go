//go:build integration
// +build integration

package test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	goAuthSync "github.com/MrEthical07/goAuthSync"
	"github.com/MrEthical07/goAuthSync/session"
	"github.com/MrEthical07/goAuthSync/storage"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// authServer answers token grants, /user and /logout.
type authServer struct {
	srv *httptest.Server

	mu           sync.Mutex
	seq          int
	refreshCalls int
	delay        time.Duration
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()
	a := &authServer{}
	a.srv = httptest.NewServer(http.HandlerFunc(a.serve))
	t.Cleanup(a.srv.Close)
	return a
}

func (a *authServer) refreshes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshCalls
}

func (a *authServer) serve(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/token":
		a.mu.Lock()
		if r.URL.Query().Get("grant_type") == "refresh_token" {
			a.refreshCalls++
		}
		a.seq++
		n, delay := a.seq, a.delay
		a.mu.Unlock()

		time.Sleep(delay)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(session.TokenResponse{
			AccessToken:  fmt.Sprintf("a-%d", n),
			RefreshToken: fmt.Sprintf("r-%d", n),
			TokenType:    "bearer",
			ExpiresIn:    3600,
			User:         &session.User{ID: "u1", Email: "alice@example.com"},
		})
	case "/user":
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(session.User{ID: "u1", Email: "alice@example.com"})
	case "/logout":
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func newRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr
}

// newContext builds one client with its own Redis connection, the way a
// separate process would.
func newContext(t *testing.T, mr *miniredis.Miniredis, auth *authServer) *goAuthSync.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := goAuthSync.DefaultConfig()
	cfg.URL = auth.srv.URL
	cfg.StorageKey = "it-session"
	cfg.AutoRefreshToken = false
	cfg.Lock.Wait = 20 * time.Millisecond
	cfg.Metrics.Enabled = true

	c, err := goAuthSync.New().WithConfig(cfg).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return c
}

func seedExpired(t *testing.T, mr *miniredis.Miniredis) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	raw, err := session.Encode(&session.Session{
		AccessToken:  "a0",
		RefreshToken: "r0",
		TokenType:    "bearer",
		ExpiresIn:    3600,
		ExpiresAt:    time.Now().Add(-time.Minute).Unix(),
		User:         &session.User{ID: "u1"},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	adapter := storage.NewRedis(rdb, storage.DefaultRedisPrefix, 0)
	if err := adapter.SetItem(context.Background(), "it-session", raw); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

type eventLog struct {
	ch chan goAuthSync.Event
}

func newEventLog() *eventLog {
	return &eventLog{ch: make(chan goAuthSync.Event, 64)}
}

func (l *eventLog) callback(_ context.Context, event goAuthSync.Event, _ *goAuthSync.Snapshot) error {
	select {
	case l.ch <- event:
	default:
	}
	return nil
}

func (l *eventLog) waitFor(t *testing.T, want goAuthSync.Event) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-l.ch:
			if got == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}
