package goAuthSync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthSync/broadcast"
	"github.com/MrEthical07/goAuthSync/session"
	"github.com/MrEthical07/goAuthSync/storage"
)

// fakeAuth is a minimal auth server: refresh, password and pkce grants,
// /user and /logout.
type fakeAuth struct {
	srv *httptest.Server

	mu             sync.Mutex
	seq            int
	refreshCalls   int
	refreshStatus  int
	transientFails int
	logoutStatus   int
	logoutCalls    int
	userCalls      int
	verifier       string
	email          string
}

func newFakeAuth(t *testing.T) *fakeAuth {
	t.Helper()
	f := &fakeAuth{email: "alice@example.com"}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAuth) URL() string { return f.srv.URL }

func (f *fakeAuth) refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func (f *fakeAuth) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case r.URL.Path == "/token":
		switch r.URL.Query().Get("grant_type") {
		case "refresh_token":
			f.refreshCalls++
			if f.transientFails > 0 {
				f.transientFails--
				writeErr(w, http.StatusServiceUnavailable, "unavailable", "try again")
				return
			}
			if f.refreshStatus != 0 {
				writeErr(w, f.refreshStatus, "invalid_grant", "Invalid Refresh Token")
				return
			}
		case "password":
			if body["password"] != "secret" {
				writeErr(w, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
				return
			}
		case "pkce":
			if body["code_verifier"] != f.verifier {
				writeErr(w, http.StatusBadRequest, "bad_code_verifier", "code verifier mismatch")
				return
			}
		default:
			writeErr(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant")
			return
		}
		f.seq++
		writeJSON(w, http.StatusOK, session.TokenResponse{
			AccessToken:  fmt.Sprintf("a-%d", f.seq),
			RefreshToken: fmt.Sprintf("r-%d", f.seq),
			TokenType:    "bearer",
			ExpiresIn:    3600,
			User:         &session.User{ID: "u1", Email: f.email},
		})

	case r.URL.Path == "/user":
		f.userCalls++
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeErr(w, http.StatusUnauthorized, "no_authorization", "missing token")
			return
		}
		if r.Method == http.MethodPut {
			if e, ok := body["email"].(string); ok && e != "" {
				f.email = e
			}
		}
		writeJSON(w, http.StatusOK, session.User{ID: "u1", Email: f.email})

	case r.URL.Path == "/logout":
		f.logoutCalls++
		if f.logoutStatus != 0 {
			writeErr(w, f.logoutStatus, "session_not_found", "gone")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error_code": code, "msg": msg})
}

// countingRequester counts calls made by one client.
type countingRequester struct {
	next  Requester
	mu    sync.Mutex
	calls int
}

func (r *countingRequester) Do(ctx context.Context, method, path string, opts RequestOptions, out any) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.next.Do(ctx, method, path, opts, out)
}

func (r *countingRequester) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type testClientOpts struct {
	adapter   storage.Adapter
	opener    broadcast.Opener
	requester Requester
	mutate    func(*Config)
	audit     AuditSink
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.StorageKey = "k"
	cfg.AutoRefreshToken = false
	cfg.Lock.Wait = 5 * time.Millisecond
	cfg.Refresh.BaseBackoff = 5 * time.Millisecond
	cfg.Refresh.TickDuration = time.Second
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestClient(t *testing.T, f *fakeAuth, o testClientOpts) *Client {
	t.Helper()
	cfg := testConfig(f.URL())
	if o.mutate != nil {
		o.mutate(&cfg)
	}
	if o.adapter == nil {
		o.adapter = storage.NewMemory()
	}
	b := New().WithConfig(cfg).WithStorage(o.adapter)
	if o.opener != nil {
		b.WithBroadcast(o.opener)
	}
	if o.requester != nil {
		b.WithRequester(o.requester)
	}
	if o.audit != nil {
		b.WithAuditSink(o.audit)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return c
}

func seedSession(t *testing.T, a storage.Adapter, key string, sess *session.Session) {
	t.Helper()
	raw, err := session.Encode(sess)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := a.SetItem(context.Background(), key, raw); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func validSession() *session.Session {
	return &session.Session{
		AccessToken:  "a0",
		RefreshToken: "r0",
		TokenType:    "bearer",
		ExpiresIn:    3600,
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		User:         &session.User{ID: "u1"},
	}
}

type recorded struct {
	event Event
	snap  *Snapshot
}

type recorder struct {
	mu     sync.Mutex
	events []recorded
	ch     chan recorded
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan recorded, 64)}
}

func (r *recorder) callback(_ context.Context, event Event, snap *Snapshot) error {
	r.mu.Lock()
	r.events = append(r.events, recorded{event: event, snap: snap})
	r.mu.Unlock()
	select {
	case r.ch <- recorded{event: event, snap: snap}:
	default:
	}
	return nil
}

func (r *recorder) wait(t *testing.T, event Event) recorded {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case got := <-r.ch:
			if got.event == event {
				return got
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

func (r *recorder) count(event Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.event == event {
			n++
		}
	}
	return n
}
