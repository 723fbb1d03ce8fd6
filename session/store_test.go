package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthSync/storage"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testSession() *Session {
	return &Session{
		AccessToken:  "a1",
		RefreshToken: "r1",
		TokenType:    "bearer",
		ExpiresIn:    3600,
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		User:         &User{ID: "u-1", Email: "u@example.com", UserMetadata: map[string]any{"plan": "pro"}},
	}
}

func TestStoreRoundTripOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := NewStore(storage.NewRedis(rdb, "", 0), "sb-auth", nil)
	ctx := context.Background()

	if snap, err := store.Get(ctx); err != nil || snap != nil {
		t.Fatalf("expected empty slot, got %v err=%v", snap, err)
	}

	want := testSession()
	if err := store.Set(ctx, want); err != nil {
		t.Fatalf("set: %v", err)
	}
	snap, err := store.Get(ctx)
	if err != nil || snap == nil {
		t.Fatalf("get: %v", err)
	}
	if snap.AccessToken() != "a1" || snap.RefreshToken() != "r1" || snap.ExpiresAt() != want.ExpiresAt {
		t.Fatalf("unexpected snapshot %+v", snap.Tokens())
	}
	if snap.Warning() != UserUnproxied {
		t.Fatalf("client-side adapter should not proxy user, got %s", snap.Warning())
	}
	if u := snap.User(); u == nil || u.ID != "u-1" {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestStoreGetPurgesIncompleteRecords(t *testing.T) {
	ctx := context.Background()
	cases := map[string]string{
		"missing access":  `{"refresh_token":"r","expires_at":10}`,
		"missing refresh": `{"access_token":"a","expires_at":10}`,
		"missing expiry":  `{"access_token":"a","refresh_token":"r"}`,
		"corrupt":         `not json`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			mem := storage.NewMemory()
			store := NewStore(mem, "k", nil)
			_ = mem.SetItem(ctx, "k", raw)
			_ = mem.SetItem(ctx, store.VerifierKey(), "v")

			snap, err := store.Get(ctx)
			if err != nil || snap != nil {
				t.Fatalf("expected absent session, got %v err=%v", snap, err)
			}
			if mem.Len() != 0 {
				t.Fatalf("expected record and verifier purged, %d items left", mem.Len())
			}
		})
	}
}

func TestStoreRemovePurgesVerifier(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	store := NewStore(mem, "k", nil)

	if err := store.Set(ctx, testSession()); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.SetCodeVerifier(ctx, "verifier"); err != nil {
		t.Fatalf("set verifier: %v", err)
	}
	if err := store.Remove(ctx); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove(ctx); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if mem.Len() != 0 {
		t.Fatalf("expected empty storage, %d items left", mem.Len())
	}
}

func TestTakeCodeVerifierIsOneShot(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.NewMemory(), "k", nil)

	if _, ok, err := store.TakeCodeVerifier(ctx); err != nil || ok {
		t.Fatalf("expected no verifier, ok=%v err=%v", ok, err)
	}
	_ = store.SetCodeVerifier(ctx, "abc")
	v, ok, err := store.TakeCodeVerifier(ctx)
	if err != nil || !ok || v != "abc" {
		t.Fatalf("expected verifier abc, got %q ok=%v err=%v", v, ok, err)
	}
	if _, ok, _ := store.TakeCodeVerifier(ctx); ok {
		t.Fatal("verifier must not be readable twice")
	}
}

func TestServerSideUserWarnsOncePerStore(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	mem := storage.NewMemory()
	seed := NewStore(mem, "k", nil)
	if err := seed.Set(ctx, testSession()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	store := NewStore(storage.MarkServer(mem), "k", zap.New(core))
	first, err := store.Get(ctx)
	if err != nil || first == nil {
		t.Fatalf("get: %v", err)
	}
	if first.Warning() != UserWarnPending {
		t.Fatalf("expected pending warning, got %s", first.Warning())
	}

	_ = first.AccessToken()
	_ = first.Tokens()
	if logs.Len() != 0 {
		t.Fatal("token accessors must not warn")
	}

	_ = first.User()
	_ = first.User()
	second, _ := store.Get(ctx)
	_ = second.Session()

	if logs.Len() != 1 {
		t.Fatalf("expected exactly one warning, got %d", logs.Len())
	}
	if first.Warning() != UserWarnDone || second.Warning() != UserWarnDone {
		t.Fatal("expected warning state done after first read")
	}
}

func TestServerSideSetSuppressesWarning(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	store := NewStore(storage.MarkServer(storage.NewMemory()), "k", zap.New(core))

	if err := store.Set(ctx, testSession()); err != nil {
		t.Fatalf("set: %v", err)
	}
	snap, _ := store.Get(ctx)
	if snap.Warning() != UserWarnDone {
		t.Fatalf("expected suppressed warning, got %s", snap.Warning())
	}
	_ = snap.User()
	if logs.Len() != 0 {
		t.Fatalf("expected no warning after server-side write, got %d", logs.Len())
	}
}

func TestSnapshotIsFrozen(t *testing.T) {
	src := testSession()
	snap := Fresh(src)
	src.AccessToken = "mutated"
	src.User.UserMetadata["plan"] = "free"

	if snap.AccessToken() != "a1" {
		t.Fatal("snapshot must not alias its source")
	}
	u := snap.User()
	u.Email = "changed"
	if snap.User().Email != "u@example.com" || snap.User().UserMetadata["plan"] != "pro" {
		t.Fatal("user copies must not alias the snapshot")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Snapshot
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.AccessToken() != "a1" || back.Warning() != UserUnproxied {
		t.Fatalf("unexpected decoded snapshot %+v", back.Tokens())
	}
}

func TestFromTokenResponse(t *testing.T) {
	now := time.Unix(1_000, 0)

	s := FromTokenResponse(&TokenResponse{AccessToken: "a", RefreshToken: "r", ExpiresIn: 60}, now)
	if s == nil || s.ExpiresAt != 1_060 || s.TokenType != "bearer" {
		t.Fatalf("expected derived expiry, got %+v", s)
	}

	s = FromTokenResponse(&TokenResponse{AccessToken: "a", RefreshToken: "r", ExpiresIn: 60, ExpiresAt: 5_000}, now)
	if s.ExpiresAt != 5_000 {
		t.Fatalf("server-supplied expires_at must win, got %d", s.ExpiresAt)
	}

	if FromTokenResponse(&TokenResponse{AccessToken: "a"}, now) != nil {
		t.Fatal("a response without a refresh token is not a session")
	}
}
