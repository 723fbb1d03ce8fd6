package goAuthSync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthSync/internal/flows"
	"github.com/MrEthical07/goAuthSync/jwt"
	"github.com/MrEthical07/goAuthSync/lock"
)

func TestHTTPRequesterSendsRequest(t *testing.T) {
	var got *http.Request
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, map[string]string{"id": "u1"})
	}))
	defer srv.Close()

	r := NewHTTPRequester(srv.URL+"/", nil, map[string]string{"apikey": "anon"})
	var out User
	err := r.Do(context.Background(), http.MethodPost, "/token", RequestOptions{
		JWT:     "tok",
		Query:   url.Values{"grant_type": {"password"}},
		Headers: map[string]string{"X-Client-Info": "test"},
		Body:    map[string]string{"email": "a@b.c"},
	}, &out)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out.ID != "u1" {
		t.Fatalf("unexpected decode %+v", out)
	}
	if got.URL.Path != "/token" || got.URL.Query().Get("grant_type") != "password" {
		t.Fatalf("unexpected target %s", got.URL)
	}
	if got.Header.Get("Authorization") != "Bearer tok" || got.Header.Get("apikey") != "anon" || got.Header.Get("X-Client-Info") != "test" {
		t.Fatalf("missing headers: %v", got.Header)
	}
	if body["email"] != "a@b.c" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHTTPRequesterClassifiesFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		payload  any
		wantKind ErrorKind
		wantCode string
		wantMsg  string
	}{
		{
			name:     "gotrue error_code",
			status:   http.StatusBadRequest,
			payload:  map[string]string{"error_code": "invalid_credentials", "msg": "Invalid login credentials"},
			wantKind: KindAPI,
			wantCode: "invalid_credentials",
			wantMsg:  "Invalid login credentials",
		},
		{
			name:     "oauth error",
			status:   http.StatusUnauthorized,
			payload:  map[string]string{"error": "invalid_grant", "error_description": "Refresh Token Not Found"},
			wantKind: KindAPI,
			wantCode: "invalid_grant",
			wantMsg:  "Refresh Token Not Found",
		},
		{
			name:     "server error",
			status:   http.StatusBadGateway,
			payload:  map[string]string{"message": "upstream"},
			wantKind: KindRetryableFetch,
			wantMsg:  "upstream",
		},
		{
			name:     "empty body",
			status:   http.StatusForbidden,
			payload:  nil,
			wantKind: KindAPI,
			wantMsg:  "Forbidden",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.payload == nil {
					w.WriteHeader(tc.status)
					return
				}
				writeJSON(w, tc.status, tc.payload)
			}))
			defer srv.Close()

			err := NewHTTPRequester(srv.URL, nil, nil).Do(context.Background(), http.MethodGet, "/user", RequestOptions{}, nil)
			var ae *AuthError
			if !errors.As(err, &ae) {
				t.Fatalf("expected *AuthError, got %v", err)
			}
			if ae.Kind != tc.wantKind || ae.Status != tc.status || ae.Code != tc.wantCode || ae.Message != tc.wantMsg {
				t.Fatalf("unexpected error %+v", ae)
			}
			if IsRetryable(err) != (tc.wantKind == KindRetryableFetch) {
				t.Fatalf("IsRetryable mismatch for %v", err)
			}
			if statusOf(err) != tc.status {
				t.Fatalf("statusOf = %d", statusOf(err))
			}
		})
	}
}

func TestHTTPRequesterNetworkFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	err := NewHTTPRequester(addr, &http.Client{Timeout: time.Second}, nil).
		Do(context.Background(), http.MethodGet, "/user", RequestOptions{}, nil)
	if !IsRetryable(err) || !errors.Is(err, ErrRetryableFetch) {
		t.Fatalf("expected retryable fetch error, got %v", err)
	}
}

func TestHTTPRequesterCanceledIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := NewHTTPRequester(srv.URL, nil, nil).Do(ctx, http.MethodGet, "/user", RequestOptions{}, nil)
	if IsRetryable(err) || KindOf(err) != KindUnknown {
		t.Fatalf("expected unknown error on cancellation, got %v", err)
	}
}

func TestHTTPRequesterDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	var out User
	err := NewHTTPRequester(srv.URL, nil, nil).Do(context.Background(), http.MethodGet, "/user", RequestOptions{}, &out)
	if KindOf(err) != KindUnknown {
		t.Fatalf("expected unknown error, got %v", err)
	}
}

func TestToAuthErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"lock timeout", lock.ErrAcquireTimeout, KindAcquireTimeout},
		{"no refresh token", flows.ErrNoRefreshToken, KindSessionMissing},
		{"verifier missing", ErrCodeVerifierMissing, KindSessionMissing},
		{"bad jwt", jwt.ErrInvalidToken, KindInvalidJWT},
		{"foreign", errors.New("boom"), KindUnknown},
		{"already classified", &AuthError{Kind: KindAPI, Status: 422}, KindAPI},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf = %s, want %s", got, tc.want)
			}
		})
	}
	if result(nil) != nil {
		t.Fatal("result(nil) must stay nil")
	}
	if got := KindOf(nil); got != KindUnknown {
		t.Fatalf("KindOf(nil) = %s, want %s", got, KindUnknown)
	}
	if IsRetryable(nil) {
		t.Fatal("nil error is not retryable")
	}
}

func TestAuthErrorMatchesSentinels(t *testing.T) {
	err := &AuthError{Kind: KindSessionMissing, Err: flows.ErrNoRefreshToken}
	if !errors.Is(err, ErrSessionMissing) {
		t.Fatal("expected kind sentinel match")
	}
	if !errors.Is(err, flows.ErrNoRefreshToken) {
		t.Fatal("expected wrapped error match")
	}
	if errors.Is(err, ErrAPI) {
		t.Fatal("unexpected match on another kind")
	}
	if got := (&AuthError{Kind: KindAPI, Status: 400, Message: "bad"}).Error(); got != "goauth: api (status 400): bad" {
		t.Fatalf("unexpected message %q", got)
	}
}
