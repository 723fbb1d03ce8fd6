package goAuthSync

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/goAuthSync/internal/flows"
	"github.com/MrEthical07/goAuthSync/jwt"
	"github.com/MrEthical07/goAuthSync/lock"
)

// ErrorKind is the coarse classification of a client failure.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	// KindAcquireTimeout: the session lock was not obtained in time. Advisory;
	// retry later.
	KindAcquireTimeout
	// KindSessionMissing: no session or refresh token to act on.
	KindSessionMissing
	// KindRetryableFetch: network failure or 5xx.
	KindRetryableFetch
	// KindAPI: the server rejected the call (4xx).
	KindAPI
	KindInvalidJWT
)

var (
	// ErrAcquireTimeout matches every lock acquisition timeout.
	ErrAcquireTimeout = lock.ErrAcquireTimeout
	// ErrSessionMissing is returned when an operation needs a session and none
	// is stored.
	ErrSessionMissing = errors.New("auth session missing")
	// ErrRetryableFetch matches network and 5xx failures.
	ErrRetryableFetch = errors.New("auth request failed, retryable")
	// ErrAPI matches 4xx failures.
	ErrAPI = errors.New("auth api error")
	// ErrUnknown matches failures that fit no other kind.
	ErrUnknown = errors.New("auth unknown error")
	// ErrInvalidJWT is returned when an access token cannot be parsed.
	ErrInvalidJWT = errors.New("invalid jwt")
	// ErrCodeVerifierMissing is returned by ExchangeCodeForSession without a
	// stored PKCE verifier.
	ErrCodeVerifierMissing = errors.New("pkce code verifier not found")
	// ErrClientClosed is returned by operations on a closed client.
	ErrClientClosed = errors.New("client closed")
)

func (k ErrorKind) String() string {
	switch k {
	case KindAcquireTimeout:
		return "acquire_timeout"
	case KindSessionMissing:
		return "session_missing"
	case KindRetryableFetch:
		return "retryable_fetch"
	case KindAPI:
		return "api"
	case KindInvalidJWT:
		return "invalid_jwt"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindAcquireTimeout:
		return ErrAcquireTimeout
	case KindSessionMissing:
		return ErrSessionMissing
	case KindRetryableFetch:
		return ErrRetryableFetch
	case KindAPI:
		return ErrAPI
	case KindInvalidJWT:
		return ErrInvalidJWT
	default:
		return ErrUnknown
	}
}

// AuthError is the error type returned by Client operations.
type AuthError struct {
	Kind ErrorKind
	// Status is the HTTP status, zero when no response was received.
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.sentinel().Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("goauth: %s (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("goauth: %s: %s", e.Kind, msg)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *AuthError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// IsRetryable reports whether err is a network or 5xx failure.
func IsRetryable(err error) bool {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind == KindRetryableFetch
	}
	return errors.Is(err, ErrRetryableFetch)
}

// KindOf returns the kind of err, KindUnknown for foreign and nil errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return toAuthError(err).Kind
}

func newAuthError(kind ErrorKind, err error) *AuthError {
	return &AuthError{Kind: kind, Err: err}
}

// toAuthError maps internal failures onto the public taxonomy. nil stays nil.
func toAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case lock.IsAcquireTimeout(err):
		return newAuthError(KindAcquireTimeout, err)
	case errors.Is(err, flows.ErrNoRefreshToken),
		errors.Is(err, ErrSessionMissing),
		errors.Is(err, ErrCodeVerifierMissing):
		return newAuthError(KindSessionMissing, err)
	case errors.Is(err, jwt.ErrInvalidToken):
		return newAuthError(KindInvalidJWT, err)
	default:
		return newAuthError(KindUnknown, err)
	}
}

// result converts err for return from a public operation.
func result(err error) error {
	if ae := toAuthError(err); ae != nil {
		return ae
	}
	return nil
}
