package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/MrEthical07/goAuthSync/storage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// VerifierSuffix derives the PKCE verifier key from the session key.
const VerifierSuffix = "-code-verifier"

// UserWarning tracks the one-time warning for storage-origin user reads.
type UserWarning uint8

const (
	// UserUnproxied: the user needs no warning (fresh fetch or client-side
	// adapter).
	UserUnproxied UserWarning = iota
	// UserWarnPending: the first read of User will log the warning.
	UserWarnPending
	// UserWarnDone: the warning was logged or suppressed for this store.
	UserWarnDone
)

func (w UserWarning) String() string {
	switch w {
	case UserUnproxied:
		return "unproxied"
	case UserWarnPending:
		return "warn_pending"
	case UserWarnDone:
		return "warn_done"
	default:
		return fmt.Sprintf("UserWarning(%d)", uint8(w))
	}
}

// Store reads and writes the session slot. One Store belongs to one client
// instance; the warn-once state is scoped to it.
type Store struct {
	adapter storage.Adapter
	key     string
	server  bool
	log     *zap.Logger

	// userWarned is set once the storage-origin warning was emitted or a
	// server-side write made it unnecessary.
	userWarned atomic.Bool
}

// NewStore creates a store for key on adapter.
func NewStore(adapter storage.Adapter, key string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		adapter: adapter,
		key:     key,
		server:  storage.IsServer(adapter),
		log:     log,
	}
}

// Key returns the storage key of the session slot.
func (s *Store) Key() string { return s.key }

// VerifierKey returns the storage key of the PKCE verifier slot.
func (s *Store) VerifierKey() string { return s.key + VerifierSuffix }

// Get loads the current session. It returns (nil, nil) when there is none.
// A record that is corrupt or lacks either token or the expiry is purged and
// reported as absent.
func (s *Store) Get(ctx context.Context) (*Snapshot, error) {
	raw, ok, err := s.adapter.GetItem(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	sess, err := Decode(raw)
	if err != nil || !sess.Complete() {
		s.log.Debug("session: purging unusable record", zap.String("storage_key", s.key), zap.Error(err))
		if rerr := s.Remove(ctx); rerr != nil {
			return nil, rerr
		}
		return nil, nil
	}

	snap := &Snapshot{session: sess}
	if s.server {
		snap.store = s
	}
	return snap, nil
}

// Set persists sess with a single adapter write.
func (s *Store) Set(ctx context.Context, sess *Session) error {
	raw, err := Encode(sess)
	if err != nil {
		return err
	}
	if err := s.adapter.SetItem(ctx, s.key, raw); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	if s.server {
		s.userWarned.Store(true)
	}
	return nil
}

// Remove purges the session and the PKCE verifier. Both removals are
// attempted even if the first fails.
func (s *Store) Remove(ctx context.Context) error {
	err := multierr.Append(
		s.adapter.RemoveItem(ctx, s.key),
		s.adapter.RemoveItem(ctx, s.VerifierKey()),
	)
	if err != nil {
		return fmt.Errorf("session: remove: %w", err)
	}
	return nil
}

// SetCodeVerifier stores the one-shot PKCE verifier.
func (s *Store) SetCodeVerifier(ctx context.Context, verifier string) error {
	if err := s.adapter.SetItem(ctx, s.VerifierKey(), verifier); err != nil {
		return fmt.Errorf("session: save verifier: %w", err)
	}
	return nil
}

// TakeCodeVerifier reads and removes the PKCE verifier.
func (s *Store) TakeCodeVerifier(ctx context.Context) (string, bool, error) {
	v, ok, err := s.adapter.GetItem(ctx, s.VerifierKey())
	if err != nil {
		return "", false, fmt.Errorf("session: load verifier: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	if err := s.adapter.RemoveItem(ctx, s.VerifierKey()); err != nil {
		return "", false, fmt.Errorf("session: remove verifier: %w", err)
	}
	return v, v != "", nil
}

func (s *Store) warnUserRead() {
	if s.userWarned.CompareAndSwap(false, true) {
		s.log.Warn("session: user read from server-side storage; its authenticity cannot be guaranteed, fetch it with GetUser instead",
			zap.String("storage_key", s.key))
	}
}

// Snapshot is a frozen session. Token accessors are free; reading the user
// of a storage-origin snapshot on a server-side store may log once.
type Snapshot struct {
	session *Session
	store   *Store
}

// Fresh wraps a session obtained from the network. Its user never warns.
func Fresh(sess *Session) *Snapshot {
	if sess == nil {
		return nil
	}
	return &Snapshot{session: sess.Clone()}
}

func (s *Snapshot) AccessToken() string  { return s.session.AccessToken }
func (s *Snapshot) RefreshToken() string { return s.session.RefreshToken }
func (s *Snapshot) TokenType() string    { return s.session.TokenType }
func (s *Snapshot) ExpiresIn() int64     { return s.session.ExpiresIn }
func (s *Snapshot) ExpiresAt() int64     { return s.session.ExpiresAt }

// Warning reports the user warning state for this snapshot.
func (s *Snapshot) Warning() UserWarning {
	if s.store == nil {
		return UserUnproxied
	}
	if s.store.userWarned.Load() {
		return UserWarnDone
	}
	return UserWarnPending
}

// User returns a copy of the attached user.
func (s *Snapshot) User() *User {
	if s.store != nil {
		s.store.warnUserRead()
	}
	return s.session.User.Clone()
}

// Session returns a copy of the whole session, user included.
func (s *Snapshot) Session() *Session {
	if s.store != nil {
		s.store.warnUserRead()
	}
	return s.session.Clone()
}

// Tokens returns a copy of the session without the user. It never warns.
func (s *Snapshot) Tokens() *Session {
	c := s.session.Clone()
	c.User = nil
	return c
}

// MarshalJSON encodes the full session without triggering the user warning.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.session)
}

// UnmarshalJSON decodes a session into an unproxied snapshot.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return err
	}
	s.session = &sess
	s.store = nil
	return nil
}
