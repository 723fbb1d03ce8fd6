package session

import (
	"maps"
	"time"
)

// Event names a session state change delivered to subscribers.
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
	EventUserUpdated    Event = "USER_UPDATED"
)

// User is the account snapshot returned by the auth server.
type User struct {
	ID           string         `json:"id"`
	Aud          string         `json:"aud,omitempty"`
	Role         string         `json:"role,omitempty"`
	Email        string         `json:"email,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	CreatedAt    string         `json:"created_at,omitempty"`
	UpdatedAt    string         `json:"updated_at,omitempty"`
}

// Clone returns a copy whose metadata maps are not shared with u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.AppMetadata = maps.Clone(u.AppMetadata)
	c.UserMetadata = maps.Clone(u.UserMetadata)
	return &c
}

// Session is the bearer credential pair plus expiry metadata.
//
// AccessToken and RefreshToken are either both set or both empty. ExpiresAt
// is in Unix seconds.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *User  `json:"user,omitempty"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.User = s.User.Clone()
	return &c
}

// Complete reports whether s carries everything a persisted session needs.
func (s *Session) Complete() bool {
	return s != nil && s.AccessToken != "" && s.RefreshToken != "" && s.ExpiresAt != 0
}

// ExpiresWithin reports whether s expires at or before now+d.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	return time.Unix(s.ExpiresAt, 0).Sub(now) <= d
}

// TokenResponse is the body of a successful token grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// FromTokenResponse builds a session from a grant issued at now. A
// server-supplied expires_at wins over now+expires_in. It returns nil when the
// response does not carry both tokens.
func FromTokenResponse(resp *TokenResponse, now time.Time) *Session {
	if resp == nil || resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil
	}
	expiresAt := resp.ExpiresAt
	if expiresAt == 0 {
		expiresAt = now.Unix() + resp.ExpiresIn
	}
	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    tokenType,
		ExpiresIn:    resp.ExpiresIn,
		ExpiresAt:    expiresAt,
		User:         resp.User.Clone(),
	}
}
