package goAuthSync

import (
	"errors"
	"maps"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goAuthSync/jwt"
	"github.com/MrEthical07/goAuthSync/lock"
)

// Config holds every client tunable. Start from [DefaultConfig].
type Config struct {
	// URL is the auth server base, e.g. https://auth.example.com/auth/v1.
	URL string
	// StorageKey names the persisted session slot shared by all contexts.
	StorageKey string
	// AutoRefreshToken starts the auto-refresh ticker on Build.
	AutoRefreshToken bool
	// PersistSession false forces an in-memory store regardless of the
	// configured adapter.
	PersistSession bool
	Headers        map[string]string

	Lock      LockConfig
	Refresh   RefreshConfig
	Broadcast BroadcastConfig
	JWT       JWTConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
LOCK CONFIG
====================================
*/

// LockConfig tunes the session lock.
type LockConfig struct {
	// Enabled false swaps the broadcast claim protocol for a process-local
	// mutex, for single-context deployments.
	Enabled bool
	// Wait is the claim window (LOCK_WAIT).
	Wait               time.Duration
	MaxBackoffExponent int
	// AcquireTimeout bounds lock acquisition for public operations. Negative
	// waits without bound.
	AcquireTimeout time.Duration
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig tunes the refresh coordinator and auto-refresh ticker.
type RefreshConfig struct {
	TickDuration time.Duration
	// TickThreshold is the number of ticks before expiry at which the ticker
	// refreshes.
	TickThreshold int
	BaseBackoff   time.Duration
	// ExpiryMargin makes GetSession refresh a session this close to expiry.
	ExpiryMargin time.Duration
}

/*
====================================
BROADCAST CONFIG
====================================
*/

// BroadcastConfig controls cross-context event fan-out.
type BroadcastConfig struct {
	Enabled bool
	// ChannelPrefix is prepended to the storage key to name the event channel.
	ChannelPrefix string
}

// JWTConfig configures access-token parsing in SetSession. The zero value
// reads claims without verifying signatures.
type JWTConfig struct {
	SigningMethod jwt.SigningMethod
	Key           []byte
	VerifyKeys    map[string][]byte
	Issuer        string
	Audience      string
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the recommended settings. URL must still be set.
func DefaultConfig() Config {
	return Config{
		StorageKey:       "goauth-session",
		AutoRefreshToken: true,
		PersistSession:   true,
		Lock: LockConfig{
			Enabled:            true,
			Wait:               lock.DefaultWait,
			MaxBackoffExponent: lock.DefaultMaxBackoffExponent,
			AcquireTimeout:     -1,
		},
		Refresh: RefreshConfig{
			TickDuration:  30 * time.Second,
			TickThreshold: 3,
			BaseBackoff:   200 * time.Millisecond,
			ExpiryMargin:  90 * time.Second,
		},
		Broadcast: BroadcastConfig{
			Enabled:       true,
			ChannelPrefix: "goauth:",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Headers = maps.Clone(cfg.Headers)
	out.JWT.Key = cloneBytes(cfg.JWT.Key)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, k := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(k)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("URL is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("URL must be absolute")
	}
	if strings.TrimSpace(c.StorageKey) == "" {
		return errors.New("StorageKey must not be empty")
	}

	if c.Lock.Wait <= 0 {
		return errors.New("Lock Wait must be > 0")
	}
	if c.Lock.MaxBackoffExponent <= 0 || c.Lock.MaxBackoffExponent > 16 {
		return errors.New("Lock MaxBackoffExponent must be in 1..16")
	}

	if c.Refresh.TickDuration <= 0 {
		return errors.New("Refresh TickDuration must be > 0")
	}
	if c.Refresh.TickThreshold <= 0 {
		return errors.New("Refresh TickThreshold must be > 0")
	}
	if c.Refresh.BaseBackoff <= 0 {
		return errors.New("Refresh BaseBackoff must be > 0")
	}
	if c.Refresh.BaseBackoff >= c.Refresh.TickDuration {
		return errors.New("Refresh BaseBackoff must be < TickDuration")
	}
	if c.Refresh.ExpiryMargin < 0 {
		return errors.New("Refresh ExpiryMargin must be >= 0")
	}

	if c.Broadcast.Enabled && c.Broadcast.ChannelPrefix == "" {
		return errors.New("Broadcast ChannelPrefix must not be empty when enabled")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}
	return nil
}

func (c *Config) jwtConfig() jwt.Config {
	return jwt.Config{
		SigningMethod: c.JWT.SigningMethod,
		Key:           c.JWT.Key,
		VerifyKeys:    c.JWT.VerifyKeys,
		Issuer:        c.JWT.Issuer,
		Audience:      c.JWT.Audience,
	}
}

func (c *Config) eventChannel() string {
	return c.Broadcast.ChannelPrefix + c.StorageKey
}

func (c *Config) lockName() string {
	return "lock:" + c.StorageKey
}
