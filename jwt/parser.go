package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken wraps every parse or verification failure.
var ErrInvalidToken = errors.New("invalid jwt")

// SigningMethod selects the verification algorithm.
type SigningMethod string

const (
	// MethodNone reads claims without verifying the signature.
	MethodNone    SigningMethod = ""
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Config configures a [Parser]. The zero value reads claims unverified.
type Config struct {
	SigningMethod SigningMethod
	// Key is the HS256 secret or the Ed25519 public key (raw or PEM).
	Key []byte
	// VerifyKeys selects the key by the token's kid header when set.
	VerifyKeys map[string][]byte
	Issuer     string
	Audience   string
}

// Claims is the subset of access-token claims the client relies on.
type Claims struct {
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// Expiry returns the exp claim, or the zero time when absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Expired reports whether the token is expired at now. A token without exp
// never expires.
func (c *Claims) Expired(now time.Time) bool {
	exp := c.Expiry()
	return !exp.IsZero() && !exp.After(now)
}

// Parser extracts claims from access tokens.
type Parser struct {
	config Config
}

// NewParser validates cfg and returns a parser.
func NewParser(cfg Config) (*Parser, error) {
	switch cfg.SigningMethod {
	case MethodNone:
	case MethodHS256:
		if len(cfg.Key) == 0 && len(cfg.VerifyKeys) == 0 {
			return nil, errors.New("hs256 requires a key")
		}
	case MethodEd25519:
		if len(cfg.Key) == 0 && len(cfg.VerifyKeys) == 0 {
			return nil, errors.New("ed25519 requires a public key or verify key set")
		}
		if len(cfg.Key) > 0 {
			if _, err := parseEdPublicKey(cfg.Key); err != nil {
				return nil, err
			}
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return &Parser{config: cfg}, nil
}

// Verifies reports whether signatures are checked.
func (p *Parser) Verifies() bool { return p.config.SigningMethod != MethodNone }

// Parse returns the claims of token. Expiry is reported, not enforced: an
// expired token parses successfully so callers can decide to refresh it.
func (p *Parser) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	if !p.Verifies() {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return claims, nil
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{p.method().Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(token, claims, p.keyFunc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if p.config.Issuer != "" && claims.Issuer != p.config.Issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	if p.config.Audience != "" && !slices.Contains(claims.Audience, p.config.Audience) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
	}
	return claims, nil
}

func (p *Parser) keyFunc(t *jwt.Token) (interface{}, error) {
	if len(p.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := p.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return p.verifyKey(key)
	}
	return p.verifyKey(p.config.Key)
}

func (p *Parser) method() jwt.SigningMethod {
	if p.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (p *Parser) verifyKey(key []byte) (interface{}, error) {
	if p.config.SigningMethod == MethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
