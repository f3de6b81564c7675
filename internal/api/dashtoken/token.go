// Package dashtoken issues short-lived signed tokens that let dashboards
// read the analytics and live-feed surfaces without holding admin
// credentials. Browsers cannot attach an Authorization header to an
// EventSource, so the token travels in the query string instead.
package dashtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the leading segment of every token.
const Version = "dt1"

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 10 * time.Minute

// Scope names what a token grants.
type Scope string

const (
	// ScopeRead grants the listing, analytics and presence surfaces.
	ScopeRead Scope = "read"
	// ScopeStream grants the live feed only.
	ScopeStream Scope = "stream"
)

// Errors returned by Verify.
var (
	ErrEmptySecret  = errors.New("token secret is empty")
	ErrMalformed    = errors.New("malformed token")
	ErrBadSignature = errors.New("bad token signature")
	ErrExpired      = errors.New("token expired")
	ErrScope        = errors.New("token scope not granted")
)

// Claims is the signed body of a token.
type Claims struct {
	Scopes    []Scope `json:"scp"`
	IssuedAt  int64   `json:"iat"`
	ExpiresAt int64   `json:"exp"`
}

// Grants reports whether c covers s.
func (c Claims) Grants(s Scope) bool {
	for _, have := range c.Scopes {
		if have == s {
			return true
		}
	}
	return false
}

// Issuer signs and verifies tokens with one HMAC-SHA256 secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithTTL sets the lifetime of issued tokens.
func WithTTL(d time.Duration) Option {
	return func(i *Issuer) {
		if d > 0 {
			i.ttl = d
		}
	}
}

// WithClock sets the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer creates an Issuer. The secret must not be empty.
func NewIssuer(secret []byte, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	i := &Issuer{
		secret: append([]byte(nil), secret...),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue returns a token granting scopes, of the form
// dt1.<base64url claims>.<base64url signature>.
func (i *Issuer) Issue(scopes ...Scope) (string, error) {
	if len(scopes) == 0 {
		return "", fmt.Errorf("%w: no scopes requested", ErrScope)
	}
	now := i.now()
	body, err := json.Marshal(Claims{
		Scopes:    scopes,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(i.ttl).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	signed := Version + "." + base64.RawURLEncoding.EncodeToString(body)
	return signed + "." + base64.RawURLEncoding.EncodeToString(i.sign(signed)), nil
}

// Verify checks the signature and expiry of token and that it grants want.
func (i *Issuer) Verify(token string, want Scope) (Claims, error) {
	version, rest, ok := strings.Cut(token, ".")
	if !ok || version != Version {
		return Claims{}, ErrMalformed
	}
	body64, sig64, ok := strings.Cut(rest, ".")
	if !ok || strings.Contains(sig64, ".") {
		return Claims{}, ErrMalformed
	}

	sig, err := base64.RawURLEncoding.DecodeString(sig64)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	if !hmac.Equal(sig, i.sign(version+"."+body64)) {
		return Claims{}, ErrBadSignature
	}

	body, err := base64.RawURLEncoding.DecodeString(body64)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	var c Claims
	if err := json.Unmarshal(body, &c); err != nil {
		return Claims{}, ErrMalformed
	}
	if i.now().Unix() > c.ExpiresAt {
		return Claims{}, ErrExpired
	}
	if !c.Grants(want) {
		return Claims{}, ErrScope
	}
	return c, nil
}

func (i *Issuer) sign(s string) []byte {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(s))
	return mac.Sum(nil)
}
