// Package assertion builds the signed JWT assertions the connector exchanges for tokens.
package assertion

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultLifetime is how long a generated assertion stays valid when the caller sets no exp claim.
const DefaultLifetime = 3500 * time.Second

// ErrMissingClaim is returned when a claim required for signing is absent.
var ErrMissingClaim = errors.New("assertion: missing required claim")

// Signer produces a compact, signed three-segment token from a claim set.
type Signer interface {
	Sign(claims map[string]any, secret string) (string, error)
}

// HS256Signer signs assertions with HMAC-SHA256.
type HS256Signer struct {
	lifetime time.Duration
	now      func() time.Time
}

// Compile-time check to ensure HS256Signer implements Signer
var _ Signer = (*HS256Signer)(nil)

// Option configures an HS256Signer.
type Option func(*HS256Signer)

// WithLifetime overrides DefaultLifetime.
func WithLifetime(d time.Duration) Option {
	return func(s *HS256Signer) {
		if d > 0 {
			s.lifetime = d
		}
	}
}

// WithClock overrides the time source used to compute exp.
func WithClock(now func() time.Time) Option {
	return func(s *HS256Signer) {
		s.now = now
	}
}

// NewHS256Signer creates an HS256Signer.
func NewHS256Signer(opts ...Option) *HS256Signer {
	s := &HS256Signer{
		lifetime: DefaultLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign validates and signs claims. exp defaults to now + lifetime, array scopes are joined with
// spaces, and iss and aud must be present. The caller's map is not modified.
func (s *HS256Signer) Sign(claims map[string]any, secret string) (string, error) {
	final := make(jwt.MapClaims, len(claims)+1)
	for k, v := range claims {
		final[k] = v
	}

	if isEmpty(final["exp"]) {
		final["exp"] = s.now().Add(s.lifetime).Unix()
	}
	if isEmpty(final["iss"]) {
		return "", fmt.Errorf("%w: iss", ErrMissingClaim)
	}
	if isEmpty(final["aud"]) {
		return "", fmt.Errorf("%w: aud", ErrMissingClaim)
	}

	switch scope := final["scope"].(type) {
	case []string:
		final["scope"] = strings.Join(scope, " ")
	case []any:
		parts := make([]string, 0, len(scope))
		for _, p := range scope {
			parts = append(parts, fmt.Sprint(p))
		}
		final["scope"] = strings.Join(parts, " ")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, orderedClaims{final})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing assertion: %w", err)
	}
	return signed, nil
}

// isEmpty mirrors the falsy check applied to claim values: absent, nil, empty string, empty list or zero.
func isEmpty(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case int:
		return v == 0
	case int64:
		return v == 0
	case float64:
		return v == 0
	case bool:
		return !v
	}
	return false
}
