package assertion

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var fixedNow = time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestSigner() *HS256Signer {
	return NewHS256Signer(WithClock(func() time.Time { return fixedNow }))
}

func decodePayload(t *testing.T, token string) string {
	t.Helper()
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments, want 3", len(parts))
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	return string(payload)
}

func TestSignProducesVerifiableHS256(t *testing.T) {
	signer := newTestSigner()
	signed, err := signer.Sign(map[string]any{
		"iss":   "client-id",
		"aud":   "http://iam.example.com",
		"scope": []string{"read", "write"},
	}, "secret")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (any, error) {
		return []byte("secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	claims := parsed.Claims.(jwt.MapClaims)
	if claims["iss"] != "client-id" {
		t.Errorf("iss = %v, want client-id", claims["iss"])
	}
	if claims["scope"] != "read write" {
		t.Errorf("scope = %v, want space-joined scopes", claims["scope"])
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		t.Fatalf("GetExpirationTime() error = %v", err)
	}
	if want := fixedNow.Add(DefaultLifetime); !exp.Time.Equal(want) {
		t.Errorf("exp = %v, want %v", exp.Time, want)
	}
}

func TestSignKeepsCallerExpiry(t *testing.T) {
	signed, err := newTestSigner().Sign(map[string]any{"iss": "i", "aud": "a", "exp": int64(1234)}, "secret")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if payload := decodePayload(t, signed); !strings.Contains(payload, `"exp":1234`) {
		t.Errorf("payload = %s, want caller exp", payload)
	}
}

func TestSignOrdersCanonicalClaimsFirst(t *testing.T) {
	signed, err := newTestSigner().Sign(map[string]any{
		"zeta":                "last",
		"device_id":           "Web-1",
		"basic_auth.password": "pw",
		"basic_auth.username": "user@example.com",
		"scope":               "user",
		"alpha":               "extra",
		"aud":                 "audience",
		"iss":                 "issuer",
	}, "secret")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	payload := decodePayload(t, signed)
	order := []string{`"iss"`, `"aud"`, `"exp"`, `"scope"`, `"basic_auth.username"`, `"basic_auth.password"`, `"device_id"`, `"alpha"`, `"zeta"`}
	last := -1
	for _, key := range order {
		idx := strings.Index(payload, key)
		if idx < 0 {
			t.Fatalf("payload %s missing %s", payload, key)
		}
		if idx < last {
			t.Errorf("claim %s out of order in %s", key, payload)
		}
		last = idx
	}
}

func TestSignRequiresIssuerAndAudience(t *testing.T) {
	tests := []struct {
		name   string
		claims map[string]any
	}{
		{"missing iss", map[string]any{"aud": "a"}},
		{"empty iss", map[string]any{"iss": "", "aud": "a"}},
		{"missing aud", map[string]any{"iss": "i"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestSigner().Sign(tt.claims, "secret")
			if !errors.Is(err, ErrMissingClaim) {
				t.Errorf("Sign() error = %v, want ErrMissingClaim", err)
			}
		})
	}
}

func TestSignDoesNotMutateInput(t *testing.T) {
	claims := map[string]any{"iss": "i", "aud": "a", "scope": []string{"x"}}
	if _, err := newTestSigner().Sign(claims, "secret"); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if _, ok := claims["exp"]; ok {
		t.Error("Sign() added exp to caller map")
	}
	if _, ok := claims["scope"].([]string); !ok {
		t.Error("Sign() rewrote caller scope")
	}
}
