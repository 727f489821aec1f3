package tokenstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// EnvBackend provides read-only access to values in environment variables.
// Useful as a durable tier pre-provisioned by external secret management (e.g., a refresh
// token injected in CI); writes are rejected with ErrReadOnly.
type EnvBackend struct {
	prefix string
}

// Compile-time check to ensure EnvBackend implements Backend
var _ Backend = (*EnvBackend)(nil)

// NewEnvBackend creates an EnvBackend. Keys are looked up as prefix + UPPER_SNAKE(key),
// e.g. prefix CONNECTOR_TOKEN_ and key refreshToken → CONNECTOR_TOKEN_REFRESH_TOKEN.
func NewEnvBackend(prefix string) (*EnvBackend, error) {
	if prefix == "" {
		return nil, fmt.Errorf("environment prefix cannot be empty")
	}

	return &EnvBackend{
		prefix: prefix,
	}, nil
}

func (e *EnvBackend) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value, ok := os.LookupEnv(e.envKey(key))
	if !ok || value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

// Set is not supported for environment variables.
func (e *EnvBackend) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("setting %s: %w", e.envKey(key), ErrReadOnly)
}

// Remove is not supported for environment variables.
func (e *EnvBackend) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("removing %s: %w", e.envKey(key), ErrReadOnly)
}

func (e *EnvBackend) envKey(key string) string {
	var sb strings.Builder
	sb.WriteString(e.prefix)
	for i, r := range key {
		if unicode.IsUpper(r) && i > 0 {
			sb.WriteByte('_')
		}
		sb.WriteRune(unicode.ToUpper(r))
	}
	return sb.String()
}
