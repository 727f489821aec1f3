package tokenstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Backend.Get when the key holds no value.
	ErrNotFound = errors.New("tokenstore: key not found")

	// ErrReadOnly is returned by backends that cannot be written (e.g., environment variables).
	ErrReadOnly = errors.New("tokenstore: backend is read-only")
)

// Backend is a string key-value namespace used as one storage tier.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the stored value. Returns ErrNotFound if the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores the value, overwriting any existing one.
	Set(ctx context.Context, key, value string) error

	// Remove deletes the key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}
