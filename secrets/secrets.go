// Package secrets defines the client-managed secret store that answers the
// agent's secrets/get, secrets/store and secrets/delete requests.
package secrets

import (
	"context"
	"errors"
)

// ErrEmptyKey is returned when a secret key is empty.
var ErrEmptyKey = errors.New("secret key must not be empty")

// Store holds secrets by key.
type Store interface {
	// Get returns the value stored for key. ok is false if there is none.
	// The error is reserved for backend failures.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend.
	Close() error
}

// Backend names accepted by configuration.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// CheckKey validates a key before it reaches a backend.
func CheckKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
