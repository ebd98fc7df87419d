// Package cache provides a small key-value cache abstraction used for report
// summaries and other derived data that is expensive to recompute. Backends:
// Redis for multi-node deployments, in-memory for development and tests.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the key does not exist in the cache or has expired.
var ErrNotFound = errors.New("cache: key not found")

// Store is the contract for a cache backend.
type Store interface {
	// Get retrieves the value for key, returning ErrNotFound on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL. A zero TTL means no
	// expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key from the cache. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
