// Package cache provides the shared key/value store used for dedup markers, throttle counters and
// digest backoff markers.
package cache

import (
	"context"
	"errors"
	"time"
)

var ErrEmptyKey = errors.New("cache key must not be empty")

// Cache is a small expiring key/value store. Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores the value only when the key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// Incr increments the counter at key. The ttl is applied when the counter is created, so the
	// window is fixed from the first increment.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Close() error
}
