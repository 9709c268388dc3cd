// Package cache holds rendered responses for historical price views.
package cache

import (
	"context"
	"time"
)

// Cache byte-oriented key/value cache with per-entry TTL.
type Cache interface {
	// Get returns ErrCacheMiss when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// GetOrSet returns the cached value or computes, stores and returns it.
	// When storing fails the computed value is returned together with the error.
	GetOrSet(ctx context.Context, key string, ttl time.Duration, fn func() ([]byte, error)) ([]byte, error)
	// Clear drops every entry owned by this cache.
	Clear(ctx context.Context) error
	Close() error
}

// Error cache error kind.
type Error string

func (e Error) Error() string { return string(e) }

// ErrCacheMiss key not found.
const ErrCacheMiss Error = "cache miss"

// getOrSet implements GetOrSet on top of Get and Set.
func getOrSet(ctx context.Context, c Cache, key string, ttl time.Duration, fn func() ([]byte, error)) ([]byte, error) {
	if value, err := c.Get(ctx, key); err == nil {
		return value, nil
	}

	value, err := fn()
	if err != nil {
		return nil, err
	}

	if err := c.Set(ctx, key, value, ttl); err != nil {
		return value, err
	}
	return value, nil
}
