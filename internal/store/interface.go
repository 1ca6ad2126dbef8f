// Package store implements the shared counter stores behind admission control.
//
// A counter lives under a key for one fixed window. The first Increment of a
// cycle creates the counter with an expiry of one window; later increments
// bump the count and never touch the expiry. When the expiry passes the
// counter disappears and the next Increment starts a new cycle.
//
// Backends report connectivity problems (refused connections, timeouts,
// protocol failures, a closed store) wrapped in ErrUnavailable so callers can
// fail open with a single errors.Is check.
package store

import (
	"context"
	"time"
)

// Store is a shared counter store. Implementations must be safe for
// concurrent use and must make Increment atomic with respect to every other
// caller sharing the same backend, including other processes.
type Store interface {
	// Increment adds one to the counter under key and returns the new count.
	// If the key has no expiry (new or expired counter) the expiry is set to
	// window; an existing expiry is left unchanged.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)

	// TTL returns the time until the counter under key expires, or zero when
	// the key does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend. Calls after Close return ErrUnavailable.
	Close() error
}

// Config holds configuration for counter store backends
type Config struct {
	// Type selects the backend (memory, redis, postgres, sqlite)
	Type string `json:"type" yaml:"type"`

	// Addr is a Redis host:port or redis:// URL
	Addr     string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Password string `json:"-" yaml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
	PoolSize int    `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`

	// DSN is used by the SQL backends
	DSN string `json:"-" yaml:"dsn,omitempty"`

	// KeyPrefix namespaces counters in a shared Redis keyspace
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`

	// CleanupInterval is how often the memory and SQL backends delete
	// expired counters. Zero disables the background sweep.
	CleanupInterval time.Duration `json:"cleanup_interval,omitempty" yaml:"cleanup_interval,omitempty"`
}
