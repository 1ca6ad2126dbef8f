package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed fixed_window.lua
var fixedWindowSource string

var fixedWindowScript = redis.NewScript(fixedWindowSource)

// RedisStore keeps counters in Redis. Increment runs a Lua script so the
// increment and the conditional expiry happen in one atomic step on the
// server; every instance pointed at the same Redis shares the counters.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store. Addr may be a plain host:port
// or a redis:// (rediss://) URL; URL settings win over Password and DB.
// The connection is not checked here; callers decide whether to Ping.
func NewRedisStore(config Config) (*RedisStore, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("address is required for Redis store")
	}

	var opts *redis.Options
	if strings.HasPrefix(config.Addr, "redis://") || strings.HasPrefix(config.Addr, "rediss://") {
		parsed, err := redis.ParseURL(config.Addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		}
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	// Per-call deadlines come from the caller's context.
	opts.ContextTimeoutEnabled = true

	return NewRedisStoreFromClient(redis.NewClient(opts), config.KeyPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client. The store owns the
// client and closes it on Close.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Increment implements Store.
func (r *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	if err := validateIncrement(key, window); err != nil {
		return 0, err
	}

	count, err := fixedWindowScript.Run(ctx, r.client, []string{r.prefix + key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, classifyRedisError("increment", err)
	}
	return count, nil
}

// TTL implements Store.
func (r *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}

	ttl, err := r.client.PTTL(ctx, r.prefix+key).Result()
	if err != nil {
		return 0, classifyRedisError("ttl", err)
	}
	// -2 (missing key) and -1 (no expiry) come back as raw negative durations.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Ping implements Store.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return classifyRedisError("ping", err)
	}
	return nil
}

// Close implements Store.
func (r *RedisStore) Close() error {
	if err := r.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

func classifyRedisError(op string, err error) error {
	if isRedisUnavailable(err) {
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// unavailableReplies are the error reply codes Redis sends while it cannot
// serve writes for operational reasons. Any other reply (WRONGTYPE, script
// errors, plain ERR) points at the data or the caller and is not masked.
var unavailableReplies = map[string]bool{
	"LOADING":     true,
	"READONLY":    true,
	"MASTERDOWN":  true,
	"BUSY":        true,
	"TRYAGAIN":    true,
	"CLUSTERDOWN": true,
	"OOM":         true,
}

// isRedisUnavailable reports whether err means Redis could not serve the
// command: network failures, timeouts, a closed client or pool, and the
// operational error replies listed in unavailableReplies.
func isRedisUnavailable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, redis.ErrClosed) || errors.Is(err, redis.ErrPoolTimeout) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		code, _, _ := strings.Cut(redisErr.Error(), " ")
		return unavailableReplies[code]
	}
	return false
}
