package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS rate_limit_counters (
		key        TEXT PRIMARY KEY,
		count      BIGINT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS rate_limit_counters_expires_at_idx ON rate_limit_counters (expires_at)`,
}

// The conflict branch restarts an expired counter in place, so a row left
// behind by a slow sweep behaves exactly like a missing key.
const postgresIncrement = `
INSERT INTO rate_limit_counters AS c (key, count, expires_at)
VALUES ($1, 1, now() + $2::double precision * interval '1 millisecond')
ON CONFLICT (key) DO UPDATE SET
	count      = CASE WHEN c.expires_at <= now() THEN 1 ELSE c.count + 1 END,
	expires_at = CASE WHEN c.expires_at <= now() THEN EXCLUDED.expires_at ELSE c.expires_at END
RETURNING count`

const postgresTTL = `
SELECT GREATEST(EXTRACT(EPOCH FROM (expires_at - now())), 0)::double precision
FROM rate_limit_counters
WHERE key = $1`

const postgresSweep = `DELETE FROM rate_limit_counters WHERE expires_at <= now()`

// PostgresStore keeps counters in a PostgreSQL table. The upsert takes a row
// lock, which serialises concurrent increments of the same key across every
// instance sharing the database. Expiry uses the database clock.
type PostgresStore struct {
	pool *pgxpool.Pool

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPostgresStore connects to PostgreSQL and creates the counter table if it
// does not exist.
func NewPostgresStore(config Config) (*PostgresStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL store")
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.PoolSize > 0 {
		poolConfig.MaxConns = int32(config.PoolSize)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create counter table: %w", err)
		}
	}

	ps := &PostgresStore{
		pool: pool,
		done: make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		ps.wg.Add(1)
		go ps.cleanupLoop(config.CleanupInterval)
	}

	return ps, nil
}

// Increment implements Store.
func (ps *PostgresStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	if err := validateIncrement(key, window); err != nil {
		return 0, err
	}

	var count int64
	err := ps.pool.QueryRow(ctx, postgresIncrement, key, float64(window.Milliseconds())).Scan(&count)
	if err != nil {
		return 0, classifyPostgresError("increment", err)
	}
	return count, nil
}

// TTL implements Store.
func (ps *PostgresStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}

	var seconds float64
	err := ps.pool.QueryRow(ctx, postgresTTL, key).Scan(&seconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, classifyPostgresError("ttl", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Ping implements Store.
func (ps *PostgresStore) Ping(ctx context.Context) error {
	if err := ps.pool.Ping(ctx); err != nil {
		return classifyPostgresError("ping", err)
	}
	return nil
}

// Sweep deletes expired counters and returns how many rows were removed.
func (ps *PostgresStore) Sweep(ctx context.Context) (int64, error) {
	tag, err := ps.pool.Exec(ctx, postgresSweep)
	if err != nil {
		return 0, classifyPostgresError("sweep", err)
	}
	return tag.RowsAffected(), nil
}

// Close stops the sweep goroutine and closes the pool.
func (ps *PostgresStore) Close() error {
	ps.closeOnce.Do(func() {
		close(ps.done)
		ps.wg.Wait()
		ps.pool.Close()
	})
	return nil
}

func (ps *PostgresStore) cleanupLoop(interval time.Duration) {
	defer ps.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			_, _ = ps.Sweep(ctx)
			cancel()
		case <-ps.done:
			return
		}
	}
}

func classifyPostgresError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if isPostgresUnavailableCode(pgErr.Code) {
			return unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	// Anything that is not a server error reply never reached a working
	// backend: dial failures, timeouts, a closed pool.
	return unavailable(op, err)
}

// isPostgresUnavailableCode matches SQLSTATE classes for connection loss,
// operator intervention, resource exhaustion and transaction rollbacks.
func isPostgresUnavailableCode(code string) bool {
	for _, class := range []string{"08", "57P", "53", "40"} {
		if strings.HasPrefix(code, class) {
			return true
		}
	}
	return false
}
