package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getPostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set, skipping PostgreSQL tests")
	}
	return dsn
}

func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := getPostgresDSN(t)
	s, err := NewPostgresStore(Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func uniqueKey(t *testing.T) string {
	return fmt.Sprintf("%s:%d", t.Name(), time.Now().UnixNano())
}

func TestPostgresStoreConnectionError(t *testing.T) {
	_, err := NewPostgresStore(Config{DSN: ""})
	assert.Error(t, err)
}

func TestPostgresStoreInvalidDSN(t *testing.T) {
	_, err := NewPostgresStore(Config{DSN: "postgres://invalid:5432/nonexistent?connect_timeout=1"})
	assert.Error(t, err)
}

func TestPostgresStore_IncrementAndTTL(t *testing.T) {
	s := newPostgresTestStore(t)
	ctx := context.Background()
	key := uniqueKey(t)

	count, err := s.Increment(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = s.Increment(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	ttl, err := s.TTL(ctx, key)
	require.NoError(t, err)
	assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 5)

	ttl, err = s.TTL(ctx, uniqueKey(t)+"-missing")
	require.NoError(t, err)
	assert.Zero(t, ttl)
}

func TestPostgresStore_WindowReset(t *testing.T) {
	s := newPostgresTestStore(t)
	ctx := context.Background()
	key := uniqueKey(t)

	_, err := s.Increment(ctx, key, 50*time.Millisecond)
	require.NoError(t, err)
	_, err = s.Increment(ctx, key, 50*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	count, err := s.Increment(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, int64(0))
}

func TestPostgresStore_ConcurrentIncrements(t *testing.T) {
	s := newPostgresTestStore(t)
	ctx := context.Background()
	key := uniqueKey(t)

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, key, time.Hour)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := s.Increment(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(n+1), count)
}

func TestPostgresStore_UnavailableAfterClose(t *testing.T) {
	s := newPostgresTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.Increment(context.Background(), uniqueKey(t), time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClassifyPostgresError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, false},
		{"dial error", errors.New("dial tcp: connection refused"), true},
		{"deadline", context.DeadlineExceeded, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyPostgresError("increment", tt.err)
			assert.Equal(t, tt.unavailable, errors.Is(err, ErrUnavailable))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
