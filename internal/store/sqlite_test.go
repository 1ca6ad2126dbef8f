package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "counters.db")
	s, err := NewSQLiteStore(Config{DSN: dsn}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_IncrementAndTTL(t *testing.T) {
	clock := newFakeClock()
	s := newTestSQLiteStore(t, WithClock(clock.Now))
	ctx := context.Background()

	count, err := s.Increment(ctx, "/template:a", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	clock.Advance(15 * time.Minute)

	count, err = s.Increment(ctx, "/template:a", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	ttl, err := s.TTL(ctx, "/template:a")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, ttl)

	ttl, err = s.TTL(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, ttl)
}

func TestSQLiteStore_WindowReset(t *testing.T) {
	clock := newFakeClock()
	s := newTestSQLiteStore(t, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := s.Increment(ctx, "k", time.Minute)
		require.NoError(t, err)
	}

	clock.Advance(time.Minute)

	count, err := s.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)
}

func TestSQLiteStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	s := newTestSQLiteStore(t, WithClock(clock.Now))
	ctx := context.Background()

	_, err := s.Increment(ctx, "short", time.Second)
	require.NoError(t, err)
	_, err = s.Increment(ctx, "long", time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Second)

	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	ttl, err := s.TTL(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, time.Hour-time.Second, ttl)
}

func TestSQLiteStore_ConcurrentIncrements(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	const n = 40
	results := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			count, err := s.Increment(ctx, "shared", time.Hour)
			assert.NoError(t, err)
			results <- count
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, n)
	for c := range results {
		seen[c] = true
	}
	assert.Len(t, seen, n)
	assert.True(t, seen[n])
}

func TestSQLiteStore_UnavailableAfterClose(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())

	_, err := s.Increment(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.TTL(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, s.Ping(ctx), ErrUnavailable)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "counters.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(Config{DSN: dsn})
	require.NoError(t, err)
	_, err = first.Increment(ctx, "k", time.Hour)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(Config{DSN: dsn})
	require.NoError(t, err)
	defer second.Close()

	count, err := second.Increment(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestNewSQLiteStore_RequiresDSN(t *testing.T) {
	_, err := NewSQLiteStore(Config{})
	assert.Error(t, err)
}
