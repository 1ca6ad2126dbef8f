package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS rate_limit_counters (
		key        TEXT PRIMARY KEY,
		count      INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS rate_limit_counters_expires_at_idx ON rate_limit_counters (expires_at)`,
}

// ?1 key, ?2 expiry for a new window (unix ms), ?3 now (unix ms).
const sqliteIncrement = `
INSERT INTO rate_limit_counters (key, count, expires_at)
VALUES (?1, 1, ?2)
ON CONFLICT (key) DO UPDATE SET
	count      = CASE WHEN expires_at <= ?3 THEN 1 ELSE count + 1 END,
	expires_at = CASE WHEN expires_at <= ?3 THEN excluded.expires_at ELSE expires_at END
RETURNING count`

const sqliteTTL = `SELECT expires_at FROM rate_limit_counters WHERE key = ?1`

const sqliteSweep = `DELETE FROM rate_limit_counters WHERE expires_at <= ?1`

// SQLiteStore keeps counters in a single SQLite file. Writes go through one
// connection, so every process using the file is serialised by SQLite's own
// locking. Expiry uses the process clock, stored as unix milliseconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time

	mu     sync.RWMutex
	closed bool

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSQLiteStore opens the database and creates the counter table if it does
// not exist.
func NewSQLiteStore(config Config, opts ...Option) (*SQLiteStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("connection string is required for SQLite store")
	}

	db, err := sql.Open("sqlite", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create counter table: %w", err)
		}
	}

	o := buildOptions(opts)
	ss := &SQLiteStore{
		db:   db,
		now:  o.now,
		done: make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		ss.wg.Add(1)
		go ss.cleanupLoop(config.CleanupInterval)
	}

	return ss, nil
}

// Increment implements Store.
func (ss *SQLiteStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	if err := validateIncrement(key, window); err != nil {
		return 0, err
	}

	ss.mu.RLock()
	defer ss.mu.RUnlock()
	if ss.closed {
		return 0, unavailable("increment", errors.New("sqlite store closed"))
	}

	now := ss.now()
	var count int64
	err := ss.db.QueryRowContext(ctx, sqliteIncrement, key, now.Add(window).UnixMilli(), now.UnixMilli()).Scan(&count)
	if err != nil {
		return 0, classifySQLiteError("increment", err)
	}
	return count, nil
}

// TTL implements Store.
func (ss *SQLiteStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}

	ss.mu.RLock()
	defer ss.mu.RUnlock()
	if ss.closed {
		return 0, unavailable("ttl", errors.New("sqlite store closed"))
	}

	var expiresAt int64
	err := ss.db.QueryRowContext(ctx, sqliteTTL, key).Scan(&expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, classifySQLiteError("ttl", err)
	}

	remaining := time.UnixMilli(expiresAt).Sub(ss.now())
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// Ping implements Store.
func (ss *SQLiteStore) Ping(ctx context.Context) error {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	if ss.closed {
		return unavailable("ping", errors.New("sqlite store closed"))
	}

	if err := ss.db.PingContext(ctx); err != nil {
		return classifySQLiteError("ping", err)
	}
	return nil
}

// Sweep deletes expired counters and returns how many rows were removed.
func (ss *SQLiteStore) Sweep(ctx context.Context) (int64, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	if ss.closed {
		return 0, unavailable("sweep", errors.New("sqlite store closed"))
	}

	res, err := ss.db.ExecContext(ctx, sqliteSweep, ss.now().UnixMilli())
	if err != nil {
		return 0, classifySQLiteError("sweep", err)
	}
	return res.RowsAffected()
}

// Close stops the sweep goroutine and closes the database.
func (ss *SQLiteStore) Close() error {
	var err error
	ss.closeOnce.Do(func() {
		close(ss.done)
		ss.wg.Wait()

		ss.mu.Lock()
		ss.closed = true
		ss.mu.Unlock()

		err = ss.db.Close()
	})
	return err
}

func (ss *SQLiteStore) cleanupLoop(interval time.Duration) {
	defer ss.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			_, _ = ss.Sweep(ctx)
			cancel()
		case <-ss.done:
			return
		}
	}
}

func classifySQLiteError(op string, err error) error {
	if isSQLiteUnavailable(err) {
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isSQLiteUnavailable(err error) bool {
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR,
			sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_FULL, sqlite3.SQLITE_NOMEM:
			return true
		}
	}

	return false
}
