package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type counter struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore keeps counters in process memory. It is only shared between
// goroutines of one process, so it suits tests and single-instance
// development. Expired counters are ignored on access and removed by Sweep.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore creates an in-memory store. When cleanupInterval is positive
// a background goroutine calls Sweep on that interval until Close.
func NewMemoryStore(cleanupInterval time.Duration, opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	m := &MemoryStore{
		counters: make(map[string]*counter),
		now:      o.now,
		done:     make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go m.cleanupLoop(cleanupInterval)
	}

	return m
}

// Increment implements Store.
func (m *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	if err := validateIncrement(key, window); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, unavailable("increment", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, unavailable("increment", fmt.Errorf("memory store closed"))
	}

	now := m.now()
	c, ok := m.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		c = &counter{expiresAt: now.Add(window)}
		m.counters[key] = c
	}
	c.count++

	return c.count, nil
}

// TTL implements Store.
func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, unavailable("ttl", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, unavailable("ttl", fmt.Errorf("memory store closed"))
	}

	c, ok := m.counters[key]
	if !ok {
		return 0, nil
	}

	remaining := c.expiresAt.Sub(m.now())
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return unavailable("ping", fmt.Errorf("memory store closed"))
	}
	return nil
}

// Sweep deletes expired counters and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, c := range m.counters {
		if !now.Before(c.expiresAt) {
			delete(m.counters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of counters currently held, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}

// Close stops the sweep goroutine. It is safe to call more than once.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		m.closed = true
		m.counters = make(map[string]*counter)
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.done:
			return
		}
	}
}
