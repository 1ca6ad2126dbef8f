// Package ratelimit decides whether a request may proceed using a fixed-window
// counter per client and route, held in a shared counter store.
//
// Each admission check increments the counter first and compares afterwards,
// so the store's atomic increment is the only arbiter between concurrent
// requests and between service instances. When the store cannot be reached
// the request is admitted (fail open) and the failure is logged.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sitegen/internal/store"
)

// AnonymousClient is the bucket shared by every request without a usable
// client identifier. Those callers all count against one limit per route.
const AnonymousClient = "anonymous"

// ErrInvalidRoute is returned when a check is made without a route id.
var ErrInvalidRoute = errors.New("route id is required")

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	Key     string
	Count   int64 // counter value after this request; zero when failing open
	Limit   int64

	// RetryAt is when the caller's window ends. Set only on rejection.
	RetryAt time.Time

	// FailOpen is set when the store was unavailable and the request was
	// admitted without being counted.
	FailOpen bool
}

// Remaining returns how many more requests fit in the current window.
func (d Decision) Remaining() int64 {
	if d.FailOpen || d.Count >= d.Limit {
		return 0
	}
	return d.Limit - d.Count
}

// RetryAfter returns the wait until RetryAt, never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.RetryAt.IsZero() || !d.RetryAt.After(now) {
		return 0
	}
	return d.RetryAt.Sub(now)
}

// Outcome labels a decision for metrics and logs.
func (d Decision) Outcome() string {
	switch {
	case d.FailOpen:
		return "fail_open"
	case d.Allowed:
		return "admitted"
	default:
		return "rejected"
	}
}

// Policy is the limit applied to every guarded route.
type Policy struct {
	Limit        int64
	Window       time.Duration
	StoreTimeout time.Duration // bound on each store call; zero means none
}

func (p Policy) validate() error {
	if p.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", p.Limit)
	}
	if p.Window < time.Millisecond {
		return fmt.Errorf("window must be at least 1ms, got %s", p.Window)
	}
	if p.StoreTimeout < 0 {
		return fmt.Errorf("store timeout cannot be negative, got %s", p.StoreTimeout)
	}
	return nil
}

// Observer is notified of every decision, e.g. to count outcomes per route.
type Observer interface {
	ObserveAdmission(ctx context.Context, routeID string, d Decision)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now when computing RetryAt.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithObserver registers an observer for every decision.
func WithObserver(o Observer) Option {
	return func(l *Limiter) {
		l.observer = o
	}
}

// Limiter performs admission checks against a shared counter store.
// It holds no counter state of its own and is safe for concurrent use.
type Limiter struct {
	store    store.Store
	policy   Policy
	now      func() time.Time
	logger   *slog.Logger
	observer Observer
}

// NewLimiter creates a limiter enforcing policy on top of s.
func NewLimiter(s store.Store, policy Policy, opts ...Option) (*Limiter, error) {
	if s == nil {
		return nil, errors.New("counter store is required")
	}
	if err := policy.validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit policy: %w", err)
	}

	l := &Limiter{
		store:  s,
		policy: policy,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Policy returns the policy the limiter enforces.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Key builds the counter key for a client on a route.
func Key(routeID, clientID string) string {
	return routeID + ":" + clientID
}

// CheckAdmission counts this request against the client's window on routeID
// and reports whether it may proceed. The count is incremented even when the
// request is rejected.
//
// Store unavailability never produces an error: the request is admitted with
// FailOpen set. Other errors (an empty route id, a store rejecting the key)
// are returned.
func (l *Limiter) CheckAdmission(ctx context.Context, clientID, routeID string) (Decision, error) {
	if strings.TrimSpace(routeID) == "" {
		return Decision{}, ErrInvalidRoute
	}

	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		clientID = AnonymousClient
	}

	key := Key(routeID, clientID)
	d := Decision{Key: key, Limit: l.policy.Limit}

	count, err := l.increment(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return l.failOpen(ctx, routeID, d, err), nil
		}
		return Decision{}, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}
	d.Count = count

	if count <= l.policy.Limit {
		d.Allowed = true
		l.observe(ctx, routeID, d)
		return d, nil
	}

	ttl, err := l.ttl(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return l.failOpen(ctx, routeID, d, err), nil
		}
		return Decision{}, fmt.Errorf("failed to read counter ttl %s: %w", key, err)
	}

	d.RetryAt = l.now().Add(ttl)
	l.observe(ctx, routeID, d)
	return d, nil
}

func (l *Limiter) increment(ctx context.Context, key string) (int64, error) {
	ctx, cancel := l.storeContext(ctx)
	defer cancel()
	return l.store.Increment(ctx, key, l.policy.Window)
}

func (l *Limiter) ttl(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := l.storeContext(ctx)
	defer cancel()
	return l.store.TTL(ctx, key)
}

func (l *Limiter) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.policy.StoreTimeout > 0 {
		return context.WithTimeout(ctx, l.policy.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

func (l *Limiter) failOpen(ctx context.Context, routeID string, d Decision, err error) Decision {
	d.Allowed = true
	d.FailOpen = true
	d.Count = 0
	d.RetryAt = time.Time{}

	l.logger.WarnContext(ctx, "Counter store unavailable, admitting request",
		"key", d.Key,
		"route", routeID,
		"error", err,
	)

	l.observe(ctx, routeID, d)
	return d
}

func (l *Limiter) observe(ctx context.Context, routeID string, d Decision) {
	if l.observer != nil {
		l.observer.ObserveAdmission(ctx, routeID, d)
	}
}
