package store

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable marks failures to reach the backend. Admission control
	// treats it as "store down" and admits the request.
	ErrUnavailable = errors.New("counter store unavailable")

	// ErrInvalidKey is returned for an empty counter key.
	ErrInvalidKey = errors.New("invalid counter key")

	// ErrInvalidWindow is returned for windows shorter than a millisecond.
	ErrInvalidWindow = errors.New("invalid counter window")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}

func validateIncrement(key string, window time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if window < time.Millisecond {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, window)
	}
	return nil
}

// options are shared by the backends that read the clock in process.
type options struct {
	now func() time.Time
}

// Option customises a store constructor.
type Option func(*options)

// WithClock replaces time.Now for the memory and SQLite backends.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
