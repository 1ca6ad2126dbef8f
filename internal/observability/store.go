package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"sitegen/internal/store"
)

// InstrumentedStore wraps a store.Store implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStore struct {
	inner    store.Store
	backend  string
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStore creates a new store wrapper that records trace spans,
// operation latency histograms, and error counters for every store call.
// backend labels the measurements (redis, postgres, ...).
func NewInstrumentedStore(inner store.Store, backend string) (*InstrumentedStore, error) {
	tracer := otel.Tracer("sitegen/store")
	meter := otel.Meter("sitegen/store")

	duration, err := meter.Float64Histogram(
		"store.operation.duration",
		metric.WithDescription("Duration of counter store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"store.operation.errors",
		metric.WithDescription("Number of counter store operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		backend:  backend,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "store."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("store.operation", operation),
			attribute.String("store.backend", s.backend),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("backend", s.backend),
	)

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("backend", s.backend),
			attribute.Bool("unavailable", errors.Is(err, store.ErrUnavailable)),
		))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	ctx, span := s.startSpan(ctx, "Increment",
		attribute.String("key", key),
		attribute.Int64("window_ms", window.Milliseconds()),
	)
	start := time.Now()
	count, err := s.inner.Increment(ctx, key, window)
	if err == nil {
		span.SetAttributes(attribute.Int64("count", count))
	}
	s.record(ctx, span, "Increment", start, err)
	return count, err
}

func (s *InstrumentedStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, span := s.startSpan(ctx, "TTL", attribute.String("key", key))
	start := time.Now()
	ttl, err := s.inner.TTL(ctx, key)
	s.record(ctx, span, "TTL", start, err)
	return ttl, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

// Close closes the underlying store. It is not traced.
func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
