package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"sitegen/internal/ratelimit"
)

// AdmissionMetrics counts admission decisions per route and outcome
// (admitted, rejected, fail_open). It implements ratelimit.Observer.
type AdmissionMetrics struct {
	decisions metric.Int64Counter
}

// NewAdmissionMetrics registers the admission counter on the global meter.
func NewAdmissionMetrics() (*AdmissionMetrics, error) {
	meter := otel.Meter("sitegen/ratelimit")

	decisions, err := meter.Int64Counter(
		"ratelimit.admissions",
		metric.WithDescription("Number of admission decisions by route and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &AdmissionMetrics{decisions: decisions}, nil
}

// ObserveAdmission implements ratelimit.Observer. The decision is also
// recorded as an event on the active span, if any.
func (m *AdmissionMetrics) ObserveAdmission(ctx context.Context, routeID string, d ratelimit.Decision) {
	outcome := d.Outcome()

	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", routeID),
		attribute.String("outcome", outcome),
	))

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("ratelimit.decision", trace.WithAttributes(
			attribute.String("ratelimit.outcome", outcome),
			attribute.Int64("ratelimit.count", d.Count),
			attribute.Int64("ratelimit.limit", d.Limit),
		))
	}
}
