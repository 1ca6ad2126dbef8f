// Package observability exports sitegen's traces and metrics.
//
// Every span and instrument carries a resource describing the process and
// the admission setup it runs with (store backend, window length, quota), so
// fail-open spikes on a dashboard can be tied back to the deployment that
// produced them.
package observability

import (
	"context"
	"errors"
	"fmt"
	"os"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"sitegen/internal/models"
	"sitegen/internal/version"
)

const defaultServiceName = "sitegen"

// Provider owns the process-wide tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	promExporter   *prometheus.Exporter
	registry       *promclient.Registry
	resource       *resource.Resource
}

// PrometheusExporter returns the metric reader backing /metrics, or nil.
func (p *Provider) PrometheusExporter() *prometheus.Exporter {
	return p.promExporter
}

// Gatherer returns the registry holding every exported metric, or nil when
// metrics are disabled.
func (p *Provider) Gatherer() promclient.Gatherer {
	if p.registry == nil {
		return nil
	}
	return p.registry
}

// Resource describes this process to trace and metric backends.
func (p *Provider) Resource() *resource.Resource {
	return p.resource
}

// Shutdown flushes pending spans and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var tracesErr, metricsErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			tracesErr = fmt.Errorf("flush traces: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			metricsErr = fmt.Errorf("stop metrics: %w", err)
		}
	}
	return errors.Join(tracesErr, metricsErr)
}

// Setup installs the global tracer and meter providers requested by cfg.
// The returned Provider must be shut down before the process exits.
func Setup(cfg *models.Config, ver version.Info) (*Provider, error) {
	res, err := newResource(cfg, ver)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}
	p := &Provider{resource: res}

	if cfg.Observability.Tracing.Enabled {
		tp, err := newTracerProvider(res, cfg.Observability.Tracing)
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		p.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if cfg.Metrics.Enabled {
		// A private registry keeps /metrics limited to sitegen's own
		// instruments plus the runtime collectors registered here.
		registry := promclient.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		p.registry = registry
		p.promExporter = exporter
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		otel.SetMeterProvider(p.meterProvider)
	}

	return p, nil
}

func newResource(cfg *models.Config, ver version.Info) (*resource.Resource, error) {
	name := cfg.Observability.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(ver.Version),
		semconv.ServiceInstanceID(ver.InstanceID),
		semconv.HostName(ver.Hostname),
		semconv.DeploymentEnvironment(deploymentEnvironment()),
		attribute.String("vcs.commit", ver.GitCommit),
		attribute.String("build.date", ver.BuildDate),
		attribute.String("sitegen.store.backend", cfg.Store.Type),
		attribute.Bool("sitegen.ratelimit.enabled", cfg.RateLimit.Enabled),
	}
	if cfg.RateLimit.Enabled {
		attrs = append(attrs,
			attribute.Int("sitegen.ratelimit.requests_per_window", cfg.RateLimit.RequestsPerWindow),
			attribute.Int("sitegen.ratelimit.window_seconds", cfg.RateLimit.WindowSeconds),
		)
	}
	return resource.New(context.Background(), resource.WithAttributes(attrs...))
}

func newTracerProvider(res *resource.Resource, cfg models.TracingConfig) (*sdktrace.TracerProvider, error) {
	exporter, err := newSpanExporter(cfg)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	), nil
}

func newSpanExporter(cfg models.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		return exp, nil
	case "otlp":
		exp, err := otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter %s: %w", cfg.OTLPEndpoint, err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %q", cfg.Exporter)
	}
}

// samplerFor keeps parent decisions so a proxied call is traced end to end
// whenever the caller's span was sampled.
func samplerFor(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// deploymentEnvironment prefers SITEGEN_ENV over the generic ENVIRONMENT.
func deploymentEnvironment() string {
	for _, key := range []string{"SITEGEN_ENV", "ENVIRONMENT"} {
		if env := os.Getenv(key); env != "" {
			return env
		}
	}
	return "development"
}
