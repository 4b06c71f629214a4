// Package telemetry wires OpenTelemetry tracing and metrics. With no endpoint
// configured everything degrades to no-op providers.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// scope is the instrumentation scope for all spans and instruments.
const scope = "github.com/continuumhq/continuum"

// Shutdown flushes and closes the exporters.
type Shutdown func(ctx context.Context) error

// Init configures the global tracer and meter providers. An empty endpoint
// disables export; the returned shutdown is then a no-op.
func Init(ctx context.Context, endpoint, serviceName, version string, insecure bool) (Shutdown, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// W3C propagation: incoming traceparent/baggage headers are honored and
	// re-injected into outbound LLM and embedding calls.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp,
			sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		var firstErr error
		if err := tp.Shutdown(ctx); err != nil {
			firstErr = err
		}
		if err := mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}, nil
}

// Tracer returns the service tracer.
func Tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(scope)
}

// Meter returns the service meter.
func Meter() metric.Meter {
	return otel.GetMeterProvider().Meter(scope)
}

// Counters used across the pipeline. Instrument creation only fails on
// malformed names, so errors are swallowed into no-op instruments.

// DecisionsExtracted counts decisions produced by the extraction pipeline,
// labeled by source.
func DecisionsExtracted() metric.Int64Counter {
	c, _ := Meter().Int64Counter("continuum.decisions.extracted",
		metric.WithDescription("Decisions persisted from extraction"))
	return c
}

// ResolutionsByStage counts entity resolutions, labeled by resolver stage.
func ResolutionsByStage() metric.Int64Counter {
	c, _ := Meter().Int64Counter("continuum.resolutions",
		metric.WithDescription("Entity resolutions by stage"))
	return c
}

// NotificationsPublished counts durable notification writes.
func NotificationsPublished() metric.Int64Counter {
	c, _ := Meter().Int64Counter("continuum.notifications.published",
		metric.WithDescription("Notifications stored and fanned out"))
	return c
}

// LLMCompletions counts chat completions served, labeled by model and whether
// the response came from cache.
func LLMCompletions() metric.Int64Counter {
	c, _ := Meter().Int64Counter("continuum.llm.completions",
		metric.WithDescription("Chat completions served"))
	return c
}

// BatchesFlushed counts message batches handed to the sink.
func BatchesFlushed() metric.Int64Counter {
	c, _ := Meter().Int64Counter("continuum.batches.flushed",
		metric.WithDescription("Message batches flushed to storage"))
	return c
}
