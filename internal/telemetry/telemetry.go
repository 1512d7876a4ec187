// Package telemetry exports the walk's traces and metrics over OTLP/HTTP.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation scopes.
const (
	ScopeEngine    = "longwalk/engine"
	ScopeCognition = "longwalk/cognition"
)

// Options describes one walk's exporter setup.
type Options struct {
	// Endpoint is a collector URL such as http://localhost:4318. The scheme
	// picks plain HTTP or TLS. Empty disables export.
	Endpoint string
	Walk     string // Walk name, reported as the service name
	Version  string
	Seed     int64

	ExportEvery time.Duration // Metric push interval; zero means 15s
}

// Shutdown flushes and stops the exporters.
type Shutdown func(ctx context.Context) error

func noop(context.Context) error { return nil }

// Init installs global tracer and meter providers for the walk. Without an
// endpoint the global no-op providers stay in place.
func Init(ctx context.Context, opts Options) (Shutdown, error) {
	if opts.Endpoint == "" {
		return noop, nil
	}
	if opts.ExportEvery <= 0 {
		opts.ExportEvery = 15 * time.Second
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.Walk),
			semconv.ServiceVersionKey.String(opts.Version),
			attribute.Int64("walk.seed", opts.Seed),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: walk resource: %w", err)
	}

	traces, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(opts.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traces, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)

	metrics, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(opts.Endpoint))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(opts.ExportEvery))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// Meter returns the global meter for a scope.
func Meter(scope string) metric.Meter {
	return otel.GetMeterProvider().Meter(scope)
}

// Tracer returns the global tracer for a scope.
func Tracer(scope string) trace.Tracer {
	return otel.Tracer(scope)
}
