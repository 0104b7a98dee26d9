// Package telemetry wires OpenTelemetry metric and trace providers.
//
// Export is off by default; REMIT_OTEL_ENABLED=true turns on stdout
// exporters. Instrumented packages always record through the global
// providers, which no-op when export is disabled.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// EnableEnvVar gates telemetry export.
const EnableEnvVar = "REMIT_OTEL_ENABLED"

// Shutdown flushes and stops the configured providers.
type Shutdown func(ctx context.Context) error

// Tracer returns a named tracer from the global provider. The global
// provider no-ops when export is disabled.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Setup installs global metric and trace providers. When the enable env var
// is unset or false the globals stay as no-ops and the returned Shutdown
// does nothing.
func Setup(ctx context.Context, serviceName string, logger *log.Logger) (Shutdown, error) {
	if logger == nil {
		logger = log.Default()
	}
	if os.Getenv(EnableEnvVar) != "true" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(time.Minute))),
	)
	otel.SetMeterProvider(meterProvider)

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(tracerProvider)

	logger.Printf("telemetry: stdout exporters enabled for %s", serviceName)
	return func(ctx context.Context) error {
		var firstErr error
		if err := meterProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
		if err := tracerProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}, nil
}
