// Package otelhelper provides distributed tracing for workflow runs.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the tracer used by the engine's packages.
const TracerName = "github.com/dukex/durable"

const (
	// Common attribute keys.
	WorkflowIDKey   = "durable.workflow.id"
	WorkflowNameKey = "durable.workflow.name"
	StepIndexKey    = "durable.step.index"
	StepNameKey     = "durable.step.name"
	StepTimeoutKey  = "durable.step.timeout_ms"
	TotalStepsKey   = "durable.workflow.total_steps"
	StatusKey       = "durable.workflow.status"
	PauseReasonKey  = "durable.workflow.pause_reason"
	MarkerStatusKey = "durable.marker.status"
	WorkerIDKey     = "durable.worker.id"
)

// Tracer returns the engine tracer from the global provider. It is a no-op until
// NewTracerProvider installs an exporting provider.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// NewTracerProvider installs an OTLP/HTTP exporting provider as the global one. The
// exporter is configured through the standard OTEL_EXPORTER_OTLP_* variables. Callers
// must Shutdown the provider to flush pending spans.
func NewTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}
