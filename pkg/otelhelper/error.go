package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks span as failed with err.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(
		attrs...,
	))
}

// SetPaused records a pause on span without marking it failed.
func SetPaused(span trace.Span, reason string) {
	span.SetAttributes(attribute.String(PauseReasonKey, reason))
	span.AddEvent("workflow_paused", trace.WithAttributes(
		attribute.String(PauseReasonKey, reason),
	))
}
