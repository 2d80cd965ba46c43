// Package tracing provides OpenTelemetry spans for session lifecycle
// transitions. Without an installed provider (the default) every span is
// a no-op; the serve command installs an OTLP exporter when built with
// -tags otel and telemetry is enabled.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "zapfield"

// Start begins a span on the global tracer.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// Account returns the standard account attribute.
func Account(id string) attribute.KeyValue {
	return attribute.String("zapfield.account_id", id)
}

// Reason returns the standard close-reason attribute.
func Reason(r string) attribute.KeyValue {
	return attribute.String("zapfield.close_reason", r)
}
