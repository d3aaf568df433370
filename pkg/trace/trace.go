// Package trace wires optional OpenTelemetry tracing for the server. When
// disabled, the global provider stays a no-op and spans cost nothing.
package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/accumio/accumd"

// Setup installs a stdout-exporting tracer provider when enabled and returns
// a shutdown hook. When disabled, the hook is a no-op and the default
// (no-op) global provider stays in place.
func Setup(enabled bool) (func(context.Context) error, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "accumd"),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the accumd tracer from the global provider.
func Tracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}

// StartConnSpan opens a span covering one client connection.
func StartConnSpan(ctx context.Context, peer string) (context.Context, oteltrace.Span) {
	return Tracer().Start(ctx, "accumd.connection",
		oteltrace.WithAttributes(attribute.String("net.peer.addr", peer)))
}

// EndConnSpan records the connection totals and closes the span.
func EndConnSpan(span oteltrace.Span, records int64, echoed int64) {
	span.SetAttributes(
		attribute.Int64("accumd.records", records),
		attribute.Int64("accumd.echoed_bytes", echoed),
	)
	span.End()
}
