package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/vadscribe"

// Tracer returns the vadscribe tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSegmentSpan starts the span covering delivery of one speech segment to
// a sink of the given kind.
func StartSegmentSpan(ctx context.Context, kind string, index int, reason string, seconds float64) (context.Context, trace.Span) {
	return StartSpan(ctx, "segment."+kind,
		trace.WithAttributes(
			attribute.Int("segment.index", index),
			attribute.String("segment.reason", reason),
			attribute.Float64("segment.seconds", seconds),
		),
	)
}

// CorrelationID returns the trace ID of the active span in ctx, or the empty
// string when there is none.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. Without an active span it is slog.Default().
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
