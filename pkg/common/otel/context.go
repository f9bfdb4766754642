package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// GetTraceID returns the trace id from the current span context.
func GetTraceID(ctx context.Context) string {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return "00000000000000000000000000000000"
}

type ctxKey int

const tracerKey ctxKey = 1

// InjectTracing initializes the request context so spans can be created
// further down the call chain.
func InjectTracing(ctx context.Context, tracer trace.Tracer) context.Context {
	return context.WithValue(ctx, tracerKey, tracer)
}

// Tracer returns the tracer stored in the context, or a noop-like nil check
// friendly value when tracing was never injected.
func Tracer(ctx context.Context) (trace.Tracer, bool) {
	tracer, ok := ctx.Value(tracerKey).(trace.Tracer)
	return tracer, ok
}
