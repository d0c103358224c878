package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used by every gateway span.
const TracerName = "github.com/ribelo/prism-sub000"

// TracingConfig configures the global tracer provider
type TracingConfig struct {
	Enabled    bool
	SampleRate float64
}

// InitTracing installs an SDK tracer provider with a ratio sampler. Spans are
// only exported when a span processor is registered on the returned provider.
// The returned func shuts the provider down.
func InitTracing(cfg TracingConfig, processors ...sdktrace.SpanProcessor) (*sdktrace.TracerProvider, func(context.Context) error) {
	if !cfg.Enabled {
		return nil, func(context.Context) error { return nil }
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	for _, p := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown
}

// Tracer returns the gateway tracer from the global provider
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a span with string attributes
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on the span, if any, and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
