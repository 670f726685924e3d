package citydistance

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer обёртка для OpenTelemetry трассировки
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer создаёт трассировщик; tp == nil означает глобальный TracerProvider
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{
		tracer: tp.Tracer(instrumentationName),
	}
}

// StartSpan начинает новый span
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}
