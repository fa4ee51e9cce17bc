package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer with authorization-specific span
// creation methods.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// NewTracer creates a new Tracer using the given TracerProvider.
func NewTracer(tp trace.TracerProvider, serviceName string) *Tracer {
	return &Tracer{
		tracer:      tp.Tracer(TracerName),
		serviceName: serviceName,
	}
}

// StartSpan starts a new span with the given name and attributes.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartCompile starts a span for compiling an entity's policies into a filter.
func (t *Tracer) StartCompile(ctx context.Context, entity, action string, policyCount int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "authz.compile", trace.WithAttributes(
		EntityAttr(entity),
		ActionAttr(action),
		PolicyCountAttr(policyCount),
	))
}

// StartQueryFilter starts a span for intercepting and filtering a query.
func (t *Tracer) StartQueryFilter(ctx context.Context, entity, action string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "authz.query", trace.WithAttributes(
		EntityAttr(entity),
		ActionAttr(action),
	))
}

// StartWriteCheck starts a span for authorizing an UPDATE or DELETE.
func (t *Tracer) StartWriteCheck(ctx context.Context, entity, action string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "authz.write", trace.WithAttributes(
		EntityAttr(entity),
		ActionAttr(action),
	))
}

// StartEvaluate starts a span for an in-memory instance check.
func (t *Tracer) StartEvaluate(ctx context.Context, entity, action string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "authz.evaluate", trace.WithAttributes(
		EntityAttr(entity),
		ActionAttr(action),
	))
}

// RecordError records an error on the span.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetDecision records the decision outcome on the span.
func (t *Tracer) SetDecision(span trace.Span, decision string) {
	span.SetAttributes(DecisionAttr(decision))
}

// LoggerWithTrace returns a logger enriched with trace context.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return logger
	}
	return logger.With(
		slog.String(LogFieldTraceID, span.SpanContext().TraceID().String()),
		slog.String(LogFieldSpanID, span.SpanContext().SpanID().String()),
	)
}
