package observability

import (
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// NewNoopTracer creates a tracer that does nothing.
func NewNoopTracer() *Tracer {
	return &Tracer{
		tracer:      tracenoop.NewTracerProvider().Tracer(""),
		serviceName: "",
	}
}

// NewNoopMetrics creates metrics that do nothing.
func NewNoopMetrics() *Metrics {
	meter := noop.NewMeterProvider().Meter("")
	m := &Metrics{}

	// Note: noop meter never returns errors, but we must check them to satisfy the linter.
	m.decisionCount, _ = meter.Int64Counter("authz.decision.count")         //nolint:errcheck
	m.compileDuration, _ = meter.Float64Histogram("authz.compile.duration") //nolint:errcheck
	m.bypassCount, _ = meter.Int64Counter("authz.bypass.count")             //nolint:errcheck
	m.writeDenials, _ = meter.Int64Counter("authz.write.denials")           //nolint:errcheck

	return m
}
