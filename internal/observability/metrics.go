package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the authorization-specific metric instruments.
type Metrics struct {
	decisionCount   metric.Int64Counter
	compileDuration metric.Float64Histogram
	bypassCount     metric.Int64Counter
	writeDenials    metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with the given MeterProvider.
func NewMetrics(mp metric.MeterProvider) *Metrics {
	meter := mp.Meter(MeterName)
	m := &Metrics{}

	// Note: errors from meter instrument creation are unlikely in practice
	// and would only occur with invalid parameters. We use explicit checks
	// to satisfy the linter while continuing with partial metrics on error.
	var err error

	m.decisionCount, err = meter.Int64Counter(
		"authz.decision.count",
		metric.WithDescription("Total number of authorization decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		m.decisionCount, _ = meter.Int64Counter("authz.decision.count")
	}

	m.compileDuration, err = meter.Float64Histogram(
		"authz.compile.duration",
		metric.WithDescription("Duration of policy compilation in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		m.compileDuration, _ = meter.Float64Histogram("authz.compile.duration")
	}

	m.bypassCount, err = meter.Int64Counter(
		"authz.bypass.count",
		metric.WithDescription("Total number of detected authorization bypasses"),
		metric.WithUnit("{bypass}"),
	)
	if err != nil {
		m.bypassCount, _ = meter.Int64Counter("authz.bypass.count")
	}

	m.writeDenials, err = meter.Int64Counter(
		"authz.write.denials",
		metric.WithDescription("Total number of rejected UPDATE/DELETE statements"),
		metric.WithUnit("{statement}"),
	)
	if err != nil {
		m.writeDenials, _ = meter.Int64Counter("authz.write.denials")
	}

	return m
}

// RecordDecision records a completed authorization decision.
func (m *Metrics) RecordDecision(ctx context.Context, entity, action, decision string) {
	m.decisionCount.Add(ctx, 1, metric.WithAttributes(
		EntityAttr(entity),
		ActionAttr(action),
		DecisionAttr(decision),
	))
}

// RecordCompile records the duration of one policy compilation.
func (m *Metrics) RecordCompile(ctx context.Context, entity, action string, duration time.Duration) {
	m.compileDuration.Record(ctx, float64(duration.Microseconds())/1000.0, metric.WithAttributes(
		EntityAttr(entity),
		ActionAttr(action),
	))
}

// RecordBypass records a detected bypass.
func (m *Metrics) RecordBypass(ctx context.Context, kind string) {
	m.bypassCount.Add(ctx, 1, metric.WithAttributes(BypassKindAttr(kind)))
}

// RecordWriteDenial records a rejected write statement.
func (m *Metrics) RecordWriteDenial(ctx context.Context, entity, action string) {
	m.writeDenials.Add(ctx, 1, metric.WithAttributes(
		EntityAttr(entity),
		ActionAttr(action),
		attribute.String(AttrStatementKind, "write"),
	))
}
