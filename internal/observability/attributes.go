// Package observability provides OpenTelemetry-based instrumentation for the
// authorization engine.
//
// It supports distributed tracing and metrics collection. All observability
// features are opt-in. When not configured, no-op implementations are used
// with zero performance overhead.
package observability

import "go.opentelemetry.io/otel/attribute"

// Instrumentation identity constants
const (
	// TracerName is the instrumentation name for tracing.
	TracerName = "github.com/nlstn/gorm-authz"
	// MeterName is the instrumentation name for metrics.
	MeterName = "github.com/nlstn/gorm-authz"
)

// Authorization semantic attribute keys following OpenTelemetry conventions.
const (
	// Decision attributes
	AttrEntity   = "authz.entity"
	AttrAction   = "authz.action"
	AttrActor    = "authz.actor"
	AttrDecision = "authz.decision"
	AttrPolicies = "authz.policy_count"

	// Bypass attributes
	AttrBypassKind = "authz.bypass.kind"

	// Statement attributes
	AttrStatementKind = "authz.statement.kind"

	// Error attributes
	AttrErrorMessage = "authz.error.message"
)

// Decision values for the authz.decision attribute.
const (
	DecisionFiltered = "filtered"
	DecisionDenied   = "denied"
	DecisionAllowed  = "allowed"
	DecisionSkipped  = "skipped"
)

// Log field keys for structured logging with trace context.
const (
	LogFieldTraceID = "trace_id"
	LogFieldSpanID  = "span_id"
)

// EntityAttr creates an attribute for the entity name.
func EntityAttr(name string) attribute.KeyValue {
	return attribute.String(AttrEntity, name)
}

// ActionAttr creates an attribute for the action name.
func ActionAttr(action string) attribute.KeyValue {
	return attribute.String(AttrAction, action)
}

// DecisionAttr creates an attribute for the decision outcome.
func DecisionAttr(decision string) attribute.KeyValue {
	return attribute.String(AttrDecision, decision)
}

// PolicyCountAttr creates an attribute for the number of policies combined.
func PolicyCountAttr(n int) attribute.KeyValue {
	return attribute.Int(AttrPolicies, n)
}

// BypassKindAttr creates an attribute for the bypass kind.
func BypassKindAttr(kind string) attribute.KeyValue {
	return attribute.String(AttrBypassKind, kind)
}
