package authz

import "sync/atomic"

// MissingPolicyMode selects the behavior when no policy is registered for a
// queried (entity, action) pair.
type MissingPolicyMode string

// MissingPolicyMode values. The zero value means "unset" and resolves to
// MissingPolicyDeny.
const (
	MissingPolicyDeny  MissingPolicyMode = "deny"
	MissingPolicyRaise MissingPolicyMode = "raise"
)

// UnloadedMode selects the evaluator's behavior when a relationship needed
// by an existential check is not loaded on the instance.
type UnloadedMode string

// UnloadedMode values. The zero value means "unset" and resolves to
// UnloadedDeny.
const (
	UnloadedDeny  UnloadedMode = "deny"
	UnloadedRaise UnloadedMode = "raise"
	UnloadedWarn  UnloadedMode = "warn"
)

// BypassMode selects the response to unprotected point lookups and
// entity-less queries.
type BypassMode string

// BypassMode values. The zero value means "unset" and resolves to
// BypassIgnore (BypassWarn under strict mode).
const (
	BypassIgnore BypassMode = "ignore"
	BypassWarn   BypassMode = "warn"
	BypassRaise  BypassMode = "raise"
)

// SkipMode selects the response to an explicit per-call skip.
type SkipMode string

// SkipMode values. The zero value means "unset" and resolves to SkipIgnore
// (SkipLog under strict mode).
const (
	SkipIgnore SkipMode = "ignore"
	SkipWarn   SkipMode = "warn"
	SkipLog    SkipMode = "log"
)

// WriteDenialMode selects the write authorizer's behavior when no policy is
// registered for the write action.
type WriteDenialMode string

// WriteDenialMode values. The zero value means "unset" and resolves to
// WriteDenialRaise.
const (
	WriteDenialRaise  WriteDenialMode = "raise"
	WriteDenialFilter WriteDenialMode = "filter"
)

// Config carries the authorization engine's tunables. Enum fields use ""
// and boolean fields use nil to mean "unset", so merging and strict mode
// can tell an explicit choice apart from a default: an explicit
// AuditBypasses=false survives enabling Strict.
//
// Config values are treated as immutable; Merge returns a new value.
type Config struct {
	// OnMissingPolicy: deny (default) or raise for reads.
	OnMissingPolicy MissingPolicyMode
	// DefaultAction is used when neither the Guard nor the call supplies
	// one. Defaults to "read".
	DefaultAction string
	// OnUnloadedRelationship: deny (default), raise, or warn.
	OnUnloadedRelationship UnloadedMode
	// OnUnprotectedGet handles point lookups that execute without an actor.
	OnUnprotectedGet BypassMode
	// OnNoEntity handles statements with no recognizable entity target.
	OnNoEntity BypassMode
	// OnSkip handles explicit per-call opt-outs.
	OnSkip SkipMode
	// OnWriteDenied: raise (default) or filter.
	OnWriteDenied WriteDenialMode
	// InterceptUpdates/InterceptDeletes gate write interception.
	InterceptUpdates *bool
	InterceptDeletes *bool
	// AuditBypasses additionally logs every fired bypass to a
	// kind-specific logger, regardless of the per-kind mode.
	AuditBypasses *bool
	// LogDecisions enables policy-evaluation audit logging.
	LogDecisions *bool
	// Strict is a shorthand that hardens unset bypass fields: unprotected
	// gets and entity-less queries warn, skips are logged, audit is on.
	Strict *bool
}

// Bool is a convenience for filling the *bool config fields.
func Bool(v bool) *bool { return &v }

// Merge returns a new Config where every field set on overlay replaces the
// receiver's. Used to layer global, Guard, and per-call configuration.
func (c Config) Merge(overlay Config) Config {
	out := c
	if overlay.OnMissingPolicy != "" {
		out.OnMissingPolicy = overlay.OnMissingPolicy
	}
	if overlay.DefaultAction != "" {
		out.DefaultAction = overlay.DefaultAction
	}
	if overlay.OnUnloadedRelationship != "" {
		out.OnUnloadedRelationship = overlay.OnUnloadedRelationship
	}
	if overlay.OnUnprotectedGet != "" {
		out.OnUnprotectedGet = overlay.OnUnprotectedGet
	}
	if overlay.OnNoEntity != "" {
		out.OnNoEntity = overlay.OnNoEntity
	}
	if overlay.OnSkip != "" {
		out.OnSkip = overlay.OnSkip
	}
	if overlay.OnWriteDenied != "" {
		out.OnWriteDenied = overlay.OnWriteDenied
	}
	if overlay.InterceptUpdates != nil {
		out.InterceptUpdates = overlay.InterceptUpdates
	}
	if overlay.InterceptDeletes != nil {
		out.InterceptDeletes = overlay.InterceptDeletes
	}
	if overlay.AuditBypasses != nil {
		out.AuditBypasses = overlay.AuditBypasses
	}
	if overlay.LogDecisions != nil {
		out.LogDecisions = overlay.LogDecisions
	}
	if overlay.Strict != nil {
		out.Strict = overlay.Strict
	}
	return out
}

func (c Config) strict() bool {
	return c.Strict != nil && *c.Strict
}

func (c Config) missingPolicy() MissingPolicyMode {
	if c.OnMissingPolicy != "" {
		return c.OnMissingPolicy
	}
	return MissingPolicyDeny
}

func (c Config) defaultAction() string {
	if c.DefaultAction != "" {
		return c.DefaultAction
	}
	return "read"
}

func (c Config) unloadedRelationship() UnloadedMode {
	if c.OnUnloadedRelationship != "" {
		return c.OnUnloadedRelationship
	}
	return UnloadedDeny
}

func (c Config) unprotectedGet() BypassMode {
	if c.OnUnprotectedGet != "" {
		return c.OnUnprotectedGet
	}
	if c.strict() {
		return BypassWarn
	}
	return BypassIgnore
}

func (c Config) noEntity() BypassMode {
	if c.OnNoEntity != "" {
		return c.OnNoEntity
	}
	if c.strict() {
		return BypassWarn
	}
	return BypassIgnore
}

func (c Config) skip() SkipMode {
	if c.OnSkip != "" {
		return c.OnSkip
	}
	if c.strict() {
		return SkipLog
	}
	return SkipIgnore
}

func (c Config) writeDenied() WriteDenialMode {
	if c.OnWriteDenied != "" {
		return c.OnWriteDenied
	}
	return WriteDenialRaise
}

func (c Config) interceptUpdates() bool {
	return c.InterceptUpdates != nil && *c.InterceptUpdates
}

func (c Config) interceptDeletes() bool {
	return c.InterceptDeletes != nil && *c.InterceptDeletes
}

func (c Config) auditBypasses() bool {
	if c.AuditBypasses != nil {
		return *c.AuditBypasses
	}
	return c.strict()
}

func (c Config) logDecisions() bool {
	return c.LogDecisions != nil && *c.LogDecisions
}

var globalConfig atomic.Pointer[Config]

func init() {
	globalConfig.Store(&Config{})
}

// CurrentConfig returns the process-wide configuration. Reads observe a
// fully-formed value; the pointer is swapped atomically.
func CurrentConfig() Config {
	return *globalConfig.Load()
}

// Configure merges overlay into the process-wide configuration and returns
// the result. Intended for bootstrap code, not the request hot path.
func Configure(overlay Config) Config {
	for {
		cur := globalConfig.Load()
		next := cur.Merge(overlay)
		if globalConfig.CompareAndSwap(cur, &next) {
			return next
		}
	}
}

// SetConfig replaces the process-wide configuration wholesale.
func SetConfig(c Config) {
	globalConfig.Store(&c)
}

// ResetConfig restores the defaults. Test use only.
func ResetConfig() {
	globalConfig.Store(&Config{})
}

// AuthorizationContext threads one decision's inputs through the pipeline.
// It is never mutated after construction.
type AuthorizationContext struct {
	Actor  Actor
	Action string
	Config Config
}
