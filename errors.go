package authz

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by SafeGet both when the row does not exist and
// when the actor is not authorized to see it; the two outcomes are
// deliberately indistinguishable to the caller.
var ErrNotFound = errors.New("authz: not found")

// DeniedError reports that an actor is not authorized to perform an action
// on a specific resource instance. This is an expected, user-facing outcome.
type DeniedError struct {
	Actor        Actor
	Action       string
	ResourceType string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("authz: actor %v is not authorized to %s %s", actorID(e.Actor), e.Action, e.ResourceType)
}

// NoPolicyError reports that no policy is registered for a (resource type,
// action) pair and the configuration asked for an error instead of the
// deny-by-default filter. It indicates incomplete policy coverage.
type NoPolicyError struct {
	ResourceType string
	Action       string
}

func (e *NoPolicyError) Error() string {
	return fmt.Sprintf("authz: no policy registered for (%s, %q)", e.ResourceType, e.Action)
}

// WriteDeniedError reports that an UPDATE or DELETE statement was rejected
// because no policy authorizes the write.
type WriteDeniedError struct {
	Actor        Actor
	Action       string
	ResourceType string
}

func (e *WriteDeniedError) Error() string {
	return fmt.Sprintf("authz: actor %v is not authorized to %s %s", actorID(e.Actor), e.Action, e.ResourceType)
}

// UnloadedRelationshipError reports that the in-memory evaluator needed a
// relationship that was not loaded on the instance and the configuration
// demands raising instead of denying.
type UnloadedRelationshipError struct {
	Model        string
	Relationship string
}

func (e *UnloadedRelationshipError) Error() string {
	return fmt.Sprintf("authz: relationship %q on %s is not loaded; eagerly load it or set OnUnloadedRelationship to deny", e.Relationship, e.Model)
}

// UnsupportedExpressionError reports a predicate node the evaluator or the
// SQL builder does not recognize. This is always a policy-authoring defect,
// never a data-dependent access decision.
type UnsupportedExpressionError struct {
	Detail string
}

func (e *UnsupportedExpressionError) Error() string {
	return "authz: unsupported expression: " + e.Detail
}

// BypassError is raised in strict mode when a structurally-unprotected
// access pattern is detected (unfiltered point lookup, raw query).
type BypassError struct {
	Kind   BypassKind
	Detail string
}

func (e *BypassError) Error() string {
	return fmt.Sprintf("authz: bypass detected (%s): %s", e.Kind, e.Detail)
}

func actorID(a Actor) any {
	if a == nil {
		return "<none>"
	}
	return a.AuthzID()
}
