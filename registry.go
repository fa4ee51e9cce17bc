package authz

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/nlstn/gorm-authz/filter"
)

// PolicyFunc produces the filter predicate granting an actor access. It is
// called once per compilation with the current actor.
type PolicyFunc func(actor Actor) filter.Expr

// Registration is one registered policy with its metadata. Immutable once
// created.
type Registration struct {
	Model       reflect.Type
	Action      string
	Fn          PolicyFunc
	Name        string
	Description string
}

type registryKey struct {
	model  reflect.Type
	action string
}

// Registry maps (entity type, action) pairs to ordered policy lists.
// Registration is append-only; concurrent Register and Lookup calls are
// safe and lookups never observe a partially-appended entry.
type Registry struct {
	mu       sync.RWMutex
	policies map[registryKey][]Registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{policies: make(map[registryKey][]Registration)}
}

func modelType(model any) (reflect.Type, error) {
	t := reflect.TypeOf(model)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("authz: model must be a struct or struct pointer, got %T", model)
	}
	return t, nil
}

// Register appends a policy for (model, action). Multiple policies for the
// same key are OR'd together at compile time. A nil fn is rejected; a
// policy must consume the actor to produce a predicate.
func (r *Registry) Register(model any, action string, fn PolicyFunc, name, description string) error {
	if fn == nil {
		return fmt.Errorf("authz: policy %q for action %q is nil", name, action)
	}
	t, err := modelType(model)
	if err != nil {
		return err
	}
	reg := Registration{Model: t, Action: action, Fn: fn, Name: name, Description: description}
	key := registryKey{model: t, action: action}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[key] = append(r.policies[key], reg)
	return nil
}

// Lookup returns a copy of the registrations for (model, action), empty if
// none. Callers can never mutate the live list.
func (r *Registry) Lookup(model any, action string) []Registration {
	t, err := modelType(model)
	if err != nil {
		return nil
	}
	return r.lookupType(t, action)
}

func (r *Registry) lookupType(t reflect.Type, action string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := r.policies[registryKey{model: t, action: action}]
	if len(regs) == 0 {
		return nil
	}
	out := make([]Registration, len(regs))
	copy(out, regs)
	return out
}

// HasPolicy reports whether at least one policy exists for (model, action).
func (r *Registry) HasPolicy(model any, action string) bool {
	t, err := modelType(model)
	if err != nil {
		return false
	}
	return r.hasPolicyType(t, action)
}

func (r *Registry) hasPolicyType(t reflect.Type, action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.policies[registryKey{model: t, action: action}]) > 0
}

// RegisteredEntities returns the entity types with at least one policy for
// the action.
func (r *Registry) RegisteredEntities(action string) []reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []reflect.Type
	for key := range r.policies {
		if key.action == action {
			out = append(out, key.model)
		}
	}
	return out
}

// Clear removes all registrations. Primarily for test teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies = make(map[registryKey][]Registration)
}

// Clone returns an independent snapshot of the registry, useful for
// snapshot/restore isolation in tests.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := NewRegistry()
	for key, regs := range r.policies {
		cp := make([]Registration, len(regs))
		copy(cp, regs)
		out.policies[key] = cp
	}
	return out
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used when no explicit
// registry is supplied.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// RegisterPolicy registers a policy on the default registry.
func RegisterPolicy(model any, action string, fn PolicyFunc, name, description string) error {
	return defaultRegistry.Register(model, action, fn, name, description)
}

// Built-in policies.

// AlwaysAllow grants access unconditionally.
func AlwaysAllow(Actor) filter.Expr { return filter.True() }

// AlwaysDeny denies access unconditionally.
func AlwaysDeny(Actor) filter.Expr { return filter.False() }

// AndPolicies combines policy funcs conjunctively.
func AndPolicies(fns ...PolicyFunc) PolicyFunc {
	return func(actor Actor) filter.Expr {
		exprs := make([]filter.Expr, len(fns))
		for i, fn := range fns {
			exprs[i] = fn(actor)
		}
		return filter.And(exprs...)
	}
}

// OrPolicies combines policy funcs disjunctively.
func OrPolicies(fns ...PolicyFunc) PolicyFunc {
	return func(actor Actor) filter.Expr {
		exprs := make([]filter.Expr, len(fns))
		for i, fn := range fns {
			exprs[i] = fn(actor)
		}
		return filter.Or(exprs...)
	}
}

// NotPolicy negates a policy func.
func NotPolicy(fn PolicyFunc) PolicyFunc {
	return func(actor Actor) filter.Expr {
		return filter.NotExpr(fn(actor))
	}
}
