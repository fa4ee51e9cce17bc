package authz

import "context"

// Actor is the principal an authorization decision is made for. Any type
// with a stable identity satisfies it; policies receive the actor and may
// type-assert to richer application types. Authentication is the caller's
// concern; the actor is trusted as supplied.
type Actor interface {
	AuthzID() any
}

// StaticActor is a minimal Actor for tests and simple integrations.
type StaticActor struct {
	ID any
}

// AuthzID returns the static identifier.
func (a StaticActor) AuthzID() any { return a.ID }

type actorCtxKey struct{}
type actionCtxKey struct{}
type skipCtxKey struct{}

// WithActor returns a context carrying the actor. The Guard reads it from
// each statement's context, so it propagates into relationship preloads.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, actor)
}

// ActorFromContext retrieves the actor, or nil when absent.
func ActorFromContext(ctx context.Context) Actor {
	a, _ := ctx.Value(actorCtxKey{}).(Actor)
	return a
}

// WithAction returns a context carrying a per-call action override that
// takes precedence over the Guard's default action.
func WithAction(ctx context.Context, action string) context.Context {
	return context.WithValue(ctx, actionCtxKey{}, action)
}

// ActionFromContext retrieves the action override, or "" when absent.
func ActionFromContext(ctx context.Context) string {
	s, _ := ctx.Value(actionCtxKey{}).(string)
	return s
}

// WithSkip returns a context that exempts statements from authorization.
// Skipped statements are still visible to the bypass detector for auditing.
func WithSkip(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipCtxKey{}, true)
}

// SkipFromContext reports whether the skip flag is set.
func SkipFromContext(ctx context.Context) bool {
	b, _ := ctx.Value(skipCtxKey{}).(bool)
	return b
}
