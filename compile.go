package authz

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/nlstn/gorm-authz/filter"
	"github.com/nlstn/gorm-authz/internal/metadata"
)

// CompileFilter combines every policy registered for (model, action) into a
// single predicate by OR-folding the policies' filters: access is granted
// when any one policy grants it. With no registered policies the result is
// the always-false predicate, or a NoPolicyError when the configuration
// selects raise.
//
// Policies run with the supplied actor, which may be nil; a policy that
// requires an identity should return filter.False for a nil actor.
func CompileFilter(ctx context.Context, reg *Registry, actor Actor, model any, action string, cfg Config) (filter.Expr, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	t, err := modelType(model)
	if err != nil {
		return nil, err
	}
	regs := reg.lookupType(t, action)
	if len(regs) == 0 {
		if cfg.missingPolicy() == MissingPolicyRaise {
			return nil, &NoPolicyError{ResourceType: t.Name(), Action: action}
		}
		if cfg.logDecisions() {
			logger().LogAttrs(ctx, slog.LevelDebug, "no policy registered, denying",
				slog.String("entity", t.Name()),
				slog.String("action", action))
		}
		return filter.False(), nil
	}

	exprs := make([]filter.Expr, 0, len(regs))
	names := make([]string, 0, len(regs))
	for _, r := range regs {
		e := r.Fn(actor)
		if e == nil {
			e = filter.False()
		}
		exprs = append(exprs, e)
		names = append(names, r.Name)
	}
	combined := filter.Or(exprs...)

	if cfg.logDecisions() {
		logger().LogAttrs(ctx, slog.LevelDebug, "compiled policy filter",
			slog.String("entity", t.Name()),
			slog.String("action", action),
			slog.Any("actor", actorID(actor)),
			slog.String("policies", strings.Join(names, ",")),
			slog.String("filter", combined.String()))
	}
	return combined, nil
}

// CompilePath compiles the policies of the entity at the end of a
// relationship path into a predicate on the root entity. Each hop becomes a
// correlated existential check, so the result reads "there exists a chain of
// related rows whose final row the actor may access".
//
// The path names relationships by their Go field names, e.g.
// CompilePath(ctx, reg, actor, &Post{}, "read", cfg, "Author", "Team").
func CompilePath(ctx context.Context, reg *Registry, actor Actor, model any, action string, cfg Config, path ...string) (filter.Expr, error) {
	if len(path) == 0 {
		return CompileFilter(ctx, reg, actor, model, action, cfg)
	}
	ent, err := metadata.Lookup(model)
	if err != nil {
		return nil, err
	}

	// Resolve every hop up front so a bad path fails before any policy runs.
	hops := make([]*metadata.Relationship, 0, len(path))
	cur := ent
	for _, name := range path {
		rel, ok := cur.Relationship(name)
		if !ok {
			return nil, &UnsupportedExpressionError{
				Detail: fmt.Sprintf("%s has no relationship %q", cur.Name(), name),
			}
		}
		hops = append(hops, rel)
		cur = rel.Target()
	}

	leaf, err := CompileFilter(ctx, reg, actor, reflect.New(cur.ModelType()).Interface(), action, cfg)
	if err != nil {
		return nil, err
	}

	expr := leaf
	for i := len(hops) - 1; i >= 0; i-- {
		expr = filter.Related(hops[i].Name, expr)
	}
	return expr, nil
}
