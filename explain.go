package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/nlstn/gorm-authz/filter"
	"github.com/nlstn/gorm-authz/internal/metadata"
	"github.com/nlstn/gorm-authz/internal/sqlbuild"
)

// PolicyExplanation describes one policy's contribution to a decision.
type PolicyExplanation struct {
	Name        string
	Description string
	Filter      filter.Expr
	// Matched is only meaningful in an AccessExplanation; for query
	// explanations the database decides per row.
	Matched bool
}

// QueryExplanation is a dry run of the query interceptor: which policies
// apply, the combined predicate, and the SQL that would be injected.
// Nothing is executed.
type QueryExplanation struct {
	Entity   string
	Action   string
	Actor    any
	Policies []PolicyExplanation
	Filter   filter.Expr
	SQL      string
	Args     []any
}

// ExplainQuery compiles the policies for (model, action) and renders the
// filter the Guard would inject, without touching the database.
func ExplainQuery(ctx context.Context, reg *Registry, actor Actor, model any, action string, cfg Config, dialect string) (*QueryExplanation, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	ent, err := metadata.Lookup(model)
	if err != nil {
		return nil, err
	}
	regs := reg.lookupType(ent.ModelType(), action)

	out := &QueryExplanation{
		Entity: ent.Name(),
		Action: action,
		Actor:  actorID(actor),
	}
	for _, r := range regs {
		e := r.Fn(actor)
		if e == nil {
			e = filter.False()
		}
		out.Policies = append(out.Policies, PolicyExplanation{
			Name:        r.Name,
			Description: r.Description,
			Filter:      e,
		})
	}

	out.Filter, err = CompileFilter(ctx, reg, actor, model, action, cfg)
	if err != nil {
		return nil, err
	}
	out.SQL, out.Args, err = sqlbuild.Build(out.Filter, ent, dialect)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (q *QueryExplanation) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "query %s (action %q) as actor %v\n", q.Entity, q.Action, q.Actor)
	if len(q.Policies) == 0 {
		sb.WriteString("  no policies registered: deny by default\n")
	}
	for _, p := range q.Policies {
		fmt.Fprintf(&sb, "  policy %q: %s\n", p.Name, p.Filter.String())
	}
	fmt.Fprintf(&sb, "  filter: %s\n", q.Filter.String())
	fmt.Fprintf(&sb, "  sql: %s", q.SQL)
	if len(q.Args) > 0 {
		fmt.Fprintf(&sb, " %v", q.Args)
	}
	sb.WriteString("\n")
	return sb.String()
}

// AccessExplanation is a dry run of the in-memory evaluator against one
// loaded instance: which policies matched it and the resulting decision.
type AccessExplanation struct {
	Entity   string
	Action   string
	Actor    any
	Policies []PolicyExplanation
	Allowed  bool
}

// ExplainAccess evaluates each policy separately against the instance so a
// decision can be traced back to the policies that granted or withheld it.
func ExplainAccess(ctx context.Context, reg *Registry, actor Actor, action string, instance any, cfg Config) (*AccessExplanation, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	ent, err := metadata.Lookup(instance)
	if err != nil {
		return nil, err
	}
	regs := reg.lookupType(ent.ModelType(), action)

	out := &AccessExplanation{
		Entity: ent.Name(),
		Action: action,
		Actor:  actorID(actor),
	}
	for _, r := range regs {
		e := r.Fn(actor)
		if e == nil {
			e = filter.False()
		}
		matched, err := Evaluate(ctx, e, instance, cfg)
		if err != nil {
			return nil, err
		}
		out.Policies = append(out.Policies, PolicyExplanation{
			Name:        r.Name,
			Description: r.Description,
			Filter:      e,
			Matched:     matched,
		})
		if matched {
			out.Allowed = true
		}
	}
	return out, nil
}

func (a *AccessExplanation) String() string {
	var sb strings.Builder
	verdict := "DENY"
	if a.Allowed {
		verdict = "ALLOW"
	}
	fmt.Fprintf(&sb, "access %s (action %q) as actor %v: %s\n", a.Entity, a.Action, a.Actor, verdict)
	if len(a.Policies) == 0 {
		sb.WriteString("  no policies registered: deny by default\n")
	}
	for _, p := range a.Policies {
		mark := "miss"
		if p.Matched {
			mark = "match"
		}
		fmt.Fprintf(&sb, "  policy %q [%s]: %s\n", p.Name, mark, p.Filter.String())
	}
	return sb.String()
}
