package authz

import (
	"context"
	"log/slog"
	"reflect"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nlstn/gorm-authz/filter"
	"github.com/nlstn/gorm-authz/internal/metadata"
	"github.com/nlstn/gorm-authz/internal/observability"
	"github.com/nlstn/gorm-authz/internal/sqlbuild"
)

// Write interception. UPDATE and DELETE statements against protected
// entities are constrained to the rows the actor's write policies grant.
// A write with no granting policy either fails (raise, the default) or is
// narrowed to zero rows (filter), per OnWriteDenied.
//
// Writes deny by default even without an actor: a mutation must never slip
// through just because the caller forgot to attach an identity.

func (g *Guard) beforeUpdate(db *gorm.DB) {
	g.beforeWrite(db, "update")
}

func (g *Guard) beforeDelete(db *gorm.DB) {
	g.beforeWrite(db, "delete")
}

func (g *Guard) beforeWrite(db *gorm.DB, kind string) {
	if db.Error != nil {
		return
	}
	cfg := g.effectiveConfig()
	if kind == "update" && !cfg.interceptUpdates() {
		return
	}
	if kind == "delete" && !cfg.interceptDeletes() {
		return
	}

	ctx := statementContext(db)
	if SkipFromContext(ctx) {
		g.handleSkip(ctx, db, cfg)
		return
	}
	if db.Statement.Schema == nil {
		g.handleBypass(ctx, db, cfg, BypassNoEntity, cfg.noEntity())
		return
	}

	ent := metadata.Wrap(db.Statement.Schema)
	action := ActionFromContext(ctx)
	if action == "" {
		action = kind
	}
	actor := ActorFromContext(ctx)

	ctx, span := g.obs.Tracer().StartWriteCheck(ctx, ent.Name(), action)
	defer span.End()

	if !g.registry.hasPolicyType(ent.ModelType(), action) {
		g.denyWrite(ctx, db, cfg, ent.Name(), action, actor)
		g.obs.Tracer().SetDecision(span, observability.DecisionDenied)
		return
	}

	start := time.Now()
	expr, err := CompileFilter(ctx, g.registry, actor, reflect.New(ent.ModelType()).Interface(), action, cfg)
	if err != nil {
		g.obs.Tracer().RecordError(span, err)
		_ = db.AddError(err)
		return
	}
	g.obs.Metrics().RecordCompile(ctx, ent.Name(), action, time.Since(start))

	// A constant-false filter is a denial, not a narrowing.
	if lit, ok := expr.(filter.Literal); ok && !lit.Value {
		g.denyWrite(ctx, db, cfg, ent.Name(), action, actor)
		g.obs.Tracer().SetDecision(span, observability.DecisionDenied)
		return
	}

	condSQL, args, err := sqlbuild.Build(expr, ent, db.Dialector.Name())
	if err != nil {
		g.obs.Tracer().RecordError(span, err)
		_ = db.AddError(err)
		return
	}

	db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Expr{SQL: condSQL, Vars: args},
	}})

	g.obs.Tracer().SetDecision(span, observability.DecisionFiltered)
	g.obs.Metrics().RecordDecision(ctx, ent.Name(), action, observability.DecisionFiltered)

	if cfg.logDecisions() {
		g.logger.LogAttrs(ctx, slog.LevelDebug, "write filtered",
			slog.String("entity", ent.Name()),
			slog.String("action", action),
			slog.Any("actor", actorID(actor)),
			slog.String("filter", expr.String()))
	}
}

func (g *Guard) denyWrite(ctx context.Context, db *gorm.DB, cfg Config, entity, action string, actor Actor) {
	g.obs.Metrics().RecordWriteDenial(ctx, entity, action)
	g.logger.LogAttrs(ctx, slog.LevelWarn, "write denied",
		slog.String("entity", entity),
		slog.String("action", action),
		slog.Any("actor", actorID(actor)))

	if cfg.writeDenied() == WriteDenialFilter {
		db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "1 = 0"},
		}})
		g.obs.Metrics().RecordDecision(ctx, entity, action, observability.DecisionDenied)
		return
	}
	_ = db.AddError(&WriteDeniedError{Actor: actor, Action: action, ResourceType: entity})
	g.obs.Metrics().RecordDecision(ctx, entity, action, observability.DecisionDenied)
}
