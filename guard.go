package authz

import (
	"context"
	"log/slog"
	"reflect"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nlstn/gorm-authz/internal/metadata"
	"github.com/nlstn/gorm-authz/internal/observability"
	"github.com/nlstn/gorm-authz/internal/sqlbuild"
)

// Guard is the GORM plugin that enforces row-level authorization. Once
// installed via db.Use, every query against a registered entity is rewritten
// to include the compiled policy filter, UPDATE and DELETE statements are
// intercepted when write interception is enabled, and statements that would
// sidestep filtering are classified and reported.
//
// Relationship loads issued through Preload re-enter the query pipeline with
// the parent statement's context, so the actor and action propagate and
// related rows are filtered under the related entity's own policies.
type Guard struct {
	registry *Registry
	config   Config
	logger   *slog.Logger
	obs      *observability.Config
	action   string
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithRegistry sets the policy registry the Guard consults. Defaults to the
// package-level default registry.
func WithRegistry(reg *Registry) GuardOption {
	return func(g *Guard) {
		if reg != nil {
			g.registry = reg
		}
	}
}

// WithConfig overlays Guard-level configuration on top of the process-wide
// configuration.
func WithConfig(cfg Config) GuardOption {
	return func(g *Guard) {
		g.config = cfg
	}
}

// WithLogger sets the Guard's logger. Defaults to the package logger.
func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithObservability wires OpenTelemetry tracing and metrics into the Guard.
func WithObservability(obs *observability.Config) GuardOption {
	return func(g *Guard) {
		if obs != nil {
			g.obs = obs
		}
	}
}

// WithDefaultAction sets the action assumed for read statements when the
// context does not carry one. Defaults to the configured default action.
func WithDefaultAction(action string) GuardOption {
	return func(g *Guard) {
		g.action = action
	}
}

// NewGuard creates a Guard ready to be installed with db.Use.
func NewGuard(opts ...GuardOption) *Guard {
	g := &Guard{
		registry: DefaultRegistry(),
		logger:   logger(),
		obs:      observability.NewConfig(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name implements gorm.Plugin.
func (g *Guard) Name() string { return "authz" }

// Initialize implements gorm.Plugin by registering the interception
// callbacks ahead of GORM's built-in ones.
func (g *Guard) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("authz:query", g.beforeQuery); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("authz:row", g.beforeRow); err != nil {
		return err
	}
	if err := db.Callback().Raw().Before("gorm:raw").Register("authz:raw", g.beforeRaw); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("authz:update", g.beforeUpdate); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("authz:delete", g.beforeDelete); err != nil {
		return err
	}
	return nil
}

// effectiveConfig layers the Guard's configuration over the process-wide one.
func (g *Guard) effectiveConfig() Config {
	return CurrentConfig().Merge(g.config)
}

func (g *Guard) resolveAction(ctx context.Context, cfg Config) string {
	if a := ActionFromContext(ctx); a != "" {
		return a
	}
	if g.action != "" {
		return g.action
	}
	return cfg.defaultAction()
}

func statementContext(db *gorm.DB) context.Context {
	if db.Statement != nil && db.Statement.Context != nil {
		return db.Statement.Context
	}
	return context.Background()
}

func (g *Guard) beforeQuery(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	ctx := statementContext(db)
	cfg := g.effectiveConfig()

	if SkipFromContext(ctx) {
		g.handleSkip(ctx, db, cfg)
		return
	}
	// Raw SQL finished with Find or First carries a schema parsed from the
	// destination, but GORM never rebuilds an already-written statement, so
	// an injected filter would be silently discarded. Treat it like any
	// other raw statement.
	if db.Statement.SQL.Len() > 0 {
		g.handleBypass(ctx, db, cfg, BypassNoEntity, cfg.noEntity())
		return
	}
	if db.Statement.Schema == nil {
		g.handleBypass(ctx, db, cfg, BypassNoEntity, cfg.noEntity())
		return
	}

	ent := metadata.Wrap(db.Statement.Schema)
	action := g.resolveAction(ctx, cfg)
	actor := ActorFromContext(ctx)

	ctx, span := g.obs.Tracer().StartQueryFilter(ctx, ent.Name(), action)
	defer span.End()

	if actor == nil {
		// Without an actor there is nothing to filter by. When the entity
		// is protected this is exactly the access pattern the bypass
		// detector exists for.
		if g.registry.hasPolicyType(ent.ModelType(), action) {
			g.handleBypass(ctx, db, cfg, BypassUnprotectedGet, cfg.unprotectedGet())
		}
		g.obs.Tracer().SetDecision(span, observability.DecisionSkipped)
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

	condSQL, args, err := sqlbuild.Build(expr, ent, db.Dialector.Name())
	if err != nil {
		g.obs.Tracer().RecordError(span, err)
		_ = db.AddError(err)
		return
	}

	db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Expr{SQL: condSQL, Vars: args},
	}})

	if err := g.filterJoins(ctx, db, cfg, ent, action, actor); err != nil {
		g.obs.Tracer().RecordError(span, err)
		_ = db.AddError(err)
		return
	}

	g.obs.Tracer().SetDecision(span, observability.DecisionFiltered)
	g.obs.Metrics().RecordDecision(ctx, ent.Name(), action, observability.DecisionFiltered)

	if cfg.logDecisions() {
		g.logger.LogAttrs(ctx, slog.LevelDebug, "query filtered",
			slog.String("entity", ent.Name()),
			slog.String("action", action),
			slog.Any("actor", actorID(actor)),
			slog.String("filter", expr.String()))
	}
}

// filterJoins applies the related entity's policies to single-query eager
// loads (Joins). The compiled filter is appended to the join's ON clause,
// referencing GORM's relationship-name table alias, so a denied related row
// is detached from its parent without dropping the parent row. Relationship
// names without a policy for the action are left alone.
func (g *Guard) filterJoins(ctx context.Context, db *gorm.DB, cfg Config, ent *metadata.Entity, action string, actor Actor) error {
	for i := range db.Statement.Joins {
		name := db.Statement.Joins[i].Name
		rel, ok := ent.Relationship(name)
		if !ok {
			continue
		}
		target := rel.Target()
		if !g.registry.hasPolicyType(target.ModelType(), action) {
			continue
		}
		expr, err := CompileFilter(ctx, g.registry, actor, reflect.New(target.ModelType()).Interface(), action, cfg)
		if err != nil {
			return err
		}
		condSQL, args, err := sqlbuild.BuildAliased(expr, target, db.Dialector.Name(), name)
		if err != nil {
			return err
		}
		if db.Statement.Joins[i].On == nil {
			db.Statement.Joins[i].On = &clause.Where{}
		}
		db.Statement.Joins[i].On.Exprs = append(db.Statement.Joins[i].On.Exprs,
			clause.Expr{SQL: condSQL, Vars: args})
	}
	return nil
}

// beforeRow and beforeRaw cover the statement kinds that never carry a
// schema: they cannot be filtered, only detected.
func (g *Guard) beforeRow(db *gorm.DB) {
	g.inspectUnfilterable(db)
}

func (g *Guard) beforeRaw(db *gorm.DB) {
	g.inspectUnfilterable(db)
}

func (g *Guard) inspectUnfilterable(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	ctx := statementContext(db)
	cfg := g.effectiveConfig()

	if SkipFromContext(ctx) {
		g.handleSkip(ctx, db, cfg)
		return
	}
	g.handleBypass(ctx, db, cfg, BypassNoEntity, cfg.noEntity())
}
