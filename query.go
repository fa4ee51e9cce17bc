package authz

import (
	"context"

	"gorm.io/gorm"

	"github.com/nlstn/gorm-authz/internal/metadata"
	"github.com/nlstn/gorm-authz/internal/sqlbuild"
)

// AuthorizeQuery appends the compiled policy filter for (model, action) to a
// query builder and returns it. It is the manual counterpart of the Guard:
// useful when the plugin is not installed or when a one-off query needs a
// different registry or configuration than the ambient ones.
func AuthorizeQuery(ctx context.Context, db *gorm.DB, reg *Registry, actor Actor, model any, action string, cfg Config) (*gorm.DB, error) {
	condSQL, args, err := FilterSQL(ctx, reg, actor, model, action, cfg, db.Dialector.Name())
	if err != nil {
		return nil, err
	}
	return db.Model(model).Where(condSQL, args...), nil
}

// FilterSQL compiles the policies for (model, action) and renders them as a
// SQL condition with bind arguments for the given dialect. Callers that
// build statements outside GORM can append the condition themselves.
func FilterSQL(ctx context.Context, reg *Registry, actor Actor, model any, action string, cfg Config, dialect string) (string, []any, error) {
	expr, err := CompileFilter(ctx, reg, actor, model, action, cfg)
	if err != nil {
		return "", nil, err
	}
	ent, err := metadata.Lookup(model)
	if err != nil {
		return "", nil, err
	}
	return sqlbuild.Build(expr, ent, dialect)
}
