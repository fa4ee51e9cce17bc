package authz

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Can reports whether the actor may perform action on the loaded instance,
// using the in-memory evaluator. It agrees with what the Guard's SQL filter
// would have decided for the same row.
func Can(ctx context.Context, reg *Registry, actor Actor, action string, instance any, cfg Config) (bool, error) {
	expr, err := CompileFilter(ctx, reg, actor, instance, action, cfg)
	if err != nil {
		return false, err
	}
	return Evaluate(ctx, expr, instance, cfg)
}

// Authorize is Can with an error result: it returns nil when access is
// granted and a DeniedError when it is not.
func Authorize(ctx context.Context, reg *Registry, actor Actor, action string, instance any, cfg Config) error {
	ok, err := Can(ctx, reg, actor, action, instance, cfg)
	if err != nil {
		return err
	}
	if !ok {
		ent, lerr := entityName(instance)
		if lerr != nil {
			ent = "resource"
		}
		return &DeniedError{Actor: actor, Action: action, ResourceType: ent}
	}
	return nil
}

// SafeGet loads the row with the given primary key into dest as the actor,
// returning ErrNotFound both when the row does not exist and when the actor
// may not see it. The two cases are indistinguishable on purpose: revealing
// that a row exists is itself a leak.
//
// The Guard must be installed on db for the filtering to apply.
func SafeGet(ctx context.Context, db *gorm.DB, actor Actor, dest any, id any) error {
	err := db.WithContext(WithActor(ctx, actor)).First(dest, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// SafeGetOrDeny is SafeGet for callers that do want to distinguish a missing
// row from a denied one, for example to return 404 versus 403. It loads the
// row without filtering, then checks it with the in-memory evaluator.
func SafeGetOrDeny(ctx context.Context, db *gorm.DB, reg *Registry, actor Actor, action string, dest any, id any, cfg Config) error {
	err := db.WithContext(WithSkip(ctx)).First(dest, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return Authorize(ctx, reg, actor, action, dest, cfg)
}

func entityName(instance any) (string, error) {
	t, err := modelType(instance)
	if err != nil {
		return "", err
	}
	return t.Name(), nil
}
