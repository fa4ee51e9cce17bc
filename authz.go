// Package authz provides row-level authorization for GORM. Policies are
// registered per (entity, action) pair as functions from an actor to a
// predicate; the Guard plugin compiles them into SQL WHERE conjuncts and
// injects them into every query, so unauthorized rows never leave the
// database. The same predicates are interpreted in-memory for instance
// checks, rendered for inspection by the explain layer, and enforced on
// UPDATE and DELETE statements when write interception is enabled.
//
// Typical setup:
//
//	authz.RegisterPolicy(&Post{}, "read", func(actor authz.Actor) filter.Expr {
//		return filter.Or(
//			filter.Eq("Published", true),
//			filter.Eq("AuthorID", actor.AuthzID()),
//		)
//	}, "post-read", "published posts, or your own")
//
//	db, err := gorm.Open(sqlite.Open("app.db"), &gorm.Config{})
//	...
//	err = authz.Use(db)
//	...
//	var posts []Post
//	ctx := authz.WithActor(context.Background(), user)
//	db.WithContext(ctx).Find(&posts) // only rows the policy grants
//
// Entities without a registered policy for the requested action are denied
// by default: the injected filter is constant false. Queries without an
// actor in their context are not filtered; the bypass detector classifies
// and reports them according to the configuration.
package authz

import "gorm.io/gorm"

// Use installs a Guard built from opts on db.
func Use(db *gorm.DB, opts ...GuardOption) error {
	return db.Use(NewGuard(opts...))
}

// Open opens a GORM connection with the Guard already installed.
func Open(dialector gorm.Dialector, opts ...GuardOption) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := Use(db, opts...); err != nil {
		return nil, err
	}
	return db, nil
}
