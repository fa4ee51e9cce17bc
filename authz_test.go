package authz

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nlstn/gorm-authz/filter"
)

// Shared test schema: a small blog with owned posts, comments, and labels.

type Team struct {
	ID   uint
	Name string
}

type User struct {
	ID     uint
	Name   string
	Admin  bool
	TeamID uint
	Team   *Team
}

type Post struct {
	ID        uint
	Title     string
	Published bool
	AuthorID  uint
	Author    *User
	Comments  []Comment
	Labels    []Label `gorm:"many2many:post_labels"`
}

type Comment struct {
	ID       uint
	Body     string
	PostID   uint
	Post     *Post
	AuthorID uint
}

type Label struct {
	ID   uint
	Name string
}

type testActor struct {
	id    uint
	admin bool
}

func (a testActor) AuthzID() any { return a.id }

// postReadPolicy grants published posts to everyone and unpublished posts to
// their author; admins see everything.
func postReadPolicy(actor Actor) filter.Expr {
	ta, ok := actor.(testActor)
	if !ok {
		return filter.False()
	}
	if ta.admin {
		return filter.True()
	}
	return filter.Or(
		filter.Eq("Published", true),
		filter.Eq("AuthorID", ta.id),
	)
}

// commentReadPolicy grants comments on posts the actor authored, plus the
// actor's own comments.
func commentReadPolicy(actor Actor) filter.Expr {
	ta, ok := actor.(testActor)
	if !ok {
		return filter.False()
	}
	return filter.Or(
		filter.Eq("AuthorID", ta.id),
		filter.Related("Post", filter.Eq("AuthorID", ta.id)),
	)
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	if err := reg.Register(&Post{}, "read", postReadPolicy, "post-read", "published or own posts"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return reg
}

func setupPlainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(&Team{}, &User{}, &Post{}, &Comment{}, &Label{}); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}
	return db
}

func setupTestDB(t *testing.T, reg *Registry, cfg Config) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(&Team{}, &User{}, &Post{}, &Comment{}, &Label{}); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}
	if err := db.Use(NewGuard(WithRegistry(reg), WithConfig(cfg))); err != nil {
		t.Fatalf("Failed to install guard: %v", err)
	}
	return db
}

// seedPosts creates two users: alice (1) with a published and an unpublished
// post, and bob (2) with one unpublished post carrying a comment by alice.
func seedPosts(t *testing.T, db *gorm.DB) {
	t.Helper()
	skip := db.WithContext(WithSkip(context.Background()))

	users := []User{{ID: 1, Name: "alice"}, {ID: 2, Name: "bob"}}
	if err := skip.Create(&users).Error; err != nil {
		t.Fatalf("Failed to seed users: %v", err)
	}
	posts := []Post{
		{ID: 1, Title: "alice public", Published: true, AuthorID: 1},
		{ID: 2, Title: "alice draft", Published: false, AuthorID: 1},
		{ID: 3, Title: "bob draft", Published: false, AuthorID: 2},
	}
	if err := skip.Create(&posts).Error; err != nil {
		t.Fatalf("Failed to seed posts: %v", err)
	}
	comments := []Comment{
		{ID: 1, Body: "alice on bob draft", PostID: 3, AuthorID: 1},
		{ID: 2, Body: "bob on bob draft", PostID: 3, AuthorID: 2},
		{ID: 3, Body: "bob on alice public", PostID: 1, AuthorID: 2},
	}
	if err := skip.Create(&comments).Error; err != nil {
		t.Fatalf("Failed to seed comments: %v", err)
	}
}

func actorCtx(actor Actor) context.Context {
	return WithActor(context.Background(), actor)
}
