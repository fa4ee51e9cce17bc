package authz

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"

	"github.com/nlstn/gorm-authz/filter"
)

func TestCompileDeniesByDefault(t *testing.T) {
	reg := NewRegistry()
	expr, err := CompileFilter(context.Background(), reg, testActor{id: 1}, &Post{}, "read", Config{})
	if err != nil {
		t.Fatalf("CompileFilter failed: %v", err)
	}
	lit, ok := expr.(filter.Literal)
	if !ok || lit.Value {
		t.Errorf("Expected constant false for unregistered entity, got %v", expr)
	}
}

func TestCompileMissingPolicyRaise(t *testing.T) {
	reg := NewRegistry()
	_, err := CompileFilter(context.Background(), reg, testActor{id: 1}, &Post{}, "read", Config{OnMissingPolicy: MissingPolicyRaise})
	var npe *NoPolicyError
	if !errors.As(err, &npe) {
		t.Fatalf("Expected NoPolicyError, got %v", err)
	}
	if npe.ResourceType != "Post" || npe.Action != "read" {
		t.Errorf("NoPolicyError fields = %+v", npe)
	}
}

func TestCompileSinglePolicyIsNotWrapped(t *testing.T) {
	reg := newTestRegistry(t)
	expr, err := CompileFilter(context.Background(), reg, testActor{id: 1}, &Post{}, "read", Config{})
	if err != nil {
		t.Fatalf("CompileFilter failed: %v", err)
	}
	// One policy: the filter comes through as-is, no OR wrapper.
	if _, ok := expr.(filter.Combination); !ok {
		t.Fatalf("Expected the policy's own combination, got %T", expr)
	}
	want := postReadPolicy(testActor{id: 1})
	if !reflect.DeepEqual(expr, want) {
		t.Errorf("Compiled filter %v differs from policy output %v", expr, want)
	}
}

func TestCompileORFoldsMultiplePolicies(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&Post{}, "read", func(Actor) filter.Expr { return filter.Eq("Published", true) }, "a", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register(&Post{}, "read", func(Actor) filter.Expr { return filter.Eq("AuthorID", 9) }, "b", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	expr, err := CompileFilter(context.Background(), reg, testActor{id: 9}, &Post{}, "read", Config{})
	if err != nil {
		t.Fatalf("CompileFilter failed: %v", err)
	}
	comb, ok := expr.(filter.Combination)
	if !ok || comb.Op != filter.LogicalOr {
		t.Fatalf("Expected OR combination, got %v", expr)
	}
	if len(comb.Exprs) != 2 {
		t.Errorf("Expected 2 disjuncts, got %d", len(comb.Exprs))
	}
}

func TestCompileOrderIndependentDecisions(t *testing.T) {
	published := func(Actor) filter.Expr { return filter.Eq("Published", true) }
	own := func(actor Actor) filter.Expr { return filter.Eq("AuthorID", actor.AuthzID()) }

	forward := NewRegistry()
	if err := forward.Register(&Post{}, "read", published, "published", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := forward.Register(&Post{}, "read", own, "own", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	reverse := NewRegistry()
	if err := reverse.Register(&Post{}, "read", own, "own", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reverse.Register(&Post{}, "read", published, "published", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	actor := testActor{id: 1}
	fwd, err := CompileFilter(context.Background(), forward, actor, &Post{}, "read", Config{})
	if err != nil {
		t.Fatalf("CompileFilter failed: %v", err)
	}
	rev, err := CompileFilter(context.Background(), reverse, actor, &Post{}, "read", Config{})
	if err != nil {
		t.Fatalf("CompileFilter failed: %v", err)
	}

	// Registration order must not change any decision.
	samples := []Post{
		{ID: 1, Published: true, AuthorID: 2},
		{ID: 2, Published: false, AuthorID: 1},
		{ID: 3, Published: false, AuthorID: 2},
		{ID: 4, Published: true, AuthorID: 1},
	}
	for _, p := range samples {
		a, err := Evaluate(context.Background(), fwd, &p, Config{})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		b, err := Evaluate(context.Background(), rev, &p, Config{})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if a != b {
			t.Errorf("Post %d: forward=%v reverse=%v", p.ID, a, b)
		}
	}
}

func TestCompileNilPolicyResultDenies(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&Post{}, "read", func(Actor) filter.Expr { return nil }, "nil", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	expr, err := CompileFilter(context.Background(), reg, testActor{id: 1}, &Post{}, "read", Config{})
	if err != nil {
		t.Fatalf("CompileFilter failed: %v", err)
	}
	lit, ok := expr.(filter.Literal)
	if !ok || lit.Value {
		t.Errorf("A nil policy result should compile to false, got %v", expr)
	}
}

func TestCompileDecisionLogging(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { SetLogger(nil) })

	reg := newTestRegistry(t)
	_, err := CompileFilter(context.Background(), reg, testActor{id: 1}, &Post{}, "read", Config{LogDecisions: Bool(true)})
	if err != nil {
		t.Fatalf("CompileFilter failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("Expected a decision log entry")
	}
}

func TestCompilePath(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&User{}, "read", func(actor Actor) filter.Expr {
		return filter.Eq("ID", actor.AuthzID())
	}, "user-self", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	expr, err := CompilePath(context.Background(), reg, testActor{id: 4}, &Post{}, "read", Config{}, "Author")
	if err != nil {
		t.Fatalf("CompilePath failed: %v", err)
	}
	ex, ok := expr.(filter.Exists)
	if !ok || ex.Relationship != "Author" {
		t.Fatalf("Expected Exists over Author, got %v", expr)
	}
	if ex.Inner == nil {
		t.Fatal("Expected the user policy as the inner predicate")
	}
}

func TestCompilePathMultiHop(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&Team{}, "read", AlwaysAllow, "team-all", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	expr, err := CompilePath(context.Background(), reg, testActor{id: 4}, &Post{}, "read", Config{}, "Author", "Team")
	if err != nil {
		t.Fatalf("CompilePath failed: %v", err)
	}
	outer, ok := expr.(filter.Exists)
	if !ok || outer.Relationship != "Author" {
		t.Fatalf("Expected outer Exists over Author, got %v", expr)
	}
	inner, ok := outer.Inner.(filter.Exists)
	if !ok || inner.Relationship != "Team" {
		t.Fatalf("Expected inner Exists over Team, got %v", outer.Inner)
	}
}

func TestCompilePathUnknownRelationship(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := CompilePath(context.Background(), reg, testActor{id: 4}, &Post{}, "read", Config{}, "Nope")
	var uee *UnsupportedExpressionError
	if !errors.As(err, &uee) {
		t.Fatalf("Expected UnsupportedExpressionError, got %v", err)
	}
}

func TestCompilePathEmptyFallsBackToCompileFilter(t *testing.T) {
	reg := newTestRegistry(t)
	expr, err := CompilePath(context.Background(), reg, testActor{id: 1}, &Post{}, "read", Config{})
	if err != nil {
		t.Fatalf("CompilePath failed: %v", err)
	}
	if !reflect.DeepEqual(expr, postReadPolicy(testActor{id: 1})) {
		t.Errorf("Empty path should compile the root entity's policies, got %v", expr)
	}
}
