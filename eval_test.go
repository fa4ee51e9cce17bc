package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nlstn/gorm-authz/filter"
)

type Invoice struct {
	ID       uint
	Number   string
	Total    decimal.Decimal `gorm:"type:decimal(12,2)"`
	IssuedAt time.Time
	PaidAt   *time.Time
	OwnerUID uuid.UUID `gorm:"type:text"`
}

func evalExpr(t *testing.T, expr filter.Expr, instance any) bool {
	t.Helper()
	ok, err := Evaluate(context.Background(), expr, instance, Config{})
	if err != nil {
		t.Fatalf("Evaluate(%s) failed: %v", expr, err)
	}
	return ok
}

func TestEvaluateLiteralsAndLogic(t *testing.T) {
	p := Post{ID: 1, Published: true, AuthorID: 7}

	if !evalExpr(t, filter.True(), &p) {
		t.Error("True should match")
	}
	if evalExpr(t, filter.False(), &p) {
		t.Error("False should not match")
	}
	if !evalExpr(t, filter.And(filter.Eq("Published", true), filter.Eq("AuthorID", 7)), &p) {
		t.Error("Conjunction of matching conjuncts should match")
	}
	if evalExpr(t, filter.And(filter.Eq("Published", true), filter.Eq("AuthorID", 8)), &p) {
		t.Error("Conjunction with a failing conjunct should not match")
	}
	if !evalExpr(t, filter.Or(filter.Eq("AuthorID", 8), filter.Eq("Published", true)), &p) {
		t.Error("Disjunction with a matching disjunct should match")
	}
	if !evalExpr(t, filter.NotExpr(filter.Eq("AuthorID", 8)), &p) {
		t.Error("Negation of a non-match should match")
	}
}

func TestEvaluateNumericWidths(t *testing.T) {
	p := Post{AuthorID: 7}
	// Policy literals are rarely the column's exact Go type.
	if !evalExpr(t, filter.Eq("AuthorID", 7), &p) {
		t.Error("int literal should match uint column")
	}
	if !evalExpr(t, filter.Eq("AuthorID", int64(7)), &p) {
		t.Error("int64 literal should match uint column")
	}
	if !evalExpr(t, filter.Gt("AuthorID", 6.5), &p) {
		t.Error("float literal should order against uint column")
	}
	if !evalExpr(t, filter.Between("AuthorID", 5, 10), &p) {
		t.Error("BETWEEN should include interior values")
	}
	if !evalExpr(t, filter.Between("AuthorID", 7, 7), &p) {
		t.Error("BETWEEN bounds are inclusive")
	}
	if evalExpr(t, filter.Between("AuthorID", 8, 10), &p) {
		t.Error("BETWEEN should exclude values below the range")
	}
}

func TestEvaluateDecimal(t *testing.T) {
	inv := Invoice{Total: decimal.RequireFromString("10.10")}
	if !evalExpr(t, filter.Eq("Total", decimal.RequireFromString("10.1")), &inv) {
		t.Error("Decimals should compare by value, not representation")
	}
	if !evalExpr(t, filter.Lt("Total", 10.2), &inv) {
		t.Error("Decimal should order against float literal")
	}
	if !evalExpr(t, filter.Ge("Total", 10), &inv) {
		t.Error("Decimal should order against int literal")
	}
}

func TestEvaluateTime(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inv := Invoice{IssuedAt: issued}

	if !evalExpr(t, filter.Eq("IssuedAt", issued.In(time.FixedZone("X", 3600))), &inv) {
		t.Error("Times should compare as instants, not representations")
	}
	if !evalExpr(t, filter.Lt("IssuedAt", issued.Add(time.Hour)), &inv) {
		t.Error("Time ordering failed")
	}
	if evalExpr(t, filter.IsNull("IssuedAt"), &inv) {
		t.Error("Set time should not be NULL")
	}
	if !evalExpr(t, filter.IsNull("PaidAt"), &inv) {
		t.Error("Nil *time.Time should be NULL")
	}
	paid := issued.Add(time.Hour)
	inv.PaidAt = &paid
	if !evalExpr(t, filter.NotNull("PaidAt"), &inv) {
		t.Error("Set *time.Time should not be NULL")
	}
	if !evalExpr(t, filter.Gt("PaidAt", issued), &inv) {
		t.Error("Pointer time should unwrap for comparison")
	}
}

func TestEvaluateUUID(t *testing.T) {
	id := uuid.MustParse("e5a0ab54-9a39-4b25-bb46-495a4935c529")
	inv := Invoice{OwnerUID: id}
	if !evalExpr(t, filter.Eq("OwnerUID", id), &inv) {
		t.Error("Equal UUIDs should match")
	}
	if !evalExpr(t, filter.Eq("OwnerUID", id.String()), &inv) {
		t.Error("UUID should match its string form")
	}
	if evalExpr(t, filter.Eq("OwnerUID", uuid.New()), &inv) {
		t.Error("Different UUIDs should not match")
	}
}

func TestEvaluateNullComparisons(t *testing.T) {
	inv := Invoice{}
	// NULL never matches a comparison, only IS NULL.
	if evalExpr(t, filter.Eq("PaidAt", time.Now()), &inv) {
		t.Error("NULL operand should fail equality")
	}
	if evalExpr(t, filter.Comparison{Op: filter.OpEq, Column: "Number", Value: nil}, &Invoice{Number: "x"}) {
		t.Error("nil right-hand side should fail equality")
	}
}

func TestEvaluateInAndStrings(t *testing.T) {
	p := Post{Title: "Release Notes"}
	if !evalExpr(t, filter.In("Title", "Draft", "Release Notes"), &p) {
		t.Error("IN should match a listed value")
	}
	if !evalExpr(t, filter.NotIn("Title", "Draft"), &p) {
		t.Error("NOT IN should match an unlisted value")
	}
	if !evalExpr(t, filter.Contains("Title", "ease"), &p) {
		t.Error("Contains failed")
	}
	if !evalExpr(t, filter.HasPrefix("Title", "Rel"), &p) {
		t.Error("HasPrefix failed")
	}
	if !evalExpr(t, filter.HasSuffix("Title", "Notes"), &p) {
		t.Error("HasSuffix failed")
	}
}

func TestEvaluateLikePatterns(t *testing.T) {
	p := Post{Title: "a_c%d.e"}
	tests := []struct {
		pattern string
		want    bool
	}{
		{"a_c%d.e", true}, // _ and % as wildcards
		{"a%", true},
		{"%d.e", true},
		{"a_c\\%", false}, // backslash is literal, not an escape
		{"a.c%", false},   // regex specials in the pattern are literal
		{"A%", false},     // LIKE is case-sensitive
	}
	for _, tt := range tests {
		got := evalExpr(t, filter.Like("Title", tt.pattern), &p)
		if got != tt.want {
			t.Errorf("Like(%q) = %v, want %v", tt.pattern, got, tt.want)
		}
	}

	if !evalExpr(t, filter.ILike("Title", "A__%"), &p) {
		t.Error("ILIKE should be case-insensitive")
	}
	if !evalExpr(t, filter.NotLike("Title", "zzz%"), &p) {
		t.Error("NOT LIKE of a non-match should match")
	}
}

func TestEvaluateExistsToMany(t *testing.T) {
	p := Post{
		ID:       1,
		Comments: []Comment{{ID: 1, AuthorID: 5}, {ID: 2, AuthorID: 6}},
	}
	if !evalExpr(t, filter.Related("Comments", nil), &p) {
		t.Error("Bare existence over a loaded, non-empty slice should match")
	}
	if !evalExpr(t, filter.Related("Comments", filter.Eq("AuthorID", 6)), &p) {
		t.Error("Existential should match when any element matches")
	}
	if evalExpr(t, filter.Related("Comments", filter.Eq("AuthorID", 9)), &p) {
		t.Error("Existential should fail when no element matches")
	}

	empty := Post{ID: 2, Comments: []Comment{}}
	if evalExpr(t, filter.Related("Comments", nil), &empty) {
		t.Error("Loaded empty slice means no related rows")
	}
}

func TestEvaluateUnloadedToMany(t *testing.T) {
	p := Post{ID: 1} // Comments never loaded: nil slice

	// deny (default)
	ok, err := Evaluate(context.Background(), filter.Related("Comments", nil), &p, Config{})
	if err != nil || ok {
		t.Errorf("Unloaded relationship should deny by default, got %v, %v", ok, err)
	}

	// raise
	_, err = Evaluate(context.Background(), filter.Related("Comments", nil), &p, Config{OnUnloadedRelationship: UnloadedRaise})
	var ure *UnloadedRelationshipError
	if !errors.As(err, &ure) {
		t.Fatalf("Expected UnloadedRelationshipError, got %v", err)
	}
	if ure.Model != "Post" || ure.Relationship != "Comments" {
		t.Errorf("UnloadedRelationshipError fields = %+v", ure)
	}

	// warn: denies without error
	ok, err = Evaluate(context.Background(), filter.Related("Comments", nil), &p, Config{OnUnloadedRelationship: UnloadedWarn})
	if err != nil || ok {
		t.Errorf("Warn mode should deny without error, got %v, %v", ok, err)
	}
}

func TestEvaluateBelongsTo(t *testing.T) {
	// FK set, pointer nil: unloaded
	p := Post{ID: 1, AuthorID: 7}
	_, err := Evaluate(context.Background(), filter.Related("Author", nil), &p, Config{OnUnloadedRelationship: UnloadedRaise})
	var ure *UnloadedRelationshipError
	if !errors.As(err, &ure) {
		t.Fatalf("Expected UnloadedRelationshipError for nil pointer with set FK, got %v", err)
	}

	// FK zero, pointer nil: genuinely no related row
	orphan := Post{ID: 2}
	ok, err := Evaluate(context.Background(), filter.Related("Author", nil), &orphan, Config{OnUnloadedRelationship: UnloadedRaise})
	if err != nil {
		t.Fatalf("Zero FK should not raise: %v", err)
	}
	if ok {
		t.Error("Zero FK means no related row")
	}

	// Loaded: inner predicate applies
	p.Author = &User{ID: 7, Name: "alice"}
	if !evalExpr(t, filter.Related("Author", filter.Eq("Name", "alice")), &p) {
		t.Error("Loaded belongs-to should evaluate the inner predicate")
	}
	if evalExpr(t, filter.Related("Author", filter.Eq("Name", "bob")), &p) {
		t.Error("Inner predicate mismatch should fail")
	}
}

func TestEvaluateNestedExists(t *testing.T) {
	p := Post{
		ID:       1,
		AuthorID: 7,
		Author:   &User{ID: 7, TeamID: 3, Team: &Team{ID: 3, Name: "core"}},
	}
	e := filter.Related("Author", filter.Related("Team", filter.Eq("Name", "core")))
	if !evalExpr(t, e, &p) {
		t.Error("Nested existential over loaded chain should match")
	}
}

func TestEvaluateUnsupported(t *testing.T) {
	p := Post{}
	_, err := Evaluate(context.Background(), filter.Eq("Bogus", 1), &p, Config{})
	var uee *UnsupportedExpressionError
	if !errors.As(err, &uee) {
		t.Fatalf("Expected UnsupportedExpressionError for unknown attribute, got %v", err)
	}
	_, err = Evaluate(context.Background(), filter.Related("Bogus", nil), &p, Config{})
	if !errors.As(err, &uee) {
		t.Fatalf("Expected UnsupportedExpressionError for unknown relationship, got %v", err)
	}
	_, err = Evaluate(context.Background(), nil, &p, Config{})
	if !errors.As(err, &uee) {
		t.Fatalf("Expected UnsupportedExpressionError for nil expression, got %v", err)
	}
}

func TestEvaluateIncompatibleOrderingIsFalse(t *testing.T) {
	// SQL returns no row when an ordering comparison has no defined meaning
	// for the operand pair; the evaluator must agree instead of erroring.
	p := Post{Title: "x"}
	ok, err := Evaluate(context.Background(), filter.Gt("Title", 3), &p, Config{})
	if err != nil {
		t.Fatalf("Cross-type ordering should not error: %v", err)
	}
	if ok {
		t.Error("Cross-type ordering should compare as no match")
	}

	ok, err = Evaluate(context.Background(), filter.Lt("Title", nil), &p, Config{})
	if err != nil {
		t.Fatalf("Ordering against nil should not error: %v", err)
	}
	if ok {
		t.Error("Ordering against nil should compare as no match")
	}

	ok, err = Evaluate(context.Background(), filter.Between("Title", 1, 2), &p, Config{})
	if err != nil {
		t.Fatalf("Cross-type BETWEEN should not error: %v", err)
	}
	if ok {
		t.Error("Cross-type BETWEEN should compare as no match")
	}
}
