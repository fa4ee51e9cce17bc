package authz

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nlstn/gorm-authz/filter"
	"github.com/nlstn/gorm-authz/internal/metadata"
)

// Evaluate interprets a predicate against an already-loaded model instance,
// returning whether the instance matches. The evaluator agrees with the SQL
// rendering of the same predicate: a row the database would return evaluates
// to true, a row it would filter out evaluates to false.
//
// Existential checks need the relationship loaded on the instance. When it
// is not, the configuration decides: deny (default) treats the instance as
// non-matching, warn logs and denies, raise returns an
// UnloadedRelationshipError.
func Evaluate(ctx context.Context, expr filter.Expr, instance any, cfg Config) (bool, error) {
	ent, err := metadata.Lookup(instance)
	if err != nil {
		return false, err
	}
	rv := reflect.ValueOf(instance)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return false, fmt.Errorf("authz: cannot evaluate against nil %T", instance)
		}
		rv = rv.Elem()
	}
	ev := &evaluator{ctx: ctx, cfg: cfg}
	return ev.eval(expr, ent, rv)
}

type evaluator struct {
	ctx context.Context
	cfg Config
}

func (ev *evaluator) eval(expr filter.Expr, ent *metadata.Entity, rv reflect.Value) (bool, error) {
	switch e := expr.(type) {
	case filter.Literal:
		return e.Value, nil
	case filter.Comparison:
		return ev.comparison(e, ent, rv)
	case filter.Combination:
		return ev.combination(e, ent, rv)
	case filter.Not:
		inner, err := ev.eval(e.Expr, ent, rv)
		if err != nil {
			return false, err
		}
		return !inner, nil
	case filter.Exists:
		return ev.exists(e, ent, rv)
	case nil:
		return false, &UnsupportedExpressionError{Detail: "nil expression"}
	default:
		return false, &UnsupportedExpressionError{Detail: fmt.Sprintf("expression type %T", expr)}
	}
}

func (ev *evaluator) combination(e filter.Combination, ent *metadata.Entity, rv reflect.Value) (bool, error) {
	if len(e.Exprs) == 0 {
		return e.Op == filter.LogicalAnd, nil
	}
	for _, child := range e.Exprs {
		match, err := ev.eval(child, ent, rv)
		if err != nil {
			return false, err
		}
		if e.Op == filter.LogicalAnd && !match {
			return false, nil
		}
		if e.Op == filter.LogicalOr && match {
			return true, nil
		}
	}
	return e.Op == filter.LogicalAnd, nil
}

func (ev *evaluator) comparison(e filter.Comparison, ent *metadata.Entity, rv reflect.Value) (bool, error) {
	left, _, err := ent.AttributeValue(rv, e.Column)
	if err != nil {
		return false, &UnsupportedExpressionError{Detail: err.Error()}
	}
	left = indirect(left)

	switch e.Op {
	case filter.OpIsNull:
		return left == nil, nil
	case filter.OpNotNull:
		return left != nil, nil
	}

	// SQL three-valued logic: a NULL operand never matches a comparison.
	if left == nil {
		return false, nil
	}

	switch e.Op {
	case filter.OpEq:
		if e.Value == nil {
			return false, nil
		}
		return equal(left, e.Value)
	case filter.OpNe:
		if e.Value == nil {
			return false, nil
		}
		eq, err := equal(left, e.Value)
		return !eq, err
	case filter.OpLt, filter.OpLe, filter.OpGt, filter.OpGe:
		cmp, ok := compare(left, e.Value)
		if !ok {
			return false, nil
		}
		switch e.Op {
		case filter.OpLt:
			return cmp < 0, nil
		case filter.OpLe:
			return cmp <= 0, nil
		case filter.OpGt:
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	case filter.OpIn, filter.OpNotIn:
		found := false
		for _, candidate := range e.Values {
			eq, err := equal(left, candidate)
			if err != nil {
				return false, err
			}
			if eq {
				found = true
				break
			}
		}
		if e.Op == filter.OpIn {
			return found, nil
		}
		return !found, nil
	case filter.OpBetween:
		if len(e.Values) != 2 {
			return false, &UnsupportedExpressionError{Detail: fmt.Sprintf("BETWEEN on %q needs two bounds, got %d", e.Column, len(e.Values))}
		}
		lo, ok := compare(left, e.Values[0])
		if !ok {
			return false, nil
		}
		hi, ok := compare(left, e.Values[1])
		if !ok {
			return false, nil
		}
		return lo >= 0 && hi <= 0, nil
	case filter.OpLike, filter.OpNotLike, filter.OpILike, filter.OpNotILike:
		return ev.like(e, left)
	case filter.OpContains:
		return strings.Contains(stringify(left), stringify(e.Value)), nil
	case filter.OpPrefix:
		return strings.HasPrefix(stringify(left), stringify(e.Value)), nil
	case filter.OpSuffix:
		return strings.HasSuffix(stringify(left), stringify(e.Value)), nil
	default:
		return false, &UnsupportedExpressionError{Detail: fmt.Sprintf("comparison operator %q", e.Op)}
	}
}

func (ev *evaluator) like(e filter.Comparison, left any) (bool, error) {
	insensitive := e.Op == filter.OpILike || e.Op == filter.OpNotILike
	re, err := likePattern(stringify(e.Value), insensitive)
	if err != nil {
		return false, &UnsupportedExpressionError{Detail: fmt.Sprintf("LIKE pattern %v: %v", e.Value, err)}
	}
	match := re.MatchString(stringify(left))
	if e.Op == filter.OpNotLike || e.Op == filter.OpNotILike {
		return !match, nil
	}
	return match, nil
}

// likePattern translates a SQL LIKE pattern into an anchored regexp:
// % becomes .* and _ becomes ., everything else matches literally.
func likePattern(pattern string, insensitive bool) (*regexp.Regexp, error) {
	var sb strings.Builder
	if insensitive {
		sb.WriteString("(?i)")
	}
	sb.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

func (ev *evaluator) exists(e filter.Exists, ent *metadata.Entity, rv reflect.Value) (bool, error) {
	rel, ok := ent.Relationship(e.Relationship)
	if !ok {
		return false, &UnsupportedExpressionError{Detail: fmt.Sprintf("%s has no relationship %q", ent.Name(), e.Relationship)}
	}
	fv, ok := rel.Value(rv)
	if !ok {
		return ev.unloaded(ent.Name(), e.Relationship)
	}

	if rel.Many {
		// Convention: a nil slice means the relationship was never loaded,
		// a non-nil (possibly empty) slice reflects the true related set.
		if fv.Kind() != reflect.Slice {
			return false, &UnsupportedExpressionError{Detail: fmt.Sprintf("%s.%s is not a slice", ent.Name(), e.Relationship)}
		}
		if fv.IsNil() {
			return ev.unloaded(ent.Name(), e.Relationship)
		}
		target := rel.Target()
		for i := 0; i < fv.Len(); i++ {
			elem, ok := derefStruct(fv.Index(i))
			if !ok {
				continue
			}
			if e.Inner == nil {
				return true, nil
			}
			match, err := ev.eval(e.Inner, target, elem)
			if err != nil {
				return false, err
			}
			if match {
				return true, nil
			}
		}
		return false, nil
	}

	return ev.existsOne(e, rel, ent, rv, fv)
}

func (ev *evaluator) existsOne(e filter.Exists, rel *metadata.Relationship, ent *metadata.Entity, rv, fv reflect.Value) (bool, error) {
	target := rel.Target()

	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			// A belongs-to with zero foreign key genuinely has no related
			// row; a nil pointer beside a set foreign key is just unloaded.
			if rel.BelongsTo() && rel.ForeignKeyZero(rv) {
				return false, nil
			}
			return ev.unloaded(ent.Name(), e.Relationship)
		}
		fv = fv.Elem()
	}
	if fv.Kind() != reflect.Struct {
		return false, &UnsupportedExpressionError{Detail: fmt.Sprintf("%s.%s is not a struct", ent.Name(), e.Relationship)}
	}

	// Non-pointer to-one fields cannot express nil, so a zero related row
	// is read as unloaded (or absent, for a belongs-to with zero FK).
	if fv.IsZero() {
		if rel.BelongsTo() && rel.ForeignKeyZero(rv) {
			return false, nil
		}
		return ev.unloaded(ent.Name(), e.Relationship)
	}

	if e.Inner == nil {
		return true, nil
	}
	return ev.eval(e.Inner, target, fv)
}

func derefStruct(v reflect.Value) (reflect.Value, bool) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	return v, true
}

func (ev *evaluator) unloaded(model, relationship string) (bool, error) {
	switch ev.cfg.unloadedRelationship() {
	case UnloadedRaise:
		return false, &UnloadedRelationshipError{Model: model, Relationship: relationship}
	case UnloadedWarn:
		logger().LogAttrs(ev.ctx, slog.LevelWarn, "relationship not loaded, denying",
			slog.String("model", model),
			slog.String("relationship", relationship))
		return false, nil
	default:
		return false, nil
	}
}

// Value coercion helpers. The evaluator accepts the loose typing SQL would:
// integer widths and float kinds compare numerically, decimals compare
// exactly, times compare as instants, everything else falls back to string
// form for equality and compares as no match for ordering.

func indirect(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func equal(left, right any) (bool, error) {
	right = indirect(right)
	if right == nil {
		return false, nil
	}
	if ld, lok := asDecimal(left); lok {
		if rd, rok := asDecimal(right); rok {
			return ld.Equal(rd), nil
		}
	}
	if lt, lok := asTime(left); lok {
		if rt, rok := asTime(right); rok {
			return lt.Equal(rt), nil
		}
	}
	if lb, lok := left.(bool); lok {
		if rb, rok := right.(bool); rok {
			return lb == rb, nil
		}
	}
	if reflect.DeepEqual(left, right) {
		return true, nil
	}
	return stringify(left) == stringify(right), nil
}

// compare orders left against right, reporting false when the operand pair
// has no defined ordering. SQL returns no row for such comparisons rather
// than erroring, and the evaluator agrees.
func compare(left, right any) (int, bool) {
	right = indirect(right)
	if right == nil {
		return 0, false
	}
	if ld, lok := asDecimal(left); lok {
		if rd, rok := asDecimal(right); rok {
			return ld.Cmp(rd), true
		}
	}
	if lt, lok := asTime(left); lok {
		if rt, rok := asTime(right); rok {
			return lt.Compare(rt), true
		}
	}
	if ls, lok := left.(string); lok {
		if rs, rok := right.(string); rok {
			return strings.Compare(ls, rs), true
		}
	}
	return 0, false
}

// asDecimal widens every numeric kind into a decimal so mixed-width
// comparisons behave like the database's numeric comparison.
func asDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int8:
		return decimal.NewFromInt(int64(n)), true
	case int16:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		return decimal.NewFromUint64(uint64(n)), true
	case uint8:
		return decimal.NewFromUint64(uint64(n)), true
	case uint16:
		return decimal.NewFromUint64(uint64(n)), true
	case uint32:
		return decimal.NewFromUint64(uint64(n)), true
	case uint64:
		return decimal.NewFromUint64(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	default:
		return decimal.Decimal{}, false
	}
}

func asTime(v any) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(v)
}
