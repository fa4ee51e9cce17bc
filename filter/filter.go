// Package filter defines the predicate expression tree produced by
// authorization policies. Expressions are plain structural values: two
// expressions built from the same inputs are interchangeable, and nothing
// in the tree carries identity or backend state. The authz package compiles
// them into SQL WHERE conjuncts and also interprets them in-memory against
// loaded model instances.
package filter

import (
	"fmt"
	"strings"
)

// Op identifies a comparison operator.
type Op string

// Comparison operators.
const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpLt       Op = "lt"
	OpLe       Op = "le"
	OpGt       Op = "gt"
	OpGe       Op = "ge"
	OpIsNull   Op = "is_null"
	OpNotNull  Op = "is_not_null"
	OpIn       Op = "in"
	OpNotIn    Op = "not_in"
	OpLike     Op = "like"
	OpILike    Op = "ilike"
	OpNotLike  Op = "not_like"
	OpNotILike Op = "not_ilike"
	OpBetween  Op = "between"
	OpContains Op = "contains"
	OpPrefix   Op = "starts_with"
	OpSuffix   Op = "ends_with"
)

// Logical identifies a boolean connective.
type Logical string

// Boolean connectives.
const (
	LogicalAnd Logical = "and"
	LogicalOr  Logical = "or"
)

// Expr is a node in the predicate expression tree.
type Expr interface {
	expr()
	String() string
}

// Literal is a constant boolean predicate.
type Literal struct {
	Value bool
}

// Comparison compares an entity attribute against bound values.
// Column names either the Go struct field or the database column of the
// attribute; resolution happens at compile/evaluation time.
type Comparison struct {
	Op     Op
	Column string
	// Value holds the bound right-hand side. For OpIn/OpNotIn it is the
	// candidate list, for OpBetween the two inclusive bounds, and it is
	// unused for the null checks.
	Value  any
	Values []any
}

// Combination joins child predicates with AND or OR. Children keep their
// insertion order; OR is commutative so the order only affects logging.
type Combination struct {
	Op    Logical
	Exprs []Expr
}

// Not negates a child predicate.
type Not struct {
	Expr Expr
}

// Exists is an existential check over a relationship: for a to-many
// relationship it holds when at least one related row matches Inner, for a
// to-one relationship when the single related row exists and matches.
// A nil Inner means bare existence.
type Exists struct {
	Relationship string
	Inner        Expr
}

func (Literal) expr()     {}
func (Comparison) expr()  {}
func (Combination) expr() {}
func (Not) expr()         {}
func (Exists) expr()      {}

// True returns the always-true predicate.
func True() Expr { return Literal{Value: true} }

// False returns the always-false predicate (deny).
func False() Expr { return Literal{Value: false} }

// Eq matches rows whose column equals value. A nil value is treated as an
// IS NULL check, mirroring SQL three-valued equality the way callers expect.
func Eq(column string, value any) Expr {
	if value == nil {
		return Comparison{Op: OpIsNull, Column: column}
	}
	return Comparison{Op: OpEq, Column: column, Value: value}
}

// Ne matches rows whose column differs from value. A nil value becomes an
// IS NOT NULL check.
func Ne(column string, value any) Expr {
	if value == nil {
		return Comparison{Op: OpNotNull, Column: column}
	}
	return Comparison{Op: OpNe, Column: column, Value: value}
}

// Lt matches rows whose column is less than value.
func Lt(column string, value any) Expr {
	return Comparison{Op: OpLt, Column: column, Value: value}
}

// Le matches rows whose column is less than or equal to value.
func Le(column string, value any) Expr {
	return Comparison{Op: OpLe, Column: column, Value: value}
}

// Gt matches rows whose column is greater than value.
func Gt(column string, value any) Expr {
	return Comparison{Op: OpGt, Column: column, Value: value}
}

// Ge matches rows whose column is greater than or equal to value.
func Ge(column string, value any) Expr {
	return Comparison{Op: OpGe, Column: column, Value: value}
}

// IsNull matches rows whose column is NULL.
func IsNull(column string) Expr {
	return Comparison{Op: OpIsNull, Column: column}
}

// NotNull matches rows whose column is not NULL.
func NotNull(column string) Expr {
	return Comparison{Op: OpNotNull, Column: column}
}

// In matches rows whose column equals one of values.
func In(column string, values ...any) Expr {
	return Comparison{Op: OpIn, Column: column, Values: values}
}

// NotIn matches rows whose column equals none of values.
func NotIn(column string, values ...any) Expr {
	return Comparison{Op: OpNotIn, Column: column, Values: values}
}

// Like matches the column against a SQL LIKE pattern (% and _ wildcards),
// case-sensitively.
func Like(column, pattern string) Expr {
	return Comparison{Op: OpLike, Column: column, Value: pattern}
}

// ILike matches the column against a SQL LIKE pattern, case-insensitively.
func ILike(column, pattern string) Expr {
	return Comparison{Op: OpILike, Column: column, Value: pattern}
}

// NotLike is the negation of Like.
func NotLike(column, pattern string) Expr {
	return Comparison{Op: OpNotLike, Column: column, Value: pattern}
}

// NotILike is the negation of ILike.
func NotILike(column, pattern string) Expr {
	return Comparison{Op: OpNotILike, Column: column, Value: pattern}
}

// Between matches rows whose column lies in [low, high], bounds inclusive.
func Between(column string, low, high any) Expr {
	return Comparison{Op: OpBetween, Column: column, Values: []any{low, high}}
}

// Contains matches string columns containing substr.
func Contains(column, substr string) Expr {
	return Comparison{Op: OpContains, Column: column, Value: substr}
}

// HasPrefix matches string columns starting with prefix.
func HasPrefix(column, prefix string) Expr {
	return Comparison{Op: OpPrefix, Column: column, Value: prefix}
}

// HasSuffix matches string columns ending with suffix.
func HasSuffix(column, suffix string) Expr {
	return Comparison{Op: OpSuffix, Column: column, Value: suffix}
}

// And joins predicates conjunctively. With no arguments it is True.
func And(exprs ...Expr) Expr {
	if len(exprs) == 1 {
		return exprs[0]
	}
	return Combination{Op: LogicalAnd, Exprs: exprs}
}

// Or joins predicates disjunctively. With no arguments it is False.
func Or(exprs ...Expr) Expr {
	if len(exprs) == 1 {
		return exprs[0]
	}
	return Combination{Op: LogicalOr, Exprs: exprs}
}

// NotExpr negates a predicate.
func NotExpr(e Expr) Expr {
	return Not{Expr: e}
}

// Related builds an existential check over the named relationship. Inner
// may be nil to test bare existence.
func Related(relationship string, inner Expr) Expr {
	return Exists{Relationship: relationship, Inner: inner}
}

func (l Literal) String() string {
	if l.Value {
		return "TRUE"
	}
	return "FALSE"
}

func (c Comparison) String() string {
	switch c.Op {
	case OpIsNull:
		return fmt.Sprintf("%s IS NULL", c.Column)
	case OpNotNull:
		return fmt.Sprintf("%s IS NOT NULL", c.Column)
	case OpIn, OpNotIn:
		parts := make([]string, len(c.Values))
		for i, v := range c.Values {
			parts[i] = fmt.Sprintf("%v", v)
		}
		op := "IN"
		if c.Op == OpNotIn {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", c.Column, op, strings.Join(parts, ", "))
	case OpBetween:
		if len(c.Values) == 2 {
			return fmt.Sprintf("%s BETWEEN %v AND %v", c.Column, c.Values[0], c.Values[1])
		}
		return fmt.Sprintf("%s BETWEEN <invalid bounds>", c.Column)
	default:
		return fmt.Sprintf("%s %s %v", c.Column, c.Op, c.Value)
	}
}

func (c Combination) String() string {
	if len(c.Exprs) == 0 {
		if c.Op == LogicalAnd {
			return "TRUE"
		}
		return "FALSE"
	}
	parts := make([]string, len(c.Exprs))
	for i, e := range c.Exprs {
		parts[i] = e.String()
	}
	sep := " AND "
	if c.Op == LogicalOr {
		sep = " OR "
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func (n Not) String() string {
	return "NOT (" + n.Expr.String() + ")"
}

func (e Exists) String() string {
	if e.Inner == nil {
		return fmt.Sprintf("EXISTS(%s)", e.Relationship)
	}
	return fmt.Sprintf("EXISTS(%s: %s)", e.Relationship, e.Inner.String())
}
