// Package sqlbuild renders predicate expressions into SQL condition
// fragments with bind arguments, suitable for appending to a GORM
// statement's WHERE clause. Relationship traversal becomes correlated
// EXISTS subqueries built from the entity metadata's join references.
package sqlbuild

import (
	"fmt"
	"strings"

	"github.com/nlstn/gorm-authz/filter"
	"github.com/nlstn/gorm-authz/internal/metadata"
)

// quoteIdent quotes identifiers portably (double quotes work for sqlite and
// postgres). Embedded double quotes are doubled per the SQL standard.
func quoteIdent(ident string) string {
	if ident == "" {
		return ident
	}
	escaped := strings.ReplaceAll(ident, "\"", "\"\"")
	return "\"" + escaped + "\""
}

func qualify(table, column string) string {
	return quoteIdent(table) + "." + quoteIdent(column)
}

// Build renders expr against the entity into a SQL condition and its bind
// arguments. The dialect selects between native ILIKE (postgres) and a
// LOWER()-based fallback.
func Build(expr filter.Expr, ent *metadata.Entity, dialect string) (string, []any, error) {
	b := &builder{dialect: dialect}
	return b.build(expr, ent)
}

// BuildAliased is Build for an entity whose table appears in the statement
// under an alias, as with GORM's relationship joins where the joined table
// is aliased to the relationship name.
func BuildAliased(expr filter.Expr, ent *metadata.Entity, dialect, alias string) (string, []any, error) {
	b := &builder{dialect: dialect, aliasedTable: ent.Table(), alias: alias}
	return b.build(expr, ent)
}

type builder struct {
	dialect      string
	aliasedTable string
	alias        string
}

// table resolves the name an entity's columns are qualified with, honoring
// the statement-level alias when one is in effect.
func (b *builder) table(ent *metadata.Entity) string {
	if b.alias != "" && ent.Table() == b.aliasedTable {
		return b.alias
	}
	return ent.Table()
}

func (b *builder) build(expr filter.Expr, ent *metadata.Entity) (string, []any, error) {
	switch e := expr.(type) {
	case filter.Literal:
		if e.Value {
			return "1 = 1", nil, nil
		}
		return "1 = 0", nil, nil
	case filter.Comparison:
		return b.comparison(e, ent)
	case filter.Combination:
		return b.combination(e, ent)
	case filter.Not:
		inner, args, err := b.build(e.Expr, ent)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + inner + ")", args, nil
	case filter.Exists:
		return b.exists(e, ent)
	case nil:
		return "", nil, fmt.Errorf("sqlbuild: nil expression")
	default:
		return "", nil, fmt.Errorf("sqlbuild: unsupported expression type %T", expr)
	}
}

func (b *builder) combination(e filter.Combination, ent *metadata.Entity) (string, []any, error) {
	if len(e.Exprs) == 0 {
		if e.Op == filter.LogicalAnd {
			return "1 = 1", nil, nil
		}
		return "1 = 0", nil, nil
	}
	parts := make([]string, 0, len(e.Exprs))
	var args []any
	for _, child := range e.Exprs {
		sql, childArgs, err := b.build(child, ent)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		args = append(args, childArgs...)
	}
	sep := " AND "
	if e.Op == filter.LogicalOr {
		sep = " OR "
	}
	return strings.Join(parts, sep), args, nil
}

func (b *builder) comparison(e filter.Comparison, ent *metadata.Entity) (string, []any, error) {
	column, ok := ent.Column(e.Column)
	if !ok {
		return "", nil, fmt.Errorf("sqlbuild: %s has no attribute %q", ent.Name(), e.Column)
	}
	col := qualify(b.table(ent), column)

	switch e.Op {
	case filter.OpEq:
		if e.Value == nil {
			return col + " IS NULL", nil, nil
		}
		return col + " = ?", []any{e.Value}, nil
	case filter.OpNe:
		if e.Value == nil {
			return col + " IS NOT NULL", nil, nil
		}
		return col + " <> ?", []any{e.Value}, nil
	case filter.OpLt:
		return col + " < ?", []any{e.Value}, nil
	case filter.OpLe:
		return col + " <= ?", []any{e.Value}, nil
	case filter.OpGt:
		return col + " > ?", []any{e.Value}, nil
	case filter.OpGe:
		return col + " >= ?", []any{e.Value}, nil
	case filter.OpIsNull:
		return col + " IS NULL", nil, nil
	case filter.OpNotNull:
		return col + " IS NOT NULL", nil, nil
	case filter.OpIn:
		if len(e.Values) == 0 {
			return "1 = 0", nil, nil
		}
		return col + " IN (" + placeholders(len(e.Values)) + ")", e.Values, nil
	case filter.OpNotIn:
		if len(e.Values) == 0 {
			return "1 = 1", nil, nil
		}
		return col + " NOT IN (" + placeholders(len(e.Values)) + ")", e.Values, nil
	case filter.OpLike:
		return col + " LIKE ?", []any{e.Value}, nil
	case filter.OpNotLike:
		return col + " NOT LIKE ?", []any{e.Value}, nil
	case filter.OpILike:
		if b.dialect == "postgres" {
			return col + " ILIKE ?", []any{e.Value}, nil
		}
		return "LOWER(" + col + ") LIKE LOWER(?)", []any{e.Value}, nil
	case filter.OpNotILike:
		if b.dialect == "postgres" {
			return col + " NOT ILIKE ?", []any{e.Value}, nil
		}
		return "LOWER(" + col + ") NOT LIKE LOWER(?)", []any{e.Value}, nil
	case filter.OpBetween:
		if len(e.Values) != 2 {
			return "", nil, fmt.Errorf("sqlbuild: BETWEEN on %q needs two bounds, got %d", e.Column, len(e.Values))
		}
		return col + " BETWEEN ? AND ?", e.Values, nil
	case filter.OpContains:
		return col + " LIKE ?", []any{"%" + fmt.Sprint(e.Value) + "%"}, nil
	case filter.OpPrefix:
		return col + " LIKE ?", []any{fmt.Sprint(e.Value) + "%"}, nil
	case filter.OpSuffix:
		return col + " LIKE ?", []any{"%" + fmt.Sprint(e.Value)}, nil
	default:
		return "", nil, fmt.Errorf("sqlbuild: unsupported comparison operator %q", e.Op)
	}
}

func (b *builder) exists(e filter.Exists, ent *metadata.Entity) (string, []any, error) {
	rel, ok := ent.Relationship(e.Relationship)
	if !ok {
		return "", nil, fmt.Errorf("sqlbuild: %s has no relationship %q", ent.Name(), e.Relationship)
	}
	target := rel.Target()

	var innerSQL string
	var innerArgs []any
	if e.Inner != nil {
		var err error
		innerSQL, innerArgs, err = b.build(e.Inner, target)
		if err != nil {
			return "", nil, err
		}
	}

	if jt := rel.JoinTable(); jt != "" {
		return b.existsMany2Many(rel, ent, target, jt, innerSQL, innerArgs)
	}

	conds := make([]string, 0, 2)
	for _, pair := range rel.JoinPairs() {
		conds = append(conds, fmt.Sprintf("%s = %s",
			qualify(target.Table(), pair.RelatedColumn),
			qualify(b.table(ent), pair.OwnerColumn)))
	}
	if len(conds) == 0 {
		return "", nil, fmt.Errorf("sqlbuild: relationship %s.%s has no join references", ent.Name(), e.Relationship)
	}
	if innerSQL != "" {
		conds = append(conds, "("+innerSQL+")")
	}
	sql := fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s)",
		quoteIdent(target.Table()), strings.Join(conds, " AND "))
	return sql, innerArgs, nil
}

func (b *builder) existsMany2Many(rel *metadata.Relationship, ent, target *metadata.Entity, joinTable, innerSQL string, innerArgs []any) (string, []any, error) {
	joinConds := make([]string, 0, 2)
	for _, pair := range rel.TargetPairs() {
		joinConds = append(joinConds, fmt.Sprintf("%s = %s",
			qualify(joinTable, pair.OwnerColumn),
			qualify(target.Table(), pair.RelatedColumn)))
	}
	whereConds := make([]string, 0, 2)
	for _, pair := range rel.JoinPairs() {
		whereConds = append(whereConds, fmt.Sprintf("%s = %s",
			qualify(joinTable, pair.RelatedColumn),
			qualify(b.table(ent), pair.OwnerColumn)))
	}
	if len(joinConds) == 0 || len(whereConds) == 0 {
		return "", nil, fmt.Errorf("sqlbuild: many-to-many relationship %s.%s has incomplete join references", ent.Name(), rel.Name)
	}
	if innerSQL != "" {
		whereConds = append(whereConds, "("+innerSQL+")")
	}
	sql := fmt.Sprintf("EXISTS (SELECT 1 FROM %s JOIN %s ON %s WHERE %s)",
		quoteIdent(target.Table()), quoteIdent(joinTable),
		strings.Join(joinConds, " AND "), strings.Join(whereConds, " AND "))
	return sql, innerArgs, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
