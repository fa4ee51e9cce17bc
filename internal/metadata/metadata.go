// Package metadata exposes the entity metadata the authorization engine
// needs from GORM: attribute-to-column mapping, primary keys, and
// relationships with their cardinality and join references. Schemas are
// parsed once per entity type and cached process-wide.
package metadata

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"gorm.io/gorm/schema"
)

var (
	cacheStore = &sync.Map{}
	namer      = schema.NamingStrategy{}
)

// Entity describes one mapped model type.
type Entity struct {
	Schema *schema.Schema
}

// Relationship describes a named relationship on an entity.
type Relationship struct {
	Name string
	// Many reports the cardinality: true for has-many and many-to-many,
	// false for belongs-to and has-one.
	Many bool
	rel  *schema.Relationship
}

// Lookup parses (or fetches from cache) the schema for the given model
// value and wraps it as an Entity.
func Lookup(model any) (*Entity, error) {
	s, err := schema.Parse(model, cacheStore, namer)
	if err != nil {
		return nil, fmt.Errorf("metadata: cannot parse model %T: %w", model, err)
	}
	return &Entity{Schema: s}, nil
}

// LookupType is Lookup for a reflect.Type.
func LookupType(t reflect.Type) (*Entity, error) {
	for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	return Lookup(reflect.New(t).Interface())
}

// Wrap adapts an already-parsed GORM schema.
func Wrap(s *schema.Schema) *Entity {
	return &Entity{Schema: s}
}

// Name returns the entity's Go type name.
func (e *Entity) Name() string { return e.Schema.Name }

// Table returns the entity's database table name.
func (e *Entity) Table() string { return e.Schema.Table }

// ModelType returns the entity's Go struct type.
func (e *Entity) ModelType() reflect.Type { return e.Schema.ModelType }

// PrimaryColumn returns the database column of the prioritized primary key.
func (e *Entity) PrimaryColumn() string {
	if f := e.Schema.PrioritizedPrimaryField; f != nil {
		return f.DBName
	}
	return "id"
}

// Field resolves an attribute by Go field name or database column name.
func (e *Entity) Field(name string) (*schema.Field, bool) {
	if f, ok := e.Schema.FieldsByName[name]; ok {
		return f, true
	}
	if f, ok := e.Schema.FieldsByDBName[name]; ok {
		return f, true
	}
	return nil, false
}

// Column resolves an attribute name to its database column.
func (e *Entity) Column(name string) (string, bool) {
	f, ok := e.Field(name)
	if !ok || f.DBName == "" {
		return "", false
	}
	return f.DBName, true
}

// AttributeValue reads the named attribute from an instance value. The
// second result reports whether the value is the type's zero value,
// following GORM's own accessor semantics.
func (e *Entity) AttributeValue(rv reflect.Value, name string) (any, bool, error) {
	f, ok := e.Field(name)
	if !ok {
		return nil, false, fmt.Errorf("metadata: %s has no attribute %q", e.Name(), name)
	}
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, true, nil
		}
		rv = rv.Elem()
	}
	v, isZero := f.ValueOf(context.Background(), rv)
	return v, isZero, nil
}

// Relationship resolves a named relationship on the entity.
func (e *Entity) Relationship(name string) (*Relationship, bool) {
	rel, ok := e.Schema.Relationships.Relations[name]
	if !ok {
		return nil, false
	}
	many := rel.Type == schema.HasMany || rel.Type == schema.Many2Many
	return &Relationship{Name: name, Many: many, rel: rel}, true
}

// RelationshipNames lists the entity's relationship names.
func (e *Entity) RelationshipNames() []string {
	names := make([]string, 0, len(e.Schema.Relationships.Relations))
	for name := range e.Schema.Relationships.Relations {
		names = append(names, name)
	}
	return names
}

// Target returns the related entity.
func (r *Relationship) Target() *Entity {
	return Wrap(r.rel.FieldSchema)
}

// Type returns the GORM relationship kind (belongs_to, has_one, has_many,
// many_to_many).
func (r *Relationship) Type() schema.RelationshipType { return r.rel.Type }

// BelongsTo reports whether the owner carries the foreign key.
func (r *Relationship) BelongsTo() bool { return r.rel.Type == schema.BelongsTo }

// JoinPair is one foreign-key/primary-key column pairing between two tables.
type JoinPair struct {
	OwnerColumn   string // column on the owning entity's table
	RelatedColumn string // column on the related (or join) table
}

// JoinPairs returns the column pairings linking the owner's table to the
// related table, oriented as (owner column, related column). For
// many-to-many relationships the related side names join-table columns;
// use JoinTable and TargetPairs to complete the hop.
func (r *Relationship) JoinPairs() []JoinPair {
	pairs := make([]JoinPair, 0, len(r.rel.References))
	for _, ref := range r.rel.References {
		if ref.PrimaryKey == nil || ref.ForeignKey == nil {
			continue
		}
		if ref.OwnPrimaryKey {
			// has-one / has-many / owner side of many2many: the foreign
			// key lives on the related (or join) table.
			pairs = append(pairs, JoinPair{
				OwnerColumn:   ref.PrimaryKey.DBName,
				RelatedColumn: ref.ForeignKey.DBName,
			})
		} else if r.rel.Type == schema.BelongsTo {
			// belongs-to: the foreign key lives on the owner.
			pairs = append(pairs, JoinPair{
				OwnerColumn:   ref.ForeignKey.DBName,
				RelatedColumn: ref.PrimaryKey.DBName,
			})
		}
	}
	return pairs
}

// TargetPairs returns, for many-to-many relationships, the column pairings
// linking the join table to the target table as (join column, target column).
func (r *Relationship) TargetPairs() []JoinPair {
	if r.rel.Type != schema.Many2Many {
		return nil
	}
	pairs := make([]JoinPair, 0, len(r.rel.References))
	for _, ref := range r.rel.References {
		if ref.PrimaryKey == nil || ref.ForeignKey == nil {
			continue
		}
		if !ref.OwnPrimaryKey {
			pairs = append(pairs, JoinPair{
				OwnerColumn:   ref.ForeignKey.DBName,
				RelatedColumn: ref.PrimaryKey.DBName,
			})
		}
	}
	return pairs
}

// JoinTable returns the join table name for many-to-many relationships,
// or "" for the other kinds.
func (r *Relationship) JoinTable() string {
	if r.rel.JoinTable != nil {
		return r.rel.JoinTable.Table
	}
	return ""
}

// ForeignKeyZero reports whether the owner-side foreign key columns of a
// belongs-to relationship are all zero on the given instance. The evaluator
// uses this to distinguish "no related row" from "related row not loaded".
func (r *Relationship) ForeignKeyZero(rv reflect.Value) bool {
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return true
		}
		rv = rv.Elem()
	}
	for _, ref := range r.rel.References {
		if ref.ForeignKey == nil || ref.OwnPrimaryKey {
			continue
		}
		if _, isZero := ref.ForeignKey.ValueOf(context.Background(), rv); !isZero {
			return false
		}
	}
	return true
}

// Value reads the relationship field from an instance, reporting whether
// the field is reachable.
func (r *Relationship) Value(rv reflect.Value) (reflect.Value, bool) {
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return reflect.Value{}, false
		}
		rv = rv.Elem()
	}
	if r.rel.Field == nil {
		return reflect.Value{}, false
	}
	fv := rv.FieldByIndex(r.rel.Field.StructField.Index)
	return fv, true
}
