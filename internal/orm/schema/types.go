// Package schema holds the metadata registry describing models, their
// fields and their relations
package schema

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/dynejs/db/internal/orm/query"
)

var (
	// ErrModelNotFound is returned when a model name is not registered
	ErrModelNotFound = errors.New("model not registered")

	// ErrDuplicate is returned when a model, field or relation is registered twice
	ErrDuplicate = errors.New("duplicate registration")

	// ErrInvalidDescriptor is returned when a descriptor breaks a registration invariant
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	// ErrFrozen is returned when registering into a frozen registry
	ErrFrozen = errors.New("registry is frozen")
)

// ModelDescriptor identifies a model, its table and its default eager-load set
type ModelDescriptor struct {
	Name  string
	Table string
	With  []string
}

// CastKind is the coercion applied to a field on read
type CastKind string

const (
	CastNone    CastKind = ""
	CastBoolean CastKind = "boolean"
)

// FieldDescriptor is a declared, persisted property of a model
type FieldDescriptor struct {
	Model string
	Name  string
	Cast  CastKind
}

// RelationKind enumerates the supported relation shapes
type RelationKind string

const (
	HasOne        RelationKind = "has_one"
	HasMany       RelationKind = "has_many"
	BelongsTo     RelationKind = "belongs_to"
	BelongsToMany RelationKind = "belongs_to_many"
)

// Valid reports whether k is one of the four relation kinds
func (k RelationKind) Valid() bool {
	switch k {
	case HasOne, HasMany, BelongsTo, BelongsToMany:
		return true
	}
	return false
}

// QueryFunc further constrains a relation's secondary query
type QueryFunc func(q *query.Query)

// RelationDescriptor describes one navigable relation from Model.
// Target is a model name looked up at resolution time, so two models may
// reference each other regardless of declaration order. Empty key
// columns are derived by Registry.Resolve.
type RelationDescriptor struct {
	Model    string
	Property string
	Kind     RelationKind
	Target   string

	LocalKey   string
	ForeignKey string

	JoinTable   string
	LocalJoin   string
	ForeignJoin string

	// Single forces at-most-one results; has_one and belongs_to are always single
	Single bool
	Pivot  []string
	Query  QueryFunc
}

// IsSingle reports whether the relation yields at most one row
func (d RelationDescriptor) IsSingle() bool {
	return d.Single || d.Kind == HasOne || d.Kind == BelongsTo
}

// ResolvedRelation is a relation with every key column filled in and the
// owner and target tables looked up
type ResolvedRelation struct {
	RelationDescriptor
	OwnerTable  string
	TargetTable string
}

func (d RelationDescriptor) clone() RelationDescriptor {
	c := d
	if d.Pivot != nil {
		c.Pivot = append([]string(nil), d.Pivot...)
	}
	return c
}

func (d ModelDescriptor) clone() ModelDescriptor {
	c := d
	if d.With != nil {
		c.With = append([]string(nil), d.With...)
	}
	return c
}

func (d RelationDescriptor) validate() error {
	if d.Model == "" || d.Property == "" {
		return fmt.Errorf("%w: relation needs a model and a property", ErrInvalidDescriptor)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: %s.%s has unknown kind %q", ErrInvalidDescriptor, d.Model, d.Property, d.Kind)
	}
	if d.Target == "" {
		return fmt.Errorf("%w: %s.%s has no target model", ErrInvalidDescriptor, d.Model, d.Property)
	}
	if d.Kind != BelongsToMany && (d.JoinTable != "" || d.LocalJoin != "" || d.ForeignJoin != "" || len(d.Pivot) > 0) {
		return fmt.Errorf("%w: %s.%s: join table columns are only valid on %s",
			ErrInvalidDescriptor, d.Model, d.Property, BelongsToMany)
	}
	return nil
}

// NameOf returns the registry name of a model type: its Go type name
func NameOf[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// toSnakeCase converts a model name such as BlogPost into blog_post
func toSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			if prev >= 'a' && prev <= 'z' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}
