package schema

import (
	"errors"
	"fmt"
)

// ModelBuilder collects the declaration of one model and writes it into
// a registry with Register
type ModelBuilder struct {
	reg       *Registry
	model     ModelDescriptor
	fields    []FieldDescriptor
	relations []RelationDescriptor
}

// Define starts the declaration of model name backed by table
func Define(reg *Registry, name, table string) *ModelBuilder {
	return &ModelBuilder{
		reg:   reg,
		model: ModelDescriptor{Name: name, Table: table},
	}
}

// DefineOf starts the declaration of the Go type T backed by table
func DefineOf[T any](reg *Registry, table string) *ModelBuilder {
	return Define(reg, NameOf[T](), table)
}

// With sets the relations eager-loaded when a read names none
func (b *ModelBuilder) With(relations ...string) *ModelBuilder {
	b.model.With = append(b.model.With, relations...)
	return b
}

// Field declares a persisted field with an optional cast
func (b *ModelBuilder) Field(name string, cast ...CastKind) *ModelBuilder {
	d := FieldDescriptor{Model: b.model.Name, Name: name}
	if len(cast) > 0 {
		d.Cast = cast[0]
	}
	b.fields = append(b.fields, d)
	return b
}

// Fields declares several uncast fields
func (b *ModelBuilder) Fields(names ...string) *ModelBuilder {
	for _, name := range names {
		b.Field(name)
	}
	return b
}

// RelationOption customizes a relation declaration
type RelationOption func(*RelationDescriptor)

// LocalKey sets the owner-side key column
func LocalKey(column string) RelationOption {
	return func(d *RelationDescriptor) { d.LocalKey = column }
}

// ForeignKey sets the target-side key column
func ForeignKey(column string) RelationOption {
	return func(d *RelationDescriptor) { d.ForeignKey = column }
}

// JoinTable sets the pivot table of a belongs_to_many relation
func JoinTable(table string) RelationOption {
	return func(d *RelationDescriptor) { d.JoinTable = table }
}

// LocalJoin sets the pivot column referencing the owner
func LocalJoin(column string) RelationOption {
	return func(d *RelationDescriptor) { d.LocalJoin = column }
}

// ForeignJoin sets the pivot column referencing the target
func ForeignJoin(column string) RelationOption {
	return func(d *RelationDescriptor) { d.ForeignJoin = column }
}

// Pivot projects extra pivot columns onto the related rows
func Pivot(columns ...string) RelationOption {
	return func(d *RelationDescriptor) { d.Pivot = append(d.Pivot, columns...) }
}

// Scope constrains the relation's secondary query
func Scope(fn QueryFunc) RelationOption {
	return func(d *RelationDescriptor) { d.Query = fn }
}

// Single makes the relation yield at most one row
func Single() RelationOption {
	return func(d *RelationDescriptor) { d.Single = true }
}

// HasOne declares a one-to-one relation whose foreign key lives on target
func (b *ModelBuilder) HasOne(property, target string, opts ...RelationOption) *ModelBuilder {
	return b.relation(HasOne, property, target, opts)
}

// HasMany declares a one-to-many relation whose foreign key lives on target
func (b *ModelBuilder) HasMany(property, target string, opts ...RelationOption) *ModelBuilder {
	return b.relation(HasMany, property, target, opts)
}

// BelongsTo declares an inverse relation whose foreign key lives on the owner
func (b *ModelBuilder) BelongsTo(property, target string, opts ...RelationOption) *ModelBuilder {
	return b.relation(BelongsTo, property, target, opts)
}

// BelongsToMany declares a many-to-many relation through a pivot table
func (b *ModelBuilder) BelongsToMany(property, target string, opts ...RelationOption) *ModelBuilder {
	return b.relation(BelongsToMany, property, target, opts)
}

func (b *ModelBuilder) relation(kind RelationKind, property, target string, opts []RelationOption) *ModelBuilder {
	d := RelationDescriptor{
		Model:    b.model.Name,
		Property: property,
		Kind:     kind,
		Target:   target,
	}
	for _, opt := range opts {
		opt(&d)
	}
	b.relations = append(b.relations, d)
	return b
}

// Register writes the model, its fields and its relations into the
// registry. Every failure is reported, joined into one error.
func (b *ModelBuilder) Register() error {
	var errs []error

	if err := b.reg.RegisterModel(b.model); err != nil {
		errs = append(errs, err)
	}
	for _, f := range b.fields {
		if err := b.reg.RegisterField(f); err != nil {
			errs = append(errs, err)
		}
	}
	for _, rel := range b.relations {
		if err := b.reg.RegisterRelation(rel); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("model %s: %w", b.model.Name, errors.Join(errs...))
	}
	return nil
}

// MustRegister is Register that panics, for package-level declarations
func (b *ModelBuilder) MustRegister() {
	if err := b.Register(); err != nil {
		panic(err)
	}
}
