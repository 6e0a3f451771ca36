package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the catalog of model, field and relation descriptors.
// It is populated once at declaration time and read thereafter; Freeze
// marks the end of declaration. Every descriptor is copied on the way in
// and on the way out.
type Registry struct {
	mu sync.RWMutex

	models   []ModelDescriptor
	modelIdx map[string]int

	fields   map[string][]FieldDescriptor
	fieldIdx map[string]map[string]int

	relations map[string][]RelationDescriptor
	relIdx    map[string]map[string]int

	frozen bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	r := &Registry{}
	r.init()
	return r
}

func (r *Registry) init() {
	r.models = nil
	r.modelIdx = make(map[string]int)
	r.fields = make(map[string][]FieldDescriptor)
	r.fieldIdx = make(map[string]map[string]int)
	r.relations = make(map[string][]RelationDescriptor)
	r.relIdx = make(map[string]map[string]int)
	r.frozen = false
}

// RegisterModel registers a model descriptor
func (r *Registry) RegisterModel(d ModelDescriptor) error {
	if d.Name == "" || d.Table == "" {
		return fmt.Errorf("%w: model needs a name and a table", ErrInvalidDescriptor)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	if _, exists := r.modelIdx[d.Name]; exists {
		return fmt.Errorf("%w: model %s", ErrDuplicate, d.Name)
	}

	r.modelIdx[d.Name] = len(r.models)
	r.models = append(r.models, d.clone())
	return nil
}

// RegisterField registers a field descriptor. Fields may be registered
// before their model.
func (r *Registry) RegisterField(d FieldDescriptor) error {
	if d.Model == "" || d.Name == "" {
		return fmt.Errorf("%w: field needs a model and a name", ErrInvalidDescriptor)
	}
	if d.Cast != CastNone && d.Cast != CastBoolean {
		return fmt.Errorf("%w: %s.%s has unknown cast %q", ErrInvalidDescriptor, d.Model, d.Name, d.Cast)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	idx, ok := r.fieldIdx[d.Model]
	if !ok {
		idx = make(map[string]int)
		r.fieldIdx[d.Model] = idx
	}
	if _, exists := idx[d.Name]; exists {
		return fmt.Errorf("%w: field %s.%s", ErrDuplicate, d.Model, d.Name)
	}

	idx[d.Name] = len(r.fields[d.Model])
	r.fields[d.Model] = append(r.fields[d.Model], d)
	return nil
}

// RegisterRelation registers a relation descriptor. The target model is
// not checked here; it is looked up when the relation is resolved.
func (r *Registry) RegisterRelation(d RelationDescriptor) error {
	if err := d.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	idx, ok := r.relIdx[d.Model]
	if !ok {
		idx = make(map[string]int)
		r.relIdx[d.Model] = idx
	}
	if _, exists := idx[d.Property]; exists {
		return fmt.Errorf("%w: relation %s.%s", ErrDuplicate, d.Model, d.Property)
	}

	idx[d.Property] = len(r.relations[d.Model])
	r.relations[d.Model] = append(r.relations[d.Model], d.clone())
	return nil
}

// GetModel retrieves a model descriptor by name
func (r *Registry) GetModel(name string) (ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.modelIdx[name]
	if !ok {
		return ModelDescriptor{}, false
	}
	return r.models[i].clone(), true
}

// Models returns every model in registration order
func (r *Registry) Models() []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelDescriptor, len(r.models))
	for i, m := range r.models {
		out[i] = m.clone()
	}
	return out
}

// GetFields returns the fields of a model in registration order
func (r *Registry) GetFields(name string) []FieldDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]FieldDescriptor{}, r.fields[name]...)
}

// FindField looks up one field of a model
func (r *Registry) FindField(name, property string) (FieldDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.fieldIdx[name][property]
	if !ok {
		return FieldDescriptor{}, false
	}
	return r.fields[name][i], true
}

// GetRelations returns the relations of a model in registration order
func (r *Registry) GetRelations(name string) []RelationDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RelationDescriptor, len(r.relations[name]))
	for i, rel := range r.relations[name] {
		out[i] = rel.clone()
	}
	return out
}

// FindRelation looks up one relation of a model by property name
func (r *Registry) FindRelation(name, property string) (RelationDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.relIdx[name][property]
	if !ok {
		return RelationDescriptor{}, false
	}
	return r.relations[name][i].clone(), true
}

// Resolve fills in defaulted key columns and looks up both tables
func (r *Registry) Resolve(d RelationDescriptor) (ResolvedRelation, error) {
	owner, ok := r.GetModel(d.Model)
	if !ok {
		return ResolvedRelation{}, fmt.Errorf("%w: %s", ErrModelNotFound, d.Model)
	}
	target, ok := r.GetModel(d.Target)
	if !ok {
		return ResolvedRelation{}, fmt.Errorf("%w: %s (target of %s.%s)", ErrModelNotFound, d.Target, d.Model, d.Property)
	}

	resolved := ResolvedRelation{
		RelationDescriptor: d.clone(),
		OwnerTable:         owner.Table,
		TargetTable:        target.Table,
	}
	rel := &resolved.RelationDescriptor
	ownerName := toSnakeCase(d.Model)
	targetName := toSnakeCase(d.Target)

	switch d.Kind {
	case HasOne, HasMany:
		rel.LocalKey = orDefault(rel.LocalKey, "id")
		rel.ForeignKey = orDefault(rel.ForeignKey, ownerName+"_id")

	case BelongsTo:
		rel.LocalKey = orDefault(rel.LocalKey, targetName+"_id")
		rel.ForeignKey = orDefault(rel.ForeignKey, "id")

	case BelongsToMany:
		rel.LocalKey = orDefault(rel.LocalKey, "id")
		rel.ForeignKey = orDefault(rel.ForeignKey, "id")
		rel.LocalJoin = orDefault(rel.LocalJoin, ownerName+"_id")
		rel.ForeignJoin = orDefault(rel.ForeignJoin, targetName+"_id")
		if rel.JoinTable == "" {
			rel.JoinTable = JoinTableName(d.Model, d.Target)
		}

	default:
		return ResolvedRelation{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidDescriptor, d.Kind)
	}

	return resolved, nil
}

// JoinTableName derives the default pivot table for two models: both
// names snake_cased, sorted and joined with an underscore
func JoinTableName(owner, target string) string {
	names := []string{toSnakeCase(owner), toSnakeCase(target)}
	sort.Strings(names)
	return names[0] + "_" + names[1]
}

// Freeze rejects further registrations
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze has been called
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Reset removes every descriptor and unfreezes the registry (useful for testing)
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
