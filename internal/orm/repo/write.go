package repo

import (
	"context"
	"fmt"
	"reflect"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/dynejs/db/internal/orm/connection"
	"github.com/dynejs/db/internal/orm/pivot"
	"github.com/dynejs/db/internal/orm/query"
	"github.com/dynejs/db/internal/orm/schema"
)

const (
	idColumn        = "id"
	createdAtColumn = "created_at"
	updatedAtColumn = "updated_at"
)

// Create inserts a model built from attrs and returns its id. A
// non-empty id in attrs is kept; otherwise one is generated.
func (r *Repo[T]) Create(ctx context.Context, attrs map[string]interface{}) (string, error) {
	now := r.opts.clock().UTC()

	input := make(map[string]interface{}, len(attrs)+3)
	for k, v := range attrs {
		input[k] = v
	}
	if id, ok := input[idColumn]; !ok || id == nil || id == "" {
		input[idColumn] = r.opts.ids.NewID()
	}
	input[createdAtColumn] = now
	input[updatedAtColumn] = now

	columns := append(r.fieldNames(), idColumn, createdAtColumn, updatedAtColumn)
	row, model, err := r.prepare(ctx, input, columns)
	if err != nil {
		return "", err
	}

	db := r.handle(ctx)
	if err := db.Table(r.model.Table).Insert(ctx, row); err != nil {
		return "", err
	}

	id := r.binding.id(model)
	if id == "" {
		id = cast.ToString(row[idColumn])
	}
	r.opts.logger.Debug("record created", zap.String("id", id))
	return id, nil
}

// Update writes attrs to every model matching criteria and reports
// whether any row changed. updated_at is always set.
func (r *Repo[T]) Update(ctx context.Context, criteria interface{}, attrs map[string]interface{}) (bool, error) {
	db := r.handle(ctx)
	q := db.Table(r.model.Table)
	if err := r.apply(q, db, criteria, true); err != nil {
		return false, err
	}

	input := make(map[string]interface{}, len(attrs)+1)
	for k, v := range attrs {
		if k == idColumn || k == createdAtColumn {
			continue
		}
		input[k] = v
	}
	input[updatedAtColumn] = r.opts.clock().UTC()

	columns := append(r.fieldNames(), updatedAtColumn)
	row, _, err := r.prepare(ctx, input, columns)
	if err != nil {
		return false, err
	}
	delete(row, idColumn)
	delete(row, createdAtColumn)

	affected, err := q.Update(ctx, row)
	if err != nil {
		return false, err
	}
	r.opts.logger.Debug("records updated", zap.Int64("affected", affected))
	return affected > 0, nil
}

// CreateOrUpdate creates model when its id is empty and updates the
// stored row otherwise. It returns the id and whether a row was written.
func (r *Repo[T]) CreateOrUpdate(ctx context.Context, model *T) (string, bool, error) {
	if model == nil {
		return "", false, fmt.Errorf("%w: nil %s", ErrInvalidCriteria, r.model.Name)
	}

	attrs := r.binding.values(model, r.fieldNames())
	id := r.binding.id(model)
	if id == "" {
		delete(attrs, idColumn)
		id, err := r.Create(ctx, attrs)
		if err != nil {
			return "", false, err
		}
		return id, true, nil
	}

	delete(attrs, createdAtColumn)
	delete(attrs, updatedAtColumn)
	updated, err := r.Update(ctx, model, attrs)
	if err != nil {
		return "", false, err
	}
	return id, updated, nil
}

// Destroy deletes every model matching criteria and reports whether any
// row was removed
func (r *Repo[T]) Destroy(ctx context.Context, criteria interface{}) (bool, error) {
	db := r.handle(ctx)
	q := db.Table(r.model.Table)
	if err := r.apply(q, db, criteria, true); err != nil {
		return false, err
	}

	affected, err := q.Delete(ctx)
	if err != nil {
		return false, err
	}
	r.opts.logger.Debug("records deleted", zap.Int64("affected", affected))
	return affected > 0, nil
}

// Sync makes the belongs_to_many relation of ownerID hold exactly
// desired. In strict mode the writes share one transaction.
func (r *Repo[T]) Sync(ctx context.Context, relation, ownerID string, desired []pivot.Target) error {
	d, ok := r.reg.FindRelation(r.model.Name, relation)
	if !ok {
		return fmt.Errorf("%w for: %s and relation: %s", ErrRelationNotFound, r.model.Name, relation)
	}
	if d.Kind != schema.BelongsToMany {
		return fmt.Errorf("%w: %s.%s is %s", ErrNotManyToMany, r.model.Name, relation, d.Kind)
	}
	rel, err := r.reg.Resolve(d)
	if err != nil {
		return err
	}

	if !r.opts.strictSync {
		_, err := pivot.Sync(ctx, r.handle(ctx), rel, ownerID, desired)
		return err
	}
	return r.tx.WithTransaction(ctx, func(ctx context.Context, db *connection.DB) error {
		_, err := pivot.Sync(ctx, db, rel, ownerID, desired)
		return err
	})
}

// prepare builds a model from input, runs its Transform hook and returns
// the row to write: every column in columns that input supplied or the
// hook changed
func (r *Repo[T]) prepare(ctx context.Context, input map[string]interface{}, columns []string) (query.Row, *T, error) {
	model := new(T)
	if err := decode(input, model); err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s: %w", r.model.Name, err)
	}

	before := r.binding.values(model, columns)
	if t, ok := any(model).(Transformer); ok {
		if err := t.Transform(ctx); err != nil {
			return nil, nil, err
		}
	}
	after := r.binding.values(model, columns)

	row := make(query.Row, len(columns))
	for _, col := range columns {
		supplied, ok := input[col]
		value, bound := after[col]
		if !bound {
			if ok {
				row[col] = supplied
			}
			continue
		}
		if ok || !reflect.DeepEqual(before[col], value) {
			row[col] = value
		}
	}
	return row, model, nil
}

func (r *Repo[T]) fieldNames() []string {
	fields := r.reg.GetFields(r.model.Name)
	names := make([]string, 0, len(fields)+3)
	for _, f := range fields {
		names = append(names, f.Name)
	}
	return names
}
