package repo

import (
	"context"
	"fmt"
	"reflect"

	"github.com/dynejs/db/internal/orm/connection"
	"github.com/dynejs/db/internal/orm/query"
)

// DefaultPageSize is used by Paginate when size is not positive
const DefaultPageSize = 30

// Page is one page of results. Current is 1-based.
type Page[T any] struct {
	Current int   `json:"current"`
	Pages   int   `json:"pages"`
	Total   int64 `json:"total"`
	Data    []T   `json:"data"`
}

// Get returns every model matching criteria. with names the relations to
// load; without it the model's default set is loaded. Pass
// relationships.None to load nothing.
func (r *Repo[T]) Get(ctx context.Context, criteria interface{}, with ...string) ([]T, error) {
	db := r.handle(ctx)
	q := db.Table(r.model.Table)
	if err := r.apply(q, db, criteria, false); err != nil {
		return nil, err
	}
	return r.load(ctx, db, q, with)
}

// Find returns the first model matching criteria, or nil when none does
func (r *Repo[T]) Find(ctx context.Context, criteria interface{}, with ...string) (*T, error) {
	db := r.handle(ctx)
	q := db.Table(r.model.Table)
	if err := r.apply(q, db, criteria, false); err != nil {
		return nil, err
	}

	models, err := r.load(ctx, db, q.Limit(1), with)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	return &models[0], nil
}

// Paginate returns page offset (0-based) of size models matching criteria
func (r *Repo[T]) Paginate(ctx context.Context, size, offset int, criteria interface{}) (*Page[T], error) {
	if size <= 0 {
		size = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	db := r.handle(ctx)
	q := db.Table(r.model.Table)
	if err := r.apply(q, db, criteria, false); err != nil {
		return nil, err
	}

	total, err := q.Clone().Count(ctx)
	if err != nil {
		return nil, err
	}

	data, err := r.load(ctx, db, q.Limit(size).Offset(offset*size), nil)
	if err != nil {
		return nil, err
	}

	return &Page[T]{
		Current: offset + 1,
		Pages:   int((total + int64(size) - 1) / int64(size)),
		Total:   total,
		Data:    data,
	}, nil
}

// Cast builds a model from params, copying only declared fields, and
// only those in allowed when any are given
func (r *Repo[T]) Cast(params map[string]interface{}, allowed ...string) (*T, error) {
	allow := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allow[name] = true
	}

	input := make(query.Row)
	for _, f := range r.reg.GetFields(r.model.Name) {
		if len(allow) > 0 && !allow[f.Name] {
			continue
		}
		if v, ok := params[f.Name]; ok {
			input[f.Name] = castValue(f, v)
		}
	}

	model := new(T)
	if err := decode(input, model); err != nil {
		return nil, fmt.Errorf("failed to cast %s: %w", r.model.Name, err)
	}
	return model, nil
}

func (r *Repo[T]) load(ctx context.Context, db *connection.DB, q *query.Query, with []string) ([]T, error) {
	rows, err := q.Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.resolver(db).Resolve(ctx, r.model.Name, rows, with); err != nil {
		return nil, err
	}

	models := make([]T, len(rows))
	for i, row := range rows {
		if err := decode(projectRow(r.reg, r.model.Name, row, nil), &models[i]); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", r.model.Name, err)
		}
		formatTree(r.reg, r.model.Name, reflect.ValueOf(&models[i]).Elem())
	}
	return models, nil
}
