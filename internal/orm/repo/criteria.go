package repo

import (
	"fmt"
	"sort"

	"github.com/dynejs/db/internal/orm/connection"
	"github.com/dynejs/db/internal/orm/query"
)

// Conditions filters by column equality
type Conditions map[string]interface{}

// Modifier adjusts the operation's query directly
type Modifier func(q *query.Query)

// ModifierWithDB adjusts the operation's query and may build sub-queries
// on the same handle
type ModifierWithDB func(q *query.Query, db *connection.DB)

// apply narrows q by criteria. Models are accepted only where allowModel
// is set, and match on their primary key.
func (r *Repo[T]) apply(q *query.Query, db *connection.DB, criteria interface{}, allowModel bool) error {
	switch c := criteria.(type) {
	case nil:
		return nil
	case Conditions:
		whereAll(q, c)
	case map[string]interface{}:
		whereAll(q, c)
	case Modifier:
		if c != nil {
			c(q)
		}
	case func(*query.Query):
		if c != nil {
			c(q)
		}
	case ModifierWithDB:
		if c != nil {
			c(q, db)
		}
	case func(*query.Query, *connection.DB):
		if c != nil {
			c(q, db)
		}
	case T:
		if !allowModel {
			return fmt.Errorf("%w: got %T", ErrInvalidCriteria, criteria)
		}
		return r.whereModel(q, &c)
	case *T:
		if !allowModel || c == nil {
			return fmt.Errorf("%w: got %T", ErrInvalidCriteria, criteria)
		}
		return r.whereModel(q, c)
	default:
		return fmt.Errorf("%w: got %T", ErrInvalidCriteria, criteria)
	}
	return q.Err()
}

func (r *Repo[T]) whereModel(q *query.Query, model *T) error {
	id := r.binding.id(model)
	if id == "" {
		return fmt.Errorf("%w: %s has no id", ErrInvalidCriteria, r.model.Name)
	}
	q.Where(r.model.Table+".id", id)
	return nil
}

// whereAll adds one equality per key, in key order
func whereAll(q *query.Query, conditions map[string]interface{}) {
	keys := make([]string, 0, len(conditions))
	for k := range conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Where(k, conditions[k])
	}
}
