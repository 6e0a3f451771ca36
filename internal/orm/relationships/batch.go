package relationships

import (
	"fmt"

	"github.com/dynejs/db/internal/orm/query"
	"github.com/dynejs/db/internal/orm/schema"
)

// buildQuery constructs the secondary query for rel over the parent
// rows. It returns nil when no parent carries a key, in which case no
// query is issued.
func (r *Resolver) buildQuery(rel schema.ResolvedRelation, rows []query.Row) (*query.Query, error) {
	keys, err := collectKeys(rows, rel.LocalKey)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	var q *query.Query
	switch rel.Kind {
	case schema.HasOne, schema.HasMany, schema.BelongsTo:
		// the foreign key lives on the target for has_*, and the target's
		// own key is the match column for belongs_to
		q = r.db.Table(rel.TargetTable).
			WhereIn(rel.TargetTable+"."+rel.ForeignKey, keys)

	case schema.BelongsToMany:
		q = r.db.Table(rel.TargetTable).
			Select(rel.TargetTable+".*", rel.JoinTable+"."+rel.LocalJoin+" as "+parentKeyColumn)
		for _, column := range rel.Pivot {
			q.Select(rel.JoinTable + "." + column)
		}
		q.LeftJoin(rel.JoinTable, rel.JoinTable+"."+rel.ForeignJoin, rel.TargetTable+"."+rel.ForeignKey).
			WhereIn(rel.JoinTable+"."+rel.LocalJoin, keys)

	default:
		return nil, fmt.Errorf("%w: %s", schema.ErrInvalidDescriptor, rel.Kind)
	}

	if rel.Query != nil {
		rel.Query(q)
	}
	return q, nil
}

// merge attaches related rows to their parents. belongs_to_many rows are
// matched on the pivot's owner column, never on the target's own key,
// since one target row may belong to several parents. Single relations
// get the first match or nil; collections get an ordered, never-nil slice.
func merge(rel schema.ResolvedRelation, rows, related []query.Row) error {
	matchColumn := rel.ForeignKey
	if rel.Kind == schema.BelongsToMany {
		matchColumn = parentKeyColumn
	}

	grouped := make(map[string][]query.Row)
	for _, record := range related {
		value := record[matchColumn]
		if rel.Kind == schema.BelongsToMany {
			delete(record, parentKeyColumn)
		}
		if value == nil {
			continue
		}
		k, err := query.KeyString(value)
		if err != nil {
			return err
		}
		grouped[k] = append(grouped[k], record)
	}

	values := make([]interface{}, len(rows))
	for i, row := range rows {
		var matches []query.Row
		if value := row[rel.LocalKey]; value != nil {
			k, err := query.KeyString(value)
			if err != nil {
				return err
			}
			matches = grouped[k]
		}

		if rel.IsSingle() {
			if len(matches) > 0 {
				values[i] = matches[0]
			} else {
				values[i] = nil
			}
			continue
		}
		if matches == nil {
			matches = []query.Row{}
		}
		values[i] = matches
	}

	for i, row := range rows {
		row[rel.Property] = values[i]
	}
	return nil
}

// collectKeys returns the distinct non-nil values of column in first-seen order
func collectKeys(rows []query.Row, column string) ([]interface{}, error) {
	seen := make(map[string]bool, len(rows))
	keys := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		value := row[column]
		if value == nil {
			continue
		}
		k, err := query.KeyString(value)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, value)
	}
	return keys, nil
}
