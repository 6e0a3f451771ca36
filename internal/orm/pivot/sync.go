// Package pivot reconciles belongs-to-many join tables against a desired
// set of related ids
package pivot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dynejs/db/internal/orm/connection"
	"github.com/dynejs/db/internal/orm/query"
	"github.com/dynejs/db/internal/orm/schema"
)

var (
	// ErrNotManyToMany is returned when Sync is given a relation without a join table
	ErrNotManyToMany = errors.New("relation is not belongs_to_many")

	// ErrEmptyOwner is returned when the owner id is blank
	ErrEmptyOwner = errors.New("owner id is required")
)

// Target is one desired related record. Extra columns are written to the
// join row when the association is created.
type Target struct {
	ID    string
	Extra map[string]interface{}
}

// IDs builds targets without extra columns
func IDs(ids ...string) []Target {
	targets := make([]Target, len(ids))
	for i, id := range ids {
		targets[i] = Target{ID: id}
	}
	return targets
}

// Result lists the related ids whose join rows were removed and added
type Result struct {
	Deleted []string
	Created []string
}

// Changed reports whether the sync wrote anything
func (r Result) Changed() bool {
	return len(r.Deleted) > 0 || len(r.Created) > 0
}

// Sync makes the join rows for ownerID match desired. Rows already present
// are left untouched, so repeating a call with the same set writes nothing.
// Statements run on db as given; callers wanting all-or-nothing behaviour
// pass a transaction-bound handle.
func Sync(ctx context.Context, db *connection.DB, rel schema.ResolvedRelation, ownerID string, desired []Target) (Result, error) {
	var result Result
	if rel.Kind != schema.BelongsToMany || rel.JoinTable == "" {
		return result, fmt.Errorf("%w: %s.%s", ErrNotManyToMany, rel.Model, rel.Property)
	}
	if ownerID == "" {
		return result, ErrEmptyOwner
	}

	current, err := currentIDs(ctx, db, rel, ownerID)
	if err != nil {
		return result, err
	}

	wanted := make(map[string]struct{}, len(desired))
	for _, target := range desired {
		wanted[target.ID] = struct{}{}
	}

	existing := make(map[string]struct{}, len(current))
	for _, id := range current {
		existing[id] = struct{}{}
		if _, keep := wanted[id]; keep {
			continue
		}
		_, err := db.Table(rel.JoinTable).
			Where(rel.LocalJoin, ownerID).
			Where(rel.ForeignJoin, id).
			Delete(ctx)
		if err != nil {
			return result, err
		}
		result.Deleted = append(result.Deleted, id)
	}

	for _, target := range desired {
		if _, ok := existing[target.ID]; ok {
			continue
		}
		// collapse duplicates in desired
		existing[target.ID] = struct{}{}

		row := make(query.Row, len(target.Extra)+2)
		for k, v := range target.Extra {
			row[k] = v
		}
		row[rel.LocalJoin] = ownerID
		row[rel.ForeignJoin] = target.ID

		if err := db.Table(rel.JoinTable).Insert(ctx, row); err != nil {
			return result, err
		}
		result.Created = append(result.Created, target.ID)
	}

	db.Logger().Debug("pivot synced",
		zap.String("table", rel.JoinTable),
		zap.String("owner", ownerID),
		zap.Strings("deleted", result.Deleted),
		zap.Strings("created", result.Created),
	)
	return result, nil
}

// currentIDs returns the related ids joined to ownerID in storage order,
// without duplicates
func currentIDs(ctx context.Context, db *connection.DB, rel schema.ResolvedRelation, ownerID string) ([]string, error) {
	rows, err := db.Table(rel.JoinTable).Where(rel.LocalJoin, ownerID).Get(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		value, ok := row[rel.ForeignJoin]
		if !ok || value == nil {
			continue
		}
		id, err := query.KeyString(value)
		if err != nil {
			return nil, fmt.Errorf("join row %s.%s: %w", rel.JoinTable, rel.ForeignJoin, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}
