// Package migrate applies and rolls back SQL migrations kept in one or
// more directories, tracking them in batches
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cast"

	"github.com/dynejs/db/internal/orm/connection"
	"github.com/dynejs/db/internal/orm/query"
)

// DefaultTable is the migration tracking table
const DefaultTable = "dyne_migrations"

// Record is one applied migration
type Record struct {
	Name          string
	Batch         int
	MigrationTime time.Time
}

// Tracker manages migration history in the database
type Tracker struct {
	db      *sql.DB
	dialect query.Dialect
	table   string
}

// NewTracker creates a new migration tracker
func NewTracker(db *sql.DB, dialect query.Dialect, table string) *Tracker {
	if table == "" {
		table = DefaultTable
	}
	return &Tracker{db: db, dialect: dialect, table: table}
}

// Table returns the tracking table name
func (t *Tracker) Table() string {
	return t.table
}

// Initialize ensures the tracking table exists
func (t *Tracker) Initialize(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id %s,
	name VARCHAR(255) NOT NULL,
	batch INTEGER NOT NULL,
	migration_time %s
)`, t.dialect.Quote(t.table), serialPrimaryKey(t.dialect), timestampType(t.dialect))

	if _, err := t.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}
	return nil
}

// Applied returns every applied migration in the order it was applied
func (t *Tracker) Applied(ctx context.Context) ([]Record, error) {
	rows, err := connection.NewDB(t.db, t.dialect, nil).Table(t.table).
		Select("name", "batch", "migration_time").
		OrderBy("id", "asc").
		Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := Record{
			Name:  cast.ToString(row["name"]),
			Batch: cast.ToInt(row["batch"]),
		}
		if row["migration_time"] != nil {
			if rec.MigrationTime, err = cast.ToTimeE(row["migration_time"]); err != nil {
				return nil, fmt.Errorf("migration %s has an unreadable time: %w", rec.Name, err)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// LastBatch returns the highest batch number, or 0 when nothing is applied
func (t *Tracker) LastBatch(ctx context.Context) (int, error) {
	records, err := t.Applied(ctx)
	if err != nil {
		return 0, err
	}
	last := 0
	for _, rec := range records {
		if rec.Batch > last {
			last = rec.Batch
		}
	}
	return last, nil
}

// Record marks a migration as applied, inside db's transaction
func (t *Tracker) Record(ctx context.Context, db *connection.DB, name string, batch int, at time.Time) error {
	err := db.Table(t.table).Insert(ctx, query.Row{
		"name":           name,
		"batch":          batch,
		"migration_time": at,
	})
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return nil
}

// Remove deletes a migration record, inside db's transaction
func (t *Tracker) Remove(ctx context.Context, db *connection.DB, name string) error {
	n, err := db.Table(t.table).Where("name", name).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove migration: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("migration %s not found", name)
	}
	return nil
}

func serialPrimaryKey(d query.Dialect) string {
	switch d {
	case query.Postgres:
		return "SERIAL PRIMARY KEY"
	default:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

func timestampType(d query.Dialect) string {
	if d == query.Postgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}
