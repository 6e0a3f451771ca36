package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dynejs/db/internal/logging"
	"github.com/dynejs/db/internal/orm/connection"
	"github.com/dynejs/db/internal/orm/query"
)

var (
	// ErrNoDownMigration is returned when rolling back a migration without down SQL
	ErrNoDownMigration = errors.New("migration has no down migration")

	// ErrMissingMigration is returned when an applied migration is no longer on disk
	ErrMissingMigration = errors.New("applied migration not found in migration directories")
)

// Status describes one migration known on disk or in the tracking table
type Status struct {
	Name          string
	Applied       bool
	Batch         int
	MigrationTime time.Time
	// Missing is set for applied migrations whose files are gone
	Missing bool
}

// Option configures a Migrator
type Option func(*Migrator)

// WithTable sets the tracking table; the lock table is derived from it
func WithTable(table string) Option {
	return func(m *Migrator) {
		if table != "" {
			m.table = table
		}
	}
}

// WithLocker replaces the default table lock
func WithLocker(l Locker) Option {
	return func(m *Migrator) { m.locker = l }
}

// WithClock sets the time source for migration_time
func WithClock(clock func() time.Time) Option {
	return func(m *Migrator) { m.clock = clock }
}

// Migrator executes migrations with transaction support
type Migrator struct {
	db      *sql.DB
	dialect query.Dialect
	logger  *zap.Logger
	table   string
	locker  Locker
	clock   func() time.Time
	tracker *Tracker
	dirs    []string
}

// NewMigrator creates a migrator over db
func NewMigrator(db *sql.DB, dialect query.Dialect, logger *zap.Logger, opts ...Option) *Migrator {
	m := &Migrator{
		db:      db,
		dialect: dialect,
		logger:  logging.OrNop(logger),
		table:   DefaultTable,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.locker == nil {
		m.locker = NewTableLocker(db, dialect, m.table+"_lock")
	}
	m.tracker = NewTracker(db, dialect, m.table)
	return m
}

// AddDir registers a directory searched by every run
func (m *Migrator) AddDir(dir string) {
	m.dirs = append(m.dirs, filepath.Clean(dir))
}

// Dirs returns the registered directories
func (m *Migrator) Dirs() []string {
	return append([]string(nil), m.dirs...)
}

// Migrate applies every pending migration as one new batch and returns
// the migrations it applied. dirs are searched in addition to the
// registered directories.
func (m *Migrator) Migrate(ctx context.Context, dirs ...string) ([]*Migration, error) {
	var applied []*Migration
	err := m.locked(ctx, func() error {
		all, err := load(m.searchDirs(dirs))
		if err != nil {
			return err
		}

		records, err := m.tracker.Applied(ctx)
		if err != nil {
			return err
		}
		done := make(map[string]bool, len(records))
		batch := 0
		for _, rec := range records {
			done[rec.Name] = true
			if rec.Batch > batch {
				batch = rec.Batch
			}
		}
		batch++

		var pending []*Migration
		for _, mig := range all {
			if done[mig.Name] {
				continue
			}
			if err := validateSQL(mig.Name, mig.Up); err != nil {
				return err
			}
			if err := validateSQL(mig.Name, mig.Down); err != nil {
				return err
			}
			pending = append(pending, mig)
		}

		if len(pending) == 0 {
			m.logger.Info("no pending migrations")
			return nil
		}
		m.logger.Info("found pending migrations", zap.Int("count", len(pending)), zap.Int("batch", batch))

		for _, mig := range pending {
			start := time.Now()
			err := m.inTx(ctx, mig.Up, func(db *connection.DB) error {
				return m.tracker.Record(ctx, db, mig.Name, batch, m.clock().UTC())
			})
			if err != nil {
				return fmt.Errorf("migration %s failed: %w", mig.Name, err)
			}
			applied = append(applied, mig)
			m.logger.Info("applied migration",
				zap.String("name", mig.Name),
				zap.Int("batch", batch),
				zap.Duration("duration", time.Since(start)),
			)
		}
		return nil
	})
	return applied, err
}

// Rollback reverts the most recent batch, newest migration first, and
// returns the migrations it reverted
func (m *Migrator) Rollback(ctx context.Context, dirs ...string) ([]*Migration, error) {
	var reverted []*Migration
	err := m.locked(ctx, func() error {
		all, err := load(m.searchDirs(dirs))
		if err != nil {
			return err
		}
		byName := make(map[string]*Migration, len(all))
		for _, mig := range all {
			byName[mig.Name] = mig
		}

		records, err := m.tracker.Applied(ctx)
		if err != nil {
			return err
		}
		last := 0
		for _, rec := range records {
			if rec.Batch > last {
				last = rec.Batch
			}
		}
		if last == 0 {
			m.logger.Info("no migrations to roll back")
			return nil
		}

		for i := len(records) - 1; i >= 0; i-- {
			rec := records[i]
			if rec.Batch != last {
				continue
			}
			mig, ok := byName[rec.Name]
			if !ok {
				return fmt.Errorf("%w: %s", ErrMissingMigration, rec.Name)
			}
			if mig.Down == "" {
				return fmt.Errorf("%w: %s", ErrNoDownMigration, rec.Name)
			}
			if err := validateSQL(mig.Name, mig.Down); err != nil {
				return err
			}

			err := m.inTx(ctx, mig.Down, func(db *connection.DB) error {
				return m.tracker.Remove(ctx, db, mig.Name)
			})
			if err != nil {
				return fmt.Errorf("rollback of %s failed: %w", mig.Name, err)
			}
			reverted = append(reverted, mig)
			m.logger.Info("rolled back migration", zap.String("name", mig.Name), zap.Int("batch", last))
		}
		return nil
	})
	return reverted, err
}

// Status lists migrations on disk and in the tracking table, ordered by name
func (m *Migrator) Status(ctx context.Context, dirs ...string) ([]Status, error) {
	all, err := load(m.searchDirs(dirs))
	if err != nil {
		return nil, err
	}
	if err := m.tracker.Initialize(ctx); err != nil {
		return nil, err
	}
	records, err := m.tracker.Applied(ctx)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Record, len(records))
	for _, rec := range records {
		byName[rec.Name] = rec
	}

	statuses := make([]Status, 0, len(all))
	seen := make(map[string]bool, len(all))
	for _, mig := range all {
		seen[mig.Name] = true
		st := Status{Name: mig.Name}
		if rec, ok := byName[mig.Name]; ok {
			st.Applied, st.Batch, st.MigrationTime = true, rec.Batch, rec.MigrationTime
		}
		statuses = append(statuses, st)
	}
	for _, rec := range records {
		if !seen[rec.Name] {
			statuses = append(statuses, Status{
				Name: rec.Name, Applied: true, Batch: rec.Batch, MigrationTime: rec.MigrationTime, Missing: true,
			})
		}
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses, nil
}

func (m *Migrator) searchDirs(extra []string) []string {
	dirs := m.Dirs()
	for _, dir := range extra {
		dirs = append(dirs, filepath.Clean(dir))
	}
	return dirs
}

// locked runs fn holding the migration lock with the tracking table in place
func (m *Migrator) locked(ctx context.Context, fn func() error) error {
	if err := m.tracker.Initialize(ctx); err != nil {
		return err
	}
	if err := m.locker.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := m.locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("failed to release migration lock", zap.Error(err))
		}
	}()
	return fn()
}

// inTx executes stmt and track in one transaction
func (m *Migrator) inTx(ctx context.Context, stmt string, track func(db *connection.DB) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			m.logger.Warn("failed to rollback transaction", zap.Error(err))
		}
	}()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return err
	}
	if err := track(connection.NewDB(tx, m.dialect, m.logger)); err != nil {
		return err
	}
	return tx.Commit()
}
