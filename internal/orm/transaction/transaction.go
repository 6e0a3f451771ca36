// Package transaction runs units of work inside database transactions
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dynejs/db/internal/orm/connection"
)

var (
	// ErrConflict is returned when retries are exhausted on conflicting transactions
	ErrConflict = errors.New("transaction conflict")
)

// IsolationLevel represents the transaction isolation level
type IsolationLevel int

const (
	// Default leaves the isolation level to the database
	Default IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

// String returns the string representation of the isolation level
func (l IsolationLevel) String() string {
	switch l {
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "DEFAULT"
	}
}

// ToSQLOptions converts IsolationLevel to sql.TxOptions
func (l IsolationLevel) ToSQLOptions() *sql.TxOptions {
	switch l {
	case ReadCommitted:
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	case RepeatableRead:
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	case Serializable:
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	default:
		return nil
	}
}

// Manager runs functions inside transactions on one connection
type Manager struct {
	conn *connection.Connection
}

// NewManager creates a new transaction manager
func NewManager(conn *connection.Connection) *Manager {
	return &Manager{conn: conn}
}

// WithTransaction runs fn inside a transaction, committing when fn
// returns nil and rolling back otherwise. When ctx already carries a
// transaction, fn joins it and the outer call decides the outcome.
func (m *Manager) WithTransaction(ctx context.Context, fn func(ctx context.Context, db *connection.DB) error) error {
	return m.WithTransactionIsolation(ctx, Default, fn)
}

// WithTransactionIsolation is WithTransaction with an explicit isolation level
func (m *Manager) WithTransactionIsolation(ctx context.Context, level IsolationLevel, fn func(ctx context.Context, db *connection.DB) error) error {
	if db, ok := FromContext(ctx); ok {
		return fn(ctx, db)
	}

	tx, err := m.conn.SQL().BeginTx(ctx, level.ToSQLOptions())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	db := m.conn.Active().WithTx(tx)
	logger := m.conn.Logger()

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(WithContext(ctx, db), db); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Warn("rollback failed", zap.Error(rbErr))
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		logger.Debug("transaction rolled back", zap.Error(err))
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
