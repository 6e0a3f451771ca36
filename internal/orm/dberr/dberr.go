// Package dberr classifies storage failures from the supported drivers.
// Errors are inspected, never wrapped or replaced.
package dberr

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Kind is the category of a storage failure
type Kind int

const (
	Unknown Kind = iota
	UniqueViolation
	ForeignKeyViolation
	NotNullViolation
	CheckViolation
	// Conflict covers deadlocks, serialization failures and busy databases
	Conflict
)

// String returns a readable name for the kind
func (k Kind) String() string {
	switch k {
	case UniqueViolation:
		return "unique violation"
	case ForeignKeyViolation:
		return "foreign key violation"
	case NotNullViolation:
		return "not null violation"
	case CheckViolation:
		return "check violation"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Classify inspects err for a pgx, lib/pq or sqlite3 error
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fromSQLState(pgErr.Code)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fromSQLState(string(pqErr.Code))
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return UniqueViolation
		case sqlite3.ErrConstraintForeignKey:
			return ForeignKeyViolation
		case sqlite3.ErrConstraintNotNull:
			return NotNullViolation
		case sqlite3.ErrConstraintCheck:
			return CheckViolation
		}
		if liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked {
			return Conflict
		}
	}

	return Unknown
}

func fromSQLState(code string) Kind {
	switch code {
	case "23505":
		return UniqueViolation
	case "23503":
		return ForeignKeyViolation
	case "23502":
		return NotNullViolation
	case "23514":
		return CheckViolation
	case "40001", "40P01":
		return Conflict
	}
	return Unknown
}

// IsUniqueViolation reports whether err is a unique constraint failure
func IsUniqueViolation(err error) bool {
	return Classify(err) == UniqueViolation
}

// IsForeignKeyViolation reports whether err is a foreign key failure
func IsForeignKeyViolation(err error) bool {
	return Classify(err) == ForeignKeyViolation
}

// IsConflict reports whether err is worth retrying
func IsConflict(err error) bool {
	return Classify(err) == Conflict
}
