package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/dynejs/db/internal/cli/ui"
	"github.com/dynejs/db/internal/orm/dberr"
	"github.com/dynejs/db/internal/orm/migrate"
)

type stage string

const (
	stageConfig   stage = "config"
	stageConnect  stage = "connect"
	stageMigrate  stage = "migrate"
	stageRollback stage = "rollback"
	stageStatus   stage = "status"
)

// stageError records which step of a command failed
type stageError struct {
	stage stage
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

// categorizeError returns a user-facing message for err and hints to fix it.
// In verbose mode the message is the full error.
func categorizeError(err error, verbose bool) (string, []string) {
	switch {
	case errors.Is(err, migrate.ErrLocked):
		return "another migration run holds the lock", []string{"wait for it to finish, or clear a stale lock row"}
	case errors.Is(err, migrate.ErrDangerousSQL),
		errors.Is(err, migrate.ErrDuplicateMigration),
		errors.Is(err, migrate.ErrInvalidMigration),
		errors.Is(err, migrate.ErrNoDownMigration),
		errors.Is(err, migrate.ErrMissingMigration):
		return err.Error(), nil
	}

	if verbose {
		return err.Error(), nil
	}

	switch kind := dberr.Classify(err); kind {
	case dberr.UniqueViolation, dberr.ForeignKeyViolation, dberr.NotNullViolation, dberr.CheckViolation:
		return fmt.Sprintf("%s - use --verbose for details", kind), nil
	case dberr.Conflict:
		return "database busy or deadlocked", []string{"retry the command"}
	}

	return err.Error(), nil
}

func reportError(w io.Writer, err error, opts *globalOptions) {
	var se *stageError
	if !errors.As(err, &se) {
		ui.WriteError(w, ui.ErrorOptions{Problem: err.Error(), NoColor: opts.noColor})
		return
	}

	switch se.stage {
	case stageConfig:
		fmt.Fprint(w, ui.ConfigError(se.err.Error(), nil, opts.noColor))
	case stageConnect:
		fmt.Fprint(w, ui.ConnectionError(se.err.Error(), opts.noColor))
	case stageMigrate:
		msg, hints := categorizeError(se.err, opts.verbose)
		fmt.Fprint(w, ui.MigrationError(msg,
			"Migrations applied before the failure stay applied; the failed migration was rolled back.",
			hints, opts.noColor))
	case stageRollback:
		msg, hints := categorizeError(se.err, opts.verbose)
		fmt.Fprint(w, ui.MigrationError(msg,
			"Migrations reverted before the failure stay reverted.",
			hints, opts.noColor))
	default:
		msg, hints := categorizeError(se.err, opts.verbose)
		ui.WriteError(w, ui.ErrorOptions{
			Context: string(se.stage) + " failed",
			Problem: msg,
			Hints:   hints,
			NoColor: opts.noColor,
		})
	}
}
