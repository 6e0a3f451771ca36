// Package connection opens database handles and hands out query objects
package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/dynejs/db/internal/logging"
	"github.com/dynejs/db/internal/orm/query"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "github.com/lib/pq"              // postgres driver
	_ "github.com/mattn/go-sqlite3"    // sqlite3 driver
)

// ErrUnsupportedDriver is returned for drivers this package cannot open
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Config describes how to reach the database. URL wins over the
// individual host/user/... settings.
type Config struct {
	Driver   string
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// Filename is the sqlite3 database path
	Filename string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DialectFor maps a driver name to its SQL dialect
func DialectFor(driver string) (query.Dialect, error) {
	switch driver {
	case "postgres", "pgx":
		return query.Postgres, nil
	case "sqlite3":
		return query.SQLite, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
}

// DSN returns the data source name for cfg
func (c Config) DSN() (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}

	switch c.Driver {
	case "postgres", "pgx":
		host := c.Host
		if host == "" {
			host = "127.0.0.1"
		}
		port := c.Port
		if port == 0 {
			port = 5432
		}
		u := url.URL{
			Scheme:   "postgres",
			Host:     fmt.Sprintf("%s:%d", host, port),
			Path:     "/" + c.Database,
			RawQuery: "sslmode=disable",
		}
		if c.User != "" {
			u.User = url.UserPassword(c.User, c.Password)
		}
		return u.String(), nil

	case "sqlite3":
		if c.Filename == "" {
			return ":memory:", nil
		}
		return c.Filename, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, c.Driver)
}

// Connection owns the process-wide database handle
type Connection struct {
	db      *sql.DB
	dialect query.Dialect
	logger  *zap.Logger
}

// Open opens and configures a database handle. The handle is not pinged;
// call Ping to verify connectivity.
func Open(cfg Config, logger *zap.Logger) (*Connection, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return New(db, dialect, logger), nil
}

// New wraps an existing handle
func New(db *sql.DB, dialect query.Dialect, logger *zap.Logger) *Connection {
	return &Connection{db: db, dialect: dialect, logger: logging.OrNop(logger)}
}

// Active returns the handle used to build queries
func (c *Connection) Active() *DB {
	return &DB{
		exec:    &loggedExecutor{exec: c.db, logger: c.logger},
		dialect: c.dialect,
		logger:  c.logger,
	}
}

// SQL returns the underlying *sql.DB
func (c *Connection) SQL() *sql.DB {
	return c.db
}

// Dialect returns the connection's SQL dialect
func (c *Connection) Dialect() query.Dialect {
	return c.dialect
}

// Logger returns the connection's logger
func (c *Connection) Logger() *zap.Logger {
	return c.logger
}

// Ping verifies the database is reachable
func (c *Connection) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the underlying handle
func (c *Connection) Close() error {
	return c.db.Close()
}

// DB hands out query objects bound to a database or a transaction
type DB struct {
	exec    query.Executor
	dialect query.Dialect
	logger  *zap.Logger
}

// NewDB binds an arbitrary executor, typically in tests
func NewDB(exec query.Executor, dialect query.Dialect, logger *zap.Logger) *DB {
	logger = logging.OrNop(logger)
	return &DB{exec: &loggedExecutor{exec: exec, logger: logger}, dialect: dialect, logger: logger}
}

// Table returns a fresh query against table
func (d *DB) Table(name string) *query.Query {
	return query.New(d.exec, d.dialect, name)
}

// WithTx returns a handle whose queries run inside tx
func (d *DB) WithTx(tx *sql.Tx) *DB {
	return &DB{
		exec:    &loggedExecutor{exec: tx, logger: d.logger},
		dialect: d.dialect,
		logger:  d.logger,
	}
}

// Dialect returns the handle's SQL dialect
func (d *DB) Dialect() query.Dialect {
	return d.dialect
}

// Logger returns the handle's logger
func (d *DB) Logger() *zap.Logger {
	return d.logger
}

// loggedExecutor logs every statement at debug level
type loggedExecutor struct {
	exec   query.Executor
	logger *zap.Logger
}

func (l *loggedExecutor) QueryContext(ctx context.Context, stmt string, args ...interface{}) (*sql.Rows, error) {
	start := time.Now()
	rows, err := l.exec.QueryContext(ctx, stmt, args...)
	l.log(stmt, args, start, err)
	return rows, err
}

func (l *loggedExecutor) ExecContext(ctx context.Context, stmt string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := l.exec.ExecContext(ctx, stmt, args...)
	l.log(stmt, args, start, err)
	return result, err
}

func (l *loggedExecutor) log(stmt string, args []interface{}, start time.Time, err error) {
	if ce := l.logger.Check(zap.DebugLevel, "sql"); ce != nil {
		ce.Write(
			zap.String("sql", stmt),
			zap.Any("args", args),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	}
}
