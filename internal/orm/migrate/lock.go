package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dynejs/db/internal/orm/connection"
	"github.com/dynejs/db/internal/orm/query"
)

// ErrLocked is returned when another run holds the migration lock
var ErrLocked = errors.New("migration is already running")

// Locker serializes migration runs
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// TableLocker keeps the lock in a single-row database table
type TableLocker struct {
	db      *sql.DB
	dialect query.Dialect
	table   string
}

// NewTableLocker creates a lock backed by table
func NewTableLocker(db *sql.DB, dialect query.Dialect, table string) *TableLocker {
	return &TableLocker{db: db, dialect: dialect, table: table}
}

// Lock takes the lock or fails with ErrLocked
func (l *TableLocker) Lock(ctx context.Context) error {
	if err := l.ensure(ctx); err != nil {
		return err
	}

	n, err := l.handle().Table(l.table).
		Where("id", 1).
		Where("is_locked", 0).
		Update(ctx, query.Row{"is_locked": 1})
	if err != nil {
		return fmt.Errorf("failed to take migration lock: %w", err)
	}
	if n == 0 {
		return ErrLocked
	}
	return nil
}

// Unlock releases the lock
func (l *TableLocker) Unlock(ctx context.Context) error {
	_, err := l.handle().Table(l.table).Where("id", 1).Update(ctx, query.Row{"is_locked": 0})
	if err != nil {
		return fmt.Errorf("failed to release migration lock: %w", err)
	}
	return nil
}

func (l *TableLocker) ensure(ctx context.Context) error {
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY, is_locked INTEGER NOT NULL)",
		l.dialect.Quote(l.table))
	if _, err := l.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create lock table: %w", err)
	}

	n, err := l.handle().Table(l.table).Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to read lock table: %w", err)
	}
	if n == 0 {
		if err := l.handle().Table(l.table).Insert(ctx, query.Row{"id": 1, "is_locked": 0}); err != nil {
			return fmt.Errorf("failed to seed lock table: %w", err)
		}
	}
	return nil
}

func (l *TableLocker) handle() *connection.DB {
	return connection.NewDB(l.db, l.dialect, nil)
}

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// DefaultLockTTL bounds how long a crashed run can hold the Redis lock
const DefaultLockTTL = 10 * time.Minute

// RedisLocker keeps the lock in Redis so runs on different hosts
// serialize even when they cannot share a lock table
type RedisLocker struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	token  string
}

// NewRedisLocker creates a lock stored under key
func NewRedisLocker(client redis.UniversalClient, key string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{client: client, key: key, ttl: ttl, token: uuid.NewString()}
}

// NewRedisLockerFromURL connects to the redis:// URL and creates a lock
func NewRedisLockerFromURL(rawURL, key string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisLocker(redis.NewClient(opts), key, ttl), nil
}

// Lock takes the lock or fails with ErrLocked
func (l *RedisLocker) Lock(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to take migration lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Unlock releases the lock if this locker still holds it
func (l *RedisLocker) Unlock(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release migration lock: %w", err)
	}
	return nil
}

// Close closes the underlying client
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
