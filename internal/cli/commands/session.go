package commands

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/dynejs/db/internal/cli/config"
	"github.com/dynejs/db/internal/logging"
	"github.com/dynejs/db/internal/orm/connection"
	"github.com/dynejs/db/internal/orm/migrate"
)

// session is the configured database state one command runs against
type session struct {
	cfg      *config.Config
	logger   *zap.Logger
	conn     *connection.Connection
	migrator *migrate.Migrator
	redis    *migrate.RedisLocker
}

func openSession(ctx context.Context, opts *globalOptions) (*session, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, &stageError{stage: stageConfig, err: err}
	}

	level := cfg.Log.Level
	if opts.verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Log.Development)
	if err != nil {
		return nil, &stageError{stage: stageConfig, err: err}
	}

	conn, err := connection.Open(cfg.Database.Connection(), logger)
	if err != nil {
		return nil, &stageError{stage: stageConnect, err: err}
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, &stageError{stage: stageConnect, err: err}
	}

	s := &session{cfg: cfg, logger: logger, conn: conn}

	migrateOpts := []migrate.Option{migrate.WithTable(cfg.Migrations.Table)}
	if lock := cfg.Migrations.Lock; lock.RedisURL != "" {
		s.redis, err = migrate.NewRedisLockerFromURL(lock.RedisURL, lock.Key, lock.TTL)
		if err != nil {
			conn.Close()
			return nil, &stageError{stage: stageConfig, err: err}
		}
		migrateOpts = append(migrateOpts, migrate.WithLocker(s.redis))
	}

	s.migrator = migrate.NewMigrator(conn.SQL(), conn.Dialect(), logger, migrateOpts...)
	for _, dir := range cfg.Migrations.Dirs {
		s.migrator.AddDir(dir)
	}

	return s, nil
}

// Close releases the connection and the Redis client
func (s *session) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.conn.Close())
	_ = s.logger.Sync()
	return errors.Join(errs...)
}
