package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dynejs/db/internal/orm/connection"
	"github.com/dynejs/db/internal/orm/ids"
	"github.com/dynejs/db/internal/orm/migrate"
	"github.com/dynejs/db/internal/orm/repo"
)

// FileName is the configuration file looked up in the working directory
const FileName = "dynedb"

// EnvPrefix prefixes every environment override, e.g. DYNEDB_DATABASE_DRIVER
const EnvPrefix = "DYNEDB"

// Config represents the dynedb configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Migrations MigrationsConfig `mapstructure:"migrations"`
	ORM        ORMConfig        `mapstructure:"orm"`
	Log        LogConfig        `mapstructure:"log"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	Filename        string        `mapstructure:"filename"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// MigrationsConfig represents migration runner configuration
type MigrationsConfig struct {
	Dirs  []string   `mapstructure:"dirs"`
	Table string     `mapstructure:"table"`
	Lock  LockConfig `mapstructure:"lock"`
}

// LockConfig selects the migration lock. An empty RedisURL keeps the
// table based lock.
type LockConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	Key      string        `mapstructure:"key"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ORMConfig holds repository defaults
type ORMConfig struct {
	StrictSync        bool   `mapstructure:"strict_sync"`
	MaxDepth          int    `mapstructure:"max_depth"`
	ParallelRelations bool   `mapstructure:"parallel_relations"`
	IDStrategy        string `mapstructure:"id_strategy"`
}

// LogConfig represents logger configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

var defaults = map[string]interface{}{
	"database.driver":            "postgres",
	"database.url":               "",
	"database.host":              "localhost",
	"database.port":              0,
	"database.user":              "",
	"database.password":          "",
	"database.database":          "",
	"database.filename":          "",
	"database.max_open_conns":    0,
	"database.max_idle_conns":    0,
	"database.conn_max_lifetime": "0s",
	"migrations.dirs":            []string{"migrations"},
	"migrations.table":           migrate.DefaultTable,
	"migrations.lock.redis_url":  "",
	"migrations.lock.key":        "dynedb:migrations:lock",
	"migrations.lock.ttl":        migrate.DefaultLockTTL.String(),
	"orm.strict_sync":            true,
	"orm.max_depth":              5,
	"orm.parallel_relations":     false,
	"orm.id_strategy":            "uuid",
	"log.level":                  "info",
	"log.development":            false,
}

// Load reads configuration from path, or from dynedb.yml in the working
// directory when path is empty. Environment variables override the file.
func Load(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind DATABASE_URL: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Connection returns the settings used to open the database
func (c DatabaseConfig) Connection() connection.Config {
	return connection.Config{
		Driver:          c.Driver,
		URL:             c.URL,
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		Filename:        c.Filename,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

// RepoOptions turns the orm section into repository options
func (c ORMConfig) RepoOptions(logger *zap.Logger) ([]repo.Option, error) {
	gen, err := ids.ForStrategy(c.IDStrategy)
	if err != nil {
		return nil, err
	}

	return []repo.Option{
		repo.WithStrictSync(c.StrictSync),
		repo.WithMaxDepth(c.MaxDepth),
		repo.WithParallelRelations(c.ParallelRelations),
		repo.WithIDGenerator(gen),
		repo.WithLogger(logger),
	}, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if _, err := connection.DialectFor(cfg.Database.Driver); err != nil {
		return fmt.Errorf("database.driver: %w", err)
	}
	if cfg.Database.Port < 0 || cfg.Database.Port > 65535 {
		return fmt.Errorf("database.port must be between 0 and 65535, got: %d", cfg.Database.Port)
	}
	if _, err := ids.ForStrategy(cfg.ORM.IDStrategy); err != nil {
		return fmt.Errorf("orm.id_strategy: %w", err)
	}
	if cfg.ORM.MaxDepth < 1 {
		return fmt.Errorf("orm.max_depth must be at least 1, got: %d", cfg.ORM.MaxDepth)
	}
	if len(cfg.Migrations.Dirs) == 0 {
		return fmt.Errorf("migrations.dirs must name at least one directory")
	}
	if cfg.Migrations.Table == "" {
		return fmt.Errorf("migrations.table must not be empty")
	}
	return nil
}
