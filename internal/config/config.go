package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPAddr string `env:"DOORTALLY_HTTP_ADDR" env-default:":8080"`

	// StoreDriver selects the event store backend.
	StoreDriver string `env:"DOORTALLY_STORE" env-default:"sqlite"`

	// DBPath is the SQLite database file (sqlite driver only).
	DBPath string `env:"DOORTALLY_DB_PATH" env-default:"./data/doortally.db"`

	// DatabaseURL is the Postgres connection string (postgres driver only).
	DatabaseURL string `env:"DOORTALLY_DATABASE_URL" env-default:""`

	// DBMaxConns bounds the Postgres pool, and with it the number of
	// simultaneous in-flight store operations.
	DBMaxConns int32 `env:"DOORTALLY_DB_MAX_CONNS" env-default:"16"`

	// RetentionDays is how long events are kept before the daily purge.
	// 0 disables retention cleanup.
	RetentionDays int `env:"DOORTALLY_RETENTION_DAYS" env-default:"7"`

	// StoreTimeoutMS bounds each store call.
	StoreTimeoutMS int `env:"DOORTALLY_STORE_TIMEOUT_MS" env-default:"5000"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DOORTALLY_DATABASE_URL is required with the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q (want sqlite, postgres or memory)", c.StoreDriver)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("DOORTALLY_RETENTION_DAYS must not be negative")
	}
	if c.StoreTimeoutMS <= 0 {
		return fmt.Errorf("DOORTALLY_STORE_TIMEOUT_MS must be positive")
	}
	return nil
}
