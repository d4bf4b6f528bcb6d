package main

import (
	"errors"

	"github.com/climate-eval/coreeval/internal/config"
)

// ErrDatabaseURLRequired is returned when COREEVAL_DATABASE_URL is unset.
var ErrDatabaseURLRequired = errors.New("migrator: COREEVAL_DATABASE_URL must be set")

// Config holds the migrator CLI's environment-derived settings.
type Config struct {
	DatabaseURL    string
	MigrationTable string
	BackupsDir     string
	MaxBackups     int
}

// LoadConfig reads the migrator's configuration from the environment,
// matching internal/config's GetEnvStr/GetEnvInt idiom used repo-wide.
func LoadConfig() (*Config, error) {
	c := &Config{
		DatabaseURL:    config.GetEnvStr("COREEVAL_DATABASE_URL", ""),
		MigrationTable: config.GetEnvStr("COREEVAL_MIGRATION_TABLE", "schema_migrations"),
		BackupsDir:     config.GetEnvStr("COREEVAL_BACKUPS_DIR", "./results/backups"),
		MaxBackups:     config.GetEnvInt("COREEVAL_MAX_BACKUPS", 5), //nolint:mnd // spec §4.4 default
	}

	if c.DatabaseURL == "" {
		return nil, ErrDatabaseURLRequired
	}

	return c, nil
}
