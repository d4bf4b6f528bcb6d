package store

import (
	"errors"
	"time"

	"github.com/climate-eval/coreeval/internal/config"
)

// ErrDatabaseURLEmpty is returned by Validate when no database URL was configured.
var ErrDatabaseURLEmpty = errors.New("store: database URL cannot be empty")

// Config holds pool-sizing and lifetime settings for the store's database
// connection, mirroring the teacher's storage.Config shape.
type Config struct {
	databaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MaxBackups      int
}

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// LoadConfig builds a store.Config from the process Config, applying
// production-ready pool defaults where the file/env config is silent.
func LoadConfig(cfg *config.Config) (*Config, error) {
	c := &Config{
		databaseURL:     cfg.DB.DatabaseURL,
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
		MaxBackups:      cfg.DB.MaxBackups,
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Validate checks structural invariants of a store Config.
func (c *Config) Validate() error {
	if c.databaseURL == "" {
		return ErrDatabaseURLEmpty
	}

	return nil
}

// DatabaseURL exposes the connection string to the sql.Open caller; kept
// private otherwise so it never leaks into a log line unmasked.
func (c *Config) DatabaseURL() string { return c.databaseURL }
