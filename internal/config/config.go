// Package config loads the immutable process-wide configuration: a TOML file
// discovered per DiscoverConfigPath, overridden by a small set of environment
// variables that always win. The resulting Config is read once at process
// start and handed to every component by reference; nothing mutates it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// ErrDatabaseURLRequired is returned when db.database_url is empty after all overrides.
var ErrDatabaseURLRequired = errors.New("config: db.database_url is required")

// ErrUnknownExecutor names an unknown executor variant. Validate does not check executor.executor and
// nothing returns this value; executor.New reports an unregistered variant as executor.ErrUnknownVariant.
var ErrUnknownExecutor = errors.New("config: unknown executor variant")

// EnvDatasetCacheDir overrides the dataset-cache directory independent of the config file.
const EnvDatasetCacheDir = "COREEVAL_DATASET_CACHE_DIR"

type (
	// Paths holds the absolute directories the engine reads from or writes to.
	Paths struct {
		Log           string `toml:"log"`
		Scratch       string `toml:"scratch"`
		Software      string `toml:"software"`
		Results       string `toml:"results"`
		DimensionsCV  string `toml:"dimensions_cv"`
		DatasetCache  string `toml:"-"` // populated from env only, never the file
	}

	// Database holds datastore location and migration/backup policy.
	Database struct {
		DatabaseURL   string `toml:"database_url"`
		RunMigrations bool   `toml:"run_migrations"`
		MaxBackups    int    `toml:"max_backups"`
	}

	// Executor names the executor variant and its variant-specific options.
	Executor struct {
		Executor string         `toml:"executor"`
		Config   map[string]any `toml:"config"`
	}

	// DiagnosticProvider names a provider entry point and its options.
	DiagnosticProvider struct {
		Provider string         `toml:"provider"`
		Config   map[string]any `toml:"config"`
	}

	// ControlledVocabulary toggles strict facet-value validation (§9 open question).
	ControlledVocabulary struct {
		Strict bool `toml:"strict"`
	}

	// Config is the fully-resolved, immutable process configuration.
	Config struct {
		LogLevel            string               `toml:"log_level"`
		Paths               Paths                `toml:"paths"`
		DB                  Database             `toml:"db"`
		ExecutorCfg         Executor             `toml:"executor"`
		DiagnosticProviders []DiagnosticProvider  `toml:"diagnostic_providers"`
		CV                  ControlledVocabulary  `toml:"cv"`
	}
)

// Load discovers and parses the TOML configuration, then applies environment
// overrides that always take precedence over file values.
func Load(explicitDir string) (*Config, error) {
	path, err := DiscoverConfigPath(explicitDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve config path: %w", err)
	}

	cfg := defaultConfig()

	if _, statErr := os.Stat(path); statErr == nil {
		if _, decodeErr := toml.DecodeFile(path, cfg); decodeErr != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, decodeErr)
		}
	} else {
		slog.Debug("no configuration file found, using defaults and environment",
			slog.String("path", path))
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		DB: Database{
			RunMigrations: true,
			MaxBackups:    5, //nolint:mnd // spec §4.4 default retention
		},
		ExecutorCfg: Executor{
			Executor: "synchronous",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.Paths.DatasetCache = GetEnvStr(EnvDatasetCacheDir, cfg.Paths.DatasetCache)

	if lvl := os.Getenv("COREEVAL_LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}

	if url := os.Getenv("COREEVAL_DATABASE_URL"); url != "" {
		cfg.DB.DatabaseURL = url
	}
}

// Validate checks structural invariants of a fully-resolved Config.
func (c *Config) Validate() error {
	if c.DB.DatabaseURL == "" {
		return ErrDatabaseURLRequired
	}

	if c.DB.MaxBackups < 0 {
		c.DB.MaxBackups = 0
	}

	return nil
}

// SLogLevel converts the string LogLevel field to a slog.Level, defaulting to info.
func (c *Config) SLogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warning", "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MaskDatabaseURL returns the database URL with any embedded credentials redacted, for safe logging.
func (c *Config) MaskDatabaseURL() string {
	return maskCredentials(c.DB.DatabaseURL)
}
