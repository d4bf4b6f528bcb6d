package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/climate-eval/coreeval/internal/migrations"
	"github.com/climate-eval/coreeval/internal/store/backup"
)

// MigrationRunner is the set of operations cmd/migrator drives. Two backing
// migrators (a file-based one and this embedded one) existed side by side in
// the system this tool was unified from (SPEC_FULL.md §9.1); this is the
// only one left.
type MigrationRunner interface {
	Up() error
	Down() error
	Status() error
	Version() error
	Drop() error
	Close() error
}

// Runner implements MigrationRunner over golang-migrate's iofs source,
// pointed at the embedded internal/migrations filesystem, with a backup
// taken before every state-changing operation.
type Runner struct {
	config  *Config
	migrate *migrate.Migrate
	db      *sql.DB
	backup  backup.Policy
}

var _ migrate.Logger = (*migrateLogger)(nil)

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "golang-migrate"))
}

func (migrateLogger) Verbose() bool { return true }

// NewMigrationRunner opens the database connection, validates the embedded
// migrations, and constructs the golang-migrate instance over them.
func NewMigrationRunner(cfg *Config) (*Runner, error) {
	slog.Info("validating embedded migrations")

	if err := migrations.Validate(); err != nil {
		return nil, fmt.Errorf("migrator: embedded migration validation: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("migrator: open database: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("migrator: ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: cfg.MigrationTable})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("migrator: create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, migrations.Dir)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("migrator: create embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("migrator: create migrate instance: %w", err)
	}

	m.Log = migrateLogger{}

	return &Runner{
		config:  cfg,
		migrate: m,
		db:      db,
		backup: backup.Policy{
			Dumper:      backup.PgDump{},
			BackupsDir:  cfg.BackupsDir,
			MaxBackups:  cfg.MaxBackups,
			DatabaseURL: cfg.DatabaseURL,
		},
	}, nil
}

// Up applies all pending migrations, after a backup per §4.4.
func (r *Runner) Up() error {
	if err := r.backup.Run(context.Background()); err != nil {
		return fmt.Errorf("migrator: pre-migration backup: %w", err)
	}

	err := r.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrator: up: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("no new migrations to apply")
	} else {
		slog.Info("migrations applied")
	}

	return nil
}

// Down rolls back the last migration, after a backup per §4.4.
func (r *Runner) Down() error {
	if err := r.backup.Run(context.Background()); err != nil {
		return fmt.Errorf("migrator: pre-migration backup: %w", err)
	}

	err := r.migrate.Steps(-1)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrator: down: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("no migrations to roll back")
	} else {
		slog.Info("last migration rolled back")
	}

	return nil
}

// Status reports the applied migration version and dirty state.
func (r *Runner) Status() error {
	ver, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			slog.Info("no migrations applied yet")

			return nil
		}

		return fmt.Errorf("migrator: status: %w", err)
	}

	slog.Info("migration status", slog.Int("version", int(ver)), slog.Bool("dirty", dirty))

	return nil
}

// Version reports the current migration version.
func (r *Runner) Version() error {
	ver, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			slog.Info("no migrations applied")

			return nil
		}

		return fmt.Errorf("migrator: version: %w", err)
	}

	slog.Info("current version", slog.Int("version", int(ver)), slog.Bool("dirty", dirty))

	return nil
}

// Drop drops every migrated table, after a backup per §4.4. Destructive;
// callers should confirm with the operator first.
func (r *Runner) Drop() error {
	if err := r.backup.Run(context.Background()); err != nil {
		return fmt.Errorf("migrator: pre-drop backup: %w", err)
	}

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("migrator: drop: %w", err)
	}

	slog.Warn("all migrated tables dropped")

	return nil
}

// Close releases the migrate source/database handles and the connection
// opened in NewMigrationRunner.
func (r *Runner) Close() error {
	var errs []error

	if r.migrate != nil {
		sourceErr, dbErr := r.migrate.Close()
		if sourceErr != nil {
			errs = append(errs, fmt.Errorf("migrator: close source: %w", sourceErr))
		}

		if dbErr != nil {
			errs = append(errs, fmt.Errorf("migrator: close database: %w", dbErr))
		}
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("migrator: close connection: %w", err))
		}
	}

	return errors.Join(errs...)
}
