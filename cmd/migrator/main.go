// Command migrator applies and inspects schema migrations for coreeval's
// Postgres store. It replaces the teacher's pair of a file-based migrator
// and a half-migrated embedded one with a single embedded-migration tool
// (SPEC_FULL.md §9.1).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

func main() {
	showVersion := flag.Bool("version", false, "show version information")
	showHelp := flag.Bool("help", false, "show usage")
	flag.Parse()

	if *showVersion {
		fmt.Println("migrator (coreeval)")
		os.Exit(0)
	}

	args := flag.Args()
	if *showHelp || len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	runner, err := NewMigrationRunner(cfg)
	if err != nil {
		slog.Error("failed to create migration runner", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = runner.Close() }()

	if err := executeCommand(args[0], runner); err != nil {
		slog.Error("migration command failed", slog.String("command", args[0]), slog.Any("error", err))
		os.Exit(1)
	}
}

func executeCommand(command string, runner MigrationRunner) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		return confirmAndDrop(runner)
	default:
		return fmt.Errorf("migrator: unknown command %q", command)
	}
}

func confirmAndDrop(runner MigrationRunner) error {
	fmt.Print("This will drop all tables. Are you sure? (y/N): ")

	reader := bufio.NewReader(os.Stdin)

	response, _ := reader.ReadString('\n')
	if strings.ToLower(strings.TrimSpace(response)) != "y" {
		fmt.Println("operation cancelled")

		return nil
	}

	return runner.Drop()
}

func printUsage() {
	fmt.Print(`migrator - schema migration tool for coreeval

USAGE:
    migrator [OPTIONS] COMMAND

COMMANDS:
    up       apply all pending migrations
    down     roll back the last migration
    status   show migration status
    version  show current migration version
    drop     drop all tables (requires confirmation)

OPTIONS:
    --help     show this help message
    --version  show version information

ENVIRONMENT:
    COREEVAL_DATABASE_URL    PostgreSQL connection string (required)
    COREEVAL_MIGRATION_TABLE name of the migration tracking table (default: schema_migrations)
    COREEVAL_BACKUPS_DIR     directory for pre-migration backups (default: ./results/backups)
    COREEVAL_MAX_BACKUPS     number of backups to retain (default: 5)
`)
}
