// Command evalctl is the operator CLI for coreeval: a spf13/cobra root
// command wrapping the conceptual CLI surface of §6 — ingest, list-datasets,
// solve, list-execution-groups, inspect-execution — plus run-execution, the
// subprocess entry point an hpcbatch scheduler job shells back into. Every
// subcommand is a thin wrapper: it loads configuration, constructs the
// catalog/store/executor, and calls straight through to the corresponding
// exported core function. No business logic lives here.
package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/climate-eval/coreeval/internal/catalog"
	"github.com/climate-eval/coreeval/internal/config"
	"github.com/climate-eval/coreeval/internal/executor"
	"github.com/climate-eval/coreeval/internal/store"

	// Blank-imported for their init() side effect: each variant registers
	// itself with internal/executor under its name (Design Note §9: "plugin
	// discovery without dynamic import").
	_ "github.com/climate-eval/coreeval/internal/executor/distributedqueue"
	_ "github.com/climate-eval/coreeval/internal/executor/hpcbatch"
	_ "github.com/climate-eval/coreeval/internal/executor/localpool"
	_ "github.com/climate-eval/coreeval/internal/executor/synchronous"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "evalctl",
	Short: "Operate the coreeval diagnostic evaluation engine",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "directory to search for coreeval.toml")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(listDatasetsCmd)
	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(listExecutionGroupsCmd)
	rootCmd.AddCommand(inspectExecutionCmd)
	rootCmd.AddCommand(runExecutionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles everything a subcommand needs once configuration is loaded: the
// process Config, the raw *sql.DB (so subcommands can Close it), and the two
// stores built on top of it.
type app struct {
	cfg *config.Config
	db  *sql.DB
	st  *store.Store
	cat *catalog.Store
}

// bootstrap loads configuration and opens the database, matching the
// teacher's NewConnection discipline in every binary that touches Postgres.
func bootstrap() (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("evalctl: load config: %w", err)
	}

	slog.SetLogLoggerLevel(cfg.SLogLevel())

	storeCfg, err := store.LoadConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("evalctl: store config: %w", err)
	}

	db, err := store.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("evalctl: open store: %w", err)
	}

	st := store.New(db, slog.Default())
	cat := catalog.NewStore(db, slog.Default())

	return &app{cfg: cfg, db: db, st: st, cat: cat}, nil
}

// close releases the database connection and stops the store's background
// cleanup goroutine.
func (a *app) close() {
	if err := a.st.Close(); err != nil {
		slog.Error("evalctl: close store", slog.String("error", err.Error()))
	}
}

// buildExecutor constructs the executor variant named by cfg.ExecutorCfg,
// translating its generic map[string]any options into executor.Options.
func buildExecutor(a *app) (executor.Executor, error) {
	opts := executor.Options{
		ResultsRoot: a.cfg.Paths.Results,
	}

	raw := a.cfg.ExecutorCfg.Config

	if v, ok := raw["concurrency"].(int64); ok {
		opts.Concurrency = int(v)
	}

	if v, ok := raw["rate_limit_rps"].(float64); ok {
		opts.RateLimitRPS = v
	}

	if v, ok := raw["scheduler_kind"].(string); ok {
		opts.SchedulerKind = v
	}

	if brokers, ok := raw["kafka_brokers"].([]any); ok {
		for _, b := range brokers {
			if s, ok := b.(string); ok {
				opts.KafkaBrokers = append(opts.KafkaBrokers, s)
			}
		}
	}

	ex, err := executor.New(a.cfg.ExecutorCfg.Executor, a.st, a.cat, opts)
	if err != nil {
		return nil, fmt.Errorf("evalctl: build executor: %w", err)
	}

	return ex, nil
}

func fatal(cmd *cobra.Command, err error) error {
	slog.Error("evalctl: command failed", slog.String("command", cmd.Name()), slog.String("error", err.Error()))

	return err
}
