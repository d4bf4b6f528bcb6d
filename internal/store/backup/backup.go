// Package backup implements §4.4's pre-migration backup policy: before any
// schema migration, a timestamped copy of the datastore is made; the last N
// (configurable, default 5) are retained. The actual dump command is behind
// a small interface so tests can substitute a no-op — no Postgres-backup
// library appears anywhere in the
// retrieval pack, so this one piece necessarily shells out (DESIGN.md).
package backup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"
)

// Dumper performs one backup of a database to a destination file.
type Dumper interface {
	Dump(ctx context.Context, databaseURL, destPath string) error
}

// PgDump shells out to pg_dump. The default Dumper in production.
type PgDump struct{}

// Dump writes a plain-format pg_dump of databaseURL to destPath.
func (PgDump) Dump(ctx context.Context, databaseURL, destPath string) error {
	cmd := exec.CommandContext(ctx, "pg_dump", "--format=plain", "--file="+destPath, databaseURL) //nolint:gosec // databaseURL is operator-supplied config, not user input

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("backup: pg_dump failed: %w: %s", err, out)
	}

	return nil
}

// NoOp never writes a file; substituted in tests where a live pg_dump binary
// may not be available.
type NoOp struct{}

// Dump is a no-op.
func (NoOp) Dump(context.Context, string, string) error { return nil }

// Policy runs Dumper before a migration and prunes old backups down to maxBackups.
type Policy struct {
	Dumper      Dumper
	BackupsDir  string
	MaxBackups  int
	DatabaseURL string
}

// Run performs one backup named by the current timestamp, then prunes
// BackupsDir to the most recent MaxBackups files.
func (p Policy) Run(ctx context.Context) error {
	if err := os.MkdirAll(p.BackupsDir, 0o755); err != nil { //nolint:mnd // standard dir perms
		return fmt.Errorf("backup: create backups dir: %w", err)
	}

	destPath := filepath.Join(p.BackupsDir, fmt.Sprintf("backup-%s.sql", stampNow()))

	if err := p.Dumper.Dump(ctx, p.DatabaseURL, destPath); err != nil {
		return err
	}

	return p.prune()
}

func (p Policy) prune() error {
	entries, err := os.ReadDir(p.BackupsDir)
	if err != nil {
		return fmt.Errorf("backup: read backups dir: %w", err)
	}

	names := make([]string, 0, len(entries))

	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names) // timestamp-named, so lexicographic order is chronological

	max := p.MaxBackups
	if max <= 0 {
		max = 5 //nolint:mnd // spec §4.4 default retention
	}

	for len(names) > max {
		if err := os.Remove(filepath.Join(p.BackupsDir, names[0])); err != nil {
			return fmt.Errorf("backup: prune %s: %w", names[0], err)
		}

		names = names[1:]
	}

	return nil
}

// stampNow formats the current time for a backup filename; lexicographic
// sort on the formatted string matches chronological order.
func stampNow() string {
	return time.Now().UTC().Format("20060102T150405.000000000")
}
