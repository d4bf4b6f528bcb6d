package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// RecordOutputs copies the files named by manifest into
// <resultsRoot>/<provider>/<diagnostic>/<groupKey>/<executionID>/ and inserts
// one ExecutionOutput row per file, all in one transaction (§4.4). Absolute
// manifest paths are rejected before any copy — results must stay portable
// across hosts with different mount layouts.
func (s *Store) RecordOutputs(ctx context.Context, resultsRoot, provider, diagnostic, groupKey string, executionID int64, sourceDir string, manifest []ManifestEntry) error {
	for _, m := range manifest {
		if filepath.IsAbs(m.RelativePath) {
			return fmt.Errorf("%w: %s", ErrAbsoluteOutputPath, m.RelativePath)
		}
	}

	destDir := filepath.Join(resultsRoot, provider, diagnostic, groupKey, fmt.Sprint(executionID))

	if err := os.MkdirAll(destDir, 0o755); err != nil { //nolint:mnd // standard dir perms
		return fmt.Errorf("store: create output dir: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	for _, m := range manifest {
		if err := copyFile(filepath.Join(sourceDir, m.RelativePath), filepath.Join(destDir, m.RelativePath)); err != nil {
			return fmt.Errorf("store: copy output %s: %w", m.RelativePath, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO execution_outputs (execution_id, relative_path, type, mime_type, description)
			 VALUES ($1, $2, $3, $4, $5)`,
			executionID, m.RelativePath, m.Type, m.MIMEType, m.Description,
		); err != nil {
			return fmt.Errorf("store: insert execution_output: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE executions SET output_dir = $1 WHERE id = $2`, destDir, executionID); err != nil {
		return fmt.Errorf("store: set output dir: %w", err)
	}

	return tx.Commit() //nolint:wrapcheck
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil { //nolint:mnd
		return err //nolint:wrapcheck
	}

	in, err := os.Open(src) //nolint:gosec // path derives from a manifest the diagnostic itself wrote
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer in.Close()

	out, err := os.Create(dst) //nolint:gosec
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer out.Close()

	_, err = io.Copy(out, in)

	return err //nolint:wrapcheck
}

// OutputPath reproduces the absolute path of a previously-recorded output by
// joining the stored relative path with the results root at read time (§8
// round-trip law).
func OutputPath(resultsRoot, provider, diagnostic, groupKey string, executionID int64, relativePath string) string {
	return filepath.Join(resultsRoot, provider, diagnostic, groupKey, fmt.Sprint(executionID), relativePath)
}
