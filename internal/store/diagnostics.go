package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// GetOrCreateDiagnostic looks up a Diagnostic row by (provider_slug,
// diagnostic_slug), creating it with the given declared facets if absent.
// Diagnostic metadata is registered at process start from the plugin
// registry (§3); this upsert keeps the store's copy in sync with whatever
// the currently-running binary's registry declares.
func (s *Store) GetOrCreateDiagnostic(ctx context.Context, providerSlug, diagnosticSlug string, facets []string) (int64, error) {
	var id int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM diagnostics WHERE provider_slug = $1 AND diagnostic_slug = $2`,
		providerSlug, diagnosticSlug,
	).Scan(&id)

	switch {
	case err == nil:
		return id, nil
	case err != sql.ErrNoRows:
		return 0, fmt.Errorf("store: lookup diagnostic: %w", err)
	}

	facetsJSON, err := json.Marshal(facets)
	if err != nil {
		return 0, fmt.Errorf("store: marshal diagnostic facets: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`INSERT INTO diagnostics (provider_slug, diagnostic_slug, facets)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (provider_slug, diagnostic_slug) DO UPDATE SET facets = EXCLUDED.facets
		 RETURNING id`,
		providerSlug, diagnosticSlug, facetsJSON,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: insert diagnostic: %w", err)
	}

	return id, nil
}

// MarkVanishedGroupsStale flags every ExecutionGroup of diagnosticID whose
// group_key is absent from currentKeys — its candidate vanished because the
// diagnostic was unregistered or its datasets withdrawn (§4.3 point 6) — and
// clears the stale flag on every group whose candidate reappeared.
func (s *Store) MarkVanishedGroupsStale(ctx context.Context, diagnosticID int64, currentKeys []string) error {
	if len(currentKeys) == 0 {
		_, err := s.db.ExecContext(ctx,
			`UPDATE execution_groups SET stale = true WHERE diagnostic_id = $1`, diagnosticID)
		if err != nil {
			return fmt.Errorf("store: mark all groups stale: %w", err)
		}

		return nil
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE execution_groups SET stale = true WHERE diagnostic_id = $1 AND NOT (group_key = ANY($2))`,
		diagnosticID, currentKeys,
	); err != nil {
		return fmt.Errorf("store: mark vanished groups stale: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE execution_groups SET stale = false WHERE diagnostic_id = $1 AND group_key = ANY($2)`,
		diagnosticID, currentKeys,
	); err != nil {
		return fmt.Errorf("store: clear stale on reappeared groups: %w", err)
	}

	return nil
}
