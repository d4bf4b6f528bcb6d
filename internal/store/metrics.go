package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// validateFacets checks that value's facets are exactly the diagnostic's
// declared set: none missing, none extra (§4.4: "validated against the
// diagnostic's declared facets before insertion").
func validateFacets(declared []string, value map[string]string) error {
	declaredSet := make(map[string]bool, len(declared))
	for _, f := range declared {
		declaredSet[f] = true
	}

	for f := range value {
		if !declaredSet[f] {
			return fmt.Errorf("%w: %s", ErrUnknownFacet, f)
		}
	}

	for _, f := range declared {
		if _, ok := value[f]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingFacet, f)
		}
	}

	return nil
}

// RecordMetricValues validates and inserts scalar and series metric values
// for a succeeded Execution in one transaction — malformed input is never
// partially persisted (scenario S6).
func (s *Store) RecordMetricValues(ctx context.Context, executionID int64, declaredFacets []string, scalars []MetricValue, series []SeriesMetricValue) error {
	for _, m := range scalars {
		if err := validateFacets(declaredFacets, m.Facets); err != nil {
			return err
		}
	}

	for _, m := range series {
		if err := validateFacets(declaredFacets, m.Facets); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	for _, m := range scalars {
		facetsJSON, err := json.Marshal(m.Facets)
		if err != nil {
			return fmt.Errorf("store: marshal metric facets: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metric_values (execution_id, facets, value) VALUES ($1, $2, $3)`,
			executionID, facetsJSON, m.Value,
		); err != nil {
			return fmt.Errorf("store: insert metric_value: %w", err)
		}
	}

	for _, m := range series {
		facetsJSON, err := json.Marshal(m.Facets)
		if err != nil {
			return fmt.Errorf("store: marshal series facets: %w", err)
		}

		indexJSON, err := json.Marshal(m.Index)
		if err != nil {
			return fmt.Errorf("store: marshal series index: %w", err)
		}

		valuesJSON, err := json.Marshal(m.Values)
		if err != nil {
			return fmt.Errorf("store: marshal series values: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO series_metric_values (execution_id, facets, index, values) VALUES ($1, $2, $3, $4)`,
			executionID, facetsJSON, indexJSON, valuesJSON,
		); err != nil {
			return fmt.Errorf("store: insert series_metric_value: %w", err)
		}
	}

	return tx.Commit() //nolint:wrapcheck
}
