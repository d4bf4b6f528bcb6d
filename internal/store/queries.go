package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// GroupSummary is one row of `evalctl list-execution-groups`: an
// ExecutionGroup joined with its owning diagnostic's slugs.
type GroupSummary struct {
	ExecutionGroup
	ProviderSlug   string
	DiagnosticSlug string
}

// ListExecutionGroups returns every ExecutionGroup, optionally filtered to
// one diagnostic's groups, newest first.
func (s *Store) ListExecutionGroups(ctx context.Context, providerSlug, diagnosticSlug string) ([]GroupSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.id, g.diagnostic_id, g.group_key, g.group_key_facets, g.dirty, g.stale, g.latest_execution_id,
		        d.provider_slug, d.diagnostic_slug
		 FROM execution_groups g
		 JOIN diagnostics d ON d.id = g.diagnostic_id
		 WHERE ($1 = '' OR d.provider_slug = $1) AND ($2 = '' OR d.diagnostic_slug = $2)
		 ORDER BY g.id DESC`,
		providerSlug, diagnosticSlug,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list execution groups: %w", err)
	}
	defer rows.Close()

	var out []GroupSummary

	for rows.Next() {
		var (
			g          GroupSummary
			facetsJSON []byte
			latestID   sql.NullInt64
		)

		if err := rows.Scan(&g.ID, &g.DiagnosticID, &g.GroupKey, &facetsJSON, &g.Dirty, &g.Stale, &latestID,
			&g.ProviderSlug, &g.DiagnosticSlug); err != nil {
			return nil, fmt.Errorf("store: scan execution group: %w", err)
		}

		if latestID.Valid {
			g.LatestExecutionID = &latestID.Int64
		}

		if len(facetsJSON) > 0 {
			_ = json.Unmarshal(facetsJSON, &g.GroupKeyFacets)
		}

		out = append(out, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list execution groups: %w", err)
	}

	return out, nil
}

// ExecutionDetail is the full read-side view `evalctl inspect-execution`
// renders: the Execution row plus its recorded inputs, outputs, and metric
// values.
type ExecutionDetail struct {
	Execution Execution
	Inputs    []ExecutionInput
	Outputs   []ExecutionOutput
	Metrics   []MetricValue
	Series    []SeriesMetricValue
}

// GetExecution fetches one Execution by ID along with everything recorded
// against it, or (nil, nil) if no such Execution exists.
func (s *Store) GetExecution(ctx context.Context, executionID int64) (*ExecutionDetail, error) {
	var (
		e                    Execution
		startedAt, finished  sql.NullTime
		outputDir, logPath   sql.NullString
		reason               sql.NullString
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, group_id, dataset_hash, status, started_at, finished_at, output_dir, log_path, retry_count, reason
		 FROM executions WHERE id = $1`,
		executionID,
	).Scan(&e.ID, &e.GroupID, &e.DatasetHash, &e.Status, &startedAt, &finished, &outputDir, &logPath, &e.RetryCount, &reason)

	switch {
	case err == nil:
	case err == sql.ErrNoRows:
		return nil, nil
	default:
		return nil, fmt.Errorf("store: get execution: %w", err)
	}

	if startedAt.Valid {
		e.StartedAt = &startedAt.Time
	}

	if finished.Valid {
		e.FinishedAt = &finished.Time
	}

	e.OutputDir = outputDir.String
	e.LogPath = logPath.String
	e.Reason = reason.String

	inputs, err := s.executionInputs(ctx, executionID)
	if err != nil {
		return nil, err
	}

	outputs, err := s.executionOutputs(ctx, executionID)
	if err != nil {
		return nil, err
	}

	metrics, series, err := s.executionMetrics(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return &ExecutionDetail{Execution: e, Inputs: inputs, Outputs: outputs, Metrics: metrics, Series: series}, nil
}

func (s *Store) executionOutputs(ctx context.Context, executionID int64) ([]ExecutionOutput, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, relative_path, type, mime_type, description
		 FROM execution_outputs WHERE execution_id = $1 ORDER BY id`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list execution outputs: %w", err)
	}
	defer rows.Close()

	var out []ExecutionOutput

	for rows.Next() {
		var o ExecutionOutput
		if err := rows.Scan(&o.ID, &o.ExecutionID, &o.RelativePath, &o.Type, &o.MIMEType, &o.Description); err != nil {
			return nil, fmt.Errorf("store: scan execution output: %w", err)
		}

		out = append(out, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list execution outputs: %w", err)
	}

	return out, nil
}

func (s *Store) executionMetrics(ctx context.Context, executionID int64) ([]MetricValue, []SeriesMetricValue, error) {
	scalarRows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, facets, value FROM metric_values WHERE execution_id = $1 ORDER BY id`,
		executionID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("store: list metric values: %w", err)
	}
	defer scalarRows.Close()

	var scalars []MetricValue

	for scalarRows.Next() {
		var (
			m          MetricValue
			facetsJSON []byte
		)

		if err := scalarRows.Scan(&m.ID, &m.ExecutionID, &facetsJSON, &m.Value); err != nil {
			return nil, nil, fmt.Errorf("store: scan metric value: %w", err)
		}

		_ = json.Unmarshal(facetsJSON, &m.Facets)
		scalars = append(scalars, m)
	}

	if err := scalarRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("store: list metric values: %w", err)
	}

	seriesRows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, facets, index, values FROM series_metric_values WHERE execution_id = $1 ORDER BY id`,
		executionID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("store: list series metric values: %w", err)
	}
	defer seriesRows.Close()

	var series []SeriesMetricValue

	for seriesRows.Next() {
		var (
			m                      SeriesMetricValue
			facetsJSON, idxJSON    []byte
			valuesJSON             []byte
		)

		if err := seriesRows.Scan(&m.ID, &m.ExecutionID, &facetsJSON, &idxJSON, &valuesJSON); err != nil {
			return nil, nil, fmt.Errorf("store: scan series metric value: %w", err)
		}

		_ = json.Unmarshal(facetsJSON, &m.Facets)
		_ = json.Unmarshal(idxJSON, &m.Index)
		_ = json.Unmarshal(valuesJSON, &m.Values)
		series = append(series, m)
	}

	if err := seriesRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("store: list series metric values: %w", err)
	}

	return scalars, series, nil
}
