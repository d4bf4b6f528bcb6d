package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PendingExecution is everything an executor needs to run one Execution,
// joined across executions/execution_groups/diagnostics/execution_inputs —
// the read side of the submission queue every executor variant polls or
// consumes from (§4.5).
type PendingExecution struct {
	ExecutionID    int64
	GroupID        int64
	DatasetHash    string
	ProviderSlug   string
	DiagnosticSlug string
	GroupKeyFacets map[string]string
	Inputs         []ExecutionInput
}

// ListPendingExecutions returns every Execution in status pending, oldest
// first — the synchronous and localpool executors' work source.
func (s *Store) ListPendingExecutions(ctx context.Context) ([]PendingExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.group_id, e.dataset_hash, d.provider_slug, d.diagnostic_slug, g.group_key_facets
		 FROM executions e
		 JOIN execution_groups g ON g.id = e.group_id
		 JOIN diagnostics d ON d.id = g.diagnostic_id
		 WHERE e.status = 'pending'
		 ORDER BY e.id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list pending executions: %w", err)
	}
	defer rows.Close()

	var out []PendingExecution

	for rows.Next() {
		var (
			p          PendingExecution
			facetsJSON []byte
		)

		if err := rows.Scan(&p.ExecutionID, &p.GroupID, &p.DatasetHash, &p.ProviderSlug, &p.DiagnosticSlug, &facetsJSON); err != nil {
			return nil, fmt.Errorf("store: scan pending execution: %w", err)
		}

		if len(facetsJSON) > 0 {
			_ = json.Unmarshal(facetsJSON, &p.GroupKeyFacets)
		}

		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list pending executions: %w", err)
	}

	for i := range out {
		inputs, err := s.executionInputs(ctx, out[i].ExecutionID)
		if err != nil {
			return nil, err
		}

		out[i].Inputs = inputs
	}

	return out, nil
}

// GetPendingExecution fetches a single Execution's job context by ID,
// verifying it is still pending — the distributed-queue consumer's lookup
// after a message arrives, so a redelivered message for an already-claimed
// Execution is detected rather than silently re-run.
func (s *Store) GetPendingExecution(ctx context.Context, executionID int64) (*PendingExecution, error) {
	var (
		p          PendingExecution
		facetsJSON []byte
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT e.id, e.group_id, e.dataset_hash, d.provider_slug, d.diagnostic_slug, g.group_key_facets
		 FROM executions e
		 JOIN execution_groups g ON g.id = e.group_id
		 JOIN diagnostics d ON d.id = g.diagnostic_id
		 WHERE e.id = $1 AND e.status = 'pending'`,
		executionID,
	).Scan(&p.ExecutionID, &p.GroupID, &p.DatasetHash, &p.ProviderSlug, &p.DiagnosticSlug, &facetsJSON)

	switch {
	case err == nil:
	case err == sql.ErrNoRows:
		return nil, nil
	default:
		return nil, fmt.Errorf("store: get pending execution: %w", err)
	}

	if len(facetsJSON) > 0 {
		_ = json.Unmarshal(facetsJSON, &p.GroupKeyFacets)
	}

	inputs, err := s.executionInputs(ctx, p.ExecutionID)
	if err != nil {
		return nil, err
	}

	p.Inputs = inputs

	return &p, nil
}

func (s *Store) executionInputs(ctx context.Context, executionID int64) ([]ExecutionInput, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT execution_id, dataset_id, instance_id, version, source_type
		 FROM execution_inputs WHERE execution_id = $1`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list execution inputs: %w", err)
	}
	defer rows.Close()

	var out []ExecutionInput

	for rows.Next() {
		var in ExecutionInput
		if err := rows.Scan(&in.ExecutionID, &in.DatasetID, &in.InstanceID, &in.Version, &in.SourceType); err != nil {
			return nil, fmt.Errorf("store: scan execution input: %w", err)
		}

		out = append(out, in)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list execution inputs: %w", err)
	}

	return out, nil
}

// SetExecutionPaths records the output/scratch directory and log path an
// executor assigned an Execution, before transitioning it to running.
func (s *Store) SetExecutionPaths(ctx context.Context, executionID int64, outputDir, logPath string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE executions SET output_dir = $1, log_path = $2 WHERE id = $3`,
		outputDir, logPath, executionID,
	)
	if err != nil {
		return fmt.Errorf("store: set execution paths: %w", err)
	}

	return nil
}
