package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// GetOrCreateGroup looks up an ExecutionGroup by (diagnosticID, groupKey),
// creating it if absent. Per §3, (diagnostic, group_key) is unique.
func (s *Store) GetOrCreateGroup(ctx context.Context, tx *sql.Tx, diagnosticID int64, groupKey string, facets map[string]string) (*ExecutionGroup, bool, error) {
	g, err := s.getGroup(ctx, tx, diagnosticID, groupKey)
	if err == nil {
		return g, false, nil
	}

	if err != sql.ErrNoRows {
		return nil, false, err
	}

	facetsJSON, err := json.Marshal(facets)
	if err != nil {
		return nil, false, fmt.Errorf("store: marshal group facets: %w", err)
	}

	var id int64

	if err := tx.QueryRowContext(ctx,
		`INSERT INTO execution_groups (diagnostic_id, group_key, group_key_facets, dirty, stale)
		 VALUES ($1, $2, $3, false, false)
		 RETURNING id`,
		diagnosticID, groupKey, facetsJSON,
	).Scan(&id); err != nil {
		return nil, false, fmt.Errorf("store: insert execution_group: %w", err)
	}

	return &ExecutionGroup{ID: id, DiagnosticID: diagnosticID, GroupKey: groupKey, GroupKeyFacets: facets}, true, nil
}

func (s *Store) getGroup(ctx context.Context, tx *sql.Tx, diagnosticID int64, groupKey string) (*ExecutionGroup, error) {
	var (
		g          ExecutionGroup
		facetsJSON []byte
		latestID   sql.NullInt64
	)

	row := tx.QueryRowContext(ctx,
		`SELECT id, diagnostic_id, group_key, group_key_facets, dirty, stale, latest_execution_id
		 FROM execution_groups WHERE diagnostic_id = $1 AND group_key = $2`,
		diagnosticID, groupKey,
	)

	if err := row.Scan(&g.ID, &g.DiagnosticID, &g.GroupKey, &facetsJSON, &g.Dirty, &g.Stale, &latestID); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}

		return nil, fmt.Errorf("store: get execution_group: %w", err)
	}

	if latestID.Valid {
		g.LatestExecutionID = &latestID.Int64
	}

	if len(facetsJSON) > 0 {
		_ = json.Unmarshal(facetsJSON, &g.GroupKeyFacets)
	}

	return &g, nil
}

// HasSucceededWithHash reports whether the group has any succeeded Execution
// — not only the most recently finished one — whose dataset_hash equals
// datasetHash. §3 defines a group dirty as "no successful Execution exists
// whose input-dataset-version set matches the currently-resolved set"; since
// (group, dataset_hash) is unique, a matching succeeded row can exist at any
// point in the group's history, including one older than a later succeeded
// run with a different hash (inputs changed and then reverted). The solver's
// "is this group up to date" check must find that row regardless of when it
// finished.
func (s *Store) HasSucceededWithHash(ctx context.Context, tx *sql.Tx, groupID int64, datasetHash string) (bool, error) {
	var exists bool

	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (
			 SELECT 1 FROM executions
			 WHERE group_id = $1 AND status = 'succeeded' AND dataset_hash = $2
		 )`,
		groupID, datasetHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: has succeeded with hash: %w", err)
	}

	return exists, nil
}

// EnqueueExecution inserts a new pending Execution for groupID with the given
// dataset_hash and records its ExecutionInputs in the same transaction.
// (group, dataset_hash) is unique (§3).
func (s *Store) EnqueueExecution(ctx context.Context, tx *sql.Tx, groupID int64, datasetHash string, inputs []ExecutionInput) (int64, error) {
	var id int64

	if err := tx.QueryRowContext(ctx,
		`INSERT INTO executions (group_id, dataset_hash, status)
		 VALUES ($1, $2, 'pending')
		 ON CONFLICT (group_id, dataset_hash) DO NOTHING
		 RETURNING id`,
		groupID, datasetHash,
	).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			// Already exists with this exact hash; nothing to enqueue.
			return 0, nil
		}

		return 0, fmt.Errorf("store: enqueue execution: %w", err)
	}

	for _, in := range inputs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO execution_inputs (execution_id, dataset_id, instance_id, version, source_type)
			 VALUES ($1, $2, $3, $4, $5)`,
			id, in.DatasetID, in.InstanceID, in.Version, in.SourceType,
		); err != nil {
			return 0, fmt.Errorf("store: insert execution_input: %w", err)
		}
	}

	return id, nil
}

// SetGroupDirty marks whether a group has a candidate set not yet matched by
// a succeeded Execution.
func (s *Store) SetGroupDirty(ctx context.Context, tx *sql.Tx, groupID int64, dirty bool) error {
	_, err := tx.ExecContext(ctx, `UPDATE execution_groups SET dirty = $1 WHERE id = $2`, dirty, groupID)
	if err != nil {
		return fmt.Errorf("store: set group dirty: %w", err)
	}

	return nil
}

// SetGroupStale flags a group whose candidate vanished (diagnostic
// unregistered, datasets withdrawn) without deleting it (§4.3 point 6).
func (s *Store) SetGroupStale(ctx context.Context, groupID int64, stale bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE execution_groups SET stale = $1 WHERE id = $2`, stale, groupID)
	if err != nil {
		return fmt.Errorf("store: set group stale: %w", err)
	}

	return nil
}

// SetGroupLatestExecution records the forward edge group -> latest_execution_id
// (Design Note §9: "store only the forward edge ... No pointer cycles").
func (s *Store) SetGroupLatestExecution(ctx context.Context, tx *sql.Tx, groupID, executionID int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE execution_groups SET latest_execution_id = $1 WHERE id = $2`, executionID, groupID)
	if err != nil {
		return fmt.Errorf("store: set group latest execution: %w", err)
	}

	return nil
}

// BeginTx starts a transaction for callers (the solver) that need to compose
// multiple Store calls atomically, one transaction per group (§4.3).
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}

	return tx, nil
}
