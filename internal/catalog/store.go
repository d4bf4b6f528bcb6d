package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
)

// Store persists Datasets and Files in PostgreSQL. It owns no in-memory
// state beyond its connection; every read crosses the database, matching the
// teacher's discipline that the store exclusively owns rows (§3 Ownership).
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// NewStore wraps an existing *sql.DB. The caller owns the connection's
// lifecycle (pool sizing, Close) — Store only issues queries against it.
func NewStore(db *sql.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}

	return &Store{db: db, log: log}
}

// upsertDataset inserts a new Dataset row for (source_type, instance_id,
// version) if absent, and returns the dataset's surrogate key. Per §3, prior
// versions are never deleted, only marked inactive — retained for audit.
//
// Which row is active is always recomputed from every row on file for the
// instance_id, never assumed from the order ingestion happened to visit
// versions in: a CMIP6 DRS tree commonly has several version directories for
// one instance on disk at once, and Ingest's per-group processing order is
// not guaranteed to run from oldest to newest. So rather than only
// deactivating versions strictly older than the one just inserted (which
// does nothing, and wrongly leaves the new row active, when that row turns
// out to be older than what's already on file), every call re-derives the
// single maximum version for the instance and sets active accordingly on
// every row — idempotent and independent of call order.
func (s *Store) upsertDataset(ctx context.Context, tx *sql.Tx, sourceType, instanceID, version string, facets map[string]string) (int64, bool, error) {
	var existingID int64

	err := tx.QueryRowContext(ctx,
		`SELECT id FROM datasets WHERE source_type = $1 AND instance_id = $2 AND version = $3`,
		sourceType, instanceID, version,
	).Scan(&existingID)

	switch {
	case err == nil:
		return existingID, false, nil
	case err != sql.ErrNoRows:
		return 0, false, fmt.Errorf("catalog: lookup dataset: %w", err)
	}

	var newID int64

	if err := tx.QueryRowContext(ctx,
		`INSERT INTO datasets (source_type, instance_id, version, active)
		 VALUES ($1, $2, $3, false)
		 RETURNING id`,
		sourceType, instanceID, version,
	).Scan(&newID); err != nil {
		return 0, false, fmt.Errorf("catalog: insert dataset: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE datasets SET active = (version = (
			 SELECT max(version) FROM datasets WHERE source_type = $1 AND instance_id = $2
		 ))
		 WHERE source_type = $1 AND instance_id = $2`,
		sourceType, instanceID,
	); err != nil {
		return 0, false, fmt.Errorf("catalog: recompute active version: %w", err)
	}

	for name, value := range facets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dataset_facets (dataset_id, facet_name, facet_value)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (dataset_id, facet_name) DO UPDATE SET facet_value = EXCLUDED.facet_value`,
			newID, name, value,
		); err != nil {
			return 0, false, fmt.Errorf("catalog: insert facet %s: %w", name, err)
		}
	}

	return newID, true, nil
}

// upsertFile inserts a File row, a no-op if path already exists — ingestion
// re-runs must be idempotent (§4.1, invariant 5).
func (s *Store) upsertFile(ctx context.Context, tx *sql.Tx, datasetID int64, rec Record) error {
	var start, end any

	if rec.TimeRange != nil {
		start, end = rec.TimeRange.Start, rec.TimeRange.End
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO files (dataset_id, path, size_bytes, checksum, variable_id, time_range_start, time_range_end)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (path) DO NOTHING`,
		datasetID, rec.Path, rec.SizeBytes, rec.Checksum, rec.VariableID, start, end,
	)
	if err != nil {
		return fmt.Errorf("catalog: insert file %s: %w", rec.Path, err)
	}

	return nil
}

// Query answers §4.1's filtered-query operation over active datasets of one source_type.
func (s *Store) Query(ctx context.Context, sourceType string, filters []Filter) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.source_type, d.instance_id, d.version, f.facet_name, f.facet_value
		 FROM datasets d
		 LEFT JOIN dataset_facets f ON f.dataset_id = d.id
		 WHERE ($1 = '' OR d.source_type = $1) AND d.active = true
		 ORDER BY d.id`,
		sourceType,
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: query: %w", err)
	}
	defer rows.Close()

	byID := map[int64]*Row{}
	order := make([]int64, 0)

	for rows.Next() {
		var (
			id                     int64
			st, instanceID, ver    string
			facetName, facetValue  sql.NullString
		)

		if err := rows.Scan(&id, &st, &instanceID, &ver, &facetName, &facetValue); err != nil {
			return nil, fmt.Errorf("catalog: scan row: %w", err)
		}

		r, ok := byID[id]
		if !ok {
			r = &Row{DatasetID: id, SourceType: st, InstanceID: instanceID, Version: ver, Facets: map[string]string{}}
			byID[id] = r
			order = append(order, id)
		}

		if facetName.Valid {
			r.Facets[facetName.String] = facetValue.String
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: rows: %w", err)
	}

	result := make([]Row, 0, len(order))

	for _, id := range order {
		r := byID[id]
		if ApplyFilters(r.Facets, filters) {
			result = append(result, *r)
		}
	}

	return result, nil
}

// List returns a deduplicated projection of the given facet columns over all
// active datasets (§4.1). Deduplication is by the tuple of requested columns.
func (s *Store) List(ctx context.Context, columns []string, limit int) ([]map[string]string, error) {
	all, err := s.Query(ctx, "", nil)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	result := make([]map[string]string, 0)

	for _, r := range all {
		proj := make(map[string]string, len(columns))
		key := ""

		for _, c := range columns {
			v := r.Facets[c]
			proj[c] = v
			key += c + "=" + v + "|"
		}

		if seen[key] {
			continue
		}

		seen[key] = true
		result = append(result, proj)

		if limit > 0 && len(result) >= limit {
			break
		}
	}

	sort.Slice(result, func(i, j int) bool { return fmt.Sprint(result[i]) < fmt.Sprint(result[j]) })

	return result, nil
}
