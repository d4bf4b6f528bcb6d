package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// FindByInstanceID returns the active rows of sourceType whose instance_id
// equals instanceID, the lookup resolver.Deps.FindByInstanceID needs for the
// AddSupplementaryDataset / SelectSupplementary constraints (§4.2).
func (s *Store) FindByInstanceID(ctx context.Context, sourceType, instanceID string) ([]Row, error) {
	rows, err := s.Query(ctx, sourceType, nil)
	if err != nil {
		return nil, err
	}

	var matches []Row

	for _, r := range rows {
		if r.InstanceID == instanceID {
			matches = append(matches, r)
		}
	}

	return matches, nil
}

// GetByID returns the Row for a fixed dataset surrogate key, independent of
// its active flag — an Execution's inputs name the exact version recorded
// at submission time (Testable Property 4), which may no longer be the
// active version by the time the executor runs it.
func (s *Store) GetByID(ctx context.Context, datasetID int64) (Row, error) {
	row := Row{DatasetID: datasetID, Facets: map[string]string{}}

	if err := s.db.QueryRowContext(ctx,
		`SELECT source_type, instance_id, version FROM datasets WHERE id = $1`,
		datasetID,
	).Scan(&row.SourceType, &row.InstanceID, &row.Version); err != nil {
		return Row{}, fmt.Errorf("catalog: get dataset %d: %w", datasetID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT facet_name, facet_value FROM dataset_facets WHERE dataset_id = $1`,
		datasetID,
	)
	if err != nil {
		return Row{}, fmt.Errorf("catalog: get dataset facets %d: %w", datasetID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Row{}, fmt.Errorf("catalog: scan dataset facet: %w", err)
		}

		row.Facets[name] = value
	}

	if err := rows.Err(); err != nil {
		return Row{}, fmt.Errorf("catalog: dataset facet rows: %w", err)
	}

	return row, nil
}

// FileTimeRanges returns every File.TimeRange recorded for datasetID, the
// lookup resolver.Deps.FileTimeRanges needs for RequireContiguousTimerange /
// RequireOverlappingTimerange (§4.2).
func (s *Store) FileTimeRanges(ctx context.Context, datasetID int64) ([]TimeRange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT time_range_start, time_range_end FROM files WHERE dataset_id = $1 AND time_range_start IS NOT NULL`,
		datasetID,
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: file time ranges: %w", err)
	}
	defer rows.Close()

	var out []TimeRange

	for rows.Next() {
		var start, end sql.NullTime

		if err := rows.Scan(&start, &end); err != nil {
			return nil, fmt.Errorf("catalog: scan time range: %w", err)
		}

		if start.Valid && end.Valid {
			out = append(out, TimeRange{Start: start.Time, End: end.Time})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: time range rows: %w", err)
	}

	return out, nil
}
