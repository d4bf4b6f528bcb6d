package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// parseResult pairs a successfully-extracted Record with its key, or a failure.
type parseResult struct {
	rec        Record
	instanceID string
	version    string
	err        error
	path       string
}

// Ingest walks paths for files matching sourceType's adapter pattern, extracts
// metadata in parallel (bounded by opts.NJobs and throttled by a token-bucket
// limiter to protect shared I/O, per Design Note §9 "Parallel ingest"), and
// commits one Dataset/File upsert batch per discovered (instance_id, version). Ingestion
// is idempotent: re-running over identical paths produces no new rows.
func (s *Store) Ingest(ctx context.Context, sourceType string, paths []string, opts IngestOptions) (IngestResult, error) {
	adapter, ok := AdapterFor(sourceType)
	if !ok {
		return IngestResult{}, fmt.Errorf("%w: %s", ErrAdapterNotRegistered, sourceType)
	}

	files, err := expandPaths(paths, adapter.FilePattern())
	if err != nil {
		return IngestResult{}, err
	}

	if len(files) == 0 {
		return IngestResult{}, fmt.Errorf("%w: %s under %v", ErrNoFilesMatched, sourceType, paths)
	}

	nJobs := opts.NJobs
	if nJobs <= 0 {
		nJobs = 1
	}

	limiter := rate.NewLimiter(rate.Limit(nJobs*4), nJobs*4) //nolint:mnd // generous burst over the worker count

	results := make(chan parseResult, len(files))

	var wg sync.WaitGroup

	sem := make(chan struct{}, nJobs)

	for _, path := range files {
		wg.Add(1)

		go func(path string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if err := limiter.Wait(ctx); err != nil {
				results <- parseResult{path: path, err: err}

				return
			}

			rec, err := adapter.ExtractFileMetadata(path, opts.Parser)
			if err != nil {
				results <- parseResult{path: path, err: err}

				return
			}

			instanceID, version := adapter.DeriveDatasetKey(rec)
			results <- parseResult{rec: rec, instanceID: instanceID, version: version, path: path}
		}(path)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	type group struct {
		instanceID, version string
		records             []Record
	}

	groups := map[string]*group{}

	out := IngestResult{FilesSeen: len(files)}

	for r := range results {
		if r.err != nil {
			out.Failures = append(out.Failures, IngestFailure{Path: r.path, Reason: r.err.Error()})

			if !opts.SkipInvalid {
				return out, fmt.Errorf("catalog: ingest aborted: %w", r.err)
			}

			s.log.Warn("skipping invalid file", slog.String("path", r.path), slog.String("reason", r.err.Error()))

			continue
		}

		key := r.instanceID + "\x00" + r.version

		g, ok := groups[key]
		if !ok {
			g = &group{instanceID: r.instanceID, version: r.version}
			groups[key] = g
		}

		g.records = append(g.records, r.rec)
	}

	// The writer is single-threaded per transaction (batch-committed), per
	// Design Note §9 "Parallel ingest" — one transaction per group here keeps
	// a bad group from rolling back the whole ingest.
	for _, g := range groups {
		facets := map[string]string{}
		for _, rec := range g.records {
			for k, v := range rec.Facets {
				if k != "version" {
					facets[k] = v
				}
			}
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return out, fmt.Errorf("catalog: begin tx: %w", err)
		}

		datasetID, created, err := s.upsertDataset(ctx, tx, sourceType, g.instanceID, g.version, facets)
		if err != nil {
			_ = tx.Rollback()

			return out, err
		}

		for _, rec := range g.records {
			if err := s.upsertFile(ctx, tx, datasetID, rec); err != nil {
				_ = tx.Rollback()

				return out, err
			}
		}

		if err := tx.Commit(); err != nil {
			return out, fmt.Errorf("catalog: commit: %w", err)
		}

		if created {
			out.DatasetsAdded++
		} else {
			out.DatasetsSkipped++
		}
	}

	return out, nil
}

// expandPaths walks each root (absolute, rooted as given per §4.1) collecting
// files matching the adapter's pattern at any depth.
func expandPaths(paths []string, pattern string) ([]string, error) {
	var all []string

	for _, root := range paths {
		walked, err := walkMatch(root, pattern)
		if err != nil {
			return nil, fmt.Errorf("catalog: walk %s: %w", root, err)
		}

		all = append(all, walked...)
	}

	return dedupeStrings(all), nil
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))

	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	return out
}
