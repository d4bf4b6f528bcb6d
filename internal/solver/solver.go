// Package solver drives the requirement resolver against the catalog for
// every registered diagnostic, computes stable group identifiers and dataset
// hashes, diffs the result against the execution store, and enqueues new
// Executions (§4.3).
package solver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/climate-eval/coreeval/internal/canonical"
	"github.com/climate-eval/coreeval/internal/catalog"
	"github.com/climate-eval/coreeval/internal/diagnostic"
	"github.com/climate-eval/coreeval/internal/resolver"
	"github.com/climate-eval/coreeval/internal/store"
)

// lockKey names the single advisory lock this solver binary uses; a config
// value in a future multi-lease design (§9 open question), a literal here.
const lockKey = "coreeval-solver"

// Options restricts which diagnostics one Solve call considers, per §4.3's
// "supports filtering by provider / diagnostic slug (substring match,
// case-sensitive)".
type Options struct {
	ProviderFilter   string
	DiagnosticFilter string
}

// Result summarizes one Solve call for callers (the CLI, logs, tests).
type Result struct {
	DiagnosticsConsidered int
	GroupsCreated         int
	ExecutionsEnqueued    int
	GroupsUpToDate        int
}

// Solve runs the algorithm of §4.3 across every diagnostic matching opts,
// serialized against any concurrent solver pass on the same database via a
// named advisory lock (§5).
func Solve(ctx context.Context, st *store.Store, cat *catalog.Store, opts Options) (Result, error) {
	release, err := st.Lock(ctx, lockKey)
	if err != nil {
		return Result{}, err
	}

	defer func() {
		if err := release(); err != nil {
			slog.Error("solver: failed to release advisory lock", slog.String("error", err.Error()))
		}
	}()

	var result Result

	deps := resolver.Deps{
		FindByInstanceID: func(sourceType, instanceID string) ([]catalog.Row, error) {
			return cat.FindByInstanceID(ctx, sourceType, instanceID)
		},
		FileTimeRanges: func(datasetID int64) ([]catalog.TimeRange, error) {
			return cat.FileTimeRanges(ctx, datasetID)
		},
	}

	query := func(sourceType string, filters []catalog.Filter) ([]catalog.Row, error) {
		return cat.Query(ctx, sourceType, filters)
	}

	matches := diagnostic.Matching(opts.ProviderFilter, opts.DiagnosticFilter)
	result.DiagnosticsConsidered = len(matches)

	for _, m := range matches {
		if err := solveDiagnostic(ctx, st, query, deps, m.ProviderSlug, m.DiagnosticSlug, m.Diagnostic, &result); err != nil {
			return result, fmt.Errorf("solver: solve %s/%s: %w", m.ProviderSlug, m.DiagnosticSlug, err)
		}
	}

	return result, nil
}

func solveDiagnostic(
	ctx context.Context,
	st *store.Store,
	query resolver.CatalogQuery,
	deps resolver.Deps,
	providerSlug, diagnosticSlug string,
	d diagnostic.Diagnostic,
	result *Result,
) error {
	reqs := d.DataRequirements()
	groupsByReq := make([][]*resolver.Group, len(reqs))

	for i, req := range reqs {
		groups, err := resolver.ResolveRequirement(req, query, deps)
		if err != nil {
			return fmt.Errorf("resolve requirement %d: %w", i, err)
		}

		groupsByReq[i] = groups
	}

	candidates := resolver.BuildCandidates(reqs, groupsByReq)

	diagnosticID, err := st.GetOrCreateDiagnostic(ctx, providerSlug, diagnosticSlug, d.Facets())
	if err != nil {
		return err
	}

	seenGroupKeys := make([]string, 0, len(candidates))

	for _, cand := range candidates {
		groupKeyStr, err := solveCandidate(ctx, st, diagnosticID, cand, result)
		if err != nil {
			return err
		}

		seenGroupKeys = append(seenGroupKeys, groupKeyStr)
	}

	if err := st.MarkVanishedGroupsStale(ctx, diagnosticID, seenGroupKeys); err != nil {
		return fmt.Errorf("mark vanished groups stale: %w", err)
	}

	return nil
}

// solveCandidate implements §4.3 steps 2-5 for one ExecutionCandidate, one
// transaction per group (not per diagnostic) so large catalogs checkpoint
// incrementally: groups committed before an error stay committed, while the
// error itself ends the whole Solve call.
func solveCandidate(ctx context.Context, st *store.Store, diagnosticID int64, cand resolver.ExecutionCandidate, result *Result) (string, error) {
	pairs := make([]canonical.FacetValue, 0, len(cand.GroupKeyValues))
	for k, v := range cand.GroupKeyValues {
		pairs = append(pairs, canonical.FacetValue{Facet: k, Value: v})
	}

	groupKeyStr := canonical.GroupKeyString(pairs)

	datasetKeys := make([]canonical.DatasetKey, 0)
	inputs := make([]store.ExecutionInput, 0)

	for sourceType, rows := range cand.DatasetsBySource {
		for _, r := range rows {
			datasetKeys = append(datasetKeys, canonical.DatasetKey{
				SourceType: sourceType, InstanceID: r.InstanceID, Version: r.Version,
			})
			inputs = append(inputs, store.ExecutionInput{
				DatasetID: r.DatasetID, InstanceID: r.InstanceID, Version: r.Version, SourceType: sourceType,
			})
		}
	}

	datasetHash := canonical.DatasetHash(datasetKeys)

	tx, err := st.BeginTx(ctx)
	if err != nil {
		return groupKeyStr, err
	}

	defer func() { _ = tx.Rollback() }()

	group, created, err := st.GetOrCreateGroup(ctx, tx, diagnosticID, groupKeyStr, cand.GroupKeyValues)
	if err != nil {
		return groupKeyStr, err
	}

	if created {
		result.GroupsCreated++
	}

	upToDate, err := st.HasSucceededWithHash(ctx, tx, group.ID, datasetHash)
	if err != nil {
		return groupKeyStr, err
	}

	if upToDate {
		if err := st.SetGroupDirty(ctx, tx, group.ID, false); err != nil {
			return groupKeyStr, err
		}

		result.GroupsUpToDate++

		return groupKeyStr, tx.Commit() //nolint:wrapcheck
	}

	if err := st.SetGroupDirty(ctx, tx, group.ID, true); err != nil {
		return groupKeyStr, err
	}

	executionID, err := st.EnqueueExecution(ctx, tx, group.ID, datasetHash, inputs)
	if err != nil {
		return groupKeyStr, err
	}

	if executionID != 0 {
		result.ExecutionsEnqueued++

		if err := st.SetGroupLatestExecution(ctx, tx, group.ID, executionID); err != nil {
			return groupKeyStr, err
		}
	}

	return groupKeyStr, tx.Commit() //nolint:wrapcheck
}
