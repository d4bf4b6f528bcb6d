package solver_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climate-eval/coreeval/internal/bundle"
	"github.com/climate-eval/coreeval/internal/catalog"
	"github.com/climate-eval/coreeval/internal/config"
	"github.com/climate-eval/coreeval/internal/diagnostic"
	"github.com/climate-eval/coreeval/internal/resolver"
	"github.com/climate-eval/coreeval/internal/solver"
	"github.com/climate-eval/coreeval/internal/store"
)

// fakeDiagnostic is a minimal Diagnostic used to drive the solver without a
// real provider subprocess, grouping by the facets scenario S1 names.
type fakeDiagnostic struct {
	slug string
	req  resolver.DataRequirement
}

func (f fakeDiagnostic) Slug() string                               { return f.slug }
func (f fakeDiagnostic) DataRequirements() []resolver.DataRequirement { return []resolver.DataRequirement{f.req} }
func (f fakeDiagnostic) Facets() []string                            { return []string{"statistic"} }
func (f fakeDiagnostic) Execute(context.Context, diagnostic.Definition) error { return nil }

func (f fakeDiagnostic) BuildExecutionResult(diagnostic.Definition) (bundle.OutputBundle, bundle.MetricBundle, error) {
	return bundle.OutputBundle{}, bundle.MetricBundle{}, nil
}

func writeTasFile(t *testing.T, root, sourceID, experiment, member, version, timerange string) {
	t.Helper()

	dir := filepath.Join(root, "CMIP", "CSIRO", sourceID, experiment, member, "Amon", "tas", "gn", version)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	name := "tas_Amon_" + sourceID + "_" + experiment + "_" + member + "_gn_" + timerange + ".nc"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte{}, 0o644))
}

// registerTasDiagnostic registers, under a unique provider slug per test, a
// diagnostic grouping by the facets scenario S1 names.
func registerTasDiagnostic(t *testing.T, providerSlug string) {
	t.Helper()

	diagnostic.RegisterProvider(diagnostic.Provider{
		Slug:    providerSlug,
		Version: "v1",
		Diagnostics: []diagnostic.Diagnostic{fakeDiagnostic{
			slug: "annual-cycle",
			req: resolver.DataRequirement{
				SourceType: "cmip6",
				Filters: []catalog.Filter{
					{Keep: true, Facets: map[string][]string{"variable_id": {"tas"}}},
				},
				GroupBy: []string{"source_id", "experiment_id", "variable_id", "member_id"},
			},
		}},
	})
}

// TestSolve_Idempotence exercises Testable Property 1 and scenario S1: two
// successive solves with no dataset changes between them produce zero new
// groups and executions on the second pass; with the first execution still
// pending, the group is not yet up to date.
func TestSolve_Idempotence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	cat := catalog.NewStore(testDB.DB, nil)
	st := store.New(testDB.DB, nil)
	t.Cleanup(func() { _ = st.Close() })

	root := t.TempDir()
	writeTasFile(t, root, "ACCESS-ESM1-5", "historical", "r1i1p1f1", "v20191115", "185001-201412")

	_, err := cat.Ingest(ctx, "cmip6", []string{root}, catalog.IngestOptions{NJobs: 1, Parser: "drs"})
	require.NoError(t, err)

	registerTasDiagnostic(t, "pmp-s1")

	res1, err := solver.Solve(ctx, st, cat, solver.Options{ProviderFilter: "pmp-s1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res1.GroupsCreated)
	assert.Equal(t, 1, res1.ExecutionsEnqueued)

	res2, err := solver.Solve(ctx, st, cat, solver.Options{ProviderFilter: "pmp-s1"})
	require.NoError(t, err)
	assert.Equal(t, 0, res2.GroupsCreated, "second solve must create no new groups")
	assert.Equal(t, 0, res2.ExecutionsEnqueued, "second solve with no dataset changes must enqueue zero new executions")
	assert.Equal(t, 0, res2.GroupsUpToDate, "a group whose only execution is still pending has no succeeded match yet")
}

// TestSolve_VersionSupersessionDirtiesGroup exercises scenario S3: after a
// group's execution succeeds, ingesting a newer version of the same
// instance_id causes the next solve to enqueue a new Execution whose
// dataset_hash differs from the prior one.
func TestSolve_VersionSupersessionDirtiesGroup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	cat := catalog.NewStore(testDB.DB, nil)
	st := store.New(testDB.DB, nil)
	t.Cleanup(func() { _ = st.Close() })

	root := t.TempDir()
	writeTasFile(t, root, "ACCESS-ESM1-5", "historical", "r1i1p1f1", "v20191115", "185001-201412")

	_, err := cat.Ingest(ctx, "cmip6", []string{root}, catalog.IngestOptions{NJobs: 1, Parser: "drs"})
	require.NoError(t, err)

	registerTasDiagnostic(t, "pmp-s3")

	res1, err := solver.Solve(ctx, st, cat, solver.Options{ProviderFilter: "pmp-s3"})
	require.NoError(t, err)
	require.Equal(t, 1, res1.ExecutionsEnqueued)

	firstExecutionID := latestExecutionID(ctx, t, testDB.DB)
	firstHash := datasetHashOf(ctx, t, testDB.DB, firstExecutionID)

	require.NoError(t, st.TransitionStatus(ctx, firstExecutionID, store.StatusPending, store.StatusRunning))
	require.NoError(t, st.TransitionStatus(ctx, firstExecutionID, store.StatusRunning, store.StatusSucceeded))

	resUpToDate, err := solver.Solve(ctx, st, cat, solver.Options{ProviderFilter: "pmp-s3"})
	require.NoError(t, err)
	assert.Equal(t, 1, resUpToDate.GroupsUpToDate)
	assert.Equal(t, 0, resUpToDate.ExecutionsEnqueued)

	writeTasFile(t, root, "ACCESS-ESM1-5", "historical", "r1i1p1f1", "v20211001", "185001-201412")

	_, err = cat.Ingest(ctx, "cmip6", []string{root}, catalog.IngestOptions{NJobs: 1, Parser: "drs"})
	require.NoError(t, err)

	res2, err := solver.Solve(ctx, st, cat, solver.Options{ProviderFilter: "pmp-s3"})
	require.NoError(t, err)
	assert.Equal(t, 1, res2.ExecutionsEnqueued, "a newer dataset version must dirty the group and enqueue exactly one new execution")

	secondExecutionID := latestExecutionID(ctx, t, testDB.DB)
	secondHash := datasetHashOf(ctx, t, testDB.DB, secondExecutionID)

	assert.NotEqual(t, firstHash, secondHash, "dataset_hash must differ once the input dataset version changed")
}

// TestSolve_RevertToPreviouslySucceededHashMarksUpToDate exercises §3's
// definition of dirty ("no successful Execution exists whose input-dataset-
// version set matches the currently-resolved set"): once a group has
// succeeded at hash H1, moved on to a succeeded H2, and the catalog's active
// version then reverts to what produced H1, the solver must recognize the
// still-existing H1 execution and mark the group up to date rather than
// enqueue a duplicate — even though H1 is no longer the most recently
// finished execution.
func TestSolve_RevertToPreviouslySucceededHashMarksUpToDate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	cat := catalog.NewStore(testDB.DB, nil)
	st := store.New(testDB.DB, nil)
	t.Cleanup(func() { _ = st.Close() })

	root := t.TempDir()
	writeTasFile(t, root, "ACCESS-ESM1-5", "historical", "r1i1p1f1", "v20191115", "185001-201412")

	_, err := cat.Ingest(ctx, "cmip6", []string{root}, catalog.IngestOptions{NJobs: 1, Parser: "drs"})
	require.NoError(t, err)

	registerTasDiagnostic(t, "pmp-revert")

	res1, err := solver.Solve(ctx, st, cat, solver.Options{ProviderFilter: "pmp-revert"})
	require.NoError(t, err)
	require.Equal(t, 1, res1.ExecutionsEnqueued)

	firstExecutionID := latestExecutionID(ctx, t, testDB.DB)
	firstHash := datasetHashOf(ctx, t, testDB.DB, firstExecutionID)

	require.NoError(t, st.TransitionStatus(ctx, firstExecutionID, store.StatusPending, store.StatusRunning))
	require.NoError(t, st.TransitionStatus(ctx, firstExecutionID, store.StatusRunning, store.StatusSucceeded))

	writeTasFile(t, root, "ACCESS-ESM1-5", "historical", "r1i1p1f1", "v20211001", "185001-201412")

	_, err = cat.Ingest(ctx, "cmip6", []string{root}, catalog.IngestOptions{NJobs: 1, Parser: "drs"})
	require.NoError(t, err)

	res2, err := solver.Solve(ctx, st, cat, solver.Options{ProviderFilter: "pmp-revert"})
	require.NoError(t, err)
	require.Equal(t, 1, res2.ExecutionsEnqueued)

	secondExecutionID := latestExecutionID(ctx, t, testDB.DB)
	secondHash := datasetHashOf(ctx, t, testDB.DB, secondExecutionID)
	require.NotEqual(t, firstHash, secondHash)

	require.NoError(t, st.TransitionStatus(ctx, secondExecutionID, store.StatusPending, store.StatusRunning))
	require.NoError(t, st.TransitionStatus(ctx, secondExecutionID, store.StatusRunning, store.StatusSucceeded))

	// Simulate the catalog reverting to the inputs that produced firstHash:
	// v20191115 becomes active again, v20211001 inactive. Datasets are never
	// deleted (§3), so both rows still exist; only which one is active changes.
	_, err = testDB.DB.ExecContext(ctx, `UPDATE datasets SET active = false WHERE version = 'v20211001'`)
	require.NoError(t, err)

	_, err = testDB.DB.ExecContext(ctx, `UPDATE datasets SET active = true WHERE version = 'v20191115'`)
	require.NoError(t, err)

	res3, err := solver.Solve(ctx, st, cat, solver.Options{ProviderFilter: "pmp-revert"})
	require.NoError(t, err)
	assert.Equal(t, 1, res3.GroupsUpToDate, "a previously-succeeded hash must be recognized even though it is not the most recently finished execution")
	assert.Equal(t, 0, res3.ExecutionsEnqueued, "reverting to an already-succeeded input set must not enqueue a duplicate execution")
}

func latestExecutionID(ctx context.Context, t *testing.T, db *sql.DB) int64 {
	t.Helper()

	var id int64

	err := db.QueryRowContext(ctx, `SELECT id FROM executions ORDER BY id DESC LIMIT 1`).Scan(&id)
	require.NoError(t, err)

	return id
}

func datasetHashOf(ctx context.Context, t *testing.T, db *sql.DB, executionID int64) string {
	t.Helper()

	var hash string

	err := db.QueryRowContext(ctx, `SELECT dataset_hash FROM executions WHERE id = $1`, executionID).Scan(&hash)
	require.NoError(t, err)

	return hash
}
