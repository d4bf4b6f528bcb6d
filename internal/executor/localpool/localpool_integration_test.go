package localpool_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climate-eval/coreeval/internal/bundle"
	"github.com/climate-eval/coreeval/internal/catalog"
	"github.com/climate-eval/coreeval/internal/config"
	"github.com/climate-eval/coreeval/internal/diagnostic"
	"github.com/climate-eval/coreeval/internal/executor"
	_ "github.com/climate-eval/coreeval/internal/executor/localpool"
	"github.com/climate-eval/coreeval/internal/resolver"
	"github.com/climate-eval/coreeval/internal/solver"
	"github.com/climate-eval/coreeval/internal/store"
)

type trivialDiagnostic struct{}

func (trivialDiagnostic) Slug() string { return "annual-cycle" }

func (trivialDiagnostic) DataRequirements() []resolver.DataRequirement {
	return []resolver.DataRequirement{{
		SourceType: "cmip6",
		Filters:    []catalog.Filter{{Keep: true, Facets: map[string][]string{"variable_id": {"tas"}}}},
		GroupBy:    []string{"source_id", "experiment_id", "variable_id", "member_id"},
	}}
}

func (trivialDiagnostic) Facets() []string { return []string{"region"} }

func (trivialDiagnostic) Execute(context.Context, diagnostic.Definition) error { return nil }

func (trivialDiagnostic) BuildExecutionResult(diagnostic.Definition) (bundle.OutputBundle, bundle.MetricBundle, error) {
	ob := bundle.OutputBundle{Provenance: bundle.Provenance{Environment: map[string]any{}, ObsData: map[string]any{}, Log: "out.log"}}
	mb := bundle.MetricBundle{
		Dimensions: bundle.Dimensions{JSONStructure: []string{"region"}},
		Results:    map[string]any{"global": 1.0},
	}

	return ob, mb, nil
}

// TestLocalPoolExecutor_SubmitReturnsBeforeCompletionJoinWaits exercises the
// localpool variant's contract: Submit is non-blocking, Join waits for the
// dispatched work to actually finish and transition to succeeded.
func TestLocalPoolExecutor_SubmitReturnsBeforeCompletionJoinWaits(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	cat := catalog.NewStore(testDB.DB, nil)
	st := store.New(testDB.DB, nil)
	t.Cleanup(func() { _ = st.Close() })

	root := t.TempDir()
	dir := filepath.Join(root, "CMIP", "CSIRO", "ACCESS-ESM1-5", "historical", "r1i1p1f1", "Amon", "tas", "gn", "v20191115")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tas_Amon_ACCESS-ESM1-5_historical_r1i1p1f1_gn_185001-201412.nc"), []byte{}, 0o644))

	_, err := cat.Ingest(ctx, "cmip6", []string{root}, catalog.IngestOptions{NJobs: 1, Parser: "drs"})
	require.NoError(t, err)

	diagnostic.RegisterProvider(diagnostic.Provider{
		Slug: "pmp-localpool", Version: "v1",
		Diagnostics: []diagnostic.Diagnostic{trivialDiagnostic{}},
	})

	_, err = solver.Solve(ctx, st, cat, solver.Options{ProviderFilter: "pmp-localpool"})
	require.NoError(t, err)

	pending, err := st.ListPendingExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	resultsRoot := t.TempDir()

	exec, err := executor.New("localpool", st, cat, executor.Options{ResultsRoot: resultsRoot, Concurrency: 2})
	require.NoError(t, err)

	job, err := executor.BuildJob(ctx, cat, resultsRoot, pending[0])
	require.NoError(t, err)

	require.NoError(t, exec.Submit(ctx, job))
	require.NoError(t, exec.Join(ctx))

	var status string
	require.NoError(t, testDB.DB.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = $1`, pending[0].ExecutionID).Scan(&status))
	assert.Equal(t, string(store.StatusSucceeded), status)
}
