package distributedqueue_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/climate-eval/coreeval/internal/bundle"
	"github.com/climate-eval/coreeval/internal/catalog"
	"github.com/climate-eval/coreeval/internal/config"
	"github.com/climate-eval/coreeval/internal/diagnostic"
	"github.com/climate-eval/coreeval/internal/executor"
	_ "github.com/climate-eval/coreeval/internal/executor/distributedqueue"
	"github.com/climate-eval/coreeval/internal/resolver"
	"github.com/climate-eval/coreeval/internal/solver"
	"github.com/climate-eval/coreeval/internal/store"
)

type queueDiagnostic struct{}

func (queueDiagnostic) Slug() string { return "annual-cycle" }

func (queueDiagnostic) DataRequirements() []resolver.DataRequirement {
	return []resolver.DataRequirement{{
		SourceType: "cmip6",
		Filters:    []catalog.Filter{{Keep: true, Facets: map[string][]string{"variable_id": {"tas"}}}},
		GroupBy:    []string{"source_id", "experiment_id", "variable_id", "member_id"},
	}}
}

func (queueDiagnostic) Facets() []string { return []string{"region"} }

func (queueDiagnostic) Execute(context.Context, diagnostic.Definition) error { return nil }

func (queueDiagnostic) BuildExecutionResult(diagnostic.Definition) (bundle.OutputBundle, bundle.MetricBundle, error) {
	ob := bundle.OutputBundle{Provenance: bundle.Provenance{Environment: map[string]any{}, ObsData: map[string]any{}, Log: "out.log"}}
	mb := bundle.MetricBundle{
		Dimensions: bundle.Dimensions{JSONStructure: []string{"region"}},
		Results:    map[string]any{"global": 1.0},
	}

	return ob, mb, nil
}

// TestDistributedQueueExecutor_SubmitAndConsumeRunsJobToSucceeded exercises
// the Kafka-backed variant end to end: Submit publishes to the submissions
// topic, a Listen-ing consumer (sharing this process for the test) picks it
// up, runs the job, and transitions the Execution to succeeded the same way
// the synchronous variant does (§4.5).
func TestDistributedQueueExecutor_SubmitAndConsumeRunsJobToSucceeded(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	kafkaContainer, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("coreeval-test"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = kafkaContainer.Terminate(context.Background()) })

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)

	testDB := config.SetupTestDatabase(ctx, t)

	cat := catalog.NewStore(testDB.DB, nil)
	st := store.New(testDB.DB, nil)
	t.Cleanup(func() { _ = st.Close() })

	root := t.TempDir()
	dir := filepath.Join(root, "CMIP", "CSIRO", "ACCESS-ESM1-5", "historical", "r1i1p1f1", "Amon", "tas", "gn", "v20191115")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tas_Amon_ACCESS-ESM1-5_historical_r1i1p1f1_gn_185001-201412.nc"), []byte{}, 0o644))

	_, err = cat.Ingest(ctx, "cmip6", []string{root}, catalog.IngestOptions{NJobs: 1, Parser: "drs"})
	require.NoError(t, err)

	diagnostic.RegisterProvider(diagnostic.Provider{
		Slug: "pmp-queue", Version: "v1",
		Diagnostics: []diagnostic.Diagnostic{queueDiagnostic{}},
	})

	_, err = solver.Solve(ctx, st, cat, solver.Options{ProviderFilter: "pmp-queue"})
	require.NoError(t, err)

	pending, err := st.ListPendingExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	resultsRoot := t.TempDir()

	exec, err := executor.New("distributedqueue", st, cat, executor.Options{ResultsRoot: resultsRoot, KafkaBrokers: brokers})
	require.NoError(t, err)

	job, err := executor.BuildJob(ctx, cat, resultsRoot, pending[0])
	require.NoError(t, err)

	require.NoError(t, exec.Submit(ctx, job))

	listener, ok := exec.(interface{ Listen(*kafka.Writer) })
	require.True(t, ok, "distributedqueue.Executor must expose Listen for worker processes")

	listener.Listen(nil)

	require.Eventually(t, func() bool {
		var status string

		if err := testDB.DB.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = $1`, pending[0].ExecutionID).Scan(&status); err != nil {
			return false
		}

		return status == string(store.StatusSucceeded)
	}, 30*time.Second, 200*time.Millisecond, "consumer must pick up the submission and run it to completion")

	joinCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	assert.NoError(t, exec.Join(joinCtx))
}
