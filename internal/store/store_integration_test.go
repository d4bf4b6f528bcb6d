package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climate-eval/coreeval/internal/config"
	"github.com/climate-eval/coreeval/internal/store"
)

func newTestStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	s := store.New(testDB.DB, nil)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

// TestGetOrCreateGroup_UniqueOnDiagnosticAndGroupKey exercises §3's
// (diagnostic, group_key) uniqueness invariant: a second call with the same
// key returns the same row instead of creating a duplicate.
func TestGetOrCreateGroup_UniqueOnDiagnosticAndGroupKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(ctx, t)

	diagnosticID, err := s.GetOrCreateDiagnostic(ctx, "pmp", "annual-cycle", []string{"region"})
	require.NoError(t, err)

	tx1, err := s.BeginTx(ctx)
	require.NoError(t, err)

	g1, created1, err := s.GetOrCreateGroup(ctx, tx1, diagnosticID, "source_id=ACCESS-ESM1-5", map[string]string{"source_id": "ACCESS-ESM1-5"})
	require.NoError(t, err)
	assert.True(t, created1)
	require.NoError(t, tx1.Commit())

	tx2, err := s.BeginTx(ctx)
	require.NoError(t, err)

	g2, created2, err := s.GetOrCreateGroup(ctx, tx2, diagnosticID, "source_id=ACCESS-ESM1-5", map[string]string{"source_id": "ACCESS-ESM1-5"})
	require.NoError(t, err)
	assert.False(t, created2, "identical (diagnostic, group_key) must not create a second row")
	assert.Equal(t, g1.ID, g2.ID)
	require.NoError(t, tx2.Commit())
}

// TestTransitionStatus_EnforcesStateMachine verifies the legal edges of §4.5
// and rejects the ones the state machine forbids (no direct pending -> succeeded).
func TestTransitionStatus_EnforcesStateMachine(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(ctx, t)

	executionID := mustEnqueue(ctx, t, s)

	err := s.TransitionStatus(ctx, executionID, store.StatusPending, store.StatusSucceeded)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	require.NoError(t, s.TransitionStatus(ctx, executionID, store.StatusPending, store.StatusRunning))
	require.NoError(t, s.TransitionStatus(ctx, executionID, store.StatusRunning, store.StatusSucceeded))

	err = s.TransitionStatus(ctx, executionID, store.StatusSucceeded, store.StatusPending)
	assert.ErrorIs(t, err, store.ErrInvalidTransition, "succeeded -> pending is not a legal edge")
}

// TestTransitionStatus_CompareAndSetRejectsConcurrentWinner exercises
// Testable Property 3: at most one Execution of a group may be running, via
// the compare-and-set UPDATE ... WHERE status = from.
func TestTransitionStatus_CompareAndSetRejectsConcurrentWinner(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(ctx, t)

	executionID := mustEnqueue(ctx, t, s)

	require.NoError(t, s.TransitionStatus(ctx, executionID, store.StatusPending, store.StatusRunning))

	err := s.TransitionStatus(ctx, executionID, store.StatusPending, store.StatusRunning)
	assert.ErrorIs(t, err, store.ErrConflict, "a second pending->running CAS on an already-running execution must lose")
}

// TestRetry_OnlyLegalFromFailed exercises the "failed -> pending only via
// explicit retry" edge and scenario S5's resume step.
func TestRetry_OnlyLegalFromFailed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(ctx, t)

	executionID := mustEnqueue(ctx, t, s)

	require.NoError(t, s.TransitionStatus(ctx, executionID, store.StatusPending, store.StatusRunning))
	assert.ErrorIs(t, s.Retry(ctx, executionID), store.ErrConflict, "a running execution cannot be retried")
	require.NoError(t, s.MarkFailed(ctx, executionID, "lost worker"))

	require.NoError(t, s.Retry(ctx, executionID))
}

// TestReapLostWorkers_MarksStaleRunningExecutionsFailed exercises scenario
// S5: a running Execution whose heartbeat lease expired is reclaimed as
// failed with reason "lost worker" on the next sweep.
func TestReapLostWorkers_MarksStaleRunningExecutionsFailed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(ctx, t)

	executionID := mustEnqueue(ctx, t, s)
	require.NoError(t, s.TransitionStatus(ctx, executionID, store.StatusPending, store.StatusRunning))

	n, err := s.ReapLostWorkers(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = s.TransitionStatus(ctx, executionID, store.StatusRunning, store.StatusSucceeded)
	assert.ErrorIs(t, err, store.ErrConflict, "the reaped execution is no longer running")
}

// TestRecordOutputs_RejectsAbsolutePathAndRoundTrips exercises the §4.4
// invariant ("absolute paths are rejected") and the §8 round-trip law
// ("relative output paths ... joined with the results root at read time
// reproduce the absolute path where the file was written").
func TestRecordOutputs_RejectsAbsolutePathAndRoundTrips(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(ctx, t)

	executionID := mustEnqueue(ctx, t, s)

	sourceDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "output.json"), []byte(`{}`), 0o644))

	err := s.RecordOutputs(ctx, t.TempDir(), "pmp", "annual-cycle", "source_id=ACCESS-ESM1-5", executionID, sourceDir,
		[]store.ManifestEntry{{RelativePath: "/etc/passwd", Type: store.OutputJSON}})
	assert.ErrorIs(t, err, store.ErrAbsoluteOutputPath)

	resultsRoot := t.TempDir()

	err = s.RecordOutputs(ctx, resultsRoot, "pmp", "annual-cycle", "source_id=ACCESS-ESM1-5", executionID, sourceDir,
		[]store.ManifestEntry{{RelativePath: "output.json", Type: store.OutputJSON, MIMEType: "application/json"}})
	require.NoError(t, err)

	got := store.OutputPath(resultsRoot, "pmp", "annual-cycle", "source_id=ACCESS-ESM1-5", executionID, "output.json")

	b, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(b))
}

// TestRecordMetricValues_RejectsUndeclaredOrMissingFacets exercises scenario
// S6: a metric bundle whose declared facets don't exactly match what's
// required fails validation and inserts nothing.
func TestRecordMetricValues_RejectsUndeclaredOrMissingFacets(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(ctx, t)

	executionID := mustEnqueue(ctx, t, s)

	err := s.RecordMetricValues(ctx, executionID, []string{"region", "statistic"},
		[]store.MetricValue{{Facets: map[string]string{"region": "global", "statistic": "rmse", "extra": "x"}, Value: 1.0}},
		nil,
	)
	assert.ErrorIs(t, err, store.ErrUnknownFacet)

	err = s.RecordMetricValues(ctx, executionID, []string{"region", "statistic"},
		[]store.MetricValue{{Facets: map[string]string{"region": "global"}, Value: 1.0}},
		nil,
	)
	assert.ErrorIs(t, err, store.ErrMissingFacet)

	err = s.RecordMetricValues(ctx, executionID, []string{"region", "statistic"},
		[]store.MetricValue{{Facets: map[string]string{"region": "global", "statistic": "rmse"}, Value: 1.0}},
		nil,
	)
	require.NoError(t, err)
}

// TestLock_SequentialAcquireRelease exercises acquiring and releasing the
// same advisory lock key twice in a row: if release() unlocked the wrong
// pooled connection, the second Lock call would hang forever rather than
// return.
func TestLock_SequentialAcquireRelease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(ctx, t)

	for i := 0; i < 2; i++ {
		release, err := s.Lock(ctx, "test-lock-sequential")
		require.NoError(t, err)
		require.NoError(t, release())
	}
}

// TestLock_BlocksConcurrentAcquireUntilReleased exercises §5's "serialized
// against each other via a named advisory lock": a second Lock on the same
// key must block until the first is released, and must acquire promptly
// afterward. Before the fix, release() could silently unlock the wrong
// pooled connection, leaving the lock held forever and the second Lock
// blocked past the timeout below.
func TestLock_BlocksConcurrentAcquireUntilReleased(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(ctx, t)

	const key = "test-lock-concurrent"

	release1, err := s.Lock(ctx, key)
	require.NoError(t, err)

	acquired := make(chan func() error, 1)

	go func() {
		release2, err := s.Lock(context.Background(), key)
		require.NoError(t, err)
		acquired <- release2
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired the key before the first was released")
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, release1())

	select {
	case release2 := <-acquired:
		require.NoError(t, release2())
	case <-time.After(5 * time.Second):
		t.Fatal("second Lock never acquired after release; release must act on the same connection that acquired the lock")
	}
}

// mustEnqueue creates a diagnostic, group, and one pending Execution, returning its ID.
func mustEnqueue(ctx context.Context, t *testing.T, s *store.Store) int64 {
	t.Helper()

	diagnosticID, err := s.GetOrCreateDiagnostic(ctx, "pmp", "annual-cycle", []string{"region", "statistic"})
	require.NoError(t, err)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)

	group, _, err := s.GetOrCreateGroup(ctx, tx, diagnosticID, "source_id=ACCESS-ESM1-5", map[string]string{"source_id": "ACCESS-ESM1-5"})
	require.NoError(t, err)

	executionID, err := s.EnqueueExecution(ctx, tx, group.ID, "deadbeef", nil)
	require.NoError(t, err)
	require.NotZero(t, executionID)

	require.NoError(t, tx.Commit())

	return executionID
}
