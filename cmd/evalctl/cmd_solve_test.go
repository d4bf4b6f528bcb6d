package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climate-eval/coreeval/internal/config"
	"github.com/climate-eval/coreeval/internal/store"
)

func TestSelectPending_FiltersBySubstringAndOnePerProvider(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	st := store.New(testDB.DB, nil)
	t.Cleanup(func() { _ = st.Close() })

	a := &app{st: st}

	mustEnqueuePending(ctx, t, st, "pmp-annual", "annual-cycle", "source_id=A")
	mustEnqueuePending(ctx, t, st, "pmp-annual", "annual-cycle", "source_id=B")
	mustEnqueuePending(ctx, t, st, "pmp-other", "sea-ice-extent", "source_id=A")

	all, err := selectPending(ctx, a, "", "", false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlyAnnual, err := selectPending(ctx, a, "pmp-annual", "", false)
	require.NoError(t, err)
	assert.Len(t, onlyAnnual, 2)

	onePerProvider, err := selectPending(ctx, a, "", "", true)
	require.NoError(t, err)
	assert.Len(t, onePerProvider, 2, "one-per-provider caps at one pending execution per distinct provider slug")

	byDiagnostic, err := selectPending(ctx, a, "", "sea-ice", false)
	require.NoError(t, err)
	assert.Len(t, byDiagnostic, 1)
}

func TestTally_CountsTerminalStatusesByExecutionID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	st := store.New(testDB.DB, nil)
	t.Cleanup(func() { _ = st.Close() })

	a := &app{st: st}

	succeededID := mustEnqueuePending(ctx, t, st, "pmp-x", "d1", "k=1")
	require.NoError(t, st.TransitionStatus(ctx, succeededID, store.StatusPending, store.StatusRunning))
	require.NoError(t, st.TransitionStatus(ctx, succeededID, store.StatusRunning, store.StatusSucceeded))

	failedID := mustEnqueuePending(ctx, t, st, "pmp-x", "d2", "k=2")
	require.NoError(t, st.TransitionStatus(ctx, failedID, store.StatusPending, store.StatusRunning))
	require.NoError(t, st.MarkFailed(ctx, failedID, "boom"))

	cancelledID := mustEnqueuePending(ctx, t, st, "pmp-x", "d3", "k=3")
	require.NoError(t, st.CancelPending(ctx, cancelledID))

	succeeded, failed, cancelled := tally(ctx, a, []int64{succeededID, failedID, cancelledID})
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, cancelled)
}

func mustEnqueuePending(ctx context.Context, t *testing.T, st *store.Store, providerSlug, diagnosticSlug, groupKey string) int64 {
	t.Helper()

	diagID, err := st.GetOrCreateDiagnostic(ctx, providerSlug, diagnosticSlug, []string{})
	require.NoError(t, err)

	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)

	group, _, err := st.GetOrCreateGroup(ctx, tx, diagID, groupKey, map[string]string{})
	require.NoError(t, err)

	executionID, err := st.EnqueueExecution(ctx, tx, group.ID, groupKey+"-hash", nil)
	require.NoError(t, err)

	require.NoError(t, tx.Commit())

	return executionID
}
