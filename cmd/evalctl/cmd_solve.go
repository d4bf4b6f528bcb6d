package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/climate-eval/coreeval/internal/executor"
	"github.com/climate-eval/coreeval/internal/solver"
	"github.com/climate-eval/coreeval/internal/store"
)

var (
	solveProvider      string
	solveDiagnostic    string
	solveTimeout       time.Duration
	solveOnePerProvider bool
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Resolve diagnostics against the catalog, enqueue executions, and run them",
	RunE:  runSolve,
}

func init() {
	solveCmd.Flags().StringVar(&solveProvider, "provider", "", "restrict to providers whose slug contains this substring")
	solveCmd.Flags().StringVar(&solveDiagnostic, "diagnostic", "", "restrict to diagnostics whose slug contains this substring")
	solveCmd.Flags().DurationVar(&solveTimeout, "timeout", 0, "wall-clock budget for the solve-and-execute operation (0 = unbounded)")
	solveCmd.Flags().BoolVar(&solveOnePerProvider, "one-per-provider", false, "submit at most one pending execution per provider")
}

func runSolve(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap()
	if err != nil {
		return fatal(cmd, err)
	}
	defer a.close()

	ctx := cmd.Context()

	if solveTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, solveTimeout)
		defer cancel()
	}

	result, err := solver.Solve(ctx, a.st, a.cat, solver.Options{
		ProviderFilter:   solveProvider,
		DiagnosticFilter: solveDiagnostic,
	})
	if err != nil {
		return fatal(cmd, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "diagnostics considered: %d, groups created: %d, groups up to date: %d, executions enqueued: %d\n",
		result.DiagnosticsConsidered, result.GroupsCreated, result.GroupsUpToDate, result.ExecutionsEnqueued)

	pending, err := selectPending(ctx, a, solveProvider, solveDiagnostic, solveOnePerProvider)
	if err != nil {
		return fatal(cmd, err)
	}

	if len(pending) == 0 {
		return nil
	}

	ex, err := buildExecutor(a)
	if err != nil {
		return fatal(cmd, err)
	}

	submitted := submitAll(ctx, a, ex, pending)

	joinErr := ex.Join(ctx)
	if joinErr != nil {
		cancelOutstanding(context.Background(), a, submitted)
	}

	succeeded, failed, cancelled := tally(context.Background(), a, submitted)

	fmt.Fprintf(cmd.OutOrStdout(), "submitted: %d, succeeded: %d, failed: %d, cancelled: %d\n",
		len(submitted), succeeded, failed, cancelled)

	if failed > 0 || cancelled > 0 {
		return fmt.Errorf("evalctl: solve completed with %d failed and %d cancelled execution(s)", failed, cancelled)
	}

	return nil
}

// selectPending lists every pending Execution and restricts it to the
// diagnostics this solve pass considered, optionally capping to one per
// provider so a smoke-test run touches each provider exactly once.
func selectPending(ctx context.Context, a *app, providerSubstr, diagnosticSubstr string, onePerProvider bool) ([]store.PendingExecution, error) {
	all, err := a.st.ListPendingExecutions(ctx)
	if err != nil {
		return nil, fmt.Errorf("evalctl: list pending executions: %w", err)
	}

	seenProvider := map[string]bool{}

	out := make([]store.PendingExecution, 0, len(all))

	for _, pe := range all {
		if providerSubstr != "" && !strings.Contains(pe.ProviderSlug, providerSubstr) {
			continue
		}

		if diagnosticSubstr != "" && !strings.Contains(pe.DiagnosticSlug, diagnosticSubstr) {
			continue
		}

		if onePerProvider {
			if seenProvider[pe.ProviderSlug] {
				continue
			}

			seenProvider[pe.ProviderSlug] = true
		}

		out = append(out, pe)
	}

	return out, nil
}

func submitAll(ctx context.Context, a *app, ex executor.Executor, pending []store.PendingExecution) []int64 {
	submitted := make([]int64, 0, len(pending))

	for _, pe := range pending {
		job, err := executor.BuildJob(ctx, a.cat, a.cfg.Paths.Results, pe)
		if err != nil {
			_ = a.st.MarkFailed(ctx, pe.ExecutionID, err.Error())

			continue
		}

		if err := ex.Submit(ctx, job); err != nil {
			continue
		}

		submitted = append(submitted, pe.ExecutionID)
	}

	return submitted
}

// cancelOutstanding transitions every submitted Execution still pending to
// cancelled, per §4.5's top-level timeout: "outstanding pending executions
// are cancelled."
func cancelOutstanding(ctx context.Context, a *app, executionIDs []int64) {
	for _, id := range executionIDs {
		_ = a.st.CancelPending(ctx, id)
	}
}

func tally(ctx context.Context, a *app, executionIDs []int64) (succeeded, failed, cancelled int) {
	for _, id := range executionIDs {
		detail, err := a.st.GetExecution(ctx, id)
		if err != nil || detail == nil {
			continue
		}

		switch detail.Execution.Status {
		case store.StatusSucceeded:
			succeeded++
		case store.StatusFailed:
			failed++
		case store.StatusCancelled:
			cancelled++
		}
	}

	return succeeded, failed, cancelled
}
