package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/climate-eval/coreeval/internal/executor"
)

// runExecutionCmd is the subprocess entry point an hpcbatch scheduler job
// invokes (internal/executor/hpcbatch.batchScript): it runs exactly one
// Execution in-process and exits, the scheduler-batch equivalent of a
// localpool worker goroutine.
var runExecutionCmd = &cobra.Command{
	Use:    "run-execution EXECUTION_ID",
	Short:  "Run one pending Execution in-process and exit (invoked by scheduler batch jobs)",
	Args:   cobra.ExactArgs(1),
	Hidden: true,
	RunE:   runRunExecution,
}

func runRunExecution(cmd *cobra.Command, args []string) error {
	executionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fatal(cmd, fmt.Errorf("evalctl: invalid execution ID %q: %w", args[0], err))
	}

	a, err := bootstrap()
	if err != nil {
		return fatal(cmd, err)
	}
	defer a.close()

	ctx := cmd.Context()

	pe, err := a.st.GetPendingExecution(ctx, executionID)
	if err != nil {
		return fatal(cmd, err)
	}

	if pe == nil {
		return fatal(cmd, fmt.Errorf("evalctl: execution %d is not pending", executionID))
	}

	job, err := executor.BuildJob(ctx, a.cat, a.cfg.Paths.Results, *pe)
	if err != nil {
		_ = a.st.MarkFailed(ctx, executionID, err.Error())

		return fatal(cmd, err)
	}

	if err := executor.Run(ctx, a.st, a.cfg.Paths.Results, job, nil); err != nil {
		return fatal(cmd, err)
	}

	return nil
}
