package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var inspectExecutionCmd = &cobra.Command{
	Use:   "inspect-execution EXECUTION_ID",
	Short: "Show one Execution's status, inputs, outputs, and metric values",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspectExecution,
}

func runInspectExecution(cmd *cobra.Command, args []string) error {
	executionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fatal(cmd, fmt.Errorf("evalctl: invalid execution ID %q: %w", args[0], err))
	}

	a, err := bootstrap()
	if err != nil {
		return fatal(cmd, err)
	}
	defer a.close()

	detail, err := a.st.GetExecution(cmd.Context(), executionID)
	if err != nil {
		return fatal(cmd, err)
	}

	if detail == nil {
		return fatal(cmd, fmt.Errorf("evalctl: no such execution: %d", executionID))
	}

	out := cmd.OutOrStdout()

	e := detail.Execution
	fmt.Fprintf(out, "execution %d: group=%d status=%s dataset_hash=%s retry_count=%d\n",
		e.ID, e.GroupID, e.Status, e.DatasetHash, e.RetryCount)

	if e.Reason != "" {
		fmt.Fprintf(out, "  reason: %s\n", e.Reason)
	}

	if e.OutputDir != "" {
		fmt.Fprintf(out, "  output_dir: %s\n", e.OutputDir)
	}

	fmt.Fprintf(out, "  inputs (%d):\n", len(detail.Inputs))

	for _, in := range detail.Inputs {
		fmt.Fprintf(out, "    %s %s@%s\n", in.SourceType, in.InstanceID, in.Version)
	}

	fmt.Fprintf(out, "  outputs (%d):\n", len(detail.Outputs))

	for _, o := range detail.Outputs {
		fmt.Fprintf(out, "    [%s] %s\n", o.Type, o.RelativePath)
	}

	fmt.Fprintf(out, "  metric values (%d), series (%d)\n", len(detail.Metrics), len(detail.Series))

	return nil
}
