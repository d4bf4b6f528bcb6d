package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	groupsProvider   string
	groupsDiagnostic string
)

var listExecutionGroupsCmd = &cobra.Command{
	Use:   "list-execution-groups",
	Short: "List ExecutionGroups, newest first",
	RunE:  runListExecutionGroups,
}

func init() {
	listExecutionGroupsCmd.Flags().StringVar(&groupsProvider, "provider", "", "exact provider slug to filter to")
	listExecutionGroupsCmd.Flags().StringVar(&groupsDiagnostic, "diagnostic", "", "exact diagnostic slug to filter to")
}

func runListExecutionGroups(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap()
	if err != nil {
		return fatal(cmd, err)
	}
	defer a.close()

	groups, err := a.st.ListExecutionGroups(cmd.Context(), groupsProvider, groupsDiagnostic)
	if err != nil {
		return fatal(cmd, err)
	}

	for _, g := range groups {
		latest := "none"
		if g.LatestExecutionID != nil {
			latest = fmt.Sprint(*g.LatestExecutionID)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "group %d [%s/%s] key=%s dirty=%t stale=%t latest_execution=%s\n",
			g.ID, g.ProviderSlug, g.DiagnosticSlug, g.GroupKey, g.Dirty, g.Stale, latest)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%d group(s)\n", len(groups))

	return nil
}
