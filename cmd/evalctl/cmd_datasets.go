package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	listDatasetsColumns string
	listDatasetsLimit   int
)

var listDatasetsCmd = &cobra.Command{
	Use:   "list-datasets",
	Short: "List a deduplicated facet projection over all active datasets",
	RunE:  runListDatasets,
}

func init() {
	listDatasetsCmd.Flags().StringVar(&listDatasetsColumns, "columns", "source_type,instance_id,version", "comma-separated facet columns to project")
	listDatasetsCmd.Flags().IntVar(&listDatasetsLimit, "limit", 0, "cap the number of rows returned (0 = unbounded)")
}

func runListDatasets(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap()
	if err != nil {
		return fatal(cmd, err)
	}
	defer a.close()

	columns := strings.Split(listDatasetsColumns, ",")

	rows, err := a.cat.List(cmd.Context(), columns, listDatasetsLimit)
	if err != nil {
		return fatal(cmd, err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return fatal(cmd, err)
		}
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%d dataset(s)\n", len(rows))

	return nil
}
