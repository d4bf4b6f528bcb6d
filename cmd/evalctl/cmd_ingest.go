package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/climate-eval/coreeval/internal/catalog"
)

var (
	ingestSkipInvalid bool
	ingestJobs        int
	ingestParser      string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest SOURCE_TYPE PATH...",
	Short: "Walk PATH(s) for SOURCE_TYPE files and upsert Dataset/File rows",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestSkipInvalid, "skip-invalid", false, "log and skip files that fail metadata extraction instead of aborting")
	ingestCmd.Flags().IntVar(&ingestJobs, "jobs", 4, "number of files to extract metadata from concurrently") //nolint:mnd
	ingestCmd.Flags().StringVar(&ingestParser, "parser", "", "adapter-specific parser mode (cmip6: drs or complete)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return fatal(cmd, err)
	}
	defer a.close()

	sourceType, paths := args[0], args[1:]

	result, err := a.cat.Ingest(cmd.Context(), sourceType, paths, catalog.IngestOptions{
		SkipInvalid: ingestSkipInvalid,
		NJobs:       ingestJobs,
		Parser:      ingestParser,
	})
	if err != nil {
		return fatal(cmd, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "files seen: %d, datasets added: %d, datasets skipped: %d, failures: %d\n",
		result.FilesSeen, result.DatasetsAdded, result.DatasetsSkipped, len(result.Failures))

	for _, f := range result.Failures {
		fmt.Fprintf(cmd.OutOrStdout(), "  skipped %s: %s\n", f.Path, f.Reason)
	}

	return nil
}
