package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/climate-eval/coreeval/internal/bundle"
	"github.com/climate-eval/coreeval/internal/canonical"
	"github.com/climate-eval/coreeval/internal/catalog"
	"github.com/climate-eval/coreeval/internal/diagnostic"
	"github.com/climate-eval/coreeval/internal/store"
)

// heartbeatInterval is how often Run refreshes a running Execution's lease
// while its Diagnostic.Execute call is in flight; must be well inside
// store.defaultLeaseExpiry so a live worker is never mistaken for lost.
const heartbeatInterval = 30 * time.Second

// BuildJob resolves a PendingExecution into a Job: looks up the registered
// Diagnostic, fetches its pinned input datasets from the catalog
// (by the exact dataset_id recorded at submission time, not a fresh active
// query — Testable Property 4), and lays out the output/scratch directories
// every variant hands Execute.
func BuildJob(ctx context.Context, cat *catalog.Store, resultsRoot string, pe store.PendingExecution) (Job, error) {
	d, _, err := diagnostic.Lookup(pe.ProviderSlug, pe.DiagnosticSlug)
	if err != nil {
		return Job{}, err
	}

	bySource := make(map[string][]catalog.Row)

	for _, in := range pe.Inputs {
		row, err := cat.GetByID(ctx, in.DatasetID)
		if err != nil {
			return Job{}, fmt.Errorf("executor: resolve input dataset %d: %w", in.DatasetID, err)
		}

		bySource[in.SourceType] = append(bySource[in.SourceType], row)
	}

	groupDir := filepath.Join(resultsRoot, pe.ProviderSlug, pe.DiagnosticSlug, groupKeyString(pe.GroupKeyFacets))
	outputDir := filepath.Join(groupDir, fmt.Sprint(pe.ExecutionID))
	scratchDir := filepath.Join(outputDir, "scratch")

	return Job{
		ExecutionID:    pe.ExecutionID,
		GroupID:        pe.GroupID,
		ProviderSlug:   pe.ProviderSlug,
		DiagnosticSlug: pe.DiagnosticSlug,
		Diagnostic:     d,
		Definition: diagnostic.Definition{
			DatasetsBySource: bySource,
			GroupKeyFacets:   pe.GroupKeyFacets,
			OutputDirectory:  outputDir,
			ScratchDirectory: scratchDir,
		},
	}, nil
}

// Run drives one Job to completion: transitions pending -> running,
// heartbeats while Execute is in flight, and on return either records
// outputs/metrics and transitions to succeeded, or calls MarkFailed with
// Execute's error as the human-readable reason (§4.4, §4.5). Every variant's
// Submit eventually calls this — it is the one place execution semantics
// live, so synchronous, localpool, distributedqueue, and hpcbatch agree on
// what "ran this job" means.
func Run(ctx context.Context, st *store.Store, resultsRoot string, job Job, metrics *Metrics) error {
	metrics.incRunning()
	defer metrics.decRunning()

	if err := os.MkdirAll(job.Definition.OutputDirectory, 0o755); err != nil { //nolint:mnd // standard dir perms
		return fmt.Errorf("executor: create output dir: %w", err)
	}

	if err := os.MkdirAll(job.Definition.ScratchDirectory, 0o755); err != nil { //nolint:mnd
		return fmt.Errorf("executor: create scratch dir: %w", err)
	}

	logPath := filepath.Join(job.Definition.OutputDirectory, "execution.log")

	if err := st.SetExecutionPaths(ctx, job.ExecutionID, job.Definition.OutputDirectory, logPath); err != nil {
		return err
	}

	if err := st.TransitionStatus(ctx, job.ExecutionID, store.StatusPending, store.StatusRunning); err != nil {
		return err
	}

	logFile, err := os.Create(logPath) //nolint:gosec // path is derived from our own directory layout
	if err != nil {
		return fmt.Errorf("executor: create log file: %w", err)
	}
	defer logFile.Close()

	job.Definition.LogSink = func(line string) { fmt.Fprintln(logFile, line) } //nolint:errcheck

	stopHeartbeat := make(chan struct{})
	heartbeatDone := make(chan struct{})

	go runHeartbeat(st, job.ExecutionID, stopHeartbeat, heartbeatDone)

	execErr := job.Diagnostic.Execute(ctx, job.Definition)

	close(stopHeartbeat)
	<-heartbeatDone

	if execErr != nil {
		metrics.incFailed()

		if err := st.MarkFailed(ctx, job.ExecutionID, execErr.Error()); err != nil {
			slog.Error("executor: mark failed after execute error",
				slog.Int64("execution_id", job.ExecutionID), slog.String("error", err.Error()))
		}

		return execErr
	}

	if err := finalize(ctx, st, resultsRoot, job); err != nil {
		metrics.incFailed()

		return err
	}

	metrics.incSucceeded()

	return nil
}

func runHeartbeat(st *store.Store, executionID int64, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), heartbeatInterval)

			if err := st.Heartbeat(ctx, executionID); err != nil {
				slog.Warn("executor: heartbeat failed", slog.Int64("execution_id", executionID), slog.String("error", err.Error()))
			}

			cancel()
		}
	}
}

func finalize(ctx context.Context, st *store.Store, resultsRoot string, job Job) error {
	outputBundle, metricBundle, err := job.Diagnostic.BuildExecutionResult(job.Definition)
	if err != nil {
		_ = st.MarkFailed(ctx, job.ExecutionID, fmt.Sprintf("build execution result: %s", err))

		return fmt.Errorf("executor: build execution result: %w", err)
	}

	if err := bundle.ValidateMetricBundle(metricBundle, job.Diagnostic.Facets()); err != nil {
		_ = st.MarkFailed(ctx, job.ExecutionID, fmt.Sprintf("invalid metric bundle: %s", err))

		return fmt.Errorf("executor: validate metric bundle: %w", err)
	}

	if err := writeBundles(job.Definition.OutputDirectory, outputBundle, metricBundle); err != nil {
		_ = st.MarkFailed(ctx, job.ExecutionID, fmt.Sprintf("write bundles: %s", err))

		return err
	}

	manifest := manifestFromOutputBundle(outputBundle)

	groupKey := groupKeyString(job.Definition.GroupKeyFacets)

	if err := st.RecordOutputs(ctx, resultsRoot, job.ProviderSlug, job.DiagnosticSlug, groupKey, job.ExecutionID, job.Definition.OutputDirectory, manifest); err != nil {
		_ = st.MarkFailed(ctx, job.ExecutionID, fmt.Sprintf("record outputs: %s", err))

		return err
	}

	scalars := flattenMetricBundle(metricBundle)

	if err := st.RecordMetricValues(ctx, job.ExecutionID, job.Diagnostic.Facets(), scalars, nil); err != nil {
		_ = st.MarkFailed(ctx, job.ExecutionID, fmt.Sprintf("record metrics: %s", err))

		return err
	}

	if err := st.TransitionStatus(ctx, job.ExecutionID, store.StatusRunning, store.StatusSucceeded); err != nil {
		return err
	}

	tx, err := st.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := st.SetGroupLatestExecution(ctx, tx, job.GroupID, job.ExecutionID); err != nil {
		return err
	}

	return tx.Commit() //nolint:wrapcheck
}

func writeBundles(outputDir string, ob bundle.OutputBundle, mb bundle.MetricBundle) error {
	obBytes, err := bundle.MarshalOutputBundle(ob)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(outputDir, bundle.OutputFilename), obBytes, 0o644); err != nil { //nolint:mnd,gosec
		return fmt.Errorf("executor: write output bundle: %w", err)
	}

	mbBytes, err := bundle.MarshalMetricBundle(mb)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(outputDir, bundle.MetricFilename), mbBytes, 0o644); err != nil { //nolint:mnd,gosec
		return fmt.Errorf("executor: write metric bundle: %w", err)
	}

	return nil
}

// manifestFromOutputBundle turns an OutputBundle's named file maps into the
// ManifestEntry list RecordOutputs expects, inferring OutputType from which
// section each file was listed under.
func manifestFromOutputBundle(ob bundle.OutputBundle) []store.ManifestEntry {
	var entries []store.ManifestEntry

	add := func(section map[string]bundle.FileEntry, typ store.OutputType) {
		for _, f := range section {
			entries = append(entries, store.ManifestEntry{
				RelativePath: f.Filename,
				Type:         typ,
				Description:  f.Description,
			})
		}
	}

	add(ob.Data, store.OutputNC)
	add(ob.Plots, store.OutputPNG)
	add(ob.HTML, store.OutputHTML)
	add(ob.Metrics, store.OutputJSON)

	entries = append(entries,
		store.ManifestEntry{RelativePath: bundle.OutputFilename, Type: store.OutputJSON},
		store.ManifestEntry{RelativePath: bundle.MetricFilename, Type: store.OutputJSON},
	)

	return entries
}

// flattenMetricBundle walks a validated MetricBundle's RESULTS tree,
// accumulating one facet per nesting level named by DIMENSIONS.json_structure,
// and emits one MetricValue per scalar leaf. Leaves that are a flat object of
// named statistics (scenario S6's other legal leaf shape) have no column in
// metric_values to carry the statistic's name, so they are not persisted as
// metric rows; they remain readable from the stored diagnostic.json bundle.
func flattenMetricBundle(mb bundle.MetricBundle) []store.MetricValue {
	var out []store.MetricValue

	walkResults(mb.Results, mb.Dimensions.JSONStructure, map[string]string{}, &out)

	return out
}

func walkResults(node any, levels []string, facets map[string]string, out *[]store.MetricValue) {
	if len(levels) == 0 {
		emitLeaf(node, facets, out)

		return
	}

	children, ok := node.(map[string]any)
	if !ok {
		return
	}

	for key, child := range children {
		next := make(map[string]string, len(facets)+1)

		for k, v := range facets {
			next[k] = v
		}

		next[levels[0]] = key

		walkResults(child, levels[1:], next, out)
	}
}

func emitLeaf(node any, facets map[string]string, out *[]store.MetricValue) {
	if v, ok := node.(float64); ok {
		*out = append(*out, store.MetricValue{Facets: copyFacets(facets), Value: v})
	}
}

func copyFacets(facets map[string]string) map[string]string {
	out := make(map[string]string, len(facets))
	for k, v := range facets {
		out[k] = v
	}

	return out
}

// groupKeyString converts a group-key facet map to canonical.GroupKeyString's
// sorted-pair input.
func groupKeyString(facets map[string]string) string {
	pairs := make([]canonical.FacetValue, 0, len(facets))
	for k, v := range facets {
		pairs = append(pairs, canonical.FacetValue{Facet: k, Value: v})
	}

	return canonical.GroupKeyString(pairs)
}
