// Package synchronous implements the simplest executor variant: Submit
// blocks until the job is done, in the caller's own goroutine. Intended for
// `evalctl solve --one-per-provider` style single-operator runs and tests,
// where a worker pool or broker would only add moving parts (§4.5).
package synchronous

import (
	"context"
	"fmt"

	"github.com/climate-eval/coreeval/internal/catalog"
	"github.com/climate-eval/coreeval/internal/executor"
	"github.com/climate-eval/coreeval/internal/store"
)

func init() {
	executor.Register("synchronous", New)
}

// Executor runs every submitted Job to completion before Submit returns.
type Executor struct {
	st          *store.Store
	cat         *catalog.Store
	resultsRoot string
	metrics     *executor.Metrics
}

// New constructs the synchronous variant. On startup it reaps any
// Execution left `running` by a prior, now-dead process (S5) before
// accepting new submissions.
func New(st *store.Store, cat *catalog.Store, opts executor.Options) (executor.Executor, error) {
	if _, err := st.ReapLostWorkers(context.Background(), 0); err != nil {
		return nil, fmt.Errorf("synchronous: startup reap: %w", err)
	}

	return &Executor{st: st, cat: cat, resultsRoot: opts.ResultsRoot, metrics: executor.NewMetrics(nil)}, nil
}

// Submit builds and runs job inline.
func (e *Executor) Submit(ctx context.Context, job executor.Job) error {
	e.metrics.ObserveSubmitted()

	return executor.Run(ctx, e.st, e.resultsRoot, job, e.metrics)
}

// Join is a no-op: Submit already ran the job to completion before returning.
func (e *Executor) Join(context.Context) error { return nil }

// Cancel has no effect once Submit has started a job: there is no
// background worker to signal. Submit's own ctx is the only cancellation
// point for an in-flight run.
func (e *Executor) Cancel(context.Context, int64) error { return nil }
