// Package localpool implements a bounded in-process worker pool executor
// variant: Submit enqueues and returns immediately, a fixed number of worker
// goroutines drain the queue, and a token-bucket limiter caps how fast new
// work is admitted to a single process (§4.5). Shutdown discipline —
// stop/done channels closed exactly once — follows the teacher's
// LineageStore cleanup-goroutine pattern.
package localpool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/time/rate"

	"github.com/climate-eval/coreeval/internal/catalog"
	"github.com/climate-eval/coreeval/internal/executor"
	"github.com/climate-eval/coreeval/internal/store"
)

func init() {
	executor.Register("localpool", New)
}

// queueDepth bounds how many submitted-but-not-yet-running jobs may be
// buffered before Submit blocks, keeping memory bounded under heavy fan-in.
const queueDepth = 256

// Executor runs jobs on a fixed pool of worker goroutines.
type Executor struct {
	st          *store.Store
	resultsRoot string
	metrics     *executor.Metrics
	limiter     *rate.Limiter

	jobs chan executor.Job
	wg   sync.WaitGroup

	stop     chan struct{}
	stopOnce sync.Once
}

// New constructs a localpool Executor with opts.Concurrency workers
// (default runtime.NumCPU()) and starts them immediately. On startup it
// reaps any Execution left `running` by a prior, now-dead process (S5).
func New(st *store.Store, cat *catalog.Store, opts executor.Options) (executor.Executor, error) {
	if _, err := st.ReapLostWorkers(context.Background(), 0); err != nil {
		return nil, fmt.Errorf("localpool: startup reap: %w", err)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), concurrency)
	}

	e := &Executor{
		st:          st,
		resultsRoot: opts.ResultsRoot,
		metrics:     executor.NewMetrics(nil),
		limiter:     limiter,
		jobs:        make(chan executor.Job, queueDepth),
		stop:        make(chan struct{}),
	}

	for i := 0; i < concurrency; i++ {
		e.wg.Add(1)

		go e.worker()
	}

	return e, nil
}

func (e *Executor) worker() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stop:
			return
		case job, ok := <-e.jobs:
			if !ok {
				return
			}

			e.runOne(job)
		}
	}
}

func (e *Executor) runOne(job executor.Job) {
	ctx := context.Background()

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			slog.Error("localpool: rate limiter wait failed", slog.String("error", err.Error()))

			return
		}
	}

	if err := executor.Run(ctx, e.st, e.resultsRoot, job, e.metrics); err != nil {
		slog.Error("localpool: job failed",
			slog.Int64("execution_id", job.ExecutionID), slog.String("error", err.Error()))
	}
}

// Submit enqueues job and returns immediately; a worker goroutine picks it
// up. Blocks only if the internal queue is full.
func (e *Executor) Submit(ctx context.Context, job executor.Job) error {
	e.metrics.ObserveSubmitted()

	select {
	case e.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	}
}

// Join drains outstanding queued/in-flight work, stopping the worker pool
// once drained or ctx is done (the top-level --timeout budget, §4.5).
func (e *Executor) Join(ctx context.Context) error {
	close(e.jobs)

	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		e.stopOnce.Do(func() { close(e.stop) })

		return ctx.Err() //nolint:wrapcheck
	}
}

// Cancel has no per-job effect once a worker has picked a job up: the
// localpool variant offers no mid-run cancellation beyond Join's ctx.
func (e *Executor) Cancel(context.Context, int64) error { return nil }
