// Package hpcbatch implements an executor variant that submits each job as
// a batch job to an HPC scheduler (Slurm or PBS) via its CLI, rather than
// running the Diagnostic in-process (§4.5). No scheduler client library
// appears anywhere in the retrieval pack, so this variant necessarily shells
// out — documented as a non-grounded stdlib use in DESIGN.md.
package hpcbatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/climate-eval/coreeval/internal/catalog"
	"github.com/climate-eval/coreeval/internal/executor"
	"github.com/climate-eval/coreeval/internal/store"
)

func init() {
	executor.Register("hpcbatch", New)
}

// Client abstracts the scheduler CLI a site runs: Slurm's sbatch/squeue or
// PBS's qsub/qstat. Submit launches a driver process for one Execution and
// returns the scheduler's job ID; Alive reports whether that job ID is
// still known to the scheduler (running or queued).
type Client interface {
	Submit(ctx context.Context, executionID int64, script string) (jobID string, err error)
	Alive(ctx context.Context, jobID string) (bool, error)
	Cancel(ctx context.Context, jobID string) error
}

// pollInterval is how often Executor checks whether a submitted scheduler
// job is still alive, standing in for a heartbeat the batch job itself
// cannot send back directly.
const pollInterval = 15 * time.Second

// Executor submits each Job as one scheduler batch job running this same
// binary in a `run-execution <id>` subcommand mode (see cmd/evalctl), and
// polls the scheduler for liveness instead of an in-process heartbeat.
type Executor struct {
	st          *store.Store
	cat         *catalog.Store
	resultsRoot string
	metrics     *executor.Metrics
	client      Client

	mu      sync.Mutex
	jobIDs  map[int64]string // execution ID -> scheduler job ID
	wg      sync.WaitGroup
	stop    chan struct{}
	stopped sync.Once
}

// New constructs an hpcbatch Executor for the scheduler named by
// opts.SchedulerKind ("slurm" or "pbs"). On startup it reaps any Execution
// left `running` by a prior, now-dead process (S5).
func New(st *store.Store, cat *catalog.Store, opts executor.Options) (executor.Executor, error) {
	if _, err := st.ReapLostWorkers(context.Background(), 0); err != nil {
		return nil, fmt.Errorf("hpcbatch: startup reap: %w", err)
	}

	var client Client

	switch opts.SchedulerKind {
	case "", "slurm":
		client = SlurmClient{}
	case "pbs":
		client = PBSClient{}
	default:
		return nil, fmt.Errorf("hpcbatch: unknown scheduler kind %q", opts.SchedulerKind)
	}

	return &Executor{
		st:          st,
		cat:         cat,
		resultsRoot: opts.ResultsRoot,
		metrics:     executor.NewMetrics(nil),
		client:      client,
		jobIDs:      make(map[int64]string),
		stop:        make(chan struct{}),
	}, nil
}

// Submit writes a batch script invoking this process's run-execution mode
// for job.ExecutionID, submits it to the scheduler, transitions the
// Execution to running, and starts a goroutine polling for completion.
func (e *Executor) Submit(ctx context.Context, job executor.Job) error {
	e.metrics.ObserveSubmitted()

	script := batchScript(job.ExecutionID)

	jobID, err := e.client.Submit(ctx, job.ExecutionID, script)
	if err != nil {
		return fmt.Errorf("hpcbatch: submit: %w", err)
	}

	e.mu.Lock()
	e.jobIDs[job.ExecutionID] = jobID
	e.mu.Unlock()

	if err := e.st.TransitionStatus(ctx, job.ExecutionID, store.StatusPending, store.StatusRunning); err != nil {
		return err
	}

	e.wg.Add(1)

	go e.poll(job.ExecutionID, jobID)

	return nil
}

// poll periodically checks the scheduler job's liveness; if it has exited
// without the out-of-band run-execution subcommand having already marked
// the Execution terminal, the lost-worker reap (S5) reclaims it on its own
// schedule, so poll's job here is only to stop tracking a finished job.
func (e *Executor) poll(executionID int64, jobID string) {
	defer e.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), pollInterval)
			alive, err := e.client.Alive(ctx, jobID)
			cancel()

			if err != nil {
				continue
			}

			if !alive {
				e.mu.Lock()
				delete(e.jobIDs, executionID)
				e.mu.Unlock()

				return
			}
		}
	}
}

// Join waits for every tracked scheduler job to finish or ctx to expire.
func (e *Executor) Join(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		e.stopped.Do(func() { close(e.stop) })

		return ctx.Err() //nolint:wrapcheck
	}
}

// Cancel asks the scheduler to cancel the batch job backing executionID, if
// one is tracked.
func (e *Executor) Cancel(ctx context.Context, executionID int64) error {
	e.mu.Lock()
	jobID, ok := e.jobIDs[executionID]
	e.mu.Unlock()

	if !ok {
		return nil
	}

	return e.client.Cancel(ctx, jobID)
}

func batchScript(executionID int64) string {
	return fmt.Sprintf("#!/bin/sh\nexec evalctl run-execution %d\n", executionID)
}

// SlurmClient shells out to sbatch/squeue/scancel.
type SlurmClient struct{}

// Submit runs `sbatch --parsable` with script piped on stdin and returns its
// trimmed stdout as the job ID.
func (SlurmClient) Submit(ctx context.Context, _ int64, script string) (string, error) {
	cmd := exec.CommandContext(ctx, "sbatch", "--parsable")
	cmd.Stdin = strings.NewReader(script)

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("hpcbatch: sbatch: %w", err)
	}

	return strings.TrimSpace(string(out)), nil
}

// Alive reports whether squeue still lists jobID.
func (SlurmClient) Alive(ctx context.Context, jobID string) (bool, error) {
	cmd := exec.CommandContext(ctx, "squeue", "--job", jobID, "--noheader")

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}

		return false, fmt.Errorf("hpcbatch: squeue: %w", err)
	}

	return strings.TrimSpace(out.String()) != "", nil
}

// Cancel runs `scancel jobID`.
func (SlurmClient) Cancel(ctx context.Context, jobID string) error {
	if err := exec.CommandContext(ctx, "scancel", jobID).Run(); err != nil {
		return fmt.Errorf("hpcbatch: scancel: %w", err)
	}

	return nil
}

// PBSClient shells out to qsub/qstat/qdel.
type PBSClient struct{}

// Submit runs `qsub` with script piped on stdin and returns the job ID it prints.
func (PBSClient) Submit(ctx context.Context, _ int64, script string) (string, error) {
	cmd := exec.CommandContext(ctx, "qsub")
	cmd.Stdin = strings.NewReader(script)

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("hpcbatch: qsub: %w", err)
	}

	return strings.TrimSpace(string(out)), nil
}

// Alive reports whether qstat still lists jobID.
func (PBSClient) Alive(ctx context.Context, jobID string) (bool, error) {
	if err := exec.CommandContext(ctx, "qstat", jobID).Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}

		return false, fmt.Errorf("hpcbatch: qstat: %w", err)
	}

	return true, nil
}

// Cancel runs `qdel jobID`.
func (PBSClient) Cancel(ctx context.Context, jobID string) error {
	if err := exec.CommandContext(ctx, "qdel", jobID).Run(); err != nil {
		return fmt.Errorf("hpcbatch: qdel: %w", err)
	}

	return nil
}
