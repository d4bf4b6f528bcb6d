// Package executor declares the common Executor contract and the static
// registry of variants (synchronous, localpool, distributedqueue, hpcbatch)
// it dispatches Executions to (§4.5). Each variant is a separate
// subpackage, registered by name the same way internal/diagnostic registers
// providers — a compile-time list, never dynamic discovery.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/climate-eval/coreeval/internal/catalog"
	"github.com/climate-eval/coreeval/internal/diagnostic"
	"github.com/climate-eval/coreeval/internal/store"
)

// ErrUnknownVariant is returned when a named executor variant is not registered.
var ErrUnknownVariant = errors.New("executor: unknown variant")

// Job is everything a variant needs to run one Execution: its diagnostic
// plugin and the Definition to hand Execute, already resolved from the
// store/catalog so variants need not know either.
type Job struct {
	ExecutionID    int64
	GroupID        int64
	ProviderSlug   string
	DiagnosticSlug string
	Diagnostic     diagnostic.Diagnostic
	Definition     diagnostic.Definition
}

// Executor is the interface every variant implements (§4.5's "executor
// abstraction"). Submit hands off one job; the variant decides whether that
// means running it inline, queueing it for a worker pool, publishing it to
// a broker, or shelling out to a batch scheduler. Join blocks until
// in-flight work drains or ctx is done — the top-level --timeout budget's
// cancellation point. Cancel asks the variant to stop a specific Execution
// if it can.
type Executor interface {
	Submit(ctx context.Context, job Job) error
	Join(ctx context.Context) error
	Cancel(ctx context.Context, executionID int64) error
}

// Factory constructs a variant from its dependencies.
type Factory func(st *store.Store, cat *catalog.Store, opts Options) (Executor, error)

// Options carries the config knobs any variant might read; unused fields
// are simply ignored by variants that don't need them (e.g. Concurrency is
// meaningless to the synchronous variant).
type Options struct {
	Concurrency   int
	RateLimitRPS  float64
	ResultsRoot   string
	KafkaBrokers  []string
	SchedulerKind string // "slurm" or "pbs", hpcbatch only
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a variant factory under a name, called from each variant
// subpackage's init.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry[name] = f
}

// New constructs the named variant.
func New(name string, st *store.Store, cat *catalog.Store, opts Options) (Executor, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, name)
	}

	return f(st, cat, opts)
}
