package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climate-eval/coreeval/internal/catalog"
	"github.com/climate-eval/coreeval/internal/config"
	"github.com/climate-eval/coreeval/internal/executor"
	"github.com/climate-eval/coreeval/internal/store"
)

// recordingExecutor captures the Options it was constructed with, letting
// buildExecutor's config-map-to-Options translation be checked without
// standing up a real executor variant (and therefore no database).
type recordingExecutor struct{ opts executor.Options }

func (recordingExecutor) Submit(context.Context, executor.Job) error { return nil }
func (recordingExecutor) Join(context.Context) error                 { return nil }
func (recordingExecutor) Cancel(context.Context, int64) error        { return nil }

func init() {
	executor.Register("evalctl-test-recorder", func(_ *store.Store, _ *catalog.Store, opts executor.Options) (executor.Executor, error) {
		return &recordingExecutor{opts: opts}, nil
	})
}

func TestBuildExecutor_TranslatesConfigMapIntoOptions(t *testing.T) {
	a := &app{
		cfg: &config.Config{
			Paths: config.Paths{Results: "/tmp/results"},
			ExecutorCfg: config.Executor{
				Executor: "evalctl-test-recorder",
				Config: map[string]any{
					"concurrency":    int64(4),
					"rate_limit_rps": 2.5,
					"scheduler_kind": "slurm",
					"kafka_brokers":  []any{"broker-a:9092", "broker-b:9092"},
				},
			},
		},
	}

	ex, err := buildExecutor(a)
	require.NoError(t, err)

	rec, ok := ex.(*recordingExecutor)
	require.True(t, ok)

	assert.Equal(t, "/tmp/results", rec.opts.ResultsRoot)
	assert.Equal(t, 4, rec.opts.Concurrency)
	assert.InDelta(t, 2.5, rec.opts.RateLimitRPS, 0.0001)
	assert.Equal(t, "slurm", rec.opts.SchedulerKind)
	assert.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, rec.opts.KafkaBrokers)
}

func TestBuildExecutor_UnknownVariantFails(t *testing.T) {
	a := &app{
		cfg: &config.Config{ExecutorCfg: config.Executor{Executor: "not-a-real-variant"}},
	}

	_, err := buildExecutor(a)
	assert.Error(t, err)
}
