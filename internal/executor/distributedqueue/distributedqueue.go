// Package distributedqueue implements an executor variant backed by Kafka
// (github.com/segmentio/kafka-go): Submit publishes an Execution ID to a
// `submissions` topic keyed by `provider:diagnostic`, one or more worker
// processes each run a Reader consumer loop that pulls messages, resolves
// and runs the job, and publishes completion to a `results` topic (§4.5).
// This is the variant meant for multiple worker processes/hosts sharing one
// queue; localpool is the single-process equivalent.
package distributedqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/climate-eval/coreeval/internal/catalog"
	"github.com/climate-eval/coreeval/internal/executor"
	"github.com/climate-eval/coreeval/internal/store"
)

func init() {
	executor.Register("distributedqueue", New)
}

const (
	submissionsTopic = "coreeval.executions.submissions"
	resultsTopic     = "coreeval.executions.results"

	// maxRedeliveries caps how many times a transient consume failure may
	// redeliver the same message before it is given up on and logged,
	// rather than retried forever (§4.5: "bounded retry for transient
	// failures only").
	maxRedeliveries = 5

	redeliveryHeader = "redelivery-count"
)

// submission is the JSON payload published to submissionsTopic.
type submission struct {
	ExecutionID int64 `json:"execution_id"`
}

// result is the JSON payload published to resultsTopic after a job finishes,
// success or failure.
type result struct {
	ExecutionID int64  `json:"execution_id"`
	Succeeded   bool   `json:"succeeded"`
	Error       string `json:"error,omitempty"`
}

// Executor publishes submissions to Kafka and, once Listen is called, also
// consumes them — a single process can be producer-only (the solver's
// side), consumer-only (a worker), or both.
type Executor struct {
	st          *store.Store
	cat         *catalog.Store
	resultsRoot string
	metrics     *executor.Metrics

	writer *kafka.Writer
	reader *kafka.Reader

	consumeWG sync.WaitGroup
	stop      chan struct{}
	stopOnce  sync.Once
}

// New constructs a distributedqueue Executor. On startup it reaps any
// Execution left `running` by a prior, now-dead process (S5) — necessary
// here because a worker process crash leaves no Kafka-level signal that the
// job died.
func New(st *store.Store, cat *catalog.Store, opts executor.Options) (executor.Executor, error) {
	if _, err := st.ReapLostWorkers(context.Background(), 0); err != nil {
		return nil, fmt.Errorf("distributedqueue: startup reap: %w", err)
	}

	if len(opts.KafkaBrokers) == 0 {
		return nil, errors.New("distributedqueue: no Kafka brokers configured")
	}

	e := &Executor{
		st:          st,
		cat:         cat,
		resultsRoot: opts.ResultsRoot,
		metrics:     executor.NewMetrics(nil),
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(opts.KafkaBrokers...),
			Topic:                  submissionsTopic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: opts.KafkaBrokers,
			Topic:   submissionsTopic,
			GroupID: "coreeval-executor",
		}),
		stop: make(chan struct{}),
	}

	return e, nil
}

// Submit publishes the job's Execution ID to submissionsTopic, keyed by
// provider:diagnostic so messages for one diagnostic land on the same
// partition and are consumed in submission order.
func (e *Executor) Submit(ctx context.Context, job executor.Job) error {
	e.metrics.ObserveSubmitted()

	payload, err := json.Marshal(submission{ExecutionID: job.ExecutionID})
	if err != nil {
		return fmt.Errorf("distributedqueue: marshal submission: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(job.ProviderSlug + ":" + job.DiagnosticSlug),
		Value: payload,
		Headers: []kafka.Header{
			{Key: redeliveryHeader, Value: []byte("0")},
		},
	}

	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("distributedqueue: publish submission: %w", err)
	}

	return nil
}

// Listen starts the consumer loop in the background; call from a worker
// process. Each consumed message is resolved back to a PendingExecution and
// run via executor.Run, then a completion message is published.
func (e *Executor) Listen(resultsWriter *kafka.Writer) {
	e.consumeWG.Add(1)

	go e.consumeLoop(resultsWriter)
}

func (e *Executor) consumeLoop(resultsWriter *kafka.Writer) {
	defer e.consumeWG.Done()

	for {
		select {
		case <-e.stop:
			return
		default:
		}

		ctx := context.Background()

		msg, err := e.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}

			slog.Error("distributedqueue: fetch message failed", slog.String("error", err.Error()))

			continue
		}

		e.handleMessage(ctx, msg, resultsWriter)
	}
}

func (e *Executor) handleMessage(ctx context.Context, msg kafka.Message, resultsWriter *kafka.Writer) {
	redeliveries := headerInt(msg.Headers, redeliveryHeader)

	var sub submission
	if err := json.Unmarshal(msg.Value, &sub); err != nil {
		slog.Error("distributedqueue: malformed submission, dropping", slog.String("error", err.Error()))
		_ = e.reader.CommitMessages(ctx, msg)

		return
	}

	pe, err := e.st.GetPendingExecution(ctx, sub.ExecutionID)
	if err != nil || pe == nil {
		// Already claimed by another worker, or no longer pending (the
		// diagnostic's group was marked stale). Either way, not an error
		// worth retrying.
		_ = e.reader.CommitMessages(ctx, msg)

		return
	}

	job, err := executor.BuildJob(ctx, e.cat, e.resultsRoot, *pe)
	if err != nil {
		e.retryOrDrop(ctx, msg, redeliveries, err)

		return
	}

	runErr := executor.Run(ctx, e.st, e.resultsRoot, job, e.metrics)

	if resultsWriter != nil {
		e.publishResult(ctx, resultsWriter, sub.ExecutionID, runErr)
	}

	if runErr != nil && redeliveries < maxRedeliveries {
		e.retryOrDrop(ctx, msg, redeliveries, runErr)

		return
	}

	_ = e.reader.CommitMessages(ctx, msg)
}

func (e *Executor) retryOrDrop(ctx context.Context, msg kafka.Message, redeliveries int, cause error) {
	if redeliveries >= maxRedeliveries {
		slog.Error("distributedqueue: giving up after max redeliveries",
			slog.Int64("redeliveries", int64(redeliveries)), slog.String("error", cause.Error()))
		_ = e.reader.CommitMessages(ctx, msg)

		return
	}

	retry := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: redeliveryHeader, Value: []byte(strconv.Itoa(redeliveries + 1))},
		},
	}

	if err := e.writer.WriteMessages(ctx, retry); err != nil {
		slog.Error("distributedqueue: requeue failed", slog.String("error", err.Error()))
	}

	_ = e.reader.CommitMessages(ctx, msg)
}

func (e *Executor) publishResult(ctx context.Context, w *kafka.Writer, executionID int64, runErr error) {
	r := result{ExecutionID: executionID, Succeeded: runErr == nil}
	if runErr != nil {
		r.Error = runErr.Error()
	}

	payload, err := json.Marshal(r)
	if err != nil {
		slog.Error("distributedqueue: marshal result", slog.String("error", err.Error()))

		return
	}

	if err := w.WriteMessages(ctx, kafka.Message{Topic: resultsTopic, Value: payload}); err != nil {
		slog.Error("distributedqueue: publish result", slog.String("error", err.Error()))
	}
}

func headerInt(headers []kafka.Header, key string) int {
	for _, h := range headers {
		if h.Key == key {
			n, _ := strconv.Atoi(string(h.Value))

			return n
		}
	}

	return 0
}

// Join closes the reader, waits for the consume loop (if Listen was called)
// to exit, respecting ctx's deadline (§4.5's top-level --timeout budget), and
// then closes the writer.
func (e *Executor) Join(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.stop) })

	var errs []error

	// Closing the reader ends a FetchMessage in progress, so the consume loop
	// reaches its stop check instead of blocking until the next message.
	if err := e.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("distributedqueue: close reader: %w", err))
	}

	done := make(chan struct{})

	go func() {
		e.consumeWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	if err := e.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("distributedqueue: close writer: %w", err))
	}

	return errors.Join(errs...)
}

// Cancel has no broker-level effect: a message already consumed by a
// worker cannot be recalled. Callers rely on the lost-worker reap (S5) if
// the worker dies instead.
func (e *Executor) Cancel(context.Context, int64) error { return nil }
