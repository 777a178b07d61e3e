// Package worker runs jobs: an Executor that invokes processors and
// applies the owning queue's retry policy, and a Manager that owns one
// cooperative loop per tenant+queue key.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"docflow/internal/domain"
	"docflow/internal/processor"
	"docflow/internal/store"
)

// UsageRecorder receives "job completed" notifications for quota
// accounting. Delivery is at-least-once; implementations must be
// idempotent per job id.
type UsageRecorder interface {
	RecordJobCompleted(ctx context.Context, tenant, jobID string) error
}

type Executor struct {
	store      store.Store
	processors *processor.Registry
	usage      UsageRecorder
	logger     zerolog.Logger
}

func NewExecutor(s store.Store, procs *processor.Registry, usage UsageRecorder, logger zerolog.Logger) *Executor {
	return &Executor{store: s, processors: procs, usage: usage, logger: logger}
}

// Execute runs one already-claimed job to a terminal or requeued state.
// It never returns an error: processor outcomes land on the Job and
// TaskRun records, and store errors are logged. The job's execution is
// bounded by the queue timeout and detached from any loop context, so
// stopping a worker does not preempt it.
func (e *Executor) Execute(j domain.Job, q domain.Queue) {
	ctx := context.Background()
	log := e.logger.With().Str("job_id", j.ID).Str("tenant", j.TenantID).Str("queue", j.QueueName).Logger()

	start := time.Now().UTC()
	runID, err := e.store.StartRun(ctx, j.ID, start)
	if err != nil {
		log.Error().Err(err).Msg("open task run")
		return
	}

	fn, ok := e.processors.Resolve(j.Type)
	if !ok {
		// Unroutable type: retrying cannot help, fail on the first attempt.
		e.recordFailure(ctx, j, q, runID, domain.ErrNoProcessor, time.Since(start), true)
		return
	}

	result, err := e.invoke(fn, j, q.Timeout())
	elapsed := time.Since(start)
	if err != nil {
		attempt := j.RetryCount + 1
		e.recordFailure(ctx, j, q, runID, err, elapsed, attempt > q.MaxRetries)
		return
	}
	e.recordSuccess(ctx, j, runID, result, elapsed)
}

// invoke runs the processor in its own goroutine bounded by the queue
// timeout. A timed-out processor keeps running until it observes ctx
// cancellation; its eventual result is discarded.
func (e *Executor) invoke(fn processor.Func, j domain.Job, timeout time.Duration) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type outcome struct {
		result map[string]any
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("processor panic: %v", r)}
			}
		}()
		res, err := fn(ctx, j)
		ch <- outcome{result: res, err: err}
	}()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, domain.ErrProcessorTimeout
	}
}

func (e *Executor) recordSuccess(ctx context.Context, j domain.Job, runID int64, result map[string]any, elapsed time.Duration) {
	now := time.Now().UTC()
	log := e.logger.With().Str("job_id", j.ID).Logger()

	var payload []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			log.Warn().Err(err).Msg("marshal processor result")
		} else {
			payload = b
		}
	}

	if err := e.store.CompleteJob(ctx, j.ID, now); err != nil {
		log.Error().Err(err).Msg("mark job completed")
		return
	}
	if err := e.store.FinishRun(ctx, runID, domain.RunCompleted, payload, "", now, elapsed); err != nil {
		log.Error().Err(err).Msg("close task run")
	}
	if err := e.usage.RecordJobCompleted(ctx, j.TenantID, j.ID); err != nil {
		log.Warn().Err(err).Msg("record usage")
	}

	log.Info().Dur("elapsed", elapsed).Msg("job completed")
}

func (e *Executor) recordFailure(ctx context.Context, j domain.Job, q domain.Queue, runID int64, cause error, elapsed time.Duration, terminal bool) {
	now := time.Now().UTC()
	log := e.logger.With().Str("job_id", j.ID).Int("attempt", j.RetryCount+1).Logger()

	if err := e.store.FinishRun(ctx, runID, domain.RunFailed, nil, cause.Error(), now, elapsed); err != nil {
		log.Error().Err(err).Msg("close task run")
	}

	if terminal {
		if err := e.store.FailJob(ctx, j.ID, cause.Error(), now); err != nil {
			log.Error().Err(err).Msg("mark job failed")
			return
		}
		log.Warn().Err(cause).Msg("job failed terminally")
		return
	}

	next := now.Add(q.RetryDelay())
	if err := e.store.RequeueJob(ctx, j.ID, cause.Error(), next); err != nil {
		log.Error().Err(err).Msg("requeue job for retry")
		return
	}
	log.Info().
		Err(cause).
		Int("max_retries", q.MaxRetries).
		Time("next_attempt", next).
		Bool("timeout", errors.Is(cause, domain.ErrProcessorTimeout)).
		Msg("job scheduled for retry")
}
