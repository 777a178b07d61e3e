package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/internal/backoff"
	"docflow/internal/dispatch"
	"docflow/internal/domain"
	"docflow/internal/processor"
	"docflow/internal/registry"
	"docflow/internal/store"
	"docflow/internal/worker"
)

func setupManager(t *testing.T) (*worker.Manager, store.Store, *processor.Registry) {
	t.Helper()
	st := newTestStore(t)
	reg := registry.New(st, 50*time.Millisecond)
	procs := processor.NewRegistry()
	exec := worker.NewExecutor(st, procs, newCountingUsage(), zerolog.Nop())
	m := worker.NewManager(reg, dispatch.New(st), exec, zerolog.Nop(),
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithErrorPause(backoff.NewConstant(10*time.Millisecond)),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.StopAll(ctx)
	})
	return m, st, procs
}

func TestStartWorker_Idempotent(t *testing.T) {
	m, _, _ := setupManager(t)

	m.StartWorker("acme", "documents")
	m.StartWorker("acme", "documents")

	assert.True(t, m.Running("acme", "documents"))
	assert.Equal(t, 1, m.ActiveWorkerCount("acme"))
}

func TestStopThenStart_SingleLoop(t *testing.T) {
	m, _, _ := setupManager(t)

	m.StartWorker("acme", "documents")
	m.StopWorker("acme", "documents")
	m.StartWorker("acme", "documents")

	assert.True(t, m.Running("acme", "documents"))
	assert.Equal(t, 1, m.ActiveWorkerCount("acme"))
}

func TestStopWorker_UnknownKeyIsNoop(t *testing.T) {
	m, _, _ := setupManager(t)
	m.StopWorker("acme", "never-started")
	assert.Equal(t, 0, m.ActiveWorkerCount("acme"))
}

func TestActiveWorkerCount_TenantIDsWithSlashes(t *testing.T) {
	m, _, _ := setupManager(t)

	// "a" + "b/docs" and "a/b" + "docs" are distinct loops and must not
	// bleed into each other's tenant counts.
	m.StartWorker("a", "b/docs")
	m.StartWorker("a/b", "docs")

	assert.True(t, m.Running("a", "b/docs"))
	assert.True(t, m.Running("a/b", "docs"))
	assert.False(t, m.Running("a", "docs"))
	assert.Equal(t, 1, m.ActiveWorkerCount("a"))
	assert.Equal(t, 1, m.ActiveWorkerCount("a/b"))
}

func TestActiveWorkerCount_PerTenant(t *testing.T) {
	m, _, _ := setupManager(t)

	m.StartWorker("acme", "documents")
	m.StartWorker("acme", "exports")
	m.StartWorker("globex", "documents")

	assert.Equal(t, 2, m.ActiveWorkerCount("acme"))
	assert.Equal(t, 1, m.ActiveWorkerCount("globex"))
	assert.Equal(t, 0, m.ActiveWorkerCount("initech"))
}

func TestWorkerLoop_DrainsQueue(t *testing.T) {
	m, st, procs := setupManager(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertQueue(ctx, domain.Queue{
		TenantID: "acme", Name: "documents",
		MaxConcurrent: 2, MaxRetries: 0, RetryDelaySec: 0, TimeoutSec: 5,
		PriorityMin: 1, PriorityMax: 10, Active: true,
	}))

	var processed atomic.Int32
	procs.Register("process_document", func(ctx context.Context, j domain.Job) (map[string]any, error) {
		processed.Add(1)
		return nil, nil
	})

	const jobCount = 5
	ids := make([]string, 0, jobCount)
	for i := 0; i < jobCount; i++ {
		j, err := st.CreateJob(ctx, domain.Job{
			TenantID: "acme", QueueName: "documents", Type: "process_document",
			Payload: []byte(`{}`), Priority: 5,
		})
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}

	m.StartWorker("acme", "documents")

	require.Eventually(t, func() bool {
		return processed.Load() == jobCount
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, id := range ids {
			j, err := st.GetJob(ctx, id)
			if err != nil || j.Status != domain.JobCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWorkerLoop_RetriesToTerminalFailure(t *testing.T) {
	m, st, procs := setupManager(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertQueue(ctx, domain.Queue{
		TenantID: "acme", Name: "documents",
		MaxConcurrent: 1, MaxRetries: 2, RetryDelaySec: 0, TimeoutSec: 5,
		PriorityMin: 1, PriorityMax: 10, Active: true,
	}))

	var attempts atomic.Int32
	procs.Register("process_document", func(ctx context.Context, j domain.Job) (map[string]any, error) {
		attempts.Add(1)
		return nil, assert.AnError
	})

	j, err := st.CreateJob(ctx, domain.Job{
		TenantID: "acme", QueueName: "documents", Type: "process_document",
		Payload: []byte(`{}`), Priority: 5,
	})
	require.NoError(t, err)

	m.StartWorker("acme", "documents")

	require.Eventually(t, func() bool {
		got, err := st.GetJob(ctx, j.ID)
		return err == nil && got.Status == domain.JobFailed
	}, 5*time.Second, 20*time.Millisecond)

	got, err := st.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.RetryCount) // max_retries + 1 attempts
	assert.Equal(t, int32(3), attempts.Load())
}

func TestWorkerLoop_InactiveQueueIdles(t *testing.T) {
	m, st, procs := setupManager(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertQueue(ctx, domain.Queue{
		TenantID: "acme", Name: "documents",
		MaxConcurrent: 1, MaxRetries: 0, RetryDelaySec: 0, TimeoutSec: 5,
		PriorityMin: 1, PriorityMax: 10, Active: false,
	}))

	var processed atomic.Int32
	procs.Register("process_document", func(ctx context.Context, j domain.Job) (map[string]any, error) {
		processed.Add(1)
		return nil, nil
	})

	_, err := st.CreateJob(ctx, domain.Job{
		TenantID: "acme", QueueName: "documents", Type: "process_document",
		Payload: []byte(`{}`), Priority: 5,
	})
	require.NoError(t, err)

	m.StartWorker("acme", "documents")
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, processed.Load())
}
