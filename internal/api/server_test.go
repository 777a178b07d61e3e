package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"docflow/internal/api"
	"docflow/internal/batch"
	"docflow/internal/dispatch"
	"docflow/internal/domain"
	"docflow/internal/jobs"
	"docflow/internal/processor"
	"docflow/internal/registry"
	"docflow/internal/store"
	"docflow/internal/worker"
)

func newTestServer(t *testing.T) (http.Handler, store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.EnsureSchema(db))

	st := store.NewSQLite(db)
	require.NoError(t, st.UpsertQueue(context.Background(), domain.Queue{
		TenantID:      domain.SystemTenant,
		Name:          "documents",
		MaxConcurrent: 4,
		MaxRetries:    3,
		RetryDelaySec: 60,
		TimeoutSec:    300,
		PriorityMin:   1,
		PriorityMax:   10,
		Active:        true,
	}))

	reg := registry.New(st, time.Second)
	procs := processor.NewRegistry()
	exec := worker.NewExecutor(st, procs, st, zerolog.Nop())
	mgr := worker.NewManager(reg, dispatch.New(st), exec, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		mgr.StopAll(ctx)
	})

	js := jobs.NewService(st, reg)
	agg := batch.New(st, zerolog.Nop())
	return api.NewServer(js, reg, mgr, agg, st), st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndGetJob(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/jobs", map[string]any{
		"tenant_id": "acme",
		"queue":     "documents",
		"type":      "process_document",
		"payload":   map[string]any{"doc": "invoice.pdf"},
		"priority":  5,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created["id"])

	rec = doJSON(t, h, http.MethodGet, "/api/jobs/"+created["id"], nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var j domain.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &j))
	assert.Equal(t, domain.JobQueued, j.Status)
	assert.Equal(t, "acme", j.TenantID)
}

func TestCreateJob_BadRequests(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/jobs", map[string]any{
		"tenant_id": "acme", "queue": "documents", "type": "process_document", "priority": 99,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/jobs", map[string]any{
		"tenant_id": "acme", "queue": "missing", "type": "process_document", "priority": 5,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob_NotFound(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/api/jobs/job_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueLifecycle(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPut, "/api/queues", domain.Queue{
		TenantID:      "acme",
		Name:          "priority-docs",
		MaxConcurrent: 2,
		MaxRetries:    1,
		RetryDelaySec: 5,
		TimeoutSec:    60,
		PriorityMin:   1,
		PriorityMax:   5,
		Active:        true,
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/api/queues?tenant=acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var queues []domain.Queue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queues))
	require.Len(t, queues, 1)
	assert.Equal(t, "priority-docs", queues[0].Name)

	rec = doJSON(t, h, http.MethodDelete, "/api/queues/acme/priority-docs", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/queues/acme/priority-docs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpsertQueue_InvalidConfig(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodPut, "/api/queues", domain.Queue{
		TenantID: "acme", Name: "bad", MaxConcurrent: 0, TimeoutSec: 60,
		PriorityMin: 1, PriorityMax: 10,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkerStartStop(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/workers/start", map[string]string{
		"tenant_id": "acme", "queue": "documents",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/stats?tenant=acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats domain.TenantStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.ActiveWorkers)

	rec = doJSON(t, h, http.MethodPost, "/api/workers/stop", map[string]string{
		"tenant_id": "acme", "queue": "documents",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/workers/start", map[string]string{
		"tenant_id": "", "queue": "",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchEndpoints(t *testing.T) {
	h, st := newTestServer(t)
	ctx := context.Background()

	a, err := st.CreateJob(ctx, domain.Job{
		TenantID: "acme", QueueName: "documents", Type: "process_document",
		Payload: []byte(`{}`), Priority: 5,
	})
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/api/batches", map[string]any{
		"tenant_id": "acme", "job_ids": []string{a.ID}, "name": "march",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, h, http.MethodGet, "/api/batches/"+created["batch_id"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bs domain.BatchStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bs))
	assert.Equal(t, 1, bs.Total)

	rec = doJSON(t, h, http.MethodGet, "/api/batches/bat_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleEndpoints(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/schedules", map[string]any{
		"tenant_id": "acme",
		"queue":     "documents",
		"name":      "nightly",
		"cron_expr": "0 2 * * *",
		"job_type":  "process_document",
		"priority":  5,
		"enabled":   true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created["id"])

	rec = doJSON(t, h, http.MethodGet, "/api/schedules?tenant=acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var schedules []domain.Schedule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schedules))
	require.Len(t, schedules, 1)

	rec = doJSON(t, h, http.MethodPost, "/api/schedules", map[string]any{
		"tenant_id": "acme", "queue": "documents", "name": "bad",
		"cron_expr": "not cron", "job_type": "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/schedules/"+created["id"], nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
