// Package api is the thin ops surface over the in-process queue
// operations: job submission, worker lifecycle, batches, queue
// configuration, schedules and stats. No auth; callers gate access.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"docflow/internal/batch"
	"docflow/internal/domain"
	"docflow/internal/jobs"
	"docflow/internal/registry"
	"docflow/internal/scheduler"
	"docflow/internal/store"
	"docflow/internal/worker"
)

type Server struct {
	jobs     *jobs.Service
	registry *registry.Registry
	manager  *worker.Manager
	batches  *batch.Aggregator
	store    store.Store
}

func NewServer(j *jobs.Service, reg *registry.Registry, m *worker.Manager, b *batch.Aggregator, st store.Store) http.Handler {
	s := &Server{jobs: j, registry: reg, manager: m, batches: b, store: st}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", s.health)

	r.Post("/api/jobs", s.createJob)
	r.Get("/api/jobs/{id}", s.getJob)

	r.Get("/api/queues", s.listQueues)
	r.Put("/api/queues", s.upsertQueue)
	r.Delete("/api/queues/{tenant}/{name}", s.deleteQueue)

	r.Post("/api/workers/start", s.startWorker)
	r.Post("/api/workers/stop", s.stopWorker)

	r.Post("/api/batches", s.createBatch)
	r.Get("/api/batches/{id}", s.batchStatus)

	r.Get("/api/stats", s.stats)

	r.Post("/api/schedules", s.createSchedule)
	r.Get("/api/schedules", s.listSchedules)
	r.Delete("/api/schedules/{id}", s.deleteSchedule)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type createJobReq struct {
	TenantID string          `json:"tenant_id"`
	Queue    string          `json:"queue"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Priority int             `json:"priority"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	j, err := s.jobs.Create(r.Context(), jobs.CreateParams{
		TenantID:  req.TenantID,
		QueueName: req.Queue,
		Type:      req.Type,
		Payload:   req.Payload,
		Priority:  req.Priority,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": j.ID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) listQueues(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		tenant = domain.SystemTenant
	}
	queues, err := s.registry.List(r.Context(), tenant)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queues)
}

func (s *Server) upsertQueue(w http.ResponseWriter, r *http.Request) {
	var q domain.Queue
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.registry.Upsert(r.Context(), q); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteQueue(w http.ResponseWriter, r *http.Request) {
	err := s.registry.Delete(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type workerReq struct {
	TenantID string `json:"tenant_id"`
	Queue    string `json:"queue"`
}

func (s *Server) startWorker(w http.ResponseWriter, r *http.Request) {
	var req workerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.TenantID == "" || req.Queue == "" {
		http.Error(w, "tenant_id and queue are required", http.StatusBadRequest)
		return
	}
	s.manager.StartWorker(req.TenantID, req.Queue)
	writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (s *Server) stopWorker(w http.ResponseWriter, r *http.Request) {
	var req workerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.manager.StopWorker(req.TenantID, req.Queue)
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

type createBatchReq struct {
	TenantID string   `json:"tenant_id"`
	JobIDs   []string `json:"job_ids"`
	Name     string   `json:"name"`
}

func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := s.batches.Create(r.Context(), req.TenantID, req.JobIDs, req.Name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"batch_id": id})
}

func (s *Server) batchStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.batches.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		http.Error(w, "tenant is required", http.StatusBadRequest)
		return
	}

	counts, err := s.store.CountByStatus(r.Context(), tenant)
	if err != nil {
		writeErr(w, err)
		return
	}
	avg, err := s.store.AvgProcessingMS(r.Context(), tenant)
	if err != nil {
		writeErr(w, err)
		return
	}

	st := domain.TenantStats{
		ByStatus:        counts,
		AvgProcessingMS: avg,
		ActiveWorkers:   s.manager.ActiveWorkerCount(tenant),
	}
	for _, n := range counts {
		st.Total += n
	}
	writeJSON(w, http.StatusOK, st)
}

type createScheduleReq struct {
	TenantID string          `json:"tenant_id"`
	Queue    string          `json:"queue"`
	Name     string          `json:"name"`
	CronExpr string          `json:"cron_expr"`
	JobType  string          `json:"job_type"`
	Payload  json.RawMessage `json:"payload"`
	Priority int             `json:"priority"`
	Enabled  bool            `json:"enabled"`
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.CronExpr == "" || req.JobType == "" || req.TenantID == "" || req.Queue == "" {
		http.Error(w, "tenant_id, queue, name, cron_expr and job_type are required", http.StatusBadRequest)
		return
	}
	if err := scheduler.ValidateCronExpression(req.CronExpr); err != nil {
		http.Error(w, "invalid cron expression: "+err.Error(), http.StatusBadRequest)
		return
	}
	nextRun, err := scheduler.NextRunTime(req.CronExpr, time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.store.CreateSchedule(r.Context(), domain.Schedule{
		TenantID:  req.TenantID,
		QueueName: req.Queue,
		Name:      req.Name,
		CronExpr:  req.CronExpr,
		JobType:   req.JobType,
		Payload:   req.Payload,
		Priority:  req.Priority,
		Enabled:   req.Enabled,
		NextRun:   nextRun,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		http.Error(w, "tenant is required", http.StatusBadRequest)
		return
	}
	schedules, err := s.store.ListSchedules(r.Context(), tenant)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSchedule(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrQueueNotFound),
		errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrBatchNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrQueueBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrCrossTenantBatch),
		errors.Is(err, domain.ErrPriorityOutOfRange),
		errors.Is(err, domain.ErrInvalidQueueConfig):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
