// Package store is the durable record of jobs, task runs, queue
// configurations, schedules and usage events, backed by a single SQLite
// file. All state transitions on jobs go through conditional updates so
// that concurrent workers cannot observe or produce conflicting claims.
package store

import (
	"context"
	"database/sql"
	"time"

	"docflow/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS queues (
  tenant_id TEXT NOT NULL,
  name TEXT NOT NULL,
  max_concurrent_jobs INTEGER NOT NULL DEFAULT 1,
  max_retries INTEGER NOT NULL DEFAULT 3,
  retry_delay_seconds INTEGER NOT NULL DEFAULT 60,
  timeout_seconds INTEGER NOT NULL DEFAULT 300,
  priority_min INTEGER NOT NULL DEFAULT 1,
  priority_max INTEGER NOT NULL DEFAULT 10,
  rate_limit REAL NOT NULL DEFAULT 0,
  rate_burst INTEGER NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (tenant_id, name)
);
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  queue_name TEXT NOT NULL,
  type TEXT NOT NULL,
  payload BLOB NOT NULL,
  priority INTEGER NOT NULL DEFAULT 5,
  status TEXT NOT NULL CHECK(status IN ('queued','processing','completed','failed')) DEFAULT 'queued',
  retry_count INTEGER NOT NULL DEFAULT 0,
  batch_id TEXT,
  error_details TEXT,
  next_attempt_at DATETIME NOT NULL,
  created_at DATETIME NOT NULL,
  started_at DATETIME,
  finished_at DATETIME,
  updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_dispatch ON jobs(tenant_id, queue_name, status, next_attempt_at, priority DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_batch ON jobs(batch_id) WHERE batch_id IS NOT NULL;
CREATE TABLE IF NOT EXISTS task_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  job_id TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('running','completed','failed')) DEFAULT 'running',
  started_at DATETIME NOT NULL,
  completed_at DATETIME,
  execution_time_ms INTEGER NOT NULL DEFAULT 0,
  result BLOB,
  error_message TEXT,
  FOREIGN KEY(job_id) REFERENCES jobs(id)
);
CREATE INDEX IF NOT EXISTS idx_task_runs_job ON task_runs(job_id);
CREATE TABLE IF NOT EXISTS schedules (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  queue_name TEXT NOT NULL,
  name TEXT NOT NULL,
  cron_expr TEXT NOT NULL,
  job_type TEXT NOT NULL,
  payload BLOB NOT NULL,
  priority INTEGER NOT NULL DEFAULT 5,
  enabled INTEGER NOT NULL DEFAULT 1,
  last_run DATETIME,
  next_run DATETIME NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(enabled, next_run);
CREATE TABLE IF NOT EXISTS usage_events (
  job_id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  recorded_at DATETIME NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

// TenantQueue identifies one worker key: a tenant paired with a queue name.
type TenantQueue struct {
	TenantID  string
	QueueName string
}

type Store interface {
	// Job lifecycle.
	CreateJob(ctx context.Context, j domain.Job) (domain.Job, error)
	GetJob(ctx context.Context, id string) (domain.Job, error)
	FindEligible(ctx context.Context, tenant, queue string, prioMin, prioMax int, now time.Time, limit int) ([]domain.Job, error)
	// ClaimJob atomically transitions a job from queued to processing,
	// provided the queue's processing count is still below maxConcurrent.
	// Returns domain.ErrClaimConflict if the job was already taken or the
	// ceiling was reached.
	ClaimJob(ctx context.Context, id string, maxConcurrent int, now time.Time) error
	CompleteJob(ctx context.Context, id string, now time.Time) error
	// RequeueJob consumes one retry: increments retry_count and returns
	// the job to queued, eligible again at nextAttempt.
	RequeueJob(ctx context.Context, id, errDetail string, nextAttempt time.Time) error
	// FailJob consumes the final attempt and marks the job terminally failed.
	FailJob(ctx context.Context, id, errDetail string, now time.Time) error
	ProcessingCount(ctx context.Context, tenant, queue string) (int, error)
	HasActiveJobs(ctx context.Context, tenant, queue string) (bool, error)
	CountByStatus(ctx context.Context, tenant string) (map[domain.JobStatus]int, error)
	ActivePairs(ctx context.Context) ([]TenantQueue, error)
	RecoverStale(ctx context.Context, now time.Time) (int, error)
	PurgeFinished(ctx context.Context, tenant string, before time.Time) (int64, error)

	// Batches.
	JobTenants(ctx context.Context, jobIDs []string) (map[string]string, error)
	AssignBatch(ctx context.Context, batchID string, jobIDs []string) error
	BatchCounts(ctx context.Context, batchID string) (map[domain.JobStatus]int, error)

	// Task runs.
	StartRun(ctx context.Context, jobID string, now time.Time) (int64, error)
	FinishRun(ctx context.Context, runID int64, status domain.RunStatus, result []byte, errMsg string, now time.Time, elapsed time.Duration) error
	ListRuns(ctx context.Context, jobID string) ([]domain.TaskRun, error)
	AvgProcessingMS(ctx context.Context, tenant string) (float64, error)

	// Queue configuration.
	UpsertQueue(ctx context.Context, q domain.Queue) error
	GetQueue(ctx context.Context, tenant, name string) (domain.Queue, error)
	ListQueues(ctx context.Context, tenant string) ([]domain.Queue, error)
	DeleteQueue(ctx context.Context, tenant, name string) error

	// Schedules.
	CreateSchedule(ctx context.Context, s domain.Schedule) (string, error)
	GetSchedule(ctx context.Context, id string) (domain.Schedule, error)
	ListSchedules(ctx context.Context, tenant string) ([]domain.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
	GetDueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error)
	UpdateScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error

	// Quota accounting. Idempotent per job id; at-least-once safe.
	RecordJobCompleted(ctx context.Context, tenant, jobID string) error
}

type sqliteStore struct{ db *sql.DB }

func NewSQLite(db *sql.DB) Store { return &sqliteStore{db: db} }
