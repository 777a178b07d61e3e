package domain

import (
	"encoding/json"
	"time"
)

// SystemTenant owns queue configurations shared by all tenants. A tenant
// without its own row for a queue name falls back to the system row.
const SystemTenant = "system"

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Queue bounds concurrency, retries, timeout and priority for a class of
// jobs. Identity is (TenantID, Name); TenantID may be SystemTenant.
type Queue struct {
	TenantID      string  `json:"tenant_id"`
	Name          string  `json:"name"`
	MaxConcurrent int     `json:"max_concurrent_jobs"`
	MaxRetries    int     `json:"max_retries"`
	RetryDelaySec int     `json:"retry_delay_seconds"`
	TimeoutSec    int     `json:"timeout_seconds"`
	PriorityMin   int     `json:"priority_min"`
	PriorityMax   int     `json:"priority_max"`
	// RateLimit is the sustained jobs per second dequeued from this queue
	// for one tenant. Zero disables rate limiting.
	RateLimit float64   `json:"rate_limit"`
	RateBurst int       `json:"rate_burst"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (q Queue) RetryDelay() time.Duration { return time.Duration(q.RetryDelaySec) * time.Second }
func (q Queue) Timeout() time.Duration    { return time.Duration(q.TimeoutSec) * time.Second }

type Job struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	QueueName string          `json:"queue_name"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Priority  int             `json:"priority"`
	Status    JobStatus       `json:"status"`
	// RetryCount is the number of attempts consumed so far. It starts at 0
	// and reaches MaxRetries+1 when a job fails terminally.
	RetryCount    int        `json:"retry_count"`
	BatchID       *string    `json:"batch_id,omitempty"`
	ErrorDetails  *string    `json:"error_details,omitempty"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TaskRun records one execution attempt of a job. Immutable once finished.
type TaskRun struct {
	ID              int64
	JobID           string
	Status          RunStatus
	StartedAt       time.Time
	CompletedAt     *time.Time
	ExecutionTimeMS int64
	Result          json.RawMessage
	ErrorMessage    *string
}

type Schedule struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	QueueName string          `json:"queue_name"`
	Name      string          `json:"name"`
	CronExpr  string          `json:"cron_expr"`
	JobType   string          `json:"job_type"`
	Payload   json.RawMessage `json:"payload"`
	Priority  int             `json:"priority"`
	Enabled   bool            `json:"enabled"`
	LastRun   *time.Time      `json:"last_run,omitempty"`
	NextRun   time.Time       `json:"next_run"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// BatchStatus is the aggregate view over all jobs sharing a batch id.
// OverallStatus is "completed" only when every member completed; partial
// failure is surfaced through the Failed count, never as a batch state.
type BatchStatus struct {
	BatchID       string  `json:"batch_id"`
	Total         int     `json:"total"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	Processing    int     `json:"processing"`
	Queued        int     `json:"queued"`
	Progress      float64 `json:"progress_percentage"`
	OverallStatus string  `json:"overall_status"`
}

type TenantStats struct {
	Total           int               `json:"total"`
	ByStatus        map[JobStatus]int `json:"by_status"`
	AvgProcessingMS float64           `json:"avg_processing_time_ms"`
	ActiveWorkers   int               `json:"active_worker_count"`
}
