package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docflow/internal/domain"
)

const jobColumns = `id,tenant_id,queue_name,type,payload,priority,status,retry_count,batch_id,error_details,next_attempt_at,created_at,started_at,finished_at,updated_at`

func (s *sqliteStore) CreateJob(ctx context.Context, j domain.Job) (domain.Job, error) {
	if j.ID == "" {
		j.ID = "job_" + uuid.NewString()
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.NextAttemptAt.IsZero() {
		j.NextAttemptAt = j.CreatedAt
	}
	j.Status = domain.JobQueued
	j.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
INSERT INTO jobs (id,tenant_id,queue_name,type,payload,priority,status,retry_count,batch_id,next_attempt_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,'queued',0,?,?,?,?)
`, j.ID, j.TenantID, j.QueueName, j.Type, []byte(j.Payload), j.Priority, j.BatchID, j.NextAttemptAt, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

func (s *sqliteStore) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return j, err
}

// FindEligible returns queued jobs for one tenant+queue whose priority lies
// within the queue bounds and whose backoff gate has passed, ordered higher
// priority first with strict FIFO among equals.
func (s *sqliteStore) FindEligible(ctx context.Context, tenant, queue string, prioMin, prioMax int, now time.Time, limit int) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+jobColumns+` FROM jobs
WHERE tenant_id=? AND queue_name=? AND status='queued'
  AND priority BETWEEN ? AND ? AND next_attempt_at <= ?
ORDER BY priority DESC, created_at ASC, id ASC
LIMIT ?`, tenant, queue, prioMin, prioMax, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ClaimJob is the single compare-and-swap the dispatcher relies on. The
// concurrency ceiling is re-checked inside the statement so two racing
// workers can neither double-claim one job nor push the processing count
// past the queue's limit.
func (s *sqliteStore) ClaimJob(ctx context.Context, id string, maxConcurrent int, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs SET status='processing', started_at=?, updated_at=?
WHERE id=? AND status='queued'
  AND (SELECT COUNT(*) FROM jobs p
         WHERE p.tenant_id = jobs.tenant_id
           AND p.queue_name = jobs.queue_name
           AND p.status='processing') < ?`,
		now.UTC(), now.UTC(), id, maxConcurrent)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrClaimConflict
	}
	return nil
}

func (s *sqliteStore) CompleteJob(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE jobs SET status='completed', finished_at=?, updated_at=?
WHERE id=? AND status='processing'`, now.UTC(), now.UTC(), id)
	return err
}

func (s *sqliteStore) RequeueJob(ctx context.Context, id, errDetail string, nextAttempt time.Time) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
UPDATE jobs SET status='queued', retry_count=retry_count+1, error_details=?,
  next_attempt_at=?, started_at=NULL, updated_at=?
WHERE id=? AND status='processing'`, errDetail, nextAttempt.UTC(), now, id)
	return err
}

func (s *sqliteStore) FailJob(ctx context.Context, id, errDetail string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE jobs SET status='failed', retry_count=retry_count+1, error_details=?,
  finished_at=?, updated_at=?
WHERE id=? AND status='processing'`, errDetail, now.UTC(), now.UTC(), id)
	return err
}

func (s *sqliteStore) ProcessingCount(ctx context.Context, tenant, queue string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM jobs WHERE tenant_id=? AND queue_name=? AND status='processing'`,
		tenant, queue).Scan(&n)
	return n, err
}

func (s *sqliteStore) HasActiveJobs(ctx context.Context, tenant, queue string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM jobs
WHERE tenant_id=? AND queue_name=? AND status IN ('queued','processing')`,
		tenant, queue).Scan(&n)
	return n > 0, err
}

func (s *sqliteStore) CountByStatus(ctx context.Context, tenant string) (map[domain.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT status, COUNT(*) FROM jobs WHERE tenant_id=? GROUP BY status`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var st domain.JobStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// ActivePairs lists the tenant+queue keys that still have live jobs, used
// at boot to restart worker loops after a crash or restart.
func (s *sqliteStore) ActivePairs(ctx context.Context) ([]TenantQueue, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT tenant_id, queue_name FROM jobs WHERE status IN ('queued','processing')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []TenantQueue
	for rows.Next() {
		var p TenantQueue
		if err := rows.Scan(&p.TenantID, &p.QueueName); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// RecoverStale requeues jobs left in processing by a previous process.
// Worker handles are in-memory, so nothing can still be running them.
func (s *sqliteStore) RecoverStale(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs SET status='queued', started_at=NULL, next_attempt_at=?, updated_at=?
WHERE status='processing'`, now.UTC(), now.UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) PurgeFinished(ctx context.Context, tenant string, before time.Time) (int64, error) {
	if _, err := s.db.ExecContext(ctx, `
DELETE FROM task_runs WHERE job_id IN (
  SELECT id FROM jobs
  WHERE tenant_id=? AND status IN ('completed','failed') AND finished_at < ?)`,
		tenant, before.UTC()); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
DELETE FROM jobs
WHERE tenant_id=? AND status IN ('completed','failed') AND finished_at < ?`,
		tenant, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanJob(r rowScanner) (domain.Job, error) {
	var j domain.Job
	var batchID, errDetails sql.NullString
	var startedAt, finishedAt sql.NullTime
	err := r.Scan(&j.ID, &j.TenantID, &j.QueueName, &j.Type, &j.Payload, &j.Priority,
		&j.Status, &j.RetryCount, &batchID, &errDetails, &j.NextAttemptAt,
		&j.CreatedAt, &startedAt, &finishedAt, &j.UpdatedAt)
	if err != nil {
		return domain.Job{}, err
	}
	if batchID.Valid {
		v := batchID.String
		j.BatchID = &v
	}
	if errDetails.Valid {
		v := errDetails.String
		j.ErrorDetails = &v
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		j.FinishedAt = &t
	}
	return j, nil
}
