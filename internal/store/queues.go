package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"docflow/internal/domain"
)

const queueColumns = `tenant_id,name,max_concurrent_jobs,max_retries,retry_delay_seconds,timeout_seconds,priority_min,priority_max,rate_limit,rate_burst,is_active,created_at,updated_at`

func (s *sqliteStore) UpsertQueue(ctx context.Context, q domain.Queue) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO queues (`+queueColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(tenant_id, name) DO UPDATE SET
  max_concurrent_jobs=excluded.max_concurrent_jobs,
  max_retries=excluded.max_retries,
  retry_delay_seconds=excluded.retry_delay_seconds,
  timeout_seconds=excluded.timeout_seconds,
  priority_min=excluded.priority_min,
  priority_max=excluded.priority_max,
  rate_limit=excluded.rate_limit,
  rate_burst=excluded.rate_burst,
  is_active=excluded.is_active,
  updated_at=excluded.updated_at`,
		q.TenantID, q.Name, q.MaxConcurrent, q.MaxRetries, q.RetryDelaySec,
		q.TimeoutSec, q.PriorityMin, q.PriorityMax, q.RateLimit, q.RateBurst,
		q.Active, now, now)
	return err
}

func (s *sqliteStore) GetQueue(ctx context.Context, tenant, name string) (domain.Queue, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+queueColumns+` FROM queues WHERE tenant_id=? AND name=?`, tenant, name)
	q, err := scanQueue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Queue{}, domain.ErrQueueNotFound
	}
	return q, err
}

func (s *sqliteStore) ListQueues(ctx context.Context, tenant string) ([]domain.Queue, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+queueColumns+` FROM queues WHERE tenant_id=? ORDER BY name`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queues []domain.Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		queues = append(queues, q)
	}
	return queues, rows.Err()
}

func (s *sqliteStore) DeleteQueue(ctx context.Context, tenant, name string) error {
	busy, err := s.queueReferenced(ctx, tenant, name)
	if err != nil {
		return err
	}
	if busy {
		return domain.ErrQueueBusy
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM queues WHERE tenant_id=? AND name=?`, tenant, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrQueueNotFound
	}
	return nil
}

// queueReferenced reports whether any live job resolves to this queue row.
// For the system row that includes jobs of every tenant without an
// override of its own, since those reference the system row through the
// fallback.
func (s *sqliteStore) queueReferenced(ctx context.Context, tenant, name string) (bool, error) {
	if tenant != domain.SystemTenant {
		return s.HasActiveJobs(ctx, tenant, name)
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM jobs
WHERE queue_name=? AND status IN ('queued','processing')
  AND tenant_id NOT IN (
    SELECT tenant_id FROM queues WHERE name=? AND tenant_id != ?)`,
		name, name, domain.SystemTenant).Scan(&n)
	return n > 0, err
}

func scanQueue(r rowScanner) (domain.Queue, error) {
	var q domain.Queue
	err := r.Scan(&q.TenantID, &q.Name, &q.MaxConcurrent, &q.MaxRetries,
		&q.RetryDelaySec, &q.TimeoutSec, &q.PriorityMin, &q.PriorityMax,
		&q.RateLimit, &q.RateBurst, &q.Active, &q.CreatedAt, &q.UpdatedAt)
	return q, err
}
