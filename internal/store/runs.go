package store

import (
	"context"
	"database/sql"
	"time"

	"docflow/internal/domain"
)

func (s *sqliteStore) StartRun(ctx context.Context, jobID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO task_runs (job_id, status, started_at) VALUES (?, 'running', ?)`,
		jobID, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) FinishRun(ctx context.Context, runID int64, status domain.RunStatus, result []byte, errMsg string, now time.Time, elapsed time.Duration) error {
	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE task_runs SET status=?, completed_at=?, execution_time_ms=?, result=?, error_message=?
WHERE id=? AND status='running'`,
		status, now.UTC(), elapsed.Milliseconds(), result, msg, runID)
	return err
}

func (s *sqliteStore) ListRuns(ctx context.Context, jobID string) ([]domain.TaskRun, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, job_id, status, started_at, completed_at, execution_time_ms, result, error_message
FROM task_runs WHERE job_id=? ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.TaskRun
	for rows.Next() {
		var tr domain.TaskRun
		var completedAt sql.NullTime
		var errMsg sql.NullString
		var result []byte
		if err := rows.Scan(&tr.ID, &tr.JobID, &tr.Status, &tr.StartedAt,
			&completedAt, &tr.ExecutionTimeMS, &result, &errMsg); err != nil {
			return nil, err
		}
		tr.Result = result
		if completedAt.Valid {
			t := completedAt.Time
			tr.CompletedAt = &t
		}
		if errMsg.Valid {
			v := errMsg.String
			tr.ErrorMessage = &v
		}
		runs = append(runs, tr)
	}
	return runs, rows.Err()
}

func (s *sqliteStore) AvgProcessingMS(ctx context.Context, tenant string) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
SELECT AVG(r.execution_time_ms) FROM task_runs r
JOIN jobs j ON j.id = r.job_id
WHERE j.tenant_id=? AND r.status IN ('completed','failed')`, tenant).Scan(&avg)
	if err != nil {
		return 0, err
	}
	return avg.Float64, nil
}

// RecordJobCompleted notifies quota accounting of one consumed unit. The
// primary key on job_id makes redelivery a no-op.
func (s *sqliteStore) RecordJobCompleted(ctx context.Context, tenant, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO usage_events (job_id, tenant_id, recorded_at) VALUES (?,?,?)
ON CONFLICT(job_id) DO NOTHING`, jobID, tenant, time.Now().UTC())
	return err
}
