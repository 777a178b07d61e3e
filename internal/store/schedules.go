package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"docflow/internal/domain"
)

const scheduleColumns = `id,tenant_id,queue_name,name,cron_expr,job_type,payload,priority,enabled,last_run,next_run,created_at,updated_at`

func (s *sqliteStore) CreateSchedule(ctx context.Context, sc domain.Schedule) (string, error) {
	id := sc.ID
	if id == "" {
		id = "sch_" + uuid.NewString()
	}
	if len(sc.Payload) == 0 {
		sc.Payload = []byte(`{}`)
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO schedules (id,tenant_id,queue_name,name,cron_expr,job_type,payload,priority,enabled,last_run,next_run,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, sc.TenantID, sc.QueueName, sc.Name, sc.CronExpr, sc.JobType,
		[]byte(sc.Payload), sc.Priority, sc.Enabled, sc.LastRun, sc.NextRun.UTC(), now, now)
	return id, err
}

func (s *sqliteStore) GetSchedule(ctx context.Context, id string) (domain.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id=?`, id)
	return scanSchedule(row)
}

func (s *sqliteStore) ListSchedules(ctx context.Context, tenant string) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+scheduleColumns+` FROM schedules WHERE tenant_id=? ORDER BY name`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id=?`, id)
	return err
}

func (s *sqliteStore) GetDueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+scheduleColumns+` FROM schedules WHERE enabled=1 AND next_run <= ? ORDER BY next_run`,
		now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (s *sqliteStore) UpdateScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE schedules SET last_run=?, next_run=?, updated_at=? WHERE id=?`,
		lastRun.UTC(), nextRun.UTC(), time.Now().UTC(), id)
	return err
}

func collectSchedules(rows *sql.Rows) ([]domain.Schedule, error) {
	var schedules []domain.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

func scanSchedule(r rowScanner) (domain.Schedule, error) {
	var sc domain.Schedule
	var lastRun sql.NullTime
	err := r.Scan(&sc.ID, &sc.TenantID, &sc.QueueName, &sc.Name, &sc.CronExpr,
		&sc.JobType, &sc.Payload, &sc.Priority, &sc.Enabled, &lastRun,
		&sc.NextRun, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return domain.Schedule{}, err
	}
	if lastRun.Valid {
		t := lastRun.Time
		sc.LastRun = &t
	}
	return sc, nil
}
