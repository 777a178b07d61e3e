package store

import (
	"context"
	"strings"

	"docflow/internal/domain"
)

// JobTenants maps each given job id to its owning tenant. IDs that do not
// exist are absent from the result.
func (s *sqliteStore) JobTenants(ctx context.Context, jobIDs []string) (map[string]string, error) {
	if len(jobIDs) == 0 {
		return map[string]string{}, nil
	}
	args := make([]any, len(jobIDs))
	for i, id := range jobIDs {
		args[i] = id
	}
	q := `SELECT id, tenant_id FROM jobs WHERE id IN (?` + strings.Repeat(",?", len(jobIDs)-1) + `)`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owners := make(map[string]string, len(jobIDs))
	for rows.Next() {
		var id, tenant string
		if err := rows.Scan(&id, &tenant); err != nil {
			return nil, err
		}
		owners[id] = tenant
	}
	return owners, rows.Err()
}

func (s *sqliteStore) AssignBatch(ctx context.Context, batchID string, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	args := []any{batchID}
	for _, id := range jobIDs {
		args = append(args, id)
	}
	q := `UPDATE jobs SET batch_id=? WHERE id IN (?` + strings.Repeat(",?", len(jobIDs)-1) + `)`
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

func (s *sqliteStore) BatchCounts(ctx context.Context, batchID string) (map[domain.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT status, COUNT(*) FROM jobs WHERE batch_id=? GROUP BY status`, batchID)
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
