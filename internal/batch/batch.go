// Package batch groups jobs under a shared batch id and computes
// aggregate progress on demand. A batch has no storage of its own; it is
// derived from the jobs table at read time.
package batch

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docflow/internal/domain"
	"docflow/internal/store"
)

type Aggregator struct {
	store  store.Store
	logger zerolog.Logger
}

func New(s store.Store, logger zerolog.Logger) *Aggregator {
	return &Aggregator{store: s, logger: logger}
}

// Create stamps a fresh batch id onto the given jobs. Every job must exist
// and belong to tenant; on domain.ErrCrossTenantBatch nothing is stamped.
func (a *Aggregator) Create(ctx context.Context, tenant string, jobIDs []string, name string) (string, error) {
	if len(jobIDs) == 0 {
		return "", fmt.Errorf("batch requires at least one job")
	}

	owners, err := a.store.JobTenants(ctx, jobIDs)
	if err != nil {
		return "", err
	}
	for _, id := range jobIDs {
		owner, ok := owners[id]
		if !ok {
			return "", fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
		}
		if owner != tenant {
			return "", domain.ErrCrossTenantBatch
		}
	}

	batchID := "bat_" + uuid.NewString()
	if err := a.store.AssignBatch(ctx, batchID, jobIDs); err != nil {
		return "", err
	}
	a.logger.Info().
		Str("batch_id", batchID).
		Str("tenant", tenant).
		Str("name", name).
		Int("jobs", len(jobIDs)).
		Msg("batch created")
	return batchID, nil
}

// Status aggregates the member jobs. OverallStatus is "completed" only
// when every member completed; failed members stay visible through the
// Failed count, the batch itself never reports a failed state.
func (a *Aggregator) Status(ctx context.Context, batchID string) (domain.BatchStatus, error) {
	counts, err := a.store.BatchCounts(ctx, batchID)
	if err != nil {
		return domain.BatchStatus{}, err
	}

	st := domain.BatchStatus{
		BatchID:    batchID,
		Completed:  counts[domain.JobCompleted],
		Failed:     counts[domain.JobFailed],
		Processing: counts[domain.JobProcessing],
		Queued:     counts[domain.JobQueued],
	}
	for _, n := range counts {
		st.Total += n
	}
	if st.Total == 0 {
		return domain.BatchStatus{}, domain.ErrBatchNotFound
	}

	st.Progress = math.Round(float64(st.Completed)/float64(st.Total)*10000) / 100
	if st.Completed == st.Total {
		st.OverallStatus = "completed"
	} else {
		st.OverallStatus = "processing"
	}
	return st, nil
}
