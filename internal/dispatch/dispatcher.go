// Package dispatch selects the next eligible job for a tenant+queue pair
// under the priority/FIFO rule and claims it atomically against the store.
package dispatch

import (
	"context"
	"errors"
	"time"

	"docflow/internal/domain"
	"docflow/internal/store"
)

// candidateWindow bounds how many eligible jobs one selection round fetches
// before giving up on claim conflicts.
const candidateWindow = 8

type Dispatcher struct {
	store store.Store
}

func New(s store.Store) *Dispatcher { return &Dispatcher{store: s} }

// SelectNext picks and claims the next job for the queue, or returns
// (nil, nil) when nothing is eligible or the concurrency ceiling is
// reached. Lost claim races are retried on the next candidate and never
// surfaced to the caller.
func (d *Dispatcher) SelectNext(ctx context.Context, q domain.Queue, tenant string) (*domain.Job, error) {
	// Fast path: skip the candidate query entirely when the queue is
	// already at its ceiling. The ceiling is re-checked inside ClaimJob,
	// so this read is not load-bearing for correctness.
	n, err := d.store.ProcessingCount(ctx, tenant, q.Name)
	if err != nil {
		return nil, err
	}
	if n >= q.MaxConcurrent {
		return nil, nil
	}

	now := time.Now().UTC()
	candidates, err := d.store.FindEligible(ctx, tenant, q.Name, q.PriorityMin, q.PriorityMax, now, candidateWindow)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		err := d.store.ClaimJob(ctx, candidates[i].ID, q.MaxConcurrent, now)
		if errors.Is(err, domain.ErrClaimConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		j := candidates[i]
		j.Status = domain.JobProcessing
		started := now
		j.StartedAt = &started
		return &j, nil
	}
	return nil, nil
}
