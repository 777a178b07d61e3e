// Package cleanup is the built-in processor behind the "cleanup" job
// type: it purges terminally finished jobs and their task runs for the
// job's tenant, older than a retention window from the payload.
package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docflow/internal/domain"
	"docflow/internal/store"
)

const defaultRetentionDays = 30

type params struct {
	OlderThanDays int `json:"older_than_days"`
}

type Processor struct {
	store store.Store
}

func New(s store.Store) *Processor { return &Processor{store: s} }

func (p *Processor) Handle(ctx context.Context, j domain.Job) (map[string]any, error) {
	var in params
	if len(j.Payload) > 0 {
		if err := json.Unmarshal(j.Payload, &in); err != nil {
			return nil, fmt.Errorf("invalid cleanup payload: %w", err)
		}
	}
	if in.OlderThanDays <= 0 {
		in.OlderThanDays = defaultRetentionDays
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -in.OlderThanDays)
	n, err := p.store.PurgeFinished(ctx, j.TenantID, cutoff)
	if err != nil {
		return nil, err
	}
	return map[string]any{"purged": n, "cutoff": cutoff.Format(time.RFC3339)}, nil
}
