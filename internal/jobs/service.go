// Package jobs is the validated job-creation entry point shared by the
// HTTP surface and the schedule trigger.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"docflow/internal/domain"
	"docflow/internal/registry"
	"docflow/internal/store"
)

type Service struct {
	store    store.Store
	registry *registry.Registry
}

func NewService(s store.Store, r *registry.Registry) *Service {
	return &Service{store: s, registry: r}
}

type CreateParams struct {
	TenantID  string
	QueueName string
	Type      string
	Payload   json.RawMessage
	Priority  int
}

// Create validates a job against its owning queue and persists it queued.
// The queue must exist (tenant or system row), be active, and contain the
// job's priority within its bounds.
func (s *Service) Create(ctx context.Context, p CreateParams) (domain.Job, error) {
	if p.TenantID == "" || p.QueueName == "" || p.Type == "" {
		return domain.Job{}, fmt.Errorf("tenant_id, queue_name and type are required")
	}

	q, err := s.registry.Get(ctx, p.TenantID, p.QueueName)
	if err != nil {
		return domain.Job{}, err
	}
	if !q.Active {
		return domain.Job{}, fmt.Errorf("queue %s is inactive: %w", p.QueueName, domain.ErrQueueNotFound)
	}
	if p.Priority < q.PriorityMin || p.Priority > q.PriorityMax {
		return domain.Job{}, fmt.Errorf("priority %d not in [%d, %d]: %w",
			p.Priority, q.PriorityMin, q.PriorityMax, domain.ErrPriorityOutOfRange)
	}

	payload := p.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	return s.store.CreateJob(ctx, domain.Job{
		TenantID:  p.TenantID,
		QueueName: p.QueueName,
		Type:      p.Type,
		Payload:   payload,
		Priority:  p.Priority,
	})
}

func (s *Service) Get(ctx context.Context, id string) (domain.Job, error) {
	return s.store.GetJob(ctx, id)
}
