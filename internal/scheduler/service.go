// Package scheduler is the external trigger for recurring jobs: a ticker
// that scans due schedules and enqueues jobs through the same validated
// creation path everything else uses. The queue core never sees a cron
// expression.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"docflow/internal/domain"
	"docflow/internal/jobs"
	"docflow/internal/store"
)

type Service struct {
	store    store.Store
	jobs     *jobs.Service
	interval time.Duration
	stop     chan struct{}
	logger   zerolog.Logger
}

func NewService(s store.Store, j *jobs.Service, checkInterval time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		store:    s,
		jobs:     j,
		interval: checkInterval,
		stop:     make(chan struct{}),
		logger:   logger,
	}
}

func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("schedule trigger started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.Tick(ctx, now.UTC())
		}
	}
}

func (s *Service) Stop() { close(s.stop) }

// Tick enqueues a job for every due enabled schedule and advances its
// next run. One broken schedule does not block the rest.
func (s *Service) Tick(ctx context.Context, now time.Time) {
	due, err := s.store.GetDueSchedules(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("load due schedules")
		return
	}
	for _, sc := range due {
		if err := s.fire(ctx, sc, now); err != nil {
			s.logger.Error().Err(err).Str("schedule_id", sc.ID).Msg("fire schedule")
		}
	}
}

func (s *Service) fire(ctx context.Context, sc domain.Schedule, now time.Time) error {
	spec, err := cron.ParseStandard(sc.CronExpr)
	if err != nil {
		return err
	}

	j, err := s.jobs.Create(ctx, jobs.CreateParams{
		TenantID:  sc.TenantID,
		QueueName: sc.QueueName,
		Type:      sc.JobType,
		Payload:   sc.Payload,
		Priority:  sc.Priority,
	})
	if err != nil {
		return err
	}

	nextRun := spec.Next(now)
	if err := s.store.UpdateScheduleRun(ctx, sc.ID, now, nextRun); err != nil {
		return err
	}

	s.logger.Info().
		Str("schedule_id", sc.ID).
		Str("schedule_name", sc.Name).
		Str("job_id", j.ID).
		Time("next_run", nextRun).
		Msg("scheduled job enqueued")
	return nil
}

// ValidateCronExpression checks a standard 5-field cron expression.
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime computes the first run after from.
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	spec, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return spec.Next(from), nil
}
