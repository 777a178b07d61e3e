package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"docflow/internal/backoff"
	"docflow/internal/dispatch"
	"docflow/internal/registry"
)

// maxErrStreak caps the exponent fed to the error-pause strategy.
const maxErrStreak = 8

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// workerKey identifies one loop. A struct key keeps tenant and queue
// separate no matter what characters the ids contain.
type workerKey struct {
	tenant string
	queue  string
}

// Manager owns one cooperative worker loop per (tenant, queue) key. Start
// and stop are idempotent; stopping cancels only the loop's idle waits,
// an in-flight job runs to completion or its own timeout.
type Manager struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	executor   *Executor
	poll       time.Duration
	errPause   backoff.Strategy
	logger     zerolog.Logger

	mu      sync.Mutex
	handles map[workerKey]*handle
}

type Option func(*Manager)

// WithPollInterval sets the idle sleep between empty dispatch rounds.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.poll = d }
}

// WithErrorPause sets the backoff applied after store-level loop errors.
func WithErrorPause(s backoff.Strategy) Option {
	return func(m *Manager) { m.errPause = s }
}

func NewManager(reg *registry.Registry, d *dispatch.Dispatcher, e *Executor, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		registry:   reg,
		dispatcher: d,
		executor:   e,
		poll:       250 * time.Millisecond,
		errPause:   backoff.NewExponentialWithJitter(time.Second, 30*time.Second),
		logger:     logger,
		handles:    make(map[workerKey]*handle),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartWorker spawns the loop for a tenant+queue key. No-op if one is
// already running.
func (m *Manager) StartWorker(tenant, queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := workerKey{tenant: tenant, queue: queue}
	if _, ok := m.handles[k]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{})}
	m.handles[k] = h
	go m.runLoop(ctx, tenant, queue, h)
}

// StopWorker signals the loop for a key to stop and forgets its handle
// immediately, so a StartWorker right after creates exactly one new loop.
// The old loop drains on its own: any in-flight execution finishes first.
func (m *Manager) StopWorker(tenant, queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := workerKey{tenant: tenant, queue: queue}
	h, ok := m.handles[k]
	if !ok {
		return
	}
	delete(m.handles, k)
	h.cancel()
}

// Running reports whether a loop is registered for the key.
func (m *Manager) Running(tenant, queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[workerKey{tenant: tenant, queue: queue}]
	return ok
}

// ActiveWorkerCount returns the number of registered loops for a tenant.
func (m *Manager) ActiveWorkerCount(tenant string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k := range m.handles {
		if k.tenant == tenant {
			n++
		}
	}
	return n
}

// StopAll cancels every loop and waits for them to drain, bounded by ctx.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	stopped := make([]*handle, 0, len(m.handles))
	for k, h := range m.handles {
		delete(m.handles, k)
		h.cancel()
		stopped = append(stopped, h)
	}
	m.mu.Unlock()

	for _, h := range stopped {
		select {
		case <-h.done:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) runLoop(ctx context.Context, tenant, queue string, h *handle) {
	defer close(h.done)

	log := m.logger.With().Str("tenant", tenant).Str("queue", queue).Logger()
	log.Info().Msg("worker loop started")

	errStreak := 0
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker loop stopped")
			return
		default:
		}

		q, err := m.registry.Get(ctx, tenant, queue)
		if err != nil {
			errStreak = min(errStreak+1, maxErrStreak)
			log.Error().Err(err).Msg("resolve queue config")
			m.sleep(ctx, m.errPause.Delay(errStreak))
			continue
		}
		if !q.Active || !m.registry.Allow(tenant, queue) {
			m.sleep(ctx, m.poll)
			continue
		}

		job, err := m.dispatcher.SelectNext(ctx, q, tenant)
		if err != nil {
			errStreak = min(errStreak+1, maxErrStreak)
			log.Error().Err(err).Msg("select next job")
			m.sleep(ctx, m.errPause.Delay(errStreak))
			continue
		}
		errStreak = 0

		if job == nil {
			m.sleep(ctx, m.poll)
			continue
		}
		m.executor.Execute(*job, q)
	}
}

// sleep waits for d but wakes immediately on loop cancellation.
func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
