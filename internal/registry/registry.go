// Package registry owns queue configuration: validation, tenant/system
// resolution, a short-TTL read cache for the hot dispatch path, and
// per-tenant token-bucket rate limiting.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"docflow/internal/domain"
	"docflow/internal/store"
)

type cacheEntry struct {
	queue   domain.Queue
	fetched time.Time
}

// Registry resolves queue configuration for worker loops. Reads fall back
// from the tenant-specific row to the system row, and are cached for a
// short TTL since configuration is read-mostly.
type Registry struct {
	store store.Store
	ttl   time.Duration

	mu       sync.Mutex
	cache    map[string]cacheEntry
	limiters map[string]*rate.Limiter
}

func New(s store.Store, cacheTTL time.Duration) *Registry {
	return &Registry{
		store:    s,
		ttl:      cacheTTL,
		cache:    make(map[string]cacheEntry),
		limiters: make(map[string]*rate.Limiter),
	}
}

func key(tenant, name string) string { return tenant + ":" + name }

// Get returns the queue configuration for a tenant, falling back to the
// system-wide row when the tenant has no override.
func (r *Registry) Get(ctx context.Context, tenant, name string) (domain.Queue, error) {
	k := key(tenant, name)

	r.mu.Lock()
	if e, ok := r.cache[k]; ok && time.Since(e.fetched) < r.ttl {
		q := e.queue
		r.mu.Unlock()
		return q, nil
	}
	r.mu.Unlock()

	q, err := r.store.GetQueue(ctx, tenant, name)
	if errors.Is(err, domain.ErrQueueNotFound) && tenant != domain.SystemTenant {
		q, err = r.store.GetQueue(ctx, domain.SystemTenant, name)
	}
	if err != nil {
		return domain.Queue{}, err
	}

	r.mu.Lock()
	r.cache[k] = cacheEntry{queue: q, fetched: time.Now()}
	r.mu.Unlock()
	return q, nil
}

// Upsert validates and persists a queue configuration, then drops any
// cached copy and rate limiter so the new limits take effect.
func (r *Registry) Upsert(ctx context.Context, q domain.Queue) error {
	if err := Validate(q); err != nil {
		return err
	}
	if err := r.store.UpsertQueue(ctx, q); err != nil {
		return err
	}
	r.invalidate(q.TenantID, q.Name)
	return nil
}

// Delete removes a queue configuration. Returns domain.ErrQueueBusy while
// queued or processing jobs still reference the queue.
func (r *Registry) Delete(ctx context.Context, tenant, name string) error {
	if err := r.store.DeleteQueue(ctx, tenant, name); err != nil {
		return err
	}
	r.invalidate(tenant, name)
	return nil
}

func (r *Registry) List(ctx context.Context, tenant string) ([]domain.Queue, error) {
	return r.store.ListQueues(ctx, tenant)
}

// Allow consults the queue's token bucket for one tenant. Queues without a
// rate limit always allow. The limiter is built lazily from the cached
// configuration, so Get must have succeeded at least once for the key.
func (r *Registry) Allow(tenant, name string) bool {
	k := key(tenant, name)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.cache[k]
	if !ok || e.queue.RateLimit <= 0 {
		return true
	}
	lim, ok := r.limiters[k]
	if !ok {
		burst := e.queue.RateBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(e.queue.RateLimit), burst)
		r.limiters[k] = lim
	}
	return lim.Allow()
}

func (r *Registry) invalidate(tenant, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, key(tenant, name))
	delete(r.limiters, key(tenant, name))
	if tenant == domain.SystemTenant {
		// Tenant reads may have cached the system fallback; a system-row
		// change has to propagate to them too.
		for k := range r.cache {
			if r.cache[k].queue.TenantID == domain.SystemTenant {
				delete(r.cache, k)
				delete(r.limiters, k)
			}
		}
	}
}

// Validate checks queue invariants: positive concurrency and timeout,
// non-negative retry policy and priority_min <= priority_max.
func Validate(q domain.Queue) error {
	if q.TenantID == "" || q.Name == "" {
		return fmt.Errorf("queue tenant and name are required: %w", domain.ErrInvalidQueueConfig)
	}
	if q.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent_jobs must be positive, got %d: %w", q.MaxConcurrent, domain.ErrInvalidQueueConfig)
	}
	if q.TimeoutSec <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d: %w", q.TimeoutSec, domain.ErrInvalidQueueConfig)
	}
	if q.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d: %w", q.MaxRetries, domain.ErrInvalidQueueConfig)
	}
	if q.RetryDelaySec < 0 {
		return fmt.Errorf("retry_delay_seconds must not be negative, got %d: %w", q.RetryDelaySec, domain.ErrInvalidQueueConfig)
	}
	if q.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative, got %f: %w", q.RateLimit, domain.ErrInvalidQueueConfig)
	}
	if q.PriorityMin > q.PriorityMax {
		return fmt.Errorf("priority_min %d exceeds priority_max %d: %w", q.PriorityMin, q.PriorityMax, domain.ErrInvalidQueueConfig)
	}
	return nil
}
