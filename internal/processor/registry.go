// Package processor maps job types to handler functions. The queue core
// never knows what a processor does, only its result/error contract.
package processor

import (
	"context"
	"sync"

	"docflow/internal/domain"
)

// Func executes one job and returns an optional result payload. A non-nil
// error marks the attempt failed; the retry policy of the owning queue
// decides what happens next. The context carries the queue's execution
// timeout and processors are expected to honor it.
type Func func(ctx context.Context, job domain.Job) (map[string]any, error)

type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register binds a job type to a processor. Registering the same type
// twice replaces the previous binding.
func (r *Registry) Register(jobType string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[jobType] = fn
}

func (r *Registry) Resolve(jobType string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[jobType]
	return fn, ok
}
