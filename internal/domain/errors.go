package domain

import "errors"

var (
	ErrQueueNotFound      = errors.New("queue not found")
	ErrInvalidQueueConfig = errors.New("invalid queue configuration")

	// ErrQueueBusy blocks queue deletion while queued or processing jobs
	// still reference the queue.
	ErrQueueBusy = errors.New("queue has active jobs")

	ErrJobNotFound   = errors.New("job not found")
	ErrBatchNotFound = errors.New("batch not found")

	// ErrNoProcessor marks an unroutable job type. Retrying cannot help,
	// so the failure is terminal on the first attempt.
	ErrNoProcessor = errors.New("no processor registered for job type")

	// ErrClaimConflict means another worker won the race for a job. It is
	// an expected outcome inside the dispatch loop, never surfaced.
	ErrClaimConflict = errors.New("job claim conflict")

	ErrProcessorTimeout   = errors.New("processor timed out")
	ErrCrossTenantBatch   = errors.New("batch jobs must belong to one tenant")
	ErrPriorityOutOfRange = errors.New("priority outside queue bounds")
)
