package job

import (
	"context"
	"time"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Stats is a per-queue snapshot of job counts.
type Stats struct {
	Queue     string `json:"queue"`
	Waiting   int64  `json:"waiting"`
	Delayed   int64  `json:"delayed"`
	Active    int64  `json:"active"`
	Retrying  int64  `json:"retrying"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

// Store is the queue backend contract. Implementations must be safe for
// concurrent use by several worker processes.
type Store interface {
	// EnqueueJob persists a new job in pending state. If a live job with the
	// same ID exists it returns timeli.ErrJobAlreadyExists; a finished job
	// with the same ID is replaced.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs atomically claims up to limit jobs whose RunAt has passed,
	// sets them to running and returns them. Jobs are ordered by priority
	// (descending) then RunAt (ascending).
	DequeueJobs(ctx context.Context, queues []string, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// UpdateJob persists changes to an existing job. Returning a job to
	// pending or retrying makes it eligible again once RunAt has passed.
	UpdateJob(ctx context.Context, j *Job) error

	// RemoveJob deletes a job by ID. It returns timeli.ErrJobNotFound when
	// the job does not exist and timeli.ErrJobRunning, leaving the job in
	// place, when a worker currently holds it.
	RemoveJob(ctx context.Context, jobID string) error

	// ListJobs returns jobs matching the given options.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// Stats returns job counts for a queue.
	Stats(ctx context.Context, queue string) (*Stats, error)

	// HeartbeatJob records that workerID is still executing the job.
	HeartbeatJob(ctx context.Context, jobID, workerID string) error

	// ReapStaleJobs returns running jobs whose last heartbeat (or start,
	// if none) is older than threshold.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
