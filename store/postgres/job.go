package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/job"
)

const jobColumns = `
	id, kind, tenant_id, queue, encoding, payload, state, priority,
	max_retries, attempt, last_error, worker_id,
	run_at, started_at, completed_at, heartbeat_at, created_at, updated_at`

// EnqueueJob persists a new job. A live job with the same ID is rejected;
// a finished one is replaced.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	state := j.State
	if state == "" {
		state = job.StatePending
	}
	now := s.clock()
	created := j.CreatedAt
	if created.IsZero() {
		created = now
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO timeli_jobs (`+jobColumns+`)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18
		)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind, tenant_id = EXCLUDED.tenant_id,
			queue = EXCLUDED.queue, encoding = EXCLUDED.encoding,
			payload = EXCLUDED.payload, state = EXCLUDED.state,
			priority = EXCLUDED.priority, max_retries = EXCLUDED.max_retries,
			attempt = EXCLUDED.attempt, last_error = EXCLUDED.last_error,
			worker_id = EXCLUDED.worker_id, run_at = EXCLUDED.run_at,
			started_at = EXCLUDED.started_at, completed_at = EXCLUDED.completed_at,
			heartbeat_at = EXCLUDED.heartbeat_at, created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		WHERE timeli_jobs.state IN ('completed', 'failed')`,
		j.ID, string(j.Kind), j.TenantID, j.Queue, j.Encoding, payloadArg(j.Payload), string(state), j.Priority,
		j.MaxRetries, j.Attempt, j.LastError, j.WorkerID,
		j.RunAt, j.StartedAt, j.CompletedAt, j.HeartbeatAt, created, now,
	)
	if err != nil {
		return fmt.Errorf("timeli/postgres: enqueue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return timeli.ErrJobAlreadyExists
	}
	return nil
}

// DequeueJobs atomically claims up to limit due jobs from queues, sets
// them to running, and returns them. An empty queues slice means every
// queue. Uses SELECT FOR UPDATE SKIP LOCKED for concurrent-safe dequeue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if queues == nil {
		queues = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		WITH dequeued AS (
			UPDATE timeli_jobs
			SET state = 'running', started_at = $3, heartbeat_at = NULL, updated_at = $3
			WHERE id IN (
				SELECT id FROM timeli_jobs
				WHERE state IN ('pending', 'retrying')
				  AND (cardinality($1::text[]) = 0 OR queue = ANY($1))
				  AND run_at <= $3
				ORDER BY priority DESC, run_at ASC, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM dequeued ORDER BY priority DESC, run_at ASC, id ASC`,
		queues, limitArg(limit), s.clock(),
	)
	if err != nil {
		return nil, fmt.Errorf("timeli/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM timeli_jobs WHERE id = $1`, jobID)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, timeli.ErrJobNotFound
		}
		return nil, fmt.Errorf("timeli/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE timeli_jobs SET
			kind = $2, tenant_id = $3, queue = $4, encoding = $5,
			payload = $6, state = $7, priority = $8, max_retries = $9,
			attempt = $10, last_error = $11, worker_id = $12,
			run_at = $13, started_at = $14, completed_at = $15,
			heartbeat_at = $16, updated_at = $17
		WHERE id = $1`,
		j.ID, string(j.Kind), j.TenantID, j.Queue, j.Encoding,
		payloadArg(j.Payload), string(j.State), j.Priority, j.MaxRetries,
		j.Attempt, j.LastError, j.WorkerID,
		j.RunAt, j.StartedAt, j.CompletedAt,
		j.HeartbeatAt, s.clock(),
	)
	if err != nil {
		return fmt.Errorf("timeli/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return timeli.ErrJobNotFound
	}
	return nil
}

// RemoveJob deletes a job unless a worker holds it.
func (s *Store) RemoveJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM timeli_jobs WHERE id = $1 AND state <> 'running'`, jobID)
	if err != nil {
		return fmt.Errorf("timeli/postgres: remove job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM timeli_jobs WHERE id = $1)`, jobID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("timeli/postgres: remove job check: %w", err)
	}
	if exists {
		return timeli.ErrJobRunning
	}
	return timeli.ErrJobNotFound
}

// ListJobs returns jobs matching opts ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM timeli_jobs
		WHERE ($1 = '' OR queue = $1)
		  AND ($2 = '' OR state = $2)
		ORDER BY created_at ASC, id ASC
		LIMIT $3 OFFSET $4`,
		opts.Queue, string(opts.State), limitArg(opts.Limit), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("timeli/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM timeli_jobs
		WHERE ($1 = '' OR queue = $1)
		  AND ($2 = '' OR state = $2)`,
		opts.Queue, string(opts.State),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("timeli/postgres: count jobs: %w", err)
	}
	return count, nil
}

// Stats returns job counts for queue.
func (s *Store) Stats(ctx context.Context, queue string) (*job.Stats, error) {
	st := &job.Stats{Queue: queue}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state = 'pending' AND run_at <= $2),
			COUNT(*) FILTER (WHERE state = 'pending' AND run_at > $2),
			COUNT(*) FILTER (WHERE state = 'running'),
			COUNT(*) FILTER (WHERE state = 'retrying'),
			COUNT(*) FILTER (WHERE state = 'completed'),
			COUNT(*) FILTER (WHERE state = 'failed')
		FROM timeli_jobs
		WHERE ($1 = '' OR queue = $1)`,
		queue, s.clock(),
	).Scan(&st.Waiting, &st.Delayed, &st.Active, &st.Retrying, &st.Completed, &st.Failed)
	if err != nil {
		return nil, fmt.Errorf("timeli/postgres: stats: %w", err)
	}
	return st, nil
}

// HeartbeatJob records that workerID still holds the job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID, workerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE timeli_jobs SET heartbeat_at = $2, worker_id = $3 WHERE id = $1`,
		jobID, s.clock(), workerID,
	)
	if err != nil {
		return fmt.Errorf("timeli/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return timeli.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat, or start when
// there is none, is older than threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM timeli_jobs
		WHERE state = 'running'
		  AND COALESCE(heartbeat_at, started_at) < $1`,
		s.clock().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("timeli/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j     job.Job
		kind  string
		state string
	)
	err := row.Scan(
		&j.ID, &kind, &j.TenantID, &j.Queue, &j.Encoding, &j.Payload, &state, &j.Priority,
		&j.MaxRetries, &j.Attempt, &j.LastError, &j.WorkerID,
		&j.RunAt, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Kind = job.Kind(kind)
	j.State = job.State(state)
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("timeli/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeli/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
