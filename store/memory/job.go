package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/job"
)

// EnqueueJob persists a new job. A live job with the same ID is rejected;
// a finished one is replaced.
func (s *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[j.ID]; ok && existing.State.Live() {
		return timeli.ErrJobAlreadyExists
	}
	cp := j.Clone()
	if cp.State == "" {
		cp.State = job.StatePending
	}
	now := s.clock()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.jobs[j.ID] = cp
	return nil
}

// DequeueJobs claims up to limit due jobs from queues, highest priority
// first, then earliest RunAt.
func (s *Store) DequeueJobs(_ context.Context, queues []string, limit int) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	candidates := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.State != job.StatePending && j.State != job.StateRetrying {
			continue
		}
		if j.RunAt.After(now) {
			continue
		}
		if len(queues) > 0 && !slices.Contains(queues, j.Queue) {
			continue
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].Priority != candidates[b].Priority {
			return candidates[a].Priority > candidates[b].Priority
		}
		if !candidates[a].RunAt.Equal(candidates[b].RunAt) {
			return candidates[a].RunAt.Before(candidates[b].RunAt)
		}
		return candidates[a].ID < candidates[b].ID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		started := now
		j.State = job.StateRunning
		j.StartedAt = &started
		j.HeartbeatAt = nil
		j.UpdatedAt = now
		out[i] = j.Clone()
	}
	return out, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, timeli.ErrJobNotFound
	}
	return j.Clone(), nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; !ok {
		return timeli.ErrJobNotFound
	}
	cp := j.Clone()
	cp.UpdatedAt = s.clock()
	s.jobs[j.ID] = cp
	return nil
}

// RemoveJob deletes a job unless a worker holds it.
func (s *Store) RemoveJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return timeli.ErrJobNotFound
	}
	if j.State == job.StateRunning {
		return timeli.ErrJobRunning
	}
	delete(s.jobs, jobID)
	return nil
}

func (s *Store) filterJobs(queue string, state job.State) []*job.Job {
	out := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if queue != "" && j.Queue != queue {
			continue
		}
		if state != "" && j.State != state {
			continue
		}
		out = append(out, j)
	}
	return out
}

// ListJobs returns jobs matching opts ordered by creation time.
func (s *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.filterJobs(opts.Queue, opts.State)
	sort.Slice(matched, func(a, b int) bool {
		if !matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].CreatedAt.Before(matched[b].CreatedAt)
		}
		return matched[a].ID < matched[b].ID
	})
	matched = page(matched, opts.Offset, opts.Limit)

	out := make([]*job.Job, len(matched))
	for i, j := range matched {
		out[i] = j.Clone()
	}
	return out, nil
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.filterJobs(opts.Queue, opts.State))), nil
}

// Stats returns job counts for queue.
func (s *Store) Stats(_ context.Context, queue string) (*job.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	st := &job.Stats{Queue: queue}
	for _, j := range s.filterJobs(queue, "") {
		switch j.State {
		case job.StatePending:
			if j.RunAt.After(now) {
				st.Delayed++
			} else {
				st.Waiting++
			}
		case job.StateRunning:
			st.Active++
		case job.StateRetrying:
			st.Retrying++
		case job.StateCompleted:
			st.Completed++
		case job.StateFailed:
			st.Failed++
		}
	}
	return st, nil
}

// HeartbeatJob refreshes the heartbeat of a running job.
func (s *Store) HeartbeatJob(_ context.Context, jobID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return timeli.ErrJobNotFound
	}
	now := s.clock()
	j.HeartbeatAt = &now
	j.WorkerID = workerID
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat, or start when
// there is none, is older than threshold.
func (s *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.clock().Add(-threshold)
	var stale []*job.Job
	for _, j := range s.jobs {
		if j.State != job.StateRunning {
			continue
		}
		last := j.HeartbeatAt
		if last == nil {
			last = j.StartedAt
		}
		if last != nil && last.Before(cutoff) {
			stale = append(stale, j.Clone())
		}
	}
	return stale, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
