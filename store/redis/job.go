package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/job"
)

// pruneScript removes ids from the job id set unless their hash exists
// again.
//
// KEYS: job id set, job hash prefix
// ARGV: ids...
var pruneScript = goredis.NewScript(`
for _, id in ipairs(ARGV) do
  if redis.call('EXISTS', KEYS[2] .. id) == 0 then
    redis.call('SREM', KEYS[1], id)
  end
end
return 0
`)

// enqueueScript stores a job unless a live job holds its ID.
//
// KEYS: job hash, job id set, delayed set, queue name set
// ARGV: id, queue, run_at ms, eligible flag, field/value pairs...
var enqueueScript = goredis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'pending' or state == 'retrying' or state == 'running' then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 5))
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[4], ARGV[2])
if ARGV[4] == '1' then
  redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
end
return 1
`)

// dequeueScript promotes due jobs of every queue to its waiting set, then
// claims the best limit jobs across all queues. Waiting scores put higher
// priority first and earlier run time second; members with equal scores
// sort by ID. Scores stay exact while |priority| is below about 900.
//
// KEYS: delayed and waiting set of each queue, in pairs
// ARGV: now ms, limit, now timestamp, job key prefix
var dequeueScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local stamp = ARGV[3]
local prefix = ARGV[4]
local candidates = {}
for i = 1, #KEYS, 2 do
  local delayed, waiting = KEYS[i], KEYS[i + 1]
  local due = redis.call('ZRANGEBYSCORE', delayed, '-inf', now, 'WITHSCORES')
  for j = 1, #due, 2 do
    local id = due[j]
    redis.call('ZREM', delayed, id)
    local prio = redis.call('HGET', prefix .. id, 'priority')
    if prio then
      redis.call('ZADD', waiting, -tonumber(prio) * 1e13 + tonumber(due[j + 1]), id)
    end
  end
  local top = redis.call('ZRANGE', waiting, 0, limit - 1, 'WITHSCORES')
  for j = 1, #top, 2 do
    table.insert(candidates, {id = top[j], score = tonumber(top[j + 1]), waiting = waiting})
  end
end
table.sort(candidates, function(a, b)
  if a.score ~= b.score then return a.score < b.score end
  return a.id < b.id
end)
local claimed = {}
for _, c in ipairs(candidates) do
  if #claimed >= limit then break end
  redis.call('ZREM', c.waiting, c.id)
  local key = prefix .. c.id
  local state = redis.call('HGET', key, 'state')
  if state == 'pending' or state == 'retrying' then
    redis.call('HSET', key, 'state', 'running', 'started_at', stamp, 'updated_at', stamp)
    redis.call('HDEL', key, 'heartbeat_at')
    table.insert(claimed, c.id)
  end
end
return claimed
`)

// removeScript deletes a job unless a worker holds it. It returns -1 for
// a missing job and 0 for a running one.
//
// KEYS: job hash, job id set
// ARGV: id, queue key prefix
var removeScript = goredis.NewScript(`
local fields = redis.call('HMGET', KEYS[1], 'state', 'queue')
if not fields[1] then
  return -1
end
if fields[1] == 'running' then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('ZREM', ARGV[2] .. fields[2] .. ':delayed', ARGV[1])
redis.call('ZREM', ARGV[2] .. fields[2] .. ':waiting', ARGV[1])
return 1
`)

// EnqueueJob stores the job as a Hash and schedules it on its queue.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	cp := j.Clone()
	if cp.State == "" {
		cp.State = job.StatePending
	}
	now := s.clock()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	args := []any{cp.ID, cp.Queue, cp.RunAt.UnixMilli(), eligibleFlag(cp.State)}
	for k, v := range jobToMap(cp) {
		args = append(args, k, v)
	}
	keys := []string{jobKey(cp.ID), jobIDsKey, delayedKey(cp.Queue), queuesKey}

	ok, err := enqueueScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("timeli/redis: enqueue job: %w", err)
	}
	if ok == 0 {
		return timeli.ErrJobAlreadyExists
	}
	return nil
}

// DequeueJobs atomically claims up to limit due jobs from queues. An empty
// queues slice means every known queue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if len(queues) == 0 {
		known, err := s.client.SMembers(ctx, queuesKey).Result()
		if err != nil {
			return nil, fmt.Errorf("timeli/redis: dequeue queues: %w", err)
		}
		queues = known
	}
	if len(queues) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1 << 20
	}

	keys := make([]string, 0, len(queues)*2)
	for _, q := range queues {
		keys = append(keys, delayedKey(q), waitingKey(q))
	}
	now := s.clock()
	ids, err := dequeueScript.Run(ctx, s.client, keys,
		now.UnixMilli(), limit, formatTime(now), jobKey(""),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("timeli/redis: dequeue: %w", err)
	}
	return s.getJobs(ctx, ids)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("timeli/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, timeli.ErrJobNotFound
	}
	return mapToJob(vals)
}

// UpdateJob persists changes to an existing job. Pending and retrying jobs
// go back on their queue's delayed set.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("timeli/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return timeli.ErrJobNotFound
	}

	cp := j.Clone()
	cp.UpdatedAt = s.clock()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, jobToMap(cp))
	pipe.ZRem(ctx, waitingKey(cp.Queue), cp.ID)
	if eligibleFlag(cp.State) == "1" {
		pipe.ZAdd(ctx, delayedKey(cp.Queue), goredis.Z{Score: float64(cp.RunAt.UnixMilli()), Member: cp.ID})
	} else {
		pipe.ZRem(ctx, delayedKey(cp.Queue), cp.ID)
	}
	if !cp.State.Live() && s.retention > 0 {
		pipe.PExpire(ctx, key, s.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("timeli/redis: update job: %w", err)
	}
	return nil
}

// RemoveJob deletes a job unless a worker holds it.
func (s *Store) RemoveJob(ctx context.Context, jobID string) error {
	res, err := removeScript.Run(ctx, s.client,
		[]string{jobKey(jobID), jobIDsKey}, jobID, keyPrefix+"queue:",
	).Int()
	if err != nil {
		return fmt.Errorf("timeli/redis: remove job: %w", err)
	}
	switch res {
	case -1:
		return timeli.ErrJobNotFound
	case 0:
		return timeli.ErrJobRunning
	}
	return nil
}

// ListJobs returns jobs matching opts ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.filterJobs(ctx, opts.Queue, opts.State)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
		}
		return jobs[a].ID < jobs[b].ID
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	jobs, err := s.filterJobs(ctx, opts.Queue, opts.State)
	if err != nil {
		return 0, err
	}
	return int64(len(jobs)), nil
}

// Stats returns job counts for queue.
func (s *Store) Stats(ctx context.Context, queue string) (*job.Stats, error) {
	jobs, err := s.filterJobs(ctx, queue, "")
	if err != nil {
		return nil, err
	}

	now := s.clock()
	st := &job.Stats{Queue: queue}
	for _, j := range jobs {
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

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID, workerID string) error {
	key := jobKey(jobID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("timeli/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return timeli.ErrJobNotFound
	}

	_, err = s.client.HSet(ctx, key,
		"heartbeat_at", formatTime(s.clock()),
		"worker_id", workerID,
	).Result()
	if err != nil {
		return fmt.Errorf("timeli/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat, or start when
// there is none, is older than threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	running, err := s.filterJobs(ctx, "", job.StateRunning)
	if err != nil {
		return nil, err
	}

	cutoff := s.clock().Add(-threshold)
	var stale []*job.Job
	for _, j := range running {
		last := j.HeartbeatAt
		if last == nil {
			last = j.StartedAt
		}
		if last != nil && last.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// ── helpers ──

func (s *Store) filterJobs(ctx context.Context, queue string, state job.State) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("timeli/redis: list job ids: %w", err)
	}
	all, err := s.getJobs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(all) < len(ids) {
		s.pruneJobIDs(ctx, ids, all)
	}
	return slices.DeleteFunc(all, func(j *job.Job) bool {
		return (queue != "" && j.Queue != queue) || (state != "" && j.State != state)
	}), nil
}

// pruneJobIDs drops ids whose hash expired from the job id set.
func (s *Store) pruneJobIDs(ctx context.Context, ids []string, found []*job.Job) {
	seen := make(map[string]struct{}, len(found))
	for _, j := range found {
		seen[j.ID] = struct{}{}
	}
	var gone []any
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			gone = append(gone, id)
		}
	}
	if err := pruneScript.Run(ctx, s.client, []string{jobIDsKey, jobKey("")}, gone...).Err(); err != nil {
		s.logger.Warn("timeli/redis: prune job ids", slog.String("error", err.Error()))
	}
}

// getJobs loads jobs in the order of ids, skipping any that vanished.
func (s *Store) getJobs(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("timeli/redis: get jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		j, err := mapToJob(vals)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func eligibleFlag(s job.State) string {
	if s == job.StatePending || s == job.StateRetrying {
		return "1"
	}
	return "0"
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":          j.ID,
		"kind":        string(j.Kind),
		"tenant_id":   j.TenantID,
		"queue":       j.Queue,
		"encoding":    j.Encoding,
		"payload":     string(j.Payload),
		"state":       string(j.State),
		"priority":    strconv.Itoa(j.Priority),
		"max_retries": strconv.Itoa(j.MaxRetries),
		"attempt":     strconv.Itoa(j.Attempt),
		"last_error":  j.LastError,
		"worker_id":   j.WorkerID,
		"run_at":      formatTime(j.RunAt),
		"created_at":  formatTime(j.CreatedAt),
		"updated_at":  formatTime(j.UpdatedAt),
	}
	if j.StartedAt != nil {
		m["started_at"] = formatTime(*j.StartedAt)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = formatTime(*j.CompletedAt)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = formatTime(*j.HeartbeatAt)
	}
	return m
}

func mapToJob(m map[string]string) (*job.Job, error) {
	j := &job.Job{
		ID:        m["id"],
		Kind:      job.Kind(m["kind"]),
		TenantID:  m["tenant_id"],
		Queue:     m["queue"],
		Encoding:  m["encoding"],
		State:     job.State(m["state"]),
		LastError: m["last_error"],
		WorkerID:  m["worker_id"],
	}
	if p := m["payload"]; p != "" {
		j.Payload = []byte(p)
	}

	var err error
	if j.Priority, err = strconv.Atoi(m["priority"]); err != nil {
		return nil, fmt.Errorf("timeli/redis: parse job %s priority: %w", j.ID, err)
	}
	if j.MaxRetries, err = strconv.Atoi(m["max_retries"]); err != nil {
		return nil, fmt.Errorf("timeli/redis: parse job %s max_retries: %w", j.ID, err)
	}
	if j.Attempt, err = strconv.Atoi(m["attempt"]); err != nil {
		return nil, fmt.Errorf("timeli/redis: parse job %s attempt: %w", j.ID, err)
	}

	for field, dst := range map[string]*time.Time{
		"run_at":     &j.RunAt,
		"created_at": &j.CreatedAt,
		"updated_at": &j.UpdatedAt,
	} {
		if *dst, err = parseTime(m[field]); err != nil {
			return nil, fmt.Errorf("timeli/redis: parse job %s %s: %w", j.ID, field, err)
		}
	}
	for field, dst := range map[string]**time.Time{
		"started_at":   &j.StartedAt,
		"completed_at": &j.CompletedAt,
		"heartbeat_at": &j.HeartbeatAt,
	} {
		v, ok := m[field]
		if !ok || v == "" {
			continue
		}
		t, err := parseTime(v)
		if err != nil {
			return nil, fmt.Errorf("timeli/redis: parse job %s %s: %w", j.ID, field, err)
		}
		*dst = &t
	}
	return j, nil
}
