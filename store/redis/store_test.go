//go:build integration

package redis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/job"
	redisstore "github.com/xraph/timeli/store/redis"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// setupTestStore starts a Redis container and returns a connected Store.
func setupTestStore(t *testing.T) (*redisstore.Store, *testClock, *goredis.Client) {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	addr, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("get endpoint: %v", err)
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	c := &testClock{now: base}
	return redisstore.New(client, redisstore.WithClock(c.Now)), c, client
}

func newJob(jobID, queue string, priority int, runAt time.Time) *job.Job {
	return &job.Job{
		ID:         jobID,
		Kind:       job.KindApp,
		TenantID:   "t1",
		Queue:      queue,
		Encoding:   "msgpack",
		Payload:    []byte{0x82, 0xa6, 0x61, 0x70, 0x70, 0x5f, 0x69, 0x64, 0x00},
		Priority:   priority,
		MaxRetries: 3,
		RunAt:      runAt,
	}
}

func ids(jobs []*job.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	s, _, _ := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func TestJobStore_EnqueueAndGet(t *testing.T) {
	s, _, _ := setupTestStore(t)
	ctx := context.Background()

	in := newJob("j1", "default", 3, base.Add(time.Minute))
	if err := s.EnqueueJob(ctx, in); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Kind != job.KindApp || got.TenantID != "t1" || got.Encoding != "msgpack" {
		t.Errorf("job = %+v", got)
	}
	if string(got.Payload) != string(in.Payload) {
		t.Errorf("payload = %x, want %x", got.Payload, in.Payload)
	}
	if got.State != job.StatePending || got.Priority != 3 || got.MaxRetries != 3 {
		t.Errorf("job = %+v", got)
	}
	if !got.RunAt.Equal(in.RunAt) || !got.CreatedAt.Equal(base) {
		t.Errorf("RunAt = %v, CreatedAt = %v", got.RunAt, got.CreatedAt)
	}
	if got.StartedAt != nil || got.HeartbeatAt != nil {
		t.Errorf("unset timestamps came back: %+v", got)
	}

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, timeli.ErrJobNotFound) {
		t.Errorf("GetJob missing = %v, want ErrJobNotFound", err)
	}
}

func TestJobStore_EnqueueDedup(t *testing.T) {
	s, _, _ := setupTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, newJob("j1", "default", 0, base)); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(ctx, newJob("j1", "default", 0, base)); !errors.Is(err, timeli.ErrJobAlreadyExists) {
		t.Fatalf("duplicate live job: got %v", err)
	}

	got, _ := s.GetJob(ctx, "j1")
	got.State = job.StateCompleted
	if err := s.UpdateJob(ctx, got); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if err := s.EnqueueJob(ctx, newJob("j1", "default", 5, base)); err != nil {
		t.Fatalf("re-enqueue after completion: %v", err)
	}
	if got, _ := s.GetJob(ctx, "j1"); got.Priority != 5 || got.State != job.StatePending {
		t.Errorf("replaced job = %+v", got)
	}
}

func TestJobStore_DequeueOrder(t *testing.T) {
	s, c, _ := setupTestStore(t)
	ctx := context.Background()

	jobs := []*job.Job{
		newJob("low-early", "default", 0, base.Add(-2*time.Minute)),
		newJob("low-late", "default", 0, base.Add(-time.Minute)),
		newJob("high", "default", 10, base),
		newJob("future", "default", 100, base.Add(time.Minute)),
		newJob("mail", "mail", 5, base),
	}
	for _, j := range jobs {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob %s: %v", j.ID, err)
		}
	}

	got, err := s.DequeueJobs(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	want := []string{"high", "low-early", "low-late"}
	if len(got) != len(want) {
		t.Fatalf("dequeued %v, want %v", ids(got), want)
	}
	for i, j := range got {
		if j.ID != want[i] {
			t.Errorf("position %d = %s, want %s", i, j.ID, want[i])
		}
		if j.State != job.StateRunning || j.StartedAt == nil || !j.StartedAt.Equal(base) {
			t.Errorf("%s not claimed: %+v", j.ID, j)
		}
	}

	if again, _ := s.DequeueJobs(ctx, []string{"default"}, 10); len(again) != 0 {
		t.Errorf("second dequeue returned %v", ids(again))
	}

	// Every known queue when none is named; the future job comes due.
	c.Advance(time.Minute)
	all, err := s.DequeueJobs(ctx, nil, 10)
	if err != nil {
		t.Fatalf("DequeueJobs all: %v", err)
	}
	if len(all) != 2 || all[0].ID != "future" || all[1].ID != "mail" {
		t.Errorf("dequeued %v, want [future mail]", ids(all))
	}
}

func TestJobStore_DequeueLimit(t *testing.T) {
	s, _, _ := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_ = s.EnqueueJob(ctx, newJob(id, "default", 0, base))
	}
	got, _ := s.DequeueJobs(ctx, []string{"default"}, 2)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("dequeued %v, want [a b]", ids(got))
	}
	rest, _ := s.DequeueJobs(ctx, []string{"default"}, 2)
	if len(rest) != 1 || rest[0].ID != "c" {
		t.Fatalf("dequeued %v, want [c]", ids(rest))
	}
}

func TestJobStore_RetryIsRequeued(t *testing.T) {
	s, c, _ := setupTestStore(t)
	ctx := context.Background()

	_ = s.EnqueueJob(ctx, newJob("j1", "default", 0, base))
	claimed, _ := s.DequeueJobs(ctx, nil, 1)
	if len(claimed) != 1 {
		t.Fatalf("dequeued %d jobs", len(claimed))
	}

	j := claimed[0]
	j.State = job.StateRetrying
	j.Attempt = 1
	j.LastError = "boom"
	j.RunAt = base.Add(30 * time.Second)
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	if got, _ := s.DequeueJobs(ctx, nil, 1); len(got) != 0 {
		t.Fatalf("retry claimed before its run time: %v", ids(got))
	}
	c.Advance(30 * time.Second)
	got, _ := s.DequeueJobs(ctx, nil, 1)
	if len(got) != 1 || got[0].Attempt != 1 || got[0].LastError != "boom" {
		t.Fatalf("retry = %+v", got)
	}
}

func TestJobStore_Remove(t *testing.T) {
	s, _, _ := setupTestStore(t)
	ctx := context.Background()

	_ = s.EnqueueJob(ctx, newJob("pending", "default", 0, base.Add(time.Hour)))
	_ = s.EnqueueJob(ctx, newJob("running", "default", 0, base))
	if _, err := s.DequeueJobs(ctx, nil, 10); err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}

	tests := []struct {
		id   string
		want error
	}{
		{"pending", nil},
		{"pending", timeli.ErrJobNotFound},
		{"running", timeli.ErrJobRunning},
	}
	for _, tt := range tests {
		if err := s.RemoveJob(ctx, tt.id); !errors.Is(err, tt.want) {
			t.Errorf("RemoveJob(%s) = %v, want %v", tt.id, err, tt.want)
		}
	}
	if _, err := s.GetJob(ctx, "running"); err != nil {
		t.Errorf("running job must stay: %v", err)
	}
}

func TestJobStore_ListCountStats(t *testing.T) {
	s, c, _ := setupTestStore(t)
	ctx := context.Background()

	_ = s.EnqueueJob(ctx, newJob("waiting", "default", 0, base))
	c.Advance(time.Second)
	_ = s.EnqueueJob(ctx, newJob("delayed", "default", 0, base.Add(time.Hour)))
	c.Advance(time.Second)
	_ = s.EnqueueJob(ctx, newJob("mail", "mail", 0, base))
	failed := newJob("failed", "default", 0, base)
	failed.State = job.StateFailed
	_ = s.EnqueueJob(ctx, failed)

	list, _ := s.ListJobs(ctx, job.ListOpts{Queue: "default"})
	if len(list) != 3 || list[0].ID != "waiting" || list[1].ID != "delayed" {
		t.Errorf("ListJobs = %v", ids(list))
	}
	if n, _ := s.CountJobs(ctx, job.CountOpts{State: job.StatePending}); n != 3 {
		t.Errorf("pending count = %d, want 3", n)
	}

	st, _ := s.Stats(ctx, "default")
	want := job.Stats{Queue: "default", Waiting: 1, Delayed: 1, Failed: 1}
	if *st != want {
		t.Errorf("Stats = %+v, want %+v", *st, want)
	}

	// A failed job is never claimed.
	claimed, _ := s.DequeueJobs(ctx, []string{"default"}, 10)
	if len(claimed) != 1 || claimed[0].ID != "waiting" {
		t.Errorf("dequeued %v, want [waiting]", ids(claimed))
	}
}

func TestJobStore_HeartbeatAndReap(t *testing.T) {
	s, c, _ := setupTestStore(t)
	ctx := context.Background()

	_ = s.EnqueueJob(ctx, newJob("beating", "default", 0, base))
	_ = s.EnqueueJob(ctx, newJob("silent", "default", 0, base))
	if _, err := s.DequeueJobs(ctx, nil, 10); err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}

	c.Advance(40 * time.Second)
	if err := s.HeartbeatJob(ctx, "beating", "wkr_1"); err != nil {
		t.Fatalf("HeartbeatJob: %v", err)
	}
	if err := s.HeartbeatJob(ctx, "missing", "wkr_1"); !errors.Is(err, timeli.ErrJobNotFound) {
		t.Errorf("heartbeat of a missing job: %v", err)
	}
	c.Advance(40 * time.Second)

	stale, err := s.ReapStaleJobs(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "silent" {
		t.Fatalf("stale = %v, want [silent]", ids(stale))
	}
	if got, _ := s.GetJob(ctx, "beating"); got.WorkerID != "wkr_1" {
		t.Errorf("WorkerID = %q", got.WorkerID)
	}
}

// ──────────────────────────────────────────────────
// Session KV tests
// ──────────────────────────────────────────────────

func TestJobStore_TerminalJobsExpire(t *testing.T) {
	s, _, client := setupTestStore(t)
	ctx := context.Background()

	_ = s.EnqueueJob(ctx, newJob("done", "default", 0, base))
	_ = s.EnqueueJob(ctx, newJob("live", "default", 0, base.Add(time.Hour)))

	done, _ := s.GetJob(ctx, "done")
	done.State = job.StateCompleted
	if err := s.UpdateJob(ctx, done); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	ttl, err := client.PTTL(ctx, "timeli:job:done").Result()
	if err != nil {
		t.Fatalf("PTTL: %v", err)
	}
	if ttl <= 0 || ttl > redisstore.DefaultRetention {
		t.Errorf("completed job ttl = %v, want within %v", ttl, redisstore.DefaultRetention)
	}
	if ttl, _ := client.PTTL(ctx, "timeli:job:live").Result(); ttl != -1 {
		t.Errorf("pending job ttl = %v, want none", ttl)
	}

	// Simulate the expiry firing.
	client.Del(ctx, "timeli:job:done")

	n, err := s.CountJobs(ctx, job.CountOpts{})
	if err != nil || n != 1 {
		t.Fatalf("CountJobs = %d, %v; want 1", n, err)
	}
	if member, _ := client.SIsMember(ctx, "timeli:job_ids", "done").Result(); member {
		t.Error("expired job id still indexed")
	}
	if member, _ := client.SIsMember(ctx, "timeli:job_ids", "live").Result(); !member {
		t.Error("live job id was pruned")
	}
}

func TestJobStore_RetentionDisabled(t *testing.T) {
	_, _, client := setupTestStore(t)
	s := redisstore.New(client, redisstore.WithRetention(0))
	ctx := context.Background()

	_ = s.EnqueueJob(ctx, newJob("j1", "default", 0, base))
	j, _ := s.GetJob(ctx, "j1")
	j.State = job.StateFailed
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if ttl, _ := client.PTTL(ctx, "timeli:job:j1").Result(); ttl != -1 {
		t.Errorf("failed job ttl = %v, want none", ttl)
	}
}

func TestKV(t *testing.T) {
	s, _, client := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "tracking:session:t1:v1"); !errors.Is(err, timeli.ErrSessionNotFound) {
		t.Fatalf("Get missing = %v, want ErrSessionNotFound", err)
	}

	for _, k := range []string{"tracking:session:t1:v1", "tracking:session:t1:v2", "tracking:session:t2:v1", "tracking:session:t*:x"} {
		if err := s.Set(ctx, k, []byte(k), time.Hour); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}

	got, err := s.Get(ctx, "tracking:session:t1:v1")
	if err != nil || string(got) != "tracking:session:t1:v1" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if ttl := client.TTL(ctx, "timeli:kv:tracking:session:t1:v1").Val(); ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL = %v", ttl)
	}

	keys, err := s.Scan(ctx, "tracking:session:t1:")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(keys) != 2 || keys[0] != "tracking:session:t1:v1" || keys[1] != "tracking:session:t1:v2" {
		t.Errorf("Scan = %v", keys)
	}
	if keys, _ := s.Scan(ctx, "tracking:session:t*"); len(keys) != 1 {
		t.Errorf("glob characters must match literally, got %v", keys)
	}

	if err := s.Delete(ctx, "tracking:session:t1:v1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "tracking:session:t1:v1"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}
	if _, err := s.Get(ctx, "tracking:session:t1:v1"); !errors.Is(err, timeli.ErrSessionNotFound) {
		t.Errorf("Get after Delete = %v", err)
	}
}

func TestKVSwap(t *testing.T) {
	s, _, client := setupTestStore(t)
	ctx := context.Background()
	key := "tracking:session:t1:v1"

	if ok, err := s.Swap(ctx, key, nil, []byte("A"), time.Hour); err != nil || !ok {
		t.Fatalf("create = %v, %v", ok, err)
	}
	if ttl := client.TTL(ctx, "timeli:kv:"+key).Val(); ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL = %v", ttl)
	}
	if ok, _ := s.Swap(ctx, key, nil, []byte("B"), time.Hour); ok {
		t.Error("create over an existing value succeeded")
	}
	if ok, _ := s.Swap(ctx, key, []byte("X"), []byte("B"), time.Hour); ok {
		t.Error("swap with a stale expectation succeeded")
	}
	if ok, err := s.Swap(ctx, key, []byte("A"), []byte("B"), time.Hour); err != nil || !ok {
		t.Fatalf("replace = %v, %v", ok, err)
	}
	if got, _ := s.Get(ctx, key); string(got) != "B" {
		t.Errorf("Get = %q, want B", got)
	}
	if ok, err := s.Swap(ctx, key, []byte("B"), nil, 0); err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, timeli.ErrSessionNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
}
