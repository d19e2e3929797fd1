package job

import (
	"time"
)

// Kind discriminates the two job shapes.
type Kind string

const (
	// KindApp targets a single connected app instance.
	KindApp Kind = "app"
	// KindHook fans out to every app registered for a capability scope.
	KindHook Kind = "hook"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting for its run time or a worker.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateRetrying means the job failed and waits for its next attempt.
	StateRetrying State = "retrying"
	// StateFailed means the job exhausted its attempts or failed permanently.
	StateFailed State = "failed"
)

// Live reports whether a job in this state still occupies its dedup key.
func (s State) Live() bool {
	return s == StatePending || s == StateRetrying || s == StateRunning
}

// Job represents a unit of deferred work held by the queue backend.
type Job struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	TenantID    string     `json:"tenant_id"`
	Queue       string     `json:"queue"`
	Encoding    string     `json:"encoding"`
	Payload     []byte     `json:"payload"`
	State       State      `json:"state"`
	Priority    int        `json:"priority"`
	MaxRetries  int        `json:"max_retries"`
	Attempt     int        `json:"attempt"`
	LastError   string     `json:"last_error,omitempty"`
	WorkerID    string     `json:"worker_id,omitempty"`
	RunAt       time.Time  `json:"run_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = append([]byte(nil), j.Payload...)
	}
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.HeartbeatAt = cloneTime(j.HeartbeatAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ExecuteAt is either an absolute time or the sentinel "now".
type ExecuteAt struct {
	at  time.Time
	now bool
}

// Now returns the "execute immediately" sentinel.
func Now() ExecuteAt { return ExecuteAt{now: true} }

// At returns an ExecuteAt for the absolute time t. A zero t means now.
func At(t time.Time) ExecuteAt {
	if t.IsZero() {
		return Now()
	}
	return ExecuteAt{at: t}
}

// IsNow reports whether e is the "now" sentinel.
func (e ExecuteAt) IsNow() bool { return e.now || e.at.IsZero() }

// Time returns the absolute time, or the zero time for the "now" sentinel.
func (e ExecuteAt) Time() time.Time {
	if e.IsNow() {
		return time.Time{}
	}
	return e.at
}

// Delay returns how long after now the job should become visible: zero for
// the "now" sentinel and for times already in the past.
func (e ExecuteAt) Delay(now time.Time) time.Duration {
	if e.IsNow() {
		return 0
	}
	d := e.at.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// String implements fmt.Stringer.
func (e ExecuteAt) String() string {
	if e.IsNow() {
		return "now"
	}
	return e.at.UTC().Format(time.RFC3339Nano)
}
