package ext

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/timeli/job"
)

// Counters is an extension that keeps per-tenant job outcome counters in
// memory, for admin-visible statistics.
type Counters struct {
	mu     sync.Mutex
	counts map[string]*TenantCounts
}

// TenantCounts holds job outcome totals for one tenant.
type TenantCounts struct {
	Scheduled int64 `json:"scheduled"`
	Cancelled int64 `json:"cancelled"`
	Completed int64 `json:"completed"`
	Retried   int64 `json:"retried"`
	Failed    int64 `json:"failed"`
	Stalled   int64 `json:"stalled"`
}

// NewCounters creates an empty Counters extension.
func NewCounters() *Counters {
	return &Counters{counts: make(map[string]*TenantCounts)}
}

// Name implements Extension.
func (c *Counters) Name() string { return "counters" }

func (c *Counters) bump(tenantID string, f func(*TenantCounts)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tc, ok := c.counts[tenantID]
	if !ok {
		tc = &TenantCounts{}
		c.counts[tenantID] = tc
	}
	f(tc)
}

// OnJobScheduled implements JobScheduled.
func (c *Counters) OnJobScheduled(_ context.Context, j *job.Job) error {
	c.bump(j.TenantID, func(tc *TenantCounts) { tc.Scheduled++ })
	return nil
}

// OnJobCancelled implements JobCancelled. The tenant is not known after
// removal, so cancellations are counted under the empty tenant.
func (c *Counters) OnJobCancelled(_ context.Context, _ string) error {
	c.bump("", func(tc *TenantCounts) { tc.Cancelled++ })
	return nil
}

// OnJobCompleted implements JobCompleted.
func (c *Counters) OnJobCompleted(_ context.Context, j *job.Job, _ time.Duration) error {
	c.bump(j.TenantID, func(tc *TenantCounts) { tc.Completed++ })
	return nil
}

// OnJobRetrying implements JobRetrying.
func (c *Counters) OnJobRetrying(_ context.Context, j *job.Job, _ int, _ time.Time) error {
	c.bump(j.TenantID, func(tc *TenantCounts) { tc.Retried++ })
	return nil
}

// OnJobFailed implements JobFailed.
func (c *Counters) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	c.bump(j.TenantID, func(tc *TenantCounts) { tc.Failed++ })
	return nil
}

// OnJobStalled implements JobStalled.
func (c *Counters) OnJobStalled(_ context.Context, j *job.Job) error {
	c.bump(j.TenantID, func(tc *TenantCounts) { tc.Stalled++ })
	return nil
}

// Snapshot returns a copy of the counters for tenantID.
func (c *Counters) Snapshot(tenantID string) TenantCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tc, ok := c.counts[tenantID]; ok {
		return *tc
	}
	return TenantCounts{}
}
