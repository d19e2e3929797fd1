// Package queue enforces per-queue and per-tenant admission limits for
// the worker pool.
//
// Jobs carry a Queue field naming the queue they belong to. Workers poll
// the queues listed in [timeli.Config.Queues] (default: ["default"]).
//
// # Per-Queue Configuration
//
// Use [Config] to cap a queue's concurrency or dequeue rate:
//
//	queue.Config{
//	    Name:           "notifications",
//	    MaxConcurrency: 5,  // at most 5 notification jobs at once
//	    RateLimit:      10, // at most 10 jobs/s admitted
//	    RateBurst:      20,
//	}
//
// # Tenant Fairness
//
// [TenantLimit] applies to every tenant of a queue, so one tenant with a
// large backlog cannot occupy every slot:
//
//	m := queue.NewManager(configs...)
//	m.SetTenantLimit("notifications", queue.TenantLimit{MaxConcurrency: 2})
//
// [Manager.Acquire] either admits a job (the caller must [Manager.Release]
// it) or reports that the job should be put back for a later poll.
// Queues without a [Config] are only bounded by the pool's concurrency.
package queue
