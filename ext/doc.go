// Package ext defines lifecycle observers for the scheduling core.
//
// Extensions are notified of job lifecycle events and can react to them:
// recording metrics, keeping admin-visible counters, writing audit logs.
// Each lifecycle hook is a separate interface so extensions opt in only to
// the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
//	    alerting.Page(j.TenantID, err)
//	    return nil
//	}
//
// # Hooks
//
//   - [JobScheduled]: the backend accepted a job
//   - [JobCancelled]: a pending job was removed
//   - [JobStarted]: a worker began executing the job
//   - [JobCompleted]: the job finished successfully
//   - [JobRetrying]: the job failed but will be attempted again
//   - [JobFailed]: the job failed terminally
//   - [JobStalled]: a running job lost its heartbeat and was requeued
//   - [Shutdown]: the worker is shutting down gracefully
//
// Hook errors are logged and never propagated.
package ext
