// Package worker executes jobs. The Executor routes a job by kind to a
// connected app or to the hook dispatcher and applies the retry policy;
// the Pool runs concurrent dequeue loops with heartbeats and a stall
// reaper; the Worker owns the process lifecycle (start, stop, run,
// run-with-restart).
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/backoff"
	"github.com/xraph/timeli/ext"
	"github.com/xraph/timeli/hook"
	"github.com/xraph/timeli/job"
	"github.com/xraph/timeli/middleware"
	"github.com/xraph/timeli/plugin"
)

// Executor runs a single job through middleware and its route, then
// records the outcome: completed, retrying with backoff, or failed.
type Executor struct {
	apps       *plugin.Registry
	hooks      *hook.Dispatcher
	extensions *ext.Registry
	store      job.Store
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	apps *plugin.Registry,
	hooks *hook.Dispatcher,
	extensions *ext.Registry,
	store job.Store,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		apps:       apps,
		hooks:      hooks,
		extensions: extensions,
		store:      store,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
		now:        time.Now,
	}
}

// Execute runs j and persists the outcome.
// On success: marks completed, emits JobCompleted.
// On a retryable failure with attempts left: marks retrying at the backoff
// delay, emits JobRetrying.
// Otherwise: marks failed, emits JobFailed.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	j.Attempt++
	start := time.Now()

	err := e.mw(ctx, j, func(ctx context.Context) error {
		return e.route(ctx, j)
	})
	elapsed := time.Since(start)

	now := e.now().UTC()
	j.UpdatedAt = now

	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}
	return e.handleSuccess(ctx, j, now, elapsed)
}

// route is a pure switch on the job kind.
func (e *Executor) route(ctx context.Context, j *job.Job) error {
	switch j.Kind {
	case job.KindApp:
		return e.dispatchApp(ctx, j)
	case job.KindHook:
		return e.dispatchHook(ctx, j)
	default:
		return timeli.Permanent(fmt.Errorf("%w: %q on job %s", timeli.ErrUnknownJobKind, j.Kind, j.ID))
	}
}

func (e *Executor) dispatchApp(ctx context.Context, j *job.Job) error {
	p, err := j.App()
	if err != nil {
		return err
	}

	app, svc, err := e.apps.Resolve(ctx, j.TenantID, p.AppID)
	switch {
	case errors.Is(err, timeli.ErrAppNotFound), errors.Is(err, timeli.ErrAppNotRegistered):
		e.logger.Info("app job target not available, skipping",
			slog.String("job_id", j.ID),
			slog.String("tenant_id", j.TenantID),
			slog.String("app_id", p.AppID),
			slog.String("reason", err.Error()),
		)
		return nil
	case err != nil:
		return err
	}

	proc, ok := svc.(plugin.JobProcessor)
	if !ok {
		e.logger.Info("app does not process jobs, skipping",
			slog.String("job_id", j.ID),
			slog.String("app_id", app.ID),
			slog.String("app", app.Name),
		)
		return nil
	}
	return proc.ProcessJob(ctx, app, p)
}

func (e *Executor) dispatchHook(ctx context.Context, j *job.Job) error {
	p, err := j.Hook()
	if err != nil {
		return err
	}
	return e.hooks.Invoke(ctx, j.TenantID, p)
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time, elapsed time.Duration) error {
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.LastError = ""

	if err := e.persist(ctx, j); err != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.LastError = handlerErr.Error()

	if !timeli.IsPermanent(handlerErr) && j.Attempt <= j.MaxRetries {
		return e.scheduleRetry(ctx, j, handlerErr, now)
	}
	return e.fail(ctx, j, handlerErr)
}

func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	delay := e.backoff.Delay(j.Attempt)
	nextRunAt := now.Add(delay)
	j.RunAt = nextRunAt
	j.State = job.StateRetrying
	j.StartedAt = nil
	j.HeartbeatAt = nil

	if err := e.persist(ctx, j); err != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobRetrying(ctx, j, j.Attempt, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID),
		slog.String("tenant_id", j.TenantID),
		slog.Int("attempt", j.Attempt),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", j.ID, j.Attempt, j.MaxRetries+1, handlerErr)
}

func (e *Executor) fail(ctx context.Context, j *job.Job, handlerErr error) error {
	j.State = job.StateFailed

	if err := e.persist(ctx, j); err != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)

	e.logger.Warn("job failed",
		slog.String("job_id", j.ID),
		slog.String("tenant_id", j.TenantID),
		slog.Int("attempt", j.Attempt),
		slog.Bool("permanent", timeli.IsPermanent(handlerErr)),
		slog.String("error", handlerErr.Error()),
	)
	return handlerErr
}

// persist writes j back. A job removed by its producer while it ran has
// nothing left to update.
func (e *Executor) persist(ctx context.Context, j *job.Job) error {
	err := e.store.UpdateJob(ctx, j)
	if errors.Is(err, timeli.ErrJobNotFound) {
		e.logger.Debug("job removed while running", slog.String("job_id", j.ID))
		return nil
	}
	return err
}
