package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/booking"
	"github.com/xraph/timeli/job"
	"github.com/xraph/timeli/plugin"
	"github.com/xraph/timeli/scheduler"
)

// Config holds the reconciliation settings.
type Config struct {
	// BatchSize is the page size of appointment and rule walks.
	BatchSize int

	// BatchConcurrency bounds how many items of one page are reconciled
	// at once, so a large walk does not starve the worker pool.
	BatchConcurrency int

	// PastGrace still schedules fire times up to this far in the past;
	// they run immediately. Zero skips every past fire time.
	PastGrace time.Duration

	// SyncDelay is how long a pair whose reminder job is running waits
	// before its reconciliation is retried.
	SyncDelay time.Duration
}

// DefaultConfig returns the default reconciliation settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:        100,
		BatchConcurrency: 5,
		SyncDelay:        5 * time.Second,
	}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithConfig replaces the reconciliation settings. Non-positive sizes keep
// their defaults.
func WithConfig(cfg Config) Option {
	return func(r *Reconciler) {
		if cfg.BatchSize > 0 {
			r.cfg.BatchSize = cfg.BatchSize
		}
		if cfg.BatchConcurrency > 0 {
			r.cfg.BatchConcurrency = cfg.BatchConcurrency
		}
		if cfg.PastGrace > 0 {
			r.cfg.PastGrace = cfg.PastGrace
		}
		if cfg.SyncDelay > 0 {
			r.cfg.SyncDelay = cfg.SyncDelay
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler keeps the pending send-notification jobs in line with the
// current rules and appointments. For every (rule, appointment) pair it
// cancels the pair's job, then schedules a new one when the pair should
// still fire.
//
// Concurrent reconciliations of the same pair are not serialized. The
// send-time guard in Service drops whatever a race leaves behind.
type Reconciler struct {
	rules        RuleStore
	appointments booking.Store
	apps         plugin.AppStore
	sched        *scheduler.Service
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time
}

// NewReconciler creates a Reconciler. apps is used to find each tenant's
// installation of the scheduled-notifications app, which the jobs target.
func NewReconciler(rules RuleStore, appointments booking.Store, apps plugin.AppStore, sched *scheduler.Service, opts ...Option) *Reconciler {
	r := &Reconciler{
		rules:        rules,
		appointments: appointments,
		apps:         apps,
		sched:        sched,
		cfg:          DefaultConfig(),
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnRuleChanged reconciles rule against every confirmed upcoming
// appointment of the tenant.
func (r *Reconciler) OnRuleChanged(ctx context.Context, tenantID string, rule *Rule) error {
	appID, err := r.installation(ctx, tenantID)
	if err != nil {
		return err
	}
	return r.ruleChanged(ctx, tenantID, appID, rule)
}

// OnRuleDeleted cancels the jobs of ruleID for every confirmed upcoming
// appointment of the tenant.
func (r *Reconciler) OnRuleDeleted(ctx context.Context, tenantID, ruleID string) error {
	return r.walkAppointments(ctx, tenantID, func(ctx context.Context, a *booking.Appointment) error {
		return r.cancel(ctx, ruleID, a.ID)
	})
}

// OnAppointmentChanged reconciles every rule of the tenant against a.
// Jobs are only rescheduled while a is confirmed.
func (r *Reconciler) OnAppointmentChanged(ctx context.Context, tenantID string, a *booking.Appointment) error {
	appID, err := r.installation(ctx, tenantID)
	if err != nil {
		return err
	}
	return r.appointmentChanged(ctx, tenantID, appID, a)
}

// EnqueueRuleChange schedules a reconcile-rule job for the tenant's
// installation, so the walk over appointments runs on a worker. It returns
// a nil job when the app is not installed.
func (r *Reconciler) EnqueueRuleChange(ctx context.Context, tenantID, ruleID string, deleted bool, opts ...scheduler.RequestOption) (*job.Job, error) {
	appID, err := r.installation(ctx, tenantID)
	if err != nil || appID == "" {
		return nil, err
	}
	return r.sched.ScheduleApp(ctx, tenantID, appID, JobTypeReconcile,
		ReconcileRequest{RuleID: ruleID, Deleted: deleted}, job.Now(), opts...)
}

func (r *Reconciler) ruleChanged(ctx context.Context, tenantID, appID string, rule *Rule) error {
	return r.walkAppointments(ctx, tenantID, func(ctx context.Context, a *booking.Appointment) error {
		return r.reconcileOrDefer(ctx, tenantID, appID, rule, a)
	})
}

func (r *Reconciler) appointmentChanged(ctx context.Context, tenantID, appID string, a *booking.Appointment) error {
	return r.walkRules(ctx, tenantID, func(ctx context.Context, rule *Rule) error {
		return r.reconcileOrDefer(ctx, tenantID, appID, rule, a)
	})
}

// errPairRunning reports that the pair's reminder job is executing for a
// fire time that no longer holds. Its replacement can only be enqueued
// once it returns.
var errPairRunning = errors.New("notification: reminder job of pair is running")

// syncRetries bounds how often a sync job waits for a running reminder.
const syncRetries = 10

// reconcileOrDefer reconciles the pair and hands it to a sync job when the
// current reminder job is running with a stale fire time. That job's send
// guard drops it, so without the sync job no reminder would remain.
func (r *Reconciler) reconcileOrDefer(ctx context.Context, tenantID, appID string, rule *Rule, a *booking.Appointment) error {
	err := r.reconcile(ctx, tenantID, appID, rule, a)
	if !errors.Is(err, errPairRunning) {
		return err
	}
	_, err = r.sched.ScheduleApp(ctx, tenantID, appID, JobTypeSync,
		SyncRequest{RuleID: rule.ID, AppointmentID: a.ID},
		job.At(r.now().Add(r.cfg.SyncDelay)),
		scheduler.WithKey(job.NotificationSyncKey(rule.ID, a.ID)),
		scheduler.WithMaxRetries(syncRetries),
	)
	if errors.Is(err, timeli.ErrJobAlreadyExists) {
		return nil
	}
	if err == nil {
		r.logger.Debug("notification reschedule deferred, job running",
			slog.String("rule_id", rule.ID),
			slog.String("appointment_id", a.ID),
		)
	}
	return err
}

// reconcile cancels the pair's job and schedules its replacement. An empty
// appID means the app is not installed, so nothing is scheduled.
func (r *Reconciler) reconcile(ctx context.Context, tenantID, appID string, rule *Rule, a *booking.Appointment) error {
	if err := r.cancel(ctx, rule.ID, a.ID); err != nil {
		return err
	}
	if appID == "" || !a.Confirmed() {
		return nil
	}

	fireAt, err := ComputeFireTime(rule, a)
	if err != nil {
		return err
	}
	if fireAt.Before(r.now().Add(-r.cfg.PastGrace)) {
		r.logger.Debug("notification fire time passed, not scheduled",
			slog.String("rule_id", rule.ID),
			slog.String("appointment_id", a.ID),
			slog.Time("fire_at", fireAt),
		)
		return nil
	}

	key := job.NotificationKey(rule.ID, a.ID)
	_, err = r.sched.ScheduleApp(ctx, tenantID, appID, JobTypeSend,
		SendRequest{RuleID: rule.ID, AppointmentID: a.ID, FireAt: fireAt.UTC()},
		job.At(fireAt),
		scheduler.WithKey(key),
	)
	if !errors.Is(err, timeli.ErrJobAlreadyExists) {
		return err
	}

	// Either a concurrent reconciliation won or the old job is running
	// and could not be cancelled.
	stale, err := r.runningStale(ctx, key.Encode(), fireAt)
	if err != nil {
		return err
	}
	if stale {
		return errPairRunning
	}
	r.logger.Debug("notification job already live",
		slog.String("rule_id", rule.ID),
		slog.String("appointment_id", a.ID),
	)
	return nil
}

// runningStale reports whether the live job under jobID is running for a
// fire time other than fireAt.
func (r *Reconciler) runningStale(ctx context.Context, jobID string, fireAt time.Time) (bool, error) {
	j, live, err := r.sched.GetDeduplicatedJob(ctx, jobID)
	if err != nil || !live || j.State != job.StateRunning {
		return false, err
	}
	p, err := j.App()
	if err != nil {
		return false, err
	}
	var req SendRequest
	if err := p.Bind(&req); err != nil {
		return false, err
	}
	return !req.FireAt.IsZero() && !req.FireAt.Equal(fireAt), nil
}

func (r *Reconciler) cancel(ctx context.Context, ruleID, appointmentID string) error {
	return r.sched.CancelJob(ctx, job.NotificationKey(ruleID, appointmentID).Encode())
}

// installation returns the id of the tenant's enabled scheduled-
// notifications app, or "" when none is installed.
func (r *Reconciler) installation(ctx context.Context, tenantID string) (string, error) {
	app, err := plugin.Installed(ctx, r.apps, tenantID, AppName)
	if errors.Is(err, timeli.ErrAppNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return app.ID, nil
}

func (r *Reconciler) walkAppointments(ctx context.Context, tenantID string, fn func(context.Context, *booking.Appointment) error) error {
	from := r.now()
	for offset := 0; ; offset += r.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := r.appointments.ListConfirmedAppointments(ctx, tenantID, from,
			booking.ListOpts{Limit: r.cfg.BatchSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("notification: list appointments: %w", err)
		}
		r.batch(ctx, len(page), func(ctx context.Context, i int) error {
			if err := fn(ctx, page[i]); err != nil {
				r.logger.Error("reconcile appointment failed",
					slog.String("tenant_id", tenantID),
					slog.String("appointment_id", page[i].ID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
		if len(page) < r.cfg.BatchSize {
			return nil
		}
	}
}

func (r *Reconciler) walkRules(ctx context.Context, tenantID string, fn func(context.Context, *Rule) error) error {
	for offset := 0; ; offset += r.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := r.rules.ListRules(ctx, tenantID, ListOpts{Limit: r.cfg.BatchSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("notification: list rules: %w", err)
		}
		r.batch(ctx, len(page), func(ctx context.Context, i int) error {
			if err := fn(ctx, page[i]); err != nil {
				r.logger.Error("reconcile rule failed",
					slog.String("tenant_id", tenantID),
					slog.String("rule_id", page[i].ID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
		if len(page) < r.cfg.BatchSize {
			return nil
		}
	}
}

// batch runs fn for indexes [0, n) with at most BatchConcurrency in flight.
func (r *Reconciler) batch(ctx context.Context, n int, fn func(context.Context, int) error) {
	var g errgroup.Group
	g.SetLimit(r.cfg.BatchConcurrency)
	for i := range n {
		g.Go(func() error { return fn(ctx, i) })
	}
	_ = g.Wait()
}
