package tracking

import (
	"context"

	"github.com/xraph/timeli/hook"
	"github.com/xraph/timeli/job"
	"github.com/xraph/timeli/plugin"
)

// AppName is the registered name of the booking-tracking app.
const AppName = "booking-tracking"

// JobTypeSweep is the app job type of the recurring abandonment sweep.
const JobTypeSweep = "sweep"

// MethodBookingTracked is the booking-tracking-hook method name carried by
// hook jobs.
const MethodBookingTracked = "onBookingTracked"

// BookingTrackingHook is the booking-tracking-hook scope. Apps that declare
// plugin.ScopeBookingTrackingHook are told about every closed session.
type BookingTrackingHook interface {
	OnBookingTracked(ctx context.Context, app *plugin.App, e *Event) error
}

// RegisterHooks adds the booking-tracking-hook methods to t, so closed
// sessions can also be announced through queued hook jobs.
func RegisterHooks(t *hook.MethodTable) {
	hook.RegisterMethod(t, plugin.ScopeBookingTrackingHook, MethodBookingTracked,
		func(ctx context.Context, h BookingTrackingHook, app *plugin.App, e Event) error {
			return h.OnBookingTracked(ctx, app, &e)
		})
}

var _ plugin.JobProcessor = (*Service)(nil)

// Service is the runtime service of one installed booking-tracking app.
type Service struct {
	app     *plugin.App
	tracker *Tracker
	jobs    *job.Registry
}

// Register adds the booking-tracking app to apps.
func Register(apps *plugin.Registry, t *Tracker) {
	apps.Register(AppName, func(_ context.Context, app *plugin.App) (any, error) {
		return NewService(app, t), nil
	})
}

// NewService creates the service of the installed app.
func NewService(app *plugin.App, t *Tracker) *Service {
	s := &Service{app: app, tracker: t, jobs: job.NewRegistry()}
	job.RegisterDefinition(s.jobs, job.NewDefinition(JobTypeSweep, func(ctx context.Context, _ struct{}) error {
		return t.runSweep(ctx, app.TenantID)
	}))
	return s
}

// ProcessJob runs an app job addressed to this installation.
func (s *Service) ProcessJob(ctx context.Context, _ *plugin.App, p job.AppPayload) error {
	return s.jobs.Dispatch(ctx, p)
}
