package booking

import (
	"context"

	"github.com/xraph/timeli/hook"
	"github.com/xraph/timeli/plugin"
)

// Appointment hook method names, as carried by hook jobs.
const (
	MethodAppointmentCreated       = "onAppointmentCreated"
	MethodAppointmentRescheduled   = "onAppointmentRescheduled"
	MethodAppointmentStatusChanged = "onAppointmentStatusChanged"
)

// RegisterHooks adds the appointment-hook methods to t.
func RegisterHooks(t *hook.MethodTable) {
	hook.RegisterMethod(t, plugin.ScopeAppointmentHook, MethodAppointmentCreated,
		func(ctx context.Context, h AppointmentHook, app *plugin.App, a Appointment) error {
			return h.OnAppointmentCreated(ctx, app, &a)
		})
	hook.RegisterMethod(t, plugin.ScopeAppointmentHook, MethodAppointmentRescheduled,
		func(ctx context.Context, h AppointmentHook, app *plugin.App, a Appointment) error {
			return h.OnAppointmentRescheduled(ctx, app, &a)
		})
	hook.RegisterMethod(t, plugin.ScopeAppointmentHook, MethodAppointmentStatusChanged,
		func(ctx context.Context, h AppointmentHook, app *plugin.App, a Appointment) error {
			return h.OnAppointmentStatusChanged(ctx, app, &a)
		})
}
