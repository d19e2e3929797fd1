// Package hook fans a call out to every connected app of a tenant that
// declared a capability scope.
//
// [ExecuteHooks] is the typed primitive: it resolves the tenant's apps for
// the scope, constructs each service, and runs the caller's function under
// a bounded errgroup. Results are positional. In strict mode (the default)
// the first failure cancels the remaining calls and is returned; with
// [WithIgnoreErrors] failures are logged and leave a zero result.
//
// Hook jobs carry a scope, a method name and encoded arguments. The
// [MethodTable] maps (scope, method) to a typed invoker registered with
// [RegisterMethod], which decodes the arguments and type-asserts each
// service to the scope interface:
//
//	t := hook.NewMethodTable()
//	hook.RegisterMethod(t, plugin.ScopeAppointmentHook, "onAppointmentCreated",
//	    func(ctx context.Context, h booking.AppointmentHook, app *plugin.App, a booking.Appointment) error {
//	        return h.OnAppointmentCreated(ctx, app, &a)
//	    })
//
// Services that do not implement the scope interface are skipped.
package hook
