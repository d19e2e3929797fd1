// Package plugin is the connected-app contract.
//
// A connected app is installed per tenant ([App]) and backed by a service
// built by a [Constructor] registered under the app's name. Services opt
// into capabilities by implementing optional interfaces: [JobProcessor]
// for app jobs, and one interface per hook [Scope] (for example
// booking.AppointmentHook) for hook fan-out.
//
// The [Registry] keeps the static name→scopes mapping, so hook dispatch
// only constructs services of apps that declared the scope:
//
//	reg := plugin.NewRegistry(appStore)
//	reg.Register("scheduled-notifications", newNotifications,
//	    plugin.ScopeAppointmentHook)
//
// Capability checks are type assertions made at call time. An app that
// does not implement a capability is skipped, never an error.
package plugin
