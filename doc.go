// Package timeli is the scheduling core of the timeli booking platform. It
// turns "do X at time T for entity E" into durable, idempotent, retryable
// jobs and dispatches them to connected apps.
//
// The core is a library. Business-event handlers schedule jobs through the
// scheduler package; worker processes pull them from a shared queue backend
// and route them either to a single connected app (app jobs) or to every app
// registered for a capability scope (hook jobs).
//
// # Packages
//
//	job           job entity, payload schema, codecs, backend contract
//	scheduler     schedule / cancel / lookup jobs
//	worker        executor, worker pool, run and restart loops
//	hook          bounded fan-out over connected apps
//	notification  reminder trigger engine and reconciliation
//	tracking      booking-funnel abandonment tracker
//	store/...     memory, Redis and Postgres backends
//
// Every job carries the tenant it belongs to. Tenant isolation is enforced
// at the data layer; the queue itself is tenant-agnostic.
package timeli
