// Package middleware provides composable middleware for job execution.
//
// A [Middleware] wraps the worker's routing handler. Middleware are
// composed with [Chain]; the first middleware in the slice is the outermost
// wrapper.
//
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs job id, kind, tenant, duration and outcome
//   - [Recover]: catches panics and converts them to errors
//   - [Tenant]: restores the job's tenant into the context
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Metrics]: records per-job duration and outcome counters
//
// Job execution has no engine-level deadline; connected apps own their
// timeouts.
package middleware
