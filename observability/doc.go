// Package observability provides an OpenTelemetry metrics extension for
// timeli. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for scheduled, cancelled, completed, retried,
// failed and stalled jobs.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
