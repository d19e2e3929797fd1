package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/timeli/ext"
	"github.com/xraph/timeli/job"
)

const instrumentationName = "github.com/xraph/timeli/observability"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobScheduled = (*MetricsExtension)(nil)
	_ ext.JobCancelled = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobStalled   = (*MetricsExtension)(nil)
)

// MetricsExtension records job lifecycle counters. Register it with the
// scheduler and the worker through their extension registries.
//
// Every counter except timeli.job.cancelled carries the kind and queue
// attributes.
type MetricsExtension struct {
	scheduled metric.Int64Counter
	cancelled metric.Int64Counter
	completed metric.Int64Counter
	retried   metric.Int64Counter
	failed    metric.Int64Counter
	stalled   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(instrumentationName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	return &MetricsExtension{
		scheduled: counter(meter, "timeli.job.scheduled", "Jobs accepted by the backend"),
		cancelled: counter(meter, "timeli.job.cancelled", "Pending jobs removed before they ran"),
		completed: counter(meter, "timeli.job.completed", "Jobs that finished successfully"),
		retried:   counter(meter, "timeli.job.retried", "Failed jobs scheduled for another attempt"),
		failed:    counter(meter, "timeli.job.failed", "Jobs that failed terminally"),
		stalled:   counter(meter, "timeli.job.stalled", "Running jobs that lost their heartbeat"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	// On error the OTel API returns a noop instrument.
	c, _ := meter.Int64Counter(name, //nolint:errcheck // noop fallback guaranteed by OTel API contract
		metric.WithDescription(desc),
		metric.WithUnit("{job}"),
	)
	return c
}

func jobAttrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("kind", string(j.Kind)),
		attribute.String("queue", j.Queue),
	)
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobScheduled implements ext.JobScheduled.
func (m *MetricsExtension) OnJobScheduled(ctx context.Context, j *job.Job) error {
	m.scheduled.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, _ string) error {
	m.cancelled.Add(ctx, 1)
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.completed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobStalled implements ext.JobStalled.
func (m *MetricsExtension) OnJobStalled(ctx context.Context, j *job.Job) error {
	m.stalled.Add(ctx, 1, jobAttrs(j))
	return nil
}
