package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/timeli/ext"
	"github.com/xraph/timeli/id"
	"github.com/xraph/timeli/job"
	"github.com/xraph/timeli/observability"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:    id.NewJobID().String(),
		Kind:  job.KindApp,
		Queue: "default",
	}
}

// counts returns the summed value of every int64 counter by name.
func counts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_Hooks(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		metric string
		fire   func(*observability.MetricsExtension) error
	}{
		{"timeli.job.scheduled", func(e *observability.MetricsExtension) error {
			return e.OnJobScheduled(ctx, newTestJob())
		}},
		{"timeli.job.cancelled", func(e *observability.MetricsExtension) error {
			return e.OnJobCancelled(ctx, "job_1")
		}},
		{"timeli.job.completed", func(e *observability.MetricsExtension) error {
			return e.OnJobCompleted(ctx, newTestJob(), 100*time.Millisecond)
		}},
		{"timeli.job.retried", func(e *observability.MetricsExtension) error {
			return e.OnJobRetrying(ctx, newTestJob(), 1, time.Now().Add(time.Minute))
		}},
		{"timeli.job.failed", func(e *observability.MetricsExtension) error {
			return e.OnJobFailed(ctx, newTestJob(), errors.New("boom"))
		}},
		{"timeli.job.stalled", func(e *observability.MetricsExtension) error {
			return e.OnJobStalled(ctx, newTestJob())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			e, reader := newTestExtension()
			if err := tt.fire(e); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := counts(t, reader)
			if got[tt.metric] != 1 {
				t.Errorf("%s: want 1, got %d", tt.metric, got[tt.metric])
			}
			if len(got) != 1 {
				t.Errorf("only %s should move, got %v", tt.metric, got)
			}
		})
	}
}

func TestMetricsExtension_Attributes(t *testing.T) {
	e, reader := newTestExtension()
	j := newTestJob()
	j.Kind = job.KindHook
	j.Queue = "hooks"
	_ = e.OnJobCompleted(context.Background(), j, time.Second)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var attrs attribute.Set
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && m.Name == "timeli.job.completed" {
				attrs = sum.DataPoints[0].Attributes
			}
		}
	}
	if v, _ := attrs.Value(attribute.Key("kind")); v.AsString() != "hook" {
		t.Errorf("kind = %q", v.AsString())
	}
	if v, _ := attrs.Value(attribute.Key("queue")); v.AsString() != "hooks" {
		t.Errorf("queue = %q", v.AsString())
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()

	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobScheduled(ctx, j)
	reg.EmitJobCancelled(ctx, j.ID)
	reg.EmitJobCompleted(ctx, j, 50*time.Millisecond)
	reg.EmitJobFailed(ctx, j, errors.New("fail"))
	reg.EmitJobRetrying(ctx, j, 1, time.Now())
	reg.EmitJobStalled(ctx, j)

	got := counts(t, reader)
	for _, name := range []string{
		"timeli.job.scheduled",
		"timeli.job.cancelled",
		"timeli.job.completed",
		"timeli.job.failed",
		"timeli.job.retried",
		"timeli.job.stalled",
	} {
		if got[name] != 1 {
			t.Errorf("%s: want 1, got %d", name, got[name])
		}
	}
}
