package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/job"
	"github.com/xraph/timeli/store/memory"
	"github.com/xraph/timeli/worker"
)

func testConfig() timeli.Config {
	cfg := timeli.DefaultConfig()
	cfg.Concurrency = 2
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HealthInterval = 20 * time.Millisecond
	cfg.StartTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	return cfg
}

// shutdownExt records the shutdown event.
type shutdownExt struct{ called atomic.Bool }

func (e *shutdownExt) Name() string { return "shutdown-recorder" }

func (e *shutdownExt) OnShutdown(context.Context) error {
	e.called.Store(true)
	return nil
}

func TestWorker_StartProcessesAndStops(t *testing.T) {
	f := newFixture(t)
	f.install(t, "a", "processor")
	sd := &shutdownExt{}
	f.exts.Register(sd)
	ctx := context.Background()

	j, _ := f.sched.ScheduleApp(ctx, tenant, "a", "hello", map[string]string{"name": "Ada"}, job.Now())

	w := worker.New(worker.Shared(f.store), f.apps, f.hooks,
		worker.WithConfig(testConfig()),
		worker.WithExtensions(f.exts),
	)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return f.state(t, j.ID).State == job.StateCompleted })

	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !sd.called.Load() {
		t.Error("extensions did not receive the shutdown event")
	}
	// A shared backend stays open after Stop.
	if err := f.store.Ping(ctx); err != nil {
		t.Errorf("shared store was closed: %v", err)
	}
}

func TestWorker_StartFailsWhenBackendUnreachable(t *testing.T) {
	f := newFixture(t)
	_ = f.store.Close()

	w := worker.New(worker.Shared(f.store), f.apps, f.hooks, worker.WithConfig(testConfig()))
	err := w.Start(context.Background())
	if !errors.Is(err, timeli.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestWorker_StartFailsWhenDialFails(t *testing.T) {
	f := newFixture(t)
	dialErr := errors.New("connection refused")
	dial := func(context.Context) (job.Store, error) { return nil, dialErr }

	w := worker.New(dial, f.apps, f.hooks, worker.WithConfig(testConfig()))
	err := w.Start(context.Background())
	if !errors.Is(err, timeli.ErrNotReady) || !errors.Is(err, dialErr) {
		t.Fatalf("expected ErrNotReady wrapping the dial error, got %v", err)
	}
}

func TestWorker_RunReturnsNilOnCancel(t *testing.T) {
	f := newFixture(t)
	w := worker.New(worker.Shared(f.store), f.apps, f.hooks, worker.WithConfig(testConfig()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWorker_RunFailsWhenBackendDrops(t *testing.T) {
	f := newFixture(t)
	w := worker.New(worker.Shared(f.store), f.apps, f.hooks, worker.WithConfig(testConfig()))

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	_ = f.store.Close()

	select {
	case err := <-done:
		if !errors.Is(err, timeli.ErrStoreClosed) {
			t.Fatalf("expected ErrStoreClosed, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after the backend dropped")
	}
}

func TestWorker_RunWithRestart_Exhausted(t *testing.T) {
	f := newFixture(t)
	var dials atomic.Int32
	dial := func(context.Context) (job.Store, error) {
		dials.Add(1)
		s := memory.New()
		_ = s.Close()
		return s, nil
	}

	w := worker.New(dial, f.apps, f.hooks, worker.WithConfig(testConfig()))
	err := w.RunWithRestart(context.Background(), 2, time.Millisecond)
	if !errors.Is(err, timeli.ErrRestartsExhausted) {
		t.Fatalf("expected ErrRestartsExhausted, got %v", err)
	}
	if !errors.Is(err, timeli.ErrNotReady) {
		t.Errorf("expected the last error to be wrapped, got %v", err)
	}
	if got := dials.Load(); got != 3 {
		t.Errorf("dials = %d, want 3 (initial run + 2 restarts)", got)
	}
}

func TestWorker_RunWithRestart_Recovers(t *testing.T) {
	f := newFixture(t)
	var dials atomic.Int32
	healthy := memory.New()
	dial := func(context.Context) (job.Store, error) {
		if dials.Add(1) == 1 {
			return nil, errors.New("not yet")
		}
		return healthy, nil
	}

	w := worker.New(dial, f.apps, f.hooks, worker.WithConfig(testConfig()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.RunWithRestart(ctx, 3, time.Millisecond) }()

	waitFor(t, func() bool { return dials.Load() >= 2 })
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunWithRestart returned %v, want nil after graceful stop", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("RunWithRestart did not return")
	}
}

func TestWorker_RunWithRestart_HealthyRunResetsBudget(t *testing.T) {
	f := newFixture(t)
	var dials atomic.Int32
	dial := func(context.Context) (job.Store, error) {
		dials.Add(1)
		s := memory.New()
		time.AfterFunc(80*time.Millisecond, func() { _ = s.Close() })
		return s, nil
	}

	w := worker.New(dial, f.apps, f.hooks,
		worker.WithConfig(testConfig()),
		worker.WithRestartWindow(30*time.Millisecond),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.RunWithRestart(ctx, 1, time.Millisecond) }()

	// Three failures against a budget of one restart: each run outlived
	// the window, so none of them counts against the next.
	waitFor(t, func() bool { return dials.Load() >= 4 })
	cancel()

	select {
	case err := <-done:
		if errors.Is(err, timeli.ErrRestartsExhausted) {
			t.Fatalf("budget exhausted despite healthy runs: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("RunWithRestart did not return")
	}
}
