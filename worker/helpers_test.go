package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/timeli/backoff"
	"github.com/xraph/timeli/ext"
	"github.com/xraph/timeli/hook"
	"github.com/xraph/timeli/job"
	"github.com/xraph/timeli/middleware"
	"github.com/xraph/timeli/plugin"
	"github.com/xraph/timeli/scheduler"
	"github.com/xraph/timeli/store/memory"
	"github.com/xraph/timeli/worker"
)

const (
	tenant      = "tenant-1"
	greetScope  = plugin.Scope("greeting-hook")
	greetMethod = "greet"
)

// greeter is the scope interface of greetScope.
type greeter interface {
	Greet(ctx context.Context, app *plugin.App, name string) error
}

// recorder collects calls made to test apps.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// processorApp implements plugin.JobProcessor and greeter.
type processorApp struct {
	rec  *recorder
	fail error
}

func (a *processorApp) ProcessJob(_ context.Context, app *plugin.App, p job.AppPayload) error {
	var data struct {
		Name string `json:"name"`
	}
	if err := p.Bind(&data); err != nil {
		return err
	}
	a.rec.add(app.ID + ":" + p.Type + ":" + data.Name)
	return a.fail
}

func (a *processorApp) Greet(_ context.Context, app *plugin.App, name string) error {
	a.rec.add(app.ID + ":greet:" + name)
	return a.fail
}

// plainApp implements no capability.
type plainApp struct{}

type fixture struct {
	store     *memory.Store
	apps      *plugin.Registry
	hooks     *hook.Dispatcher
	sched     *scheduler.Service
	counters  *ext.Counters
	exts      *ext.Registry
	rec       *recorder
	failNames map[string]error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.New(),
		rec:       &recorder{},
		counters:  ext.NewCounters(),
		failNames: make(map[string]error),
	}
	f.exts = ext.NewRegistry(slog.Default())
	f.exts.Register(f.counters)

	f.apps = plugin.NewRegistry(f.store)
	f.apps.Register("processor", func(_ context.Context, app *plugin.App) (any, error) {
		return &processorApp{rec: f.rec, fail: f.failNames[app.ID]}, nil
	}, greetScope)
	f.apps.Register("plain", func(context.Context, *plugin.App) (any, error) {
		return plainApp{}, nil
	}, greetScope)

	methods := hook.NewMethodTable()
	hook.RegisterMethod(methods, greetScope, greetMethod,
		func(ctx context.Context, g greeter, app *plugin.App, name string) error {
			return g.Greet(ctx, app, name)
		})
	f.hooks = hook.NewDispatcher(f.apps, methods, slog.Default())
	f.sched = scheduler.New(f.store)
	return f
}

func (f *fixture) install(t *testing.T, appID, name string) {
	t.Helper()
	if err := f.store.SaveApp(context.Background(), &plugin.App{ID: appID, TenantID: tenant, Name: name}); err != nil {
		t.Fatalf("SaveApp: %v", err)
	}
}

func (f *fixture) executor(mws ...middleware.Middleware) *worker.Executor {
	if mws == nil {
		mws = []middleware.Middleware{middleware.Recover(slog.Default()), middleware.Tenant()}
	}
	return worker.NewExecutor(f.apps, f.hooks, f.exts, f.store, backoff.NewFixed(10*time.Millisecond), slog.Default(), mws...)
}

// claim dequeues the job with the given id so it can be executed directly.
func (f *fixture) claim(t *testing.T, jobID string) *job.Job {
	t.Helper()
	jobs, err := f.store.DequeueJobs(context.Background(), nil, 100)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	for _, j := range jobs {
		if j.ID == jobID {
			return j
		}
	}
	t.Fatalf("job %s was not dequeued", jobID)
	return nil
}

func (f *fixture) state(t *testing.T, jobID string) *job.Job {
	t.Helper()
	j, err := f.store.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return j
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

var errBoom = errors.New("boom")
