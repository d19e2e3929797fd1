package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/backoff"
	"github.com/xraph/timeli/ext"
	"github.com/xraph/timeli/hook"
	"github.com/xraph/timeli/job"
	"github.com/xraph/timeli/middleware"
	"github.com/xraph/timeli/plugin"
	"github.com/xraph/timeli/queue"
)

// Dialer opens the queue backend connection. Start calls it on every
// (re)start and Stop closes what it returned.
type Dialer func(ctx context.Context) (job.Store, error)

// Shared returns a Dialer for a backend whose connection is owned by the
// caller. Stopping the worker does not close it.
func Shared(s job.Store) Dialer {
	return func(context.Context) (job.Store, error) {
		return sharedStore{s}, nil
	}
}

type sharedStore struct{ job.Store }

func (sharedStore) Close() error { return nil }

// Worker is one worker process: it connects the backend, runs a pool of
// dequeue loops and shuts everything down in order.
type Worker struct {
	cfg          timeli.Config
	dial         Dialer
	apps         *plugin.Registry
	hooks        *hook.Dispatcher
	extensions   *ext.Registry
	backoff      backoff.Strategy
	middleware   []middleware.Middleware
	queueConfigs []queue.Config
	tenantLimits map[string]queue.TenantLimit
	logger       *slog.Logger

	// restartWindow is how long a run must stay up before RunWithRestart
	// forgets earlier restarts.
	restartWindow time.Duration

	mu       sync.Mutex
	store    job.Store
	pool     *Pool
	queues   *queue.Manager
	failures chan error
	stopped  chan struct{}
}

// Option configures a Worker.
type Option func(*Worker)

// WithConfig sets the worker configuration.
func WithConfig(cfg timeli.Config) Option {
	return func(w *Worker) { w.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithExtensions sets the lifecycle extension registry.
func WithExtensions(r *ext.Registry) Option {
	return func(w *Worker) { w.extensions = r }
}

// WithBackoff sets the retry delay strategy. Default: backoff.DefaultStrategy().
func WithBackoff(s backoff.Strategy) Option {
	return func(w *Worker) { w.backoff = s }
}

// WithMiddleware replaces the default middleware chain
// (recover, tenant, logging).
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(w *Worker) { w.middleware = mws }
}

// WithQueueConfig sets per-queue admission limits.
func WithQueueConfig(cfgs ...queue.Config) Option {
	return func(w *Worker) { w.queueConfigs = append(w.queueConfigs, cfgs...) }
}

// WithTenantLimit caps what each tenant may consume of queueName.
func WithTenantLimit(queueName string, lim queue.TenantLimit) Option {
	return func(w *Worker) { w.tenantLimits[queueName] = lim }
}

// WithRestartWindow sets how long a run must stay up before
// RunWithRestart resets its restart count. Zero never resets.
// Default: 5 minutes.
func WithRestartWindow(d time.Duration) Option {
	return func(w *Worker) { w.restartWindow = d }
}

// New creates a Worker. apps resolves app jobs; hooks dispatches hook jobs.
func New(dial Dialer, apps *plugin.Registry, hooks *hook.Dispatcher, opts ...Option) *Worker {
	w := &Worker{
		cfg:           timeli.DefaultConfig(),
		dial:          dial,
		apps:          apps,
		hooks:         hooks,
		backoff:       backoff.DefaultStrategy(),
		tenantLimits:  make(map[string]queue.TenantLimit),
		logger:        slog.Default(),
		restartWindow: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.extensions == nil {
		w.extensions = ext.NewRegistry(w.logger)
	}
	if w.middleware == nil {
		w.middleware = []middleware.Middleware{
			middleware.Recover(w.logger),
			middleware.Tenant(),
			middleware.Logging(w.logger),
		}
	}
	return w
}

// Start connects the backend, waits up to StartTimeout for it to answer a
// ping, then launches the pool and the health check.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pool != nil {
		return nil
	}

	readyCtx, cancel := context.WithTimeout(ctx, w.cfg.StartTimeout)
	defer cancel()

	s, err := w.dial(readyCtx)
	if err != nil {
		return fmt.Errorf("%w: connect: %w", timeli.ErrNotReady, err)
	}
	if err := s.Ping(readyCtx); err != nil {
		_ = s.Close()
		return fmt.Errorf("%w: %w", timeli.ErrNotReady, err)
	}

	qm := queue.NewManager(w.queueConfigs...)
	for name, lim := range w.tenantLimits {
		qm.SetTenantLimit(name, lim)
	}

	exec := NewExecutor(w.apps, w.hooks, w.extensions, s, w.backoff, w.logger, w.middleware...)
	pool := NewPool(s, exec, w.extensions, w.logger,
		WithPoolConcurrency(w.cfg.Concurrency),
		WithPoolQueues(w.cfg.Queues),
		WithPollInterval(w.cfg.PollInterval),
		WithHeartbeatInterval(w.cfg.HeartbeatInterval),
		WithStaleJobThreshold(w.cfg.StaleJobThreshold),
		WithQueueManager(qm),
	)
	if err := pool.Start(ctx); err != nil {
		_ = s.Close()
		return err
	}

	w.store = s
	w.pool = pool
	w.queues = qm
	w.failures = make(chan error, 1)
	w.stopped = make(chan struct{})
	go w.checkHealth(s, w.failures, w.stopped)

	w.logger.Info("worker started",
		slog.String("worker_id", pool.WorkerID()),
		slog.Int("concurrency", w.cfg.Concurrency),
		slog.Any("queues", w.cfg.Queues),
	)
	return nil
}

// Stop drains in order: worker goroutines, queue manager, extensions
// (shutdown event), backend connection.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pool == nil {
		return nil
	}
	close(w.stopped)

	var errs []error
	if err := w.pool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop pool: %w", err))
	}
	w.queues.Close()
	w.extensions.EmitShutdown(ctx)
	if err := w.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}

	w.logger.Info("worker stopped", slog.String("worker_id", w.pool.WorkerID()))
	w.pool, w.store, w.queues = nil, nil, nil
	return errors.Join(errs...)
}

// Failures reports fatal errors of the running worker, such as a lost
// backend connection. It returns nil before Start.
func (w *Worker) Failures() <-chan error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures
}

// checkHealth pings the backend every HealthInterval and reports the first
// failure.
func (w *Worker) checkHealth(s job.Store, failures chan<- error, stopped <-chan struct{}) {
	if w.cfg.HealthInterval <= 0 {
		return
	}
	ticker := time.NewTicker(w.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopped:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.cfg.HealthInterval)
			err := s.Ping(ctx)
			cancel()
			if err != nil {
				w.logger.Error("backend health check failed", slog.String("error", err.Error()))
				select {
				case failures <- fmt.Errorf("backend connection: %w", err):
				default:
				}
				return
			}
		}
	}
}
