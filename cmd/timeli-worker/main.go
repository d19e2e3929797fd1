// Command timeli-worker runs one worker process. It pulls jobs from the
// shared queue backend and delivers them to the tenants' connected apps:
// scheduled notifications, booking-funnel sweeps and appointment hooks.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/timeli/booking"
	"github.com/xraph/timeli/ext"
	"github.com/xraph/timeli/hook"
	"github.com/xraph/timeli/job"
	"github.com/xraph/timeli/middleware"
	"github.com/xraph/timeli/notification"
	"github.com/xraph/timeli/observability"
	"github.com/xraph/timeli/plugin"
	"github.com/xraph/timeli/queue"
	"github.com/xraph/timeli/scheduler"
	"github.com/xraph/timeli/store/postgres"
	redisstore "github.com/xraph/timeli/store/redis"
	"github.com/xraph/timeli/tracking"
	"github.com/xraph/timeli/worker"
)

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("worker exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := loadConfig(slog.Default())
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	docs, err := postgres.New(ctx, cfg.PostgresURL, postgres.WithLogger(logger))
	if err != nil {
		return err
	}
	defer docs.Close()
	if err := docs.Migrate(ctx); err != nil {
		return err
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	sessions := redisstore.New(rdb,
		redisstore.WithLogger(logger),
		redisstore.WithRetention(cfg.JobRetention),
	)

	var jobs job.Store
	switch cfg.QueueBackend {
	case "redis":
		jobs = sessions
	case "postgres":
		jobs = docs
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	extensions := ext.NewRegistry(logger)
	extensions.Register(observability.NewMetricsExtension())
	extensions.Register(ext.NewCounters())

	sched := scheduler.New(jobs,
		scheduler.WithConfig(cfg.Core),
		scheduler.WithCodec(cfg.Codec),
		scheduler.WithExtensions(extensions),
		scheduler.WithLogger(logger),
	)

	apps := plugin.NewRegistry(docs)
	methods := hook.NewMethodTable()
	booking.RegisterHooks(methods)
	tracking.RegisterHooks(methods)
	hooks := hook.NewDispatcher(apps, methods, logger)

	reconciler := notification.NewReconciler(docs, docs, docs, sched,
		notification.WithConfig(cfg.Notification),
		notification.WithLogger(logger),
	)
	notification.Register(apps, reconciler, logSender{logger: logger})

	tracker := tracking.New(sessions, docs, docs, sched,
		tracking.WithConfig(cfg.Tracking),
		tracking.WithHooks(hooks),
		tracking.WithLogger(logger),
	)
	tracking.Register(apps, tracker)

	opts := []worker.Option{
		worker.WithConfig(cfg.Core),
		worker.WithLogger(logger),
		worker.WithExtensions(extensions),
		worker.WithRestartWindow(cfg.RestartWindow),
		worker.WithMiddleware(
			middleware.Recover(logger),
			middleware.Tenant(),
			middleware.Tracing(),
			middleware.Metrics(),
			middleware.Logging(logger),
		),
	}
	if cfg.TenantLimit != (queue.TenantLimit{}) {
		for _, q := range cfg.Core.Queues {
			opts = append(opts, worker.WithTenantLimit(q, cfg.TenantLimit))
		}
	}

	w := worker.New(worker.Shared(jobs), apps, hooks, opts...)
	logger.Info("timeli worker starting",
		slog.String("queue_backend", cfg.QueueBackend),
		slog.String("codec", cfg.Codec.Name()),
		slog.Any("queues", cfg.Core.Queues),
	)
	return w.RunWithRestart(ctx, cfg.MaxRestarts, cfg.RestartDelay)
}
