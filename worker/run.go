package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/backoff"
)

// Run starts the worker and blocks until ctx is done, SIGINT or SIGTERM
// arrives, or the worker fails. Shutdown is graceful within
// ShutdownTimeout. A signal or cancelled ctx returns nil; a failure
// returns the error.
func (w *Worker) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := w.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		w.logger.Info("shutdown requested")
	case runErr = <-w.Failures():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), w.cfg.ShutdownTimeout)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// RunWithRestart re-runs Run after a failure, waiting baseDelay doubled
// per restart in between. It gives up after maxRestarts consecutive
// restarts and returns timeli.ErrRestartsExhausted wrapping the last
// error. A run that stayed up for the restart window resets the count.
func (w *Worker) RunWithRestart(ctx context.Context, maxRestarts int, baseDelay time.Duration) error {
	delays := backoff.NewExponential(baseDelay, 0)

	restarts := 0
	for {
		started := time.Now()
		err := w.Run(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if w.restartWindow > 0 && time.Since(started) >= w.restartWindow {
			restarts = 0
		}
		if restarts >= maxRestarts {
			return fmt.Errorf("%w after %d restarts: %w", timeli.ErrRestartsExhausted, restarts, err)
		}
		restarts++

		delay := delays.Delay(restarts)
		w.logger.Warn("worker failed, restarting",
			slog.String("error", err.Error()),
			slog.Int("restart", restarts),
			slog.Int("max_restarts", maxRestarts),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
}
