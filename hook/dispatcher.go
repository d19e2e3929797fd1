package hook

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/job"
	"github.com/xraph/timeli/plugin"
)

// Dispatcher resolves apps for a scope and invokes hook methods on them.
type Dispatcher struct {
	apps    *plugin.Registry
	methods *MethodTable
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. A nil methods table is replaced by
// an empty one and a nil logger by slog.Default().
func NewDispatcher(apps *plugin.Registry, methods *MethodTable, logger *slog.Logger) *Dispatcher {
	if methods == nil {
		methods = NewMethodTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{apps: apps, methods: methods, logger: logger}
}

// Methods returns the dispatcher's method table.
func (d *Dispatcher) Methods() *MethodTable { return d.methods }

// ExecuteHooks calls fn, with the app's constructed service, for every app
// of tenantID that declared scope, with at most the configured number of
// calls in flight.
//
// This is a package-level generic function because Go does not allow
// generic methods.
func ExecuteHooks[R any](ctx context.Context, d *Dispatcher, tenantID string, scope plugin.Scope, fn func(ctx context.Context, app *plugin.App, svc any) (R, error), opts ...Option) ([]R, error) {
	o := buildOptions(opts)

	apps, err := d.apps.Apps(ctx, tenantID, scope)
	if err != nil {
		return nil, fmt.Errorf("hook %s: %w", scope, err)
	}
	results := make([]R, len(apps))
	if len(apps) == 0 {
		return results, nil
	}

	var g *errgroup.Group
	gctx := ctx
	if o.ignoreErrors {
		g = new(errgroup.Group)
	} else {
		g, gctx = errgroup.WithContext(ctx)
	}
	g.SetLimit(o.concurrency)

	for i, app := range apps {
		g.Go(func() error {
			r, err := callHook(gctx, d, app, fn)
			if err != nil {
				if o.ignoreErrors {
					d.logger.Warn("hook failed",
						slog.String("scope", string(scope)),
						slog.String("app_id", app.ID),
						slog.String("app", app.Name),
						slog.String("tenant_id", tenantID),
						slog.String("error", err.Error()),
					)
					return nil
				}
				return fmt.Errorf("hook %s on app %s: %w", scope, app.ID, err)
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func callHook[R any](ctx context.Context, d *Dispatcher, app *plugin.App, fn func(context.Context, *plugin.App, any) (R, error)) (R, error) {
	var zero R
	svc, err := d.apps.Service(ctx, app)
	if err != nil {
		return zero, err
	}
	return fn(ctx, app, svc)
}

// Invoke runs a hook job payload against every app of tenantID that
// declared the payload's scope. Unknown methods and undecodable arguments
// are contract violations and fail permanently.
func (d *Dispatcher) Invoke(ctx context.Context, tenantID string, p job.HookPayload, opts ...Option) error {
	scope := plugin.Scope(p.Scope)
	m, ok := d.methods.lookup(scope, p.Method)
	if !ok {
		return timeli.Permanent(fmt.Errorf("%w: %s.%s", timeli.ErrUnknownHookMethod, p.Scope, p.Method))
	}
	args, err := m.decode(p)
	if err != nil {
		return timeli.Permanent(err)
	}

	_, err = ExecuteHooks(ctx, d, tenantID, scope, func(ctx context.Context, app *plugin.App, svc any) (struct{}, error) {
		handled, err := m.call(ctx, svc, app, args)
		if !handled {
			d.logger.Debug("app does not implement hook scope",
				slog.String("scope", p.Scope),
				slog.String("method", p.Method),
				slog.String("app", app.Name),
			)
		}
		return struct{}{}, err
	}, opts...)
	return err
}
