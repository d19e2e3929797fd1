package plugin_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/plugin"
	"github.com/xraph/timeli/store/memory"
)

type settings struct {
	Greeting string `json:"greeting"`
}

type greeter struct{ greeting string }

func newRegistry(t *testing.T) (*plugin.Registry, *memory.Store) {
	t.Helper()
	s := memory.New()
	r := plugin.NewRegistry(s)
	r.Register("greeter", func(_ context.Context, app *plugin.App) (any, error) {
		var cfg settings
		if err := app.Bind(&cfg); err != nil {
			return nil, err
		}
		return &greeter{greeting: cfg.Greeting}, nil
	}, plugin.ScopeAppointmentHook, plugin.ScopeCustomerHook)
	r.Register("silent", func(context.Context, *plugin.App) (any, error) {
		return struct{}{}, nil
	})
	return r, s
}

func TestRegistry_Resolve(t *testing.T) {
	r, s := newRegistry(t)
	ctx := context.Background()
	_ = s.SaveApp(ctx, &plugin.App{ID: "g1", TenantID: "t1", Name: "greeter", Data: json.RawMessage(`{"greeting":"hej"}`)})

	app, svc, err := r.Resolve(ctx, "t1", "g1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if app.ID != "g1" {
		t.Errorf("app = %+v", app)
	}
	if g, ok := svc.(*greeter); !ok || g.greeting != "hej" {
		t.Errorf("service = %#v", svc)
	}
}

func TestRegistry_ResolveErrors(t *testing.T) {
	r, s := newRegistry(t)
	ctx := context.Background()
	_ = s.SaveApp(ctx, &plugin.App{ID: "gone", TenantID: "t1", Name: "uninstalled-kind"})
	_ = s.SaveApp(ctx, &plugin.App{ID: "off", TenantID: "t1", Name: "greeter", Disabled: true})
	_ = s.SaveApp(ctx, &plugin.App{ID: "bad", TenantID: "t1", Name: "greeter", Data: json.RawMessage(`{"greeting":1}`)})

	tests := []struct {
		appID string
		want  error
	}{
		{"missing", timeli.ErrAppNotFound},
		{"off", timeli.ErrAppNotFound},
		{"gone", timeli.ErrAppNotRegistered},
	}
	for _, tt := range tests {
		if _, _, err := r.Resolve(ctx, "t1", tt.appID); !errors.Is(err, tt.want) {
			t.Errorf("Resolve(%s) = %v, want %v", tt.appID, err, tt.want)
		}
	}
	if _, _, err := r.Resolve(ctx, "t1", "bad"); err == nil {
		t.Error("constructor error was swallowed")
	}
}

func TestRegistry_AppsByScope(t *testing.T) {
	r, s := newRegistry(t)
	ctx := context.Background()
	_ = s.SaveApp(ctx, &plugin.App{ID: "g1", TenantID: "t1", Name: "greeter"})
	_ = s.SaveApp(ctx, &plugin.App{ID: "s1", TenantID: "t1", Name: "silent"})
	_ = s.SaveApp(ctx, &plugin.App{ID: "g2", TenantID: "t2", Name: "greeter"})

	apps, err := r.Apps(ctx, "t1", plugin.ScopeCustomerHook)
	if err != nil {
		t.Fatalf("Apps: %v", err)
	}
	if len(apps) != 1 || apps[0].ID != "g1" {
		t.Errorf("Apps = %+v", apps)
	}
	if apps, _ := r.Apps(ctx, "t1", plugin.ScopeBookingTrackingHook); len(apps) != 0 {
		t.Errorf("undeclared scope matched %d apps", len(apps))
	}

	if got := r.Names(plugin.ScopeAppointmentHook); len(got) != 1 || got[0] != "greeter" {
		t.Errorf("Names = %v", got)
	}
	if got := r.Scopes("greeter"); len(got) != 2 {
		t.Errorf("Scopes = %v", got)
	}
}

func TestInstalled(t *testing.T) {
	_, s := newRegistry(t)
	ctx := context.Background()
	_ = s.SaveApp(ctx, &plugin.App{ID: "g1", TenantID: "t1", Name: "greeter"})

	app, err := plugin.Installed(ctx, s, "t1", "greeter")
	if err != nil || app.ID != "g1" {
		t.Fatalf("Installed = %+v, %v", app, err)
	}
	if _, err := plugin.Installed(ctx, s, "t2", "greeter"); !errors.Is(err, timeli.ErrAppNotFound) {
		t.Errorf("other tenant: %v", err)
	}
}
