package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/job"
)

// Scope names a category of hook behaviour that apps declare.
type Scope string

// Built-in hook scopes.
const (
	ScopeAppointmentHook     Scope = "appointment-hook"
	ScopeCustomerHook        Scope = "customer-hook"
	ScopeBookingTrackingHook Scope = "booking-tracking-hook"
)

// App is a connected app installed for one tenant.
type App struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data,omitempty"`
	Disabled  bool            `json:"disabled,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Bind decodes the app's stored settings into v.
func (a *App) Bind(v any) error {
	if len(a.Data) == 0 {
		return nil
	}
	return json.Unmarshal(a.Data, v)
}

// AppStore reads installed apps. Every query is scoped by tenant.
type AppStore interface {
	// GetApp returns the app, or timeli.ErrAppNotFound.
	GetApp(ctx context.Context, tenantID, appID string) (*App, error)

	// ListApps returns the enabled apps of a tenant.
	ListApps(ctx context.Context, tenantID string) ([]*App, error)

	// SaveApp installs or updates an app.
	SaveApp(ctx context.Context, a *App) error

	// DeleteApp uninstalls an app. Unknown apps return timeli.ErrAppNotFound.
	DeleteApp(ctx context.Context, tenantID, appID string) error
}

// Constructor builds the runtime service of an installed app.
type Constructor func(ctx context.Context, app *App) (any, error)

// JobProcessor is implemented by services that accept app jobs.
type JobProcessor interface {
	ProcessJob(ctx context.Context, app *App, p job.AppPayload) error
}

// Installed returns the tenant's first enabled installation of the app
// called name, or timeli.ErrAppNotFound.
func Installed(ctx context.Context, s AppStore, tenantID, name string) (*App, error) {
	apps, err := s.ListApps(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("plugin: list apps: %w", err)
	}
	for _, a := range apps {
		if a.Name == name && !a.Disabled {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s is not installed", timeli.ErrAppNotFound, name)
}
