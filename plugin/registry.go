package plugin

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/xraph/timeli"
)

type definition struct {
	ctor   Constructor
	scopes []Scope
}

// Registry maps app names to constructors and declared scopes, and
// resolves installed apps through an AppStore. It is safe for concurrent
// use.
type Registry struct {
	store AppStore

	mu   sync.RWMutex
	defs map[string]definition
}

// NewRegistry creates a registry that reads installed apps from store.
func NewRegistry(store AppStore) *Registry {
	return &Registry{store: store, defs: make(map[string]definition)}
}

// Register records the constructor and hook scopes of the app called
// name. Registering the same name again replaces it.
func (r *Registry) Register(name string, ctor Constructor, scopes ...Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[name] = definition{ctor: ctor, scopes: slices.Clone(scopes)}
}

// Scopes returns the scopes declared by the app called name.
func (r *Registry) Scopes(name string) []Scope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.defs[name].scopes)
}

// Names returns the registered app names that declared scope, sorted.
func (r *Registry) Names(scope Scope) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, def := range r.defs {
		if slices.Contains(def.scopes, scope) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Service constructs the runtime service of app.
func (r *Registry) Service(ctx context.Context, app *App) (any, error) {
	r.mu.RLock()
	def, ok := r.defs[app.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", timeli.ErrAppNotRegistered, app.Name)
	}
	svc, err := def.ctor(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("plugin: construct %s (%s): %w", app.Name, app.ID, err)
	}
	return svc, nil
}

// Resolve loads the installed app and constructs its service.
func (r *Registry) Resolve(ctx context.Context, tenantID, appID string) (*App, any, error) {
	app, err := r.store.GetApp(ctx, tenantID, appID)
	if err != nil {
		return nil, nil, err
	}
	if app.Disabled {
		return nil, nil, fmt.Errorf("%w: %s is disabled", timeli.ErrAppNotFound, appID)
	}
	svc, err := r.Service(ctx, app)
	if err != nil {
		return nil, nil, err
	}
	return app, svc, nil
}

// Apps returns the tenant's installed apps whose registered name declared
// scope. The order is the store's order.
func (r *Registry) Apps(ctx context.Context, tenantID string, scope Scope) ([]*App, error) {
	apps, err := r.store.ListApps(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("plugin: list apps: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := apps[:0:0]
	for _, a := range apps {
		if a.Disabled {
			continue
		}
		if def, ok := r.defs[a.Name]; ok && slices.Contains(def.scopes, scope) {
			out = append(out, a)
		}
	}
	return out, nil
}
