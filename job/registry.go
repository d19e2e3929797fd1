package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/timeli"
)

// HandlerFunc is a type-erased handler that binds the app payload itself.
type HandlerFunc func(ctx context.Context, p AppPayload) error

// Registry maps app job types to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// RegisterDefinition registers a typed definition. The handler is wrapped
// in a closure that binds the payload into T.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, p AppPayload) error {
		var t T
		if err := p.Bind(&t); err != nil {
			return err
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Type] = handler
}

// Get returns the handler for the given type.
func (r *Registry) Get(typ string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typ]
	return h, ok
}

// Types returns all registered types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// Dispatch runs the handler registered for p.Type. An unregistered type is
// a contract violation and is never retried.
func (r *Registry) Dispatch(ctx context.Context, p AppPayload) error {
	h, ok := r.Get(p.Type)
	if !ok {
		return timeli.Permanent(fmt.Errorf("%w: no handler for app %s job type %q",
			timeli.ErrInvalidPayload, p.AppID, p.Type))
	}
	return h(ctx, p)
}
