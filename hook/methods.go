package hook

import (
	"context"
	"sort"
	"sync"

	"github.com/xraph/timeli/job"
	"github.com/xraph/timeli/plugin"
)

type methodKey struct {
	scope  plugin.Scope
	method string
}

type method struct {
	decode func(p job.HookPayload) (any, error)
	// call returns false when svc does not implement the scope interface.
	call func(ctx context.Context, svc any, app *plugin.App, args any) (bool, error)
}

// MethodTable maps (scope, method) pairs to typed invokers. It is safe for
// concurrent use.
type MethodTable struct {
	mu      sync.RWMutex
	methods map[methodKey]method
}

// NewMethodTable creates an empty table.
func NewMethodTable() *MethodTable {
	return &MethodTable{methods: make(map[methodKey]method)}
}

// RegisterMethod registers fn as the invoker of scope.name. S is the scope
// interface services must implement; A is the type of the single hook
// argument. A job without arguments binds the zero A.
func RegisterMethod[S, A any](t *MethodTable, scope plugin.Scope, name string, fn func(ctx context.Context, svc S, app *plugin.App, args A) error) {
	m := method{
		decode: func(p job.HookPayload) (any, error) {
			var a A
			if len(p.Args) == 0 {
				return a, nil
			}
			if err := p.Bind(0, &a); err != nil {
				return nil, err
			}
			return a, nil
		},
		call: func(ctx context.Context, svc any, app *plugin.App, args any) (bool, error) {
			s, ok := svc.(S)
			if !ok {
				return false, nil
			}
			return true, fn(ctx, s, app, args.(A))
		},
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.methods[methodKey{scope: scope, method: name}] = m
}

func (t *MethodTable) lookup(scope plugin.Scope, name string) (method, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.methods[methodKey{scope: scope, method: name}]
	return m, ok
}

// Has reports whether scope.name is registered.
func (t *MethodTable) Has(scope plugin.Scope, name string) bool {
	_, ok := t.lookup(scope, name)
	return ok
}

// Methods returns the registered method names of scope, sorted.
func (t *MethodTable) Methods(scope plugin.Scope) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var names []string
	for k := range t.methods {
		if k.scope == scope {
			names = append(names, k.method)
		}
	}
	sort.Strings(names)
	return names
}
