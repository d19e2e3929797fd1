package queue

import (
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-queue behaviour such as rate limiting and concurrency.
type Config struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// MaxConcurrency limits how many jobs from this queue may run
	// simultaneously in the local worker pool. Zero means no
	// queue-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second admitted from
	// this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// TenantLimit bounds what a single tenant may consume of a queue. It is
// applied to each tenant independently.
type TenantLimit struct {
	MaxConcurrency int
	RateLimit      float64
	RateBurst      int
}

// Usage is a point-in-time view of one queue.
type Usage struct {
	Queue   string
	Active  int
	Tenants map[string]int
}

type gate struct {
	max     int
	limiter *rate.Limiter
	active  int
}

func newGate(maxConcurrency int, limit float64, burst int) *gate {
	g := &gate{max: maxConcurrency}
	if limit > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
	return g
}

func (g *gate) full() bool {
	return g.max > 0 && g.active >= g.max
}

type queueState struct {
	gate        *gate
	tenantLimit *TenantLimit
	tenants     map[string]*gate
}

// Manager controls per-queue and per-tenant admission. It is safe for
// concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
	closed bool
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{queues: make(map[string]*queueState, len(configs))}
	for _, cfg := range configs {
		m.queues[cfg.Name] = &queueState{
			gate:    newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst),
			tenants: make(map[string]*gate),
		}
	}
	return m
}

func (m *Manager) state(queue string) *queueState {
	qs := m.queues[queue]
	if qs == nil {
		qs = &queueState{gate: newGate(0, 0, 0), tenants: make(map[string]*gate)}
		m.queues[queue] = qs
	}
	return qs
}

// SetQueueConfig updates (or creates) a queue configuration. Jobs that
// are already running stay counted.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.state(cfg.Name)
	g := newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst)
	g.active = qs.gate.active
	qs.gate = g
}

// SetTenantLimit applies lim to every tenant of queue.
func (m *Manager) SetTenantLimit(queue string, lim TenantLimit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.state(queue)
	qs.tenantLimit = &lim
	for id, old := range qs.tenants {
		g := newGate(lim.MaxConcurrency, lim.RateLimit, lim.RateBurst)
		g.active = old.active
		qs.tenants[id] = g
	}
}

// Acquire reports whether a job of tenantID may start on queue now. On
// true the caller MUST call Release once the job finishes. A closed
// manager admits nothing.
func (m *Manager) Acquire(queue, tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	qs := m.state(queue)
	var tg *gate
	if qs.tenantLimit != nil && tenantID != "" {
		tg = qs.tenants[tenantID]
		if tg == nil {
			lim := qs.tenantLimit
			tg = newGate(lim.MaxConcurrency, lim.RateLimit, lim.RateBurst)
			qs.tenants[tenantID] = tg
		}
	}

	// Concurrency first so a rejected job never burns a rate token.
	if qs.gate.full() || (tg != nil && tg.full()) {
		return false
	}
	if qs.gate.limiter != nil && !qs.gate.limiter.Allow() {
		return false
	}
	if tg != nil && tg.limiter != nil && !tg.limiter.Allow() {
		return false
	}

	qs.gate.active++
	if tg != nil {
		tg.active++
	}
	return true
}

// Release returns the slot taken by a successful Acquire.
func (m *Manager) Release(queue, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil {
		return
	}
	if qs.gate.active > 0 {
		qs.gate.active--
	}
	if tg := qs.tenants[tenantID]; tg != nil && tg.active > 0 {
		tg.active--
	}
}

// ActiveCount returns the number of admitted jobs on queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.gate.active
	}
	return 0
}

// TenantActiveCount returns the number of admitted jobs for tenantID on
// queue. It is only tracked for queues with a TenantLimit.
func (m *Manager) TenantActiveCount(queue, tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		if tg := qs.tenants[tenantID]; tg != nil {
			return tg.active
		}
	}
	return 0
}

// Usage returns a snapshot of every known queue, sorted by name.
func (m *Manager) Usage() []Usage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Usage, 0, len(m.queues))
	for name, qs := range m.queues {
		u := Usage{Queue: name, Active: qs.gate.active, Tenants: make(map[string]int, len(qs.tenants))}
		for id, tg := range qs.tenants {
			if tg.active > 0 {
				u.Tenants[id] = tg.active
			}
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Queue < out[j].Queue })
	return out
}

// Close stops admitting new jobs. Running jobs may still Release.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
