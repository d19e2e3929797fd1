// Package memory provides a fully in-memory implementation of every
// timeli store: the job queue backend, the document stores and the
// ephemeral session KV. It is safe for concurrent use and intended for
// tests and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/booking"
	"github.com/xraph/timeli/job"
	"github.com/xraph/timeli/notification"
	"github.com/xraph/timeli/plugin"
	"github.com/xraph/timeli/store"
	"github.com/xraph/timeli/tracking"
)

var (
	_ job.Store              = (*Store)(nil)
	_ store.Store            = (*Store)(nil)
	_ plugin.AppStore        = (*Store)(nil)
	_ booking.Store          = (*Store)(nil)
	_ notification.RuleStore = (*Store)(nil)
	_ tracking.EventStore    = (*Store)(nil)
	_ tracking.KV            = (*Store)(nil)
)

type kvEntry struct {
	value     []byte
	expiresAt time.Time
}

// Store is the in-memory store.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	jobs         map[string]*job.Job
	apps         map[string]*plugin.App
	appointments map[string]*booking.Appointment
	rules        map[string]*notification.Rule
	events       map[string][]*tracking.Event
	kv           map[string]kvEntry

	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, which drives job eligibility and KV expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:          time.Now,
		jobs:         make(map[string]*job.Job),
		apps:         make(map[string]*plugin.App),
		appointments: make(map[string]*booking.Appointment),
		rules:        make(map[string]*notification.Rule),
		events:       make(map[string][]*tracking.Event),
		kv:           make(map[string]kvEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) clock() time.Time { return s.now().UTC() }

func tenantKey(tenantID, id string) string { return tenantID + "/" + id }

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping fails once the store has been closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return timeli.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data is kept so tests can inspect it.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
