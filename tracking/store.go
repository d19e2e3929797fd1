package tracking

import (
	"context"
	"time"
)

// KV is the ephemeral key/value store that holds active sessions.
type KV interface {
	// Get returns the value or timeli.ErrSessionNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. It expires after ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Swap atomically replaces the value under key when it currently
	// holds old, and reports whether it did. A nil old expects the key to
	// be absent; a nil value deletes it.
	Swap(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error)

	// Scan returns every live key starting with prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)
}

// ListOpts pages and filters event queries.
type ListOpts struct {
	Limit  int
	Offset int
	Status Status
}

// EventStore persists tracking events. Every query is scoped by tenant.
type EventStore interface {
	// SaveEvent inserts a tracking event.
	SaveEvent(ctx context.Context, e *Event) error

	// ListEvents returns the tenant's events, newest first.
	ListEvents(ctx context.Context, tenantID string, opts ListOpts) ([]*Event, error)
}
