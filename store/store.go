package store

import (
	"context"

	"github.com/xraph/timeli/booking"
	"github.com/xraph/timeli/notification"
	"github.com/xraph/timeli/plugin"
	"github.com/xraph/timeli/tracking"
)

// Store is the aggregate document persistence interface. Every query is
// scoped by tenant. The job queue backend is a separate concern, see
// job.Store.
type Store interface {
	plugin.AppStore
	booking.Store
	notification.RuleStore
	tracking.EventStore

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
