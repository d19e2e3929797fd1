// Package redis implements the timeli queue backend and the ephemeral
// session store on Redis. Jobs are Hashes; each queue keeps two Sorted
// Sets, one of scheduled jobs scored by run time and one of due jobs
// scored by priority. Claims run as Lua scripts so several worker
// processes can share a queue.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/timeli/job"
	"github.com/xraph/timeli/tracking"
)

// Compile-time interface checks.
var (
	_ job.Store   = (*Store)(nil)
	_ tracking.KV = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock replaces time.Now for run-time comparisons.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRetention sets how long completed and failed jobs are kept before
// Redis expires them. Zero keeps them forever.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// DefaultRetention is how long terminal jobs are kept unless WithRetention
// says otherwise.
const DefaultRetention = 7 * 24 * time.Hour

// Store implements job.Store and tracking.KV backed by Redis.
type Store struct {
	client    redis.Cmdable
	logger    *slog.Logger
	now       func() time.Time
	retention time.Duration
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		logger:    slog.Default(),
		now:       time.Now,
		retention: DefaultRetention,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

func (s *Store) clock() time.Time { return s.now().UTC() }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op, the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
