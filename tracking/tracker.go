package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/hook"
	"github.com/xraph/timeli/id"
	"github.com/xraph/timeli/job"
	"github.com/xraph/timeli/plugin"
	"github.com/xraph/timeli/scheduler"
)

// ErrInvalidStep is returned by Track for an unknown funnel step.
var ErrInvalidStep = errors.New("tracking: invalid funnel step")

// ErrSessionConflict is returned by Track when the session kept changing
// under concurrent events for the same visitor.
var ErrSessionConflict = errors.New("tracking: session changed concurrently")

// errSessionChanged reports a lost compare-and-swap on a session record.
var errSessionChanged = errors.New("tracking: session record changed")

// trackAttempts bounds the compare-and-swap retries of one Track call.
const trackAttempts = 5

// Config holds the tracker settings.
type Config struct {
	// AbandonAfter is how long a session may stay idle before it counts
	// as abandoned.
	AbandonAfter time.Duration

	// SessionTTL bounds the lifetime of an ephemeral session record
	// regardless of the sweep.
	SessionTTL time.Duration

	// SweepInterval is the period of the recurring abandonment sweep.
	SweepInterval time.Duration
}

// DefaultConfig returns the default tracker settings.
func DefaultConfig() Config {
	return Config{
		AbandonAfter:  20 * time.Minute,
		SessionTTL:    24 * time.Hour,
		SweepInterval: 5 * time.Minute,
	}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithConfig replaces the tracker settings. Zero durations keep their
// defaults.
func WithConfig(cfg Config) Option {
	return func(t *Tracker) {
		if cfg.AbandonAfter > 0 {
			t.cfg.AbandonAfter = cfg.AbandonAfter
		}
		if cfg.SessionTTL > 0 {
			t.cfg.SessionTTL = cfg.SessionTTL
		}
		if cfg.SweepInterval > 0 {
			t.cfg.SweepInterval = cfg.SweepInterval
		}
	}
}

// WithHooks sets the dispatcher used to notify booking-tracking-hook apps
// of finished sessions.
func WithHooks(d *hook.Dispatcher) Option {
	return func(t *Tracker) { t.hooks = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// StepEvent is one funnel event reported by the booking surface.
type StepEvent struct {
	// VisitorID identifies the browser session the event came from.
	VisitorID string
	Step      Step
	Metadata  Metadata
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Abandoned int
	Discarded int
	Remaining int
}

// Tracker follows booking-funnel sessions and turns finished ones into
// durable events.
type Tracker struct {
	kv     KV
	events EventStore
	apps   plugin.AppStore
	sched  *scheduler.Service
	hooks  *hook.Dispatcher
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// guards holds, per tenant, the unix-nano fire time of the sweep this
	// process scheduled, or zero.
	guards sync.Map
}

// New creates a Tracker. Sweeps are scheduled as app jobs targeting the
// tenant's installation of the booking-tracking app, found through apps.
func New(kv KV, events EventStore, apps plugin.AppStore, sched *scheduler.Service, opts ...Option) *Tracker {
	t := &Tracker{
		kv:     kv,
		events: events,
		apps:   apps,
		sched:  sched,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func sessionPrefix(tenantID string) string {
	return "tracking:session:" + tenantID + ":"
}

func sessionKey(tenantID, visitorID string) string {
	return sessionPrefix(tenantID) + visitorID
}

// Track records one funnel event. An active session of the visitor that
// was seen within AbandonAfter is continued; otherwise a new session
// starts and a stale predecessor is closed as abandoned. A
// BOOKING_CONVERTED step closes the session as converted at once.
func (t *Tracker) Track(ctx context.Context, tenantID string, ev StepEvent) (*Session, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("track: %w", timeli.ErrMissingTenant)
	}
	if ev.VisitorID == "" {
		return nil, fmt.Errorf("%w: visitor id is required", ErrInvalidStep)
	}
	if !ev.Step.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStep, ev.Step)
	}

	key := sessionKey(tenantID, ev.VisitorID)
	for range trackAttempts {
		s, err := t.track(ctx, tenantID, key, ev)
		if errors.Is(err, errSessionChanged) {
			continue
		}
		return s, err
	}
	return nil, fmt.Errorf("%w: visitor %s", ErrSessionConflict, ev.VisitorID)
}

// track applies ev to the stored session with compare-and-swap writes. It
// returns errSessionChanged when another writer got there first.
func (t *Tracker) track(ctx context.Context, tenantID, key string, ev StepEvent) (*Session, error) {
	now := t.now().UTC()

	s, raw, err := t.load(ctx, key)
	if err != nil && !errors.Is(err, timeli.ErrSessionNotFound) {
		return nil, err
	}
	if s != nil && (s.Status != StatusActive || s.Stale(now, t.cfg.AbandonAfter)) {
		if s.Status == StatusActive {
			prev, err := t.abandon(ctx, key, s, raw, now)
			if err != nil {
				return nil, err
			}
			if prev != nil {
				t.emit(ctx, prev)
			}
			raw = nil
		}
		s = nil
	}
	if s == nil {
		s = &Session{
			ID:        id.NewSessionID().String(),
			VisitorID: ev.VisitorID,
			TenantID:  tenantID,
			StartedAt: now,
			Status:    StatusActive,
		}
	}
	s.record(ev.Step, now, ev.Metadata)

	if ev.Step == StepBookingConverted {
		s.Status = StatusConverted
		e, err := t.finish(ctx, key, s, raw, now)
		if err != nil {
			return nil, err
		}
		t.emit(ctx, e)
		return s, nil
	}

	data, err := encodeSession(s)
	if err != nil {
		return nil, err
	}
	ok, err := t.kv.Swap(ctx, key, raw, data, t.cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("tracking: save session: %w", err)
	}
	if !ok {
		return nil, errSessionChanged
	}
	if err := t.ensureSweep(ctx, tenantID); err != nil {
		// The session TTL still bounds its lifetime.
		t.logger.Warn("schedule abandonment sweep failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
	}
	return s, nil
}

// Sweep closes the tenant's active sessions that went stale before
// converting. Sessions that never left the funnel entry are dropped
// without an event.
func (t *Tracker) Sweep(ctx context.Context, tenantID string) (SweepResult, error) {
	var res SweepResult
	now := t.now().UTC()

	keys, err := t.kv.Scan(ctx, sessionPrefix(tenantID))
	if err != nil {
		return res, fmt.Errorf("tracking: scan sessions: %w", err)
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s, raw, err := t.load(ctx, key)
		if errors.Is(err, timeli.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			t.logger.Error("load session failed", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		if s.Status != StatusActive || s.LastStep == StepBookingConverted {
			continue
		}
		if !s.Stale(now, t.cfg.AbandonAfter) {
			res.Remaining++
			continue
		}

		e, err := t.abandon(ctx, key, s, raw, now)
		if errors.Is(err, errSessionChanged) {
			// A concurrent event moved the session on.
			res.Remaining++
			continue
		}
		if err != nil {
			t.logger.Error("abandon session failed",
				slog.String("tenant_id", tenantID),
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if e == nil {
			res.Discarded++
			continue
		}
		res.Abandoned++
		t.emit(ctx, e)
	}

	t.logger.Debug("abandonment sweep done",
		slog.String("tenant_id", tenantID),
		slog.Int("abandoned", res.Abandoned),
		slog.Int("discarded", res.Discarded),
		slog.Int("remaining", res.Remaining),
	)
	return res, nil
}

// abandon closes a stale session whose stored record is raw. Funnel-entry-
// only sessions are deleted without an event and return a nil event.
func (t *Tracker) abandon(ctx context.Context, key string, s *Session, raw []byte, now time.Time) (*Event, error) {
	if s.EntryOnly() {
		return nil, t.claim(ctx, key, raw)
	}
	s.Status = StatusAbandoned
	return t.finish(ctx, key, s, raw, now)
}

// claim deletes the session record if it still holds raw. A nil raw means
// the session was never stored.
func (t *Tracker) claim(ctx context.Context, key string, raw []byte) error {
	if raw == nil {
		return nil
	}
	ok, err := t.kv.Swap(ctx, key, raw, nil, 0)
	if err != nil {
		return fmt.Errorf("tracking: delete session: %w", err)
	}
	if !ok {
		return errSessionChanged
	}
	return nil
}

// finish claims the ephemeral record, then persists the closed session as
// an event. Only the writer that claimed the record persists it, so a
// session is closed once. A failed save puts the record back.
func (t *Tracker) finish(ctx context.Context, key string, s *Session, raw []byte, now time.Time) (*Event, error) {
	if err := t.claim(ctx, key, raw); err != nil {
		return nil, err
	}

	e := &Event{
		ID:         id.NewTrackingID().String(),
		TenantID:   s.TenantID,
		SessionID:  s.ID,
		VisitorID:  s.VisitorID,
		Status:     s.Status,
		StartedAt:  s.StartedAt,
		LastSeenAt: s.LastSeenAt,
		LastStep:   s.LastStep,
		Steps:      s.Steps,
		Metadata:   s.Metadata,
		CreatedAt:  now,
	}
	switch s.Status {
	case StatusConverted:
		e.ConvertedAt = &now
	case StatusAbandoned:
		e.AbandonedAt = &now
	}

	if err := t.events.SaveEvent(ctx, e); err != nil {
		if raw != nil {
			if _, rerr := t.kv.Swap(ctx, key, nil, raw, t.cfg.SessionTTL); rerr != nil {
				t.logger.Error("restore session failed",
					slog.String("session_id", s.ID),
					slog.String("error", rerr.Error()),
				)
			}
		}
		return nil, fmt.Errorf("tracking: save event: %w", err)
	}
	t.logger.Info("booking session closed",
		slog.String("tenant_id", e.TenantID),
		slog.String("session_id", e.SessionID),
		slog.String("status", string(e.Status)),
		slog.String("last_step", string(e.LastStep)),
	)
	return e, nil
}

// emit notifies booking-tracking-hook apps. Failures of single apps are
// logged and never affect the session.
func (t *Tracker) emit(ctx context.Context, e *Event) {
	if t.hooks == nil {
		return
	}
	_, err := hook.ExecuteHooks(ctx, t.hooks, e.TenantID, plugin.ScopeBookingTrackingHook,
		func(ctx context.Context, app *plugin.App, svc any) (struct{}, error) {
			h, ok := svc.(BookingTrackingHook)
			if !ok {
				return struct{}{}, nil
			}
			return struct{}{}, h.OnBookingTracked(ctx, app, e)
		}, hook.WithIgnoreErrors())
	if err != nil {
		t.logger.Warn("booking tracking hooks failed",
			slog.String("tenant_id", e.TenantID),
			slog.String("error", err.Error()),
		)
	}
}

// load returns the session under key together with its stored bytes, the
// expected value of a later Swap.
func (t *Tracker) load(ctx context.Context, key string) (*Session, []byte, error) {
	data, err := t.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, timeli.ErrSessionNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("tracking: load session: %w", err)
	}
	s, err := decodeSession(data)
	if err != nil {
		return nil, nil, err
	}
	return s, data, nil
}

// ──────────────────────────────────────────────────
// Recurring sweep
// ──────────────────────────────────────────────────

func (t *Tracker) guard(tenantID string) *atomic.Int64 {
	v, _ := t.guards.LoadOrStore(tenantID, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// nextSweep returns the next interval boundary after now. Processes that
// schedule within the same interval agree on it.
func (t *Tracker) nextSweep(now time.Time) time.Time {
	return now.Truncate(t.cfg.SweepInterval).Add(t.cfg.SweepInterval)
}

// SweepJobID is the dedup id of the tenant's sweep firing at at.
func SweepJobID(tenantID string, at time.Time) string {
	return fmt.Sprintf("tracking-sweep:%s:%d", tenantID, at.Unix())
}

// ensureSweep schedules the tenant's next sweep unless this process
// already has one pending. The backend dedup id keeps other processes
// from scheduling the same sweep twice.
func (t *Tracker) ensureSweep(ctx context.Context, tenantID string) error {
	g := t.guard(tenantID)
	now := t.now().UTC()

	cur := g.Load()
	if cur != 0 && now.UnixNano() <= cur {
		return nil
	}
	at := t.nextSweep(now)
	if !g.CompareAndSwap(cur, at.UnixNano()) {
		return nil
	}

	err := t.scheduleSweep(ctx, tenantID, at)
	if err != nil {
		g.CompareAndSwap(at.UnixNano(), 0)
	}
	return err
}

func (t *Tracker) scheduleSweep(ctx context.Context, tenantID string, at time.Time) error {
	jobID := SweepJobID(tenantID, at)
	if _, live, err := t.sched.GetDeduplicatedJob(ctx, jobID); err != nil {
		return err
	} else if live {
		return nil
	}

	app, err := plugin.Installed(ctx, t.apps, tenantID, AppName)
	if err != nil {
		return err
	}
	_, err = t.sched.ScheduleApp(ctx, tenantID, app.ID, JobTypeSweep, nil, job.At(at), scheduler.WithID(jobID))
	if errors.Is(err, timeli.ErrJobAlreadyExists) {
		return nil
	}
	return err
}

// runSweep is the body of the recurring sweep job. It clears the guard
// and schedules the next sweep while active sessions remain.
func (t *Tracker) runSweep(ctx context.Context, tenantID string) error {
	res, err := t.Sweep(ctx, tenantID)
	t.guard(tenantID).Store(0)
	if err != nil {
		return err
	}
	if res.Remaining > 0 {
		return t.ensureSweep(ctx, tenantID)
	}
	return nil
}

// SessionCount returns how many live ephemeral sessions the tenant has.
func (t *Tracker) SessionCount(ctx context.Context, tenantID string) (int, error) {
	keys, err := t.kv.Scan(ctx, sessionPrefix(tenantID))
	if err != nil {
		return 0, fmt.Errorf("tracking: scan sessions: %w", err)
	}
	return len(keys), nil
}
