// Package scheduler schedules, cancels and looks up jobs on the queue
// backend. It encodes app and hook payloads at the boundary and never
// retries a failed backend call; retries belong to the worker once a job
// has been accepted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/ext"
	"github.com/xraph/timeli/id"
	"github.com/xraph/timeli/job"
)

// Request describes a job to schedule. Exactly one of App and Hook is set;
// Kind may be left empty and is then derived from which one is.
type Request struct {
	// ID is the dedup key. Empty means a fresh job_<typeid> id.
	ID         string
	TenantID   string
	Kind       job.Kind
	ExecuteAt  job.ExecuteAt
	App        *job.AppJob
	Hook       *job.HookJob
	Queue      string
	Priority   int
	// MaxRetries overrides the configured retry budget when set. Zero
	// means the job runs once.
	MaxRetries *int
}

// RequestOption adjusts a Request built by a typed helper.
type RequestOption func(*Request)

// WithID sets the dedup id.
func WithID(jobID string) RequestOption {
	return func(r *Request) { r.ID = jobID }
}

// WithKey sets the dedup id from a composite key.
func WithKey(k job.Key) RequestOption {
	return func(r *Request) { r.ID = k.Encode() }
}

// WithQueue routes the job to a queue.
func WithQueue(queue string) RequestOption {
	return func(r *Request) { r.Queue = queue }
}

// WithPriority sets the job priority. Higher runs first.
func WithPriority(p int) RequestOption {
	return func(r *Request) { r.Priority = p }
}

// WithMaxRetries sets the job's retry budget. Zero disables retries;
// negative values count as zero.
func WithMaxRetries(n int) RequestOption {
	return func(r *Request) { r.MaxRetries = &n }
}

// Service is the job scheduling service.
type Service struct {
	store      job.Store
	extensions *ext.Registry
	codec      job.Codec
	queues     []string
	queue      string
	maxRetries int
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCodec sets the payload codec. Default: job.JSON.
func WithCodec(c job.Codec) Option {
	return func(s *Service) { s.codec = c }
}

// WithExtensions sets the registry notified of scheduled and cancelled jobs.
func WithExtensions(r *ext.Registry) Option {
	return func(s *Service) { s.extensions = r }
}

// WithConfig applies the queue and retry defaults of cfg.
func WithConfig(cfg timeli.Config) Option {
	return func(s *Service) {
		if len(cfg.Queues) > 0 {
			s.queues = cfg.Queues
			s.queue = cfg.Queues[0]
		}
		if cfg.MaxRetries > 0 {
			s.maxRetries = cfg.MaxRetries
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a scheduling service on top of store.
func New(store job.Store, opts ...Option) *Service {
	cfg := timeli.DefaultConfig()
	s := &Service{
		store:      store,
		codec:      job.JSON,
		queues:     cfg.Queues,
		queue:      timeli.DefaultQueue,
		maxRetries: cfg.MaxRetries,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extensions == nil {
		s.extensions = ext.NewRegistry(s.logger)
	}
	return s
}

// ScheduleJob encodes the request and hands it to the backend. The job
// becomes visible to workers once ExecuteAt has passed; "now" and past
// times are due immediately. A live job with the same ID yields
// timeli.ErrJobAlreadyExists.
func (s *Service) ScheduleJob(ctx context.Context, req Request) (*job.Job, error) {
	if s.store == nil {
		return nil, timeli.ErrNoStore
	}
	if req.TenantID == "" {
		return nil, fmt.Errorf("schedule job: %w", timeli.ErrMissingTenant)
	}

	kind := req.Kind
	if kind == "" {
		switch {
		case req.App != nil:
			kind = job.KindApp
		case req.Hook != nil:
			kind = job.KindHook
		}
	}

	var (
		payload []byte
		err     error
	)
	switch {
	case kind == job.KindApp && req.App != nil:
		payload, err = job.EncodeApp(s.codec, *req.App)
	case kind == job.KindHook && req.Hook != nil:
		payload, err = job.EncodeHook(s.codec, *req.Hook)
	default:
		return nil, fmt.Errorf("schedule job: %w: kind %q without matching payload", timeli.ErrUnknownJobKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("schedule job: %w", err)
	}

	jobID := req.ID
	if jobID == "" {
		jobID = id.NewJobID().String()
	}
	queue := req.Queue
	if queue == "" {
		queue = s.queue
	}
	maxRetries := s.maxRetries
	if req.MaxRetries != nil {
		maxRetries = max(*req.MaxRetries, 0)
	}

	now := s.now().UTC()
	j := &job.Job{
		ID:         jobID,
		Kind:       kind,
		TenantID:   req.TenantID,
		Queue:      queue,
		Encoding:   s.codec.Name(),
		Payload:    payload,
		State:      job.StatePending,
		Priority:   req.Priority,
		MaxRetries: maxRetries,
		RunAt:      now.Add(req.ExecuteAt.Delay(now)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.EnqueueJob(ctx, j); err != nil {
		if errors.Is(err, timeli.ErrJobAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("schedule job %s: %w", jobID, err)
	}

	s.logger.Debug("job scheduled",
		slog.String("job_id", j.ID),
		slog.String("job_kind", string(j.Kind)),
		slog.String("tenant_id", j.TenantID),
		slog.String("queue", j.Queue),
		slog.Time("run_at", j.RunAt),
	)
	s.extensions.EmitJobScheduled(ctx, j)
	return j, nil
}

// CancelJob removes a pending job. A missing job, or one a worker is
// already executing, is left alone and is not an error.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	if s.store == nil {
		return timeli.ErrNoStore
	}
	err := s.store.RemoveJob(ctx, jobID)
	switch {
	case err == nil:
		s.extensions.EmitJobCancelled(ctx, jobID)
		return nil
	case errors.Is(err, timeli.ErrJobNotFound):
		return nil
	case errors.Is(err, timeli.ErrJobRunning):
		s.logger.Debug("cancel skipped, job is running", slog.String("job_id", jobID))
		return nil
	default:
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
}

// GetJob returns a job or timeli.ErrJobNotFound.
func (s *Service) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	if s.store == nil {
		return nil, timeli.ErrNoStore
	}
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, timeli.ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return j, nil
}

// GetDeduplicatedJob reports whether a live (pending, retrying or running)
// job holds the dedup id. The job is returned whenever it exists.
func (s *Service) GetDeduplicatedJob(ctx context.Context, jobID string) (*job.Job, bool, error) {
	j, err := s.GetJob(ctx, jobID)
	if errors.Is(err, timeli.ErrJobNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return j, j.State.Live(), nil
}

// EnqueueHook schedules a hook job for immediate execution.
func (s *Service) EnqueueHook(ctx context.Context, tenantID, scope, method string, args ...any) (*job.Job, error) {
	return s.ScheduleJob(ctx, Request{
		TenantID:  tenantID,
		Kind:      job.KindHook,
		ExecuteAt: job.Now(),
		Hook:      &job.HookJob{Scope: scope, Method: method, Args: args},
	})
}

// ScheduleApp schedules an app job of type typ for app appID.
func (s *Service) ScheduleApp(ctx context.Context, tenantID, appID, typ string, data any, at job.ExecuteAt, opts ...RequestOption) (*job.Job, error) {
	req := Request{
		TenantID:  tenantID,
		Kind:      job.KindApp,
		ExecuteAt: at,
		App:       &job.AppJob{AppID: appID, Type: typ, Data: data},
	}
	for _, opt := range opts {
		opt(&req)
	}
	return s.ScheduleJob(ctx, req)
}

// Stats returns job counts for every configured queue.
func (s *Service) Stats(ctx context.Context) ([]*job.Stats, error) {
	if s.store == nil {
		return nil, timeli.ErrNoStore
	}
	out := make([]*job.Stats, 0, len(s.queues))
	for _, q := range s.queues {
		st, err := s.store.Stats(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("stats %s: %w", q, err)
		}
		out = append(out, st)
	}
	return out, nil
}
