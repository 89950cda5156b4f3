package scheduler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
	"github.com/jdziat/simple-delayed-requests/pkg/dispatch"
	"github.com/jdziat/simple-delayed-requests/pkg/registry"
	"github.com/jdziat/simple-delayed-requests/pkg/schedule"
	"github.com/jdziat/simple-delayed-requests/pkg/security"
	"github.com/jdziat/simple-delayed-requests/pkg/worker"
)

// Scheduler schedules, lists and cancels delayed requests.
type Scheduler struct {
	storage  core.Storage
	registry *registry.Registry
	listener *dispatch.Listener
	logger   *slog.Logger
	now      func() time.Time
	onEvent  core.EventHandler

	mu        sync.RWMutex
	eventSubs []chan core.Event
}

// New creates a Scheduler on s. The store must already be migrated.
func New(s core.Storage, opts ...SchedulerOption) *Scheduler {
	cfg := &config{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	sc := &Scheduler{
		storage: s,
		logger:  cfg.logger,
		now:     cfg.now,
		onEvent: cfg.onEvent,
	}

	regOpts := []registry.Option{
		registry.WithLogger(cfg.logger),
		registry.WithClock(cfg.now),
		registry.WithRecordGrace(cfg.recordGrace),
		registry.WithEventHandler(sc.Emit),
	}
	if cfg.maxAttemptsSet {
		regOpts = append(regOpts, registry.WithMaxAllocationAttempts(cfg.maxAttempts))
	}
	sc.registry = registry.New(s, regOpts...)

	sc.listener = dispatch.NewListener(sc.registry,
		dispatch.WithSender(cfg.sender),
		dispatch.WithTimeout(cfg.dispatchTimeout),
		dispatch.WithLogger(cfg.logger),
		dispatch.WithEventHandler(sc.Emit),
		dispatch.WithClock(cfg.now),
	)
	return sc
}

// Schedule registers req to be sent at fireAt and returns the job id. A
// fireAt in the past fires as soon as a worker picks it up.
func (s *Scheduler) Schedule(ctx context.Context, req core.Request, fireAt time.Time, opts ...Option) (uint64, error) {
	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}

	if err := security.ValidateQueueName(options.Queue); err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrInvalidRequest, err)
	}
	req, err := normalize(req, fireAt)
	if err != nil {
		return 0, err
	}

	job := &core.Job{
		Queue:   options.Queue,
		Request: req,
		FireAt:  fireAt,
	}
	id, attempts, err := s.registry.Create(ctx, job)
	if err != nil {
		return 0, fmt.Errorf("later: schedule: %w", err)
	}

	s.logger.Debug("job scheduled",
		"job_id", id,
		"queue", job.Queue,
		"fire_at", fireAt,
		"attempts", attempts,
	)
	s.Emit(&core.JobScheduled{Job: job, Attempts: attempts, Timestamp: s.now()})
	return id, nil
}

// ScheduleAt resolves target and at with Resolve, then schedules the
// request.
func (s *Scheduler) ScheduleAt(ctx context.Context, target any, at string, opts ...Option) (uint64, error) {
	req, fireAt, err := s.Resolve(target, at)
	if err != nil {
		return 0, err
	}
	return s.Schedule(ctx, req, fireAt, opts...)
}

// Resolve turns target into a request and at into a fire time. target may
// be a core.Request, *http.Request, *url.URL or a URL string. at accepts
// the forms understood by schedule.Parse.
func (s *Scheduler) Resolve(target any, at string) (core.Request, time.Time, error) {
	fireAt, err := schedule.Parse(at, s.now())
	if err != nil {
		return core.Request{}, time.Time{}, fmt.Errorf("%w: %w", core.ErrInvalidRequest, err)
	}

	var req core.Request
	switch t := target.(type) {
	case core.Request:
		req = t
	case *core.Request:
		if t == nil {
			return core.Request{}, time.Time{}, fmt.Errorf("%w: nil request", core.ErrInvalidRequest)
		}
		req = *t
	case *http.Request:
		if t == nil {
			return core.Request{}, time.Time{}, fmt.Errorf("%w: nil request", core.ErrInvalidRequest)
		}
		if req, err = core.SnapshotRequest(t); err != nil {
			return core.Request{}, time.Time{}, fmt.Errorf("%w: %w", core.ErrInvalidRequest, err)
		}
	case *url.URL:
		if t == nil {
			return core.Request{}, time.Time{}, fmt.Errorf("%w: nil url", core.ErrInvalidRequest)
		}
		req = core.Request{Method: http.MethodGet, URL: t.String()}
	case string:
		req = core.Request{Method: http.MethodGet, URL: t}
	default:
		return core.Request{}, time.Time{}, fmt.Errorf("%w: unsupported target type %T", core.ErrInvalidRequest, target)
	}
	return req, fireAt, nil
}

// List yields pending jobs in queue, or in every queue when queue is empty.
func (s *Scheduler) List(ctx context.Context, queue string) iter.Seq2[*core.Job, error] {
	return s.registry.List(ctx, queue)
}

// Cancel removes the pending jobs with the given ids. Unknown ids and jobs
// that already fired are skipped. The first storage error stops the loop.
func (s *Scheduler) Cancel(ctx context.Context, ids ...uint64) error {
	for _, id := range ids {
		removed, err := s.registry.Remove(ctx, id)
		if err != nil {
			return fmt.Errorf("later: cancel %d: %w", id, err)
		}
		if !removed {
			s.logger.Debug("cancel of unknown job", "job_id", id)
			continue
		}
		s.logger.Debug("job cancelled", "job_id", id)
		s.Emit(&core.JobCancelled{ID: id, Timestamp: s.now()})
	}
	return nil
}

// Get returns the pending job with id, or nil.
func (s *Scheduler) Get(ctx context.Context, id uint64) (*core.Job, error) {
	for job, err := range s.registry.List(ctx, "") {
		if err != nil {
			return nil, err
		}
		if job.ID == id {
			return job, nil
		}
	}
	return nil, nil
}

// Listener returns the handler for the delayed channel.
func (s *Scheduler) Listener() *dispatch.Listener {
	return s.listener
}

// Registry returns the underlying job registry.
func (s *Scheduler) Registry() *registry.Registry {
	return s.registry
}

// Storage returns the underlying storage.
func (s *Scheduler) Storage() core.Storage {
	return s.storage
}

// NewWorker creates a worker that feeds due triggers to this scheduler's
// listener.
func (s *Scheduler) NewWorker(opts ...worker.WorkerOption) *worker.Worker {
	opts = append([]worker.WorkerOption{worker.WithLogger(s.logger)}, opts...)
	return worker.NewWorker(s.storage, s.listener.Handle, opts...)
}

// Events returns a channel for receiving scheduler events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (s *Scheduler) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	s.mu.Lock()
	s.eventSubs = append(s.eventSubs, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed; callers must stop reading before calling it.
func (s *Scheduler) Unsubscribe(ch <-chan core.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.eventSubs {
		if sub == ch {
			s.eventSubs = append(s.eventSubs[:i], s.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit passes e to the event handler and every subscriber. Slow
// subscribers miss events rather than block the caller.
func (s *Scheduler) Emit(e core.Event) {
	if s.onEvent != nil {
		s.onEvent(e)
	}

	s.mu.RLock()
	subs := make([]chan core.Event, len(s.eventSubs))
	copy(subs, s.eventSubs)
	s.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// normalize validates req and returns the copy that will be stored.
func normalize(req core.Request, fireAt time.Time) (core.Request, error) {
	method, err := security.NormalizeMethod(req.Method)
	if err != nil {
		return req, err
	}
	target, err := security.ValidateTarget(req.URL)
	if err != nil {
		return req, err
	}
	if err := security.ValidateBody(method, req.Body); err != nil {
		if errors.Is(err, core.ErrInvalidRequest) {
			return req, err
		}
		return req, fmt.Errorf("%w: %w", core.ErrInvalidRequest, err)
	}
	if fireAt.IsZero() {
		return req, fmt.Errorf("%w: missing fire time", core.ErrInvalidRequest)
	}

	out := core.Request{
		Method:  method,
		URL:     target,
		Headers: core.NormalizeHeaders(req.Header()),
	}
	if len(req.Body) > 0 {
		out.Body = append([]byte(nil), req.Body...)
	}
	return out.WithHeader("date", fireAt.UTC().Format(http.TimeFormat)), nil
}
