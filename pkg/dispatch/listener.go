package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
	intctx "github.com/jdziat/simple-delayed-requests/pkg/internal/context"
	"github.com/jdziat/simple-delayed-requests/pkg/registry"
	"github.com/jdziat/simple-delayed-requests/pkg/security"
)

const retireAttempts = 3

// Listener handles triggers from the delayed channel.
type Listener struct {
	registry *registry.Registry
	sender   Sender
	timeout  time.Duration
	logger   *slog.Logger
	onEvent  core.EventHandler
	now      func() time.Time
}

// Option configures a Listener.
type Option func(*Listener)

// WithSender replaces the default HTTP sender.
func WithSender(s Sender) Option {
	return func(l *Listener) {
		if s != nil {
			l.sender = s
		}
	}
}

// WithTimeout bounds each outbound request. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithEventHandler receives JobDispatched and TriggerSkipped events.
func WithEventHandler(h core.EventHandler) Option {
	return func(l *Listener) { l.onEvent = h }
}

// WithClock overrides the time source used for durations and events.
func WithClock(now func() time.Time) Option {
	return func(l *Listener) {
		if now != nil {
			l.now = now
		}
	}
}

// NewListener creates a listener that resolves triggers through reg.
func NewListener(reg *registry.Registry, opts ...Option) *Listener {
	l := &Listener{
		registry: reg,
		sender:   NewHTTPSender(),
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Handle processes one trigger payload. It returns an error only when the
// store could not be read or the record could not be retired; the caller
// should then redeliver.
func (l *Listener) Handle(ctx context.Context, payload []byte) error {
	var trigger core.Trigger
	if err := json.Unmarshal(payload, &trigger); err != nil {
		return core.NoRetry(fmt.Errorf("dispatch: decode trigger: %w", err))
	}

	job, vs, err := l.registry.Get(ctx, trigger.Queue, trigger.ID)
	if err != nil {
		return fmt.Errorf("dispatch: load job %d: %w", trigger.ID, err)
	}
	if job == nil {
		l.logger.Debug("trigger for missing job, skipping", "job_id", trigger.ID, "queue", trigger.Queue)
		l.emit(&core.TriggerSkipped{Trigger: trigger, Timestamp: l.now()})
		return nil
	}

	ctx = intctx.WithJob(ctx, job)
	start := l.now()
	status, sendErr := l.send(ctx, job)
	if sendErr != nil {
		l.logger.Warn("request failed",
			"job_id", job.ID,
			"queue", job.Queue,
			"url", job.Request.URL,
			"error", security.SanitizeErrorMessage(sendErr.Error()),
		)
	} else if status >= 400 {
		l.logger.Warn("request returned error status", "job_id", job.ID, "queue", job.Queue, "status", status)
	} else {
		l.logger.Debug("request sent", "job_id", job.ID, "queue", job.Queue, "status", status)
	}
	elapsed := l.now().Sub(start)

	if err := l.retire(ctx, job, vs); err != nil {
		return fmt.Errorf("dispatch: retire job %d: %w", job.ID, err)
	}

	l.emit(&core.JobDispatched{
		Job:        job,
		StatusCode: status,
		Error:      sendErr,
		Duration:   elapsed,
		Timestamp:  l.now(),
	})
	return nil
}

// send issues the stored request and drains the response.
func (l *Listener) send(ctx context.Context, job *core.Job) (int, error) {
	sendCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := job.Request.HTTPRequest(sendCtx)
	if err != nil {
		return 0, err
	}
	resp, err := l.sender.Send(sendCtx, req)
	if err != nil {
		return 0, err
	}
	defer drain(resp)
	return resp.StatusCode, nil
}

// retire deletes the record if it still carries vs. Losing the check means
// a cancel or a duplicate delivery already removed it.
func (l *Listener) retire(ctx context.Context, job *core.Job, vs core.Versionstamp) error {
	var err error
	for attempt := 1; attempt <= retireAttempts; attempt++ {
		var retired bool
		retired, err = l.registry.Retire(ctx, job, vs)
		if err == nil {
			if !retired {
				l.logger.Debug("job already retired", "job_id", job.ID, "queue", job.Queue)
			}
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}
	return err
}

func (l *Listener) emit(e core.Event) {
	if l.onEvent != nil {
		l.onEvent(e)
	}
}
