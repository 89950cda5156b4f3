package scheduler

import (
	"log/slog"
	"time"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
	"github.com/jdziat/simple-delayed-requests/pkg/dispatch"
)

// Options holds per-call scheduling options.
type Options struct {
	Queue string
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{Queue: core.DefaultQueue}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// QueueOpt sets the queue name. An empty name keeps the default queue.
func QueueOpt(name string) Option {
	return optionFunc(func(o *Options) {
		if name != "" {
			o.Queue = name
		}
	})
}

// SchedulerOption configures a Scheduler at construction.
type SchedulerOption func(*config)

type config struct {
	logger          *slog.Logger
	sender          dispatch.Sender
	dispatchTimeout time.Duration
	maxAttempts     int
	maxAttemptsSet  bool
	recordGrace     time.Duration
	onEvent         core.EventHandler
	now             func() time.Time
}

// WithLogger sets the logger used by the scheduler and its listener.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSender replaces the HTTP client used to fire requests.
func WithSender(s dispatch.Sender) SchedulerOption {
	return func(c *config) { c.sender = s }
}

// WithDispatchTimeout bounds each outbound request.
func WithDispatchTimeout(d time.Duration) SchedulerOption {
	return func(c *config) { c.dispatchTimeout = d }
}

// WithMaxAllocationAttempts caps id allocation retries. Zero means no cap.
func WithMaxAllocationAttempts(n int) SchedulerOption {
	return func(c *config) {
		c.maxAttempts = n
		c.maxAttemptsSet = true
	}
}

// WithRecordGrace sets how long a record outlives its fire time.
func WithRecordGrace(d time.Duration) SchedulerOption {
	return func(c *config) { c.recordGrace = d }
}

// WithEventHandler receives every event synchronously.
func WithEventHandler(h core.EventHandler) SchedulerOption {
	return func(c *config) { c.onEvent = h }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}
