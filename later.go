// Package later schedules one-shot HTTP requests to be sent at a future time.
//
// This is the main package users should import. It re-exports the public
// types from the internal pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Open storage and create the scheduler
//	store, _ := later.OpenSQL("later.db")
//	store.Migrate(context.Background())
//	sched := later.New(store)
//
//	// Send a request in ten minutes
//	id, _ := sched.Schedule(ctx, later.Request{
//	    Method: "POST",
//	    URL:    "https://example.com/hook",
//	    Body:   []byte(`{"ok":true}`),
//	}, time.Now().Add(10*time.Minute))
//
//	// Deliver due requests
//	worker := sched.NewWorker()
//	worker.Start(ctx)
package later

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
	"github.com/jdziat/simple-delayed-requests/pkg/dispatch"
	"github.com/jdziat/simple-delayed-requests/pkg/jobctx"
	"github.com/jdziat/simple-delayed-requests/pkg/schedule"
	"github.com/jdziat/simple-delayed-requests/pkg/scheduler"
	"github.com/jdziat/simple-delayed-requests/pkg/security"
	"github.com/jdziat/simple-delayed-requests/pkg/worker"
)

type (
	// Job is a pending delayed request.
	Job = core.Job

	// Request is the stored snapshot of an outbound request.
	Request = core.Request

	// Header is one stored header line.
	Header = core.Header

	// Storage is the key-value store plus delayed channel the scheduler runs on.
	Storage = core.Storage

	// Event is the interface for all scheduler events.
	Event = core.Event

	// EventHandler receives events synchronously.
	EventHandler = core.EventHandler

	// JobScheduled is emitted after a job is committed.
	JobScheduled = core.JobScheduled

	// JobDispatched is emitted after a job's request was sent.
	JobDispatched = core.JobDispatched

	// JobCancelled is emitted when Cancel removed a job.
	JobCancelled = core.JobCancelled

	// TriggerSkipped is emitted for a trigger whose job is gone.
	TriggerSkipped = core.TriggerSkipped

	// AllocationConflict is emitted when id allocation retries.
	AllocationConflict = core.AllocationConflict

	// Scheduler schedules, lists and cancels delayed requests.
	Scheduler = scheduler.Scheduler

	// Option modifies per-call Options.
	Option = scheduler.Option

	// SchedulerOption configures a Scheduler.
	SchedulerOption = scheduler.SchedulerOption

	// Sender performs outbound requests.
	Sender = dispatch.Sender

	// SenderFunc adapts a function to Sender.
	SenderFunc = dispatch.SenderFunc

	// Worker delivers due triggers.
	Worker = worker.Worker

	// WorkerOption configures a Worker.
	WorkerOption = worker.WorkerOption
)

// DefaultQueue is the queue used when none is given.
const DefaultQueue = core.DefaultQueue

// Security limits
const (
	MaxRequestBodySize = security.MaxRequestBodySize
	MaxQueueNameLength = security.MaxQueueNameLength
)

// New creates a Scheduler on s. Call s.Migrate first.
func New(s Storage, opts ...SchedulerOption) *Scheduler {
	return scheduler.New(s, opts...)
}

// ParseTime parses an absolute timestamp, a unix millisecond count or a
// "+duration" offset from now.
func ParseTime(s string) (time.Time, error) {
	return schedule.Parse(s, time.Now())
}

// SnapshotRequest captures req for scheduling. The body is read and drained.
func SnapshotRequest(req *http.Request) (Request, error) {
	return core.SnapshotRequest(req)
}

// Per-call options

// QueueOpt sets the queue name.
func QueueOpt(name string) Option {
	return scheduler.QueueOpt(name)
}

// Scheduler options

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return scheduler.WithLogger(l)
}

// WithSender replaces the HTTP client used to fire requests.
func WithSender(s Sender) SchedulerOption {
	return scheduler.WithSender(s)
}

// WithDispatchTimeout bounds each outbound request.
func WithDispatchTimeout(d time.Duration) SchedulerOption {
	return scheduler.WithDispatchTimeout(d)
}

// WithMaxAllocationAttempts caps id allocation retries. Zero means no cap.
func WithMaxAllocationAttempts(n int) SchedulerOption {
	return scheduler.WithMaxAllocationAttempts(n)
}

// WithRecordGrace sets how long a record outlives its fire time.
func WithRecordGrace(d time.Duration) SchedulerOption {
	return scheduler.WithRecordGrace(d)
}

// WithEventHandler receives every event synchronously.
func WithEventHandler(h EventHandler) SchedulerOption {
	return scheduler.WithEventHandler(h)
}

// Worker options

// Concurrency sets how many triggers are handled at once.
func Concurrency(n int) WorkerOption {
	return worker.Concurrency(n)
}

// PollInterval sets how often the worker polls for due triggers.
func PollInterval(d time.Duration) WorkerOption {
	return worker.PollInterval(d)
}

// SweepSchedule sets the cron expression for the expiry sweeper.
func SweepSchedule(expr string) WorkerOption {
	return worker.SweepSchedule(expr)
}

// JobFromContext returns the job being dispatched, or nil. Custom senders
// can use it for logging or routing.
func JobFromContext(ctx context.Context) *Job {
	return jobctx.JobFromContext(ctx)
}

// JobIDFromContext returns the id of the job being dispatched, or 0.
func JobIDFromContext(ctx context.Context) uint64 {
	return jobctx.JobIDFromContext(ctx)
}
