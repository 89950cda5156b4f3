package core

import "time"

// Event is the interface for all scheduler events.
type Event interface {
	eventMarker()
}

// EventHandler receives events. Handlers run on the emitting goroutine and
// must not block.
type EventHandler func(Event)

// JobScheduled is emitted after a job and its trigger are committed.
type JobScheduled struct {
	Job       *Job
	Attempts  int
	Timestamp time.Time
}

func (*JobScheduled) eventMarker() {}

// JobDispatched is emitted after the request was sent and the record retired.
// Error is set when the send failed; StatusCode is zero in that case.
type JobDispatched struct {
	Job        *Job
	StatusCode int
	Error      error
	Duration   time.Duration
	Timestamp  time.Time
}

func (*JobDispatched) eventMarker() {}

// JobCancelled is emitted when Cancel removed a pending job.
type JobCancelled struct {
	ID        uint64
	Timestamp time.Time
}

func (*JobCancelled) eventMarker() {}

// TriggerSkipped is emitted when a trigger arrives for a job that no longer
// exists.
type TriggerSkipped struct {
	Trigger   Trigger
	Timestamp time.Time
}

func (*TriggerSkipped) eventMarker() {}

// AllocationConflict is emitted each time an id allocation attempt loses a
// race and is retried.
type AllocationConflict struct {
	Queue     string
	Attempt   int
	Timestamp time.Time
}

func (*AllocationConflict) eventMarker() {}
