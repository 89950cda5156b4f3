package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
)

// Defaults
const (
	DefaultRecordGrace           = time.Hour
	DefaultMaxAllocationAttempts = 256
)

// Registry stores jobs under ("jobs", queue, id).
type Registry struct {
	kv          core.KV
	logger      *slog.Logger
	now         func() time.Time
	grace       time.Duration
	maxAttempts int
	onEvent     core.EventHandler
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithRecordGrace sets how long a record outlives its fire time before
// storage expiry may remove it.
func WithRecordGrace(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.grace = d
		}
	}
}

// WithMaxAllocationAttempts caps the allocation retry loop. Zero retries
// until success or context cancellation.
func WithMaxAllocationAttempts(n int) Option {
	return func(r *Registry) {
		if n >= 0 {
			r.maxAttempts = n
		}
	}
}

// WithEventHandler receives AllocationConflict events.
func WithEventHandler(h core.EventHandler) Option {
	return func(r *Registry) { r.onEvent = h }
}

// New creates a registry on kv.
func New(kv core.KV, opts ...Option) *Registry {
	r := &Registry{
		kv:          kv,
		logger:      slog.Default(),
		now:         time.Now,
		grace:       DefaultRecordGrace,
		maxAttempts: DefaultMaxAllocationAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the job at (queue, id) and its versionstamp, or nil when absent.
func (r *Registry) Get(ctx context.Context, queue string, id uint64) (*core.Job, core.Versionstamp, error) {
	entry, err := r.kv.Get(ctx, JobKey(queue, id))
	if err != nil || entry == nil {
		return nil, 0, err
	}
	job, err := decodeJob(entry)
	if err != nil {
		return nil, 0, err
	}
	return job, entry.Versionstamp, nil
}

// List yields the jobs in queue in id order. An empty queue lists every
// queue, ordered by queue name then id. Each call restarts the scan.
func (r *Registry) List(ctx context.Context, queue string) iter.Seq2[*core.Job, error] {
	prefix := QueuePrefix(queue)
	if queue == "" {
		prefix = JobsPrefix()
	}
	return func(yield func(*core.Job, error) bool) {
		for entry, err := range r.kv.List(ctx, core.ListSelector{Prefix: prefix}) {
			if err != nil {
				yield(nil, err)
				return
			}
			job, err := decodeJob(&entry)
			if err != nil {
				r.logger.Warn("skipping undecodable job record", "key", entry.Key.String(), "error", err)
				continue
			}
			if !yield(job, nil) {
				return
			}
		}
	}
}

// Remove deletes the job with id from whichever queue holds it. It reports
// false when no such job exists or a concurrent delete won.
func (r *Registry) Remove(ctx context.Context, id uint64) (bool, error) {
	for entry, err := range r.kv.List(ctx, core.ListSelector{Prefix: JobsPrefix()}) {
		if err != nil {
			return false, err
		}
		_, entryID, ok := splitJobKey(entry.Key)
		if !ok || entryID != id {
			continue
		}
		res, err := r.kv.Commit(ctx, core.Atomic().
			Check(entry.Key, entry.Versionstamp).
			Delete(entry.Key))
		if err != nil {
			return false, err
		}
		return res.OK, nil
	}
	return false, nil
}

// Retire deletes job if it still carries vs. A failed check means someone
// else already removed it, which callers treat as done.
func (r *Registry) Retire(ctx context.Context, job *core.Job, vs core.Versionstamp) (bool, error) {
	key := JobKey(job.Queue, job.ID)
	res, err := r.kv.Commit(ctx, core.Atomic().Check(key, vs).Delete(key))
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

func (r *Registry) emit(e core.Event) {
	if r.onEvent != nil {
		r.onEvent(e)
	}
}

func encodeJob(job *core.Job) ([]byte, error) {
	return json.Marshal(job)
}

// decodeJob reads a record. Queue and id always come from the key.
func decodeJob(entry *core.Entry) (*core.Job, error) {
	queue, id, ok := splitJobKey(entry.Key)
	if !ok {
		return nil, fmt.Errorf("%w: not a job key: %s", core.ErrInvalidKey, entry.Key)
	}
	var job core.Job
	if err := json.Unmarshal(entry.Value, &job); err != nil {
		return nil, fmt.Errorf("registry: decode job %d: %w", id, err)
	}
	job.ID = id
	job.Queue = queue
	return &job, nil
}
