package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
)

// Create allocates an id for job, persists it and enqueues its trigger in
// one atomic operation. On success job.ID and job.CreatedAt are set and the
// number of attempts taken is returned with the id.
//
// A lost race retries from a fresh counter read. After maxAttempts losses
// Create returns ErrContention. Storage errors are returned immediately.
func (r *Registry) Create(ctx context.Context, job *core.Job) (uint64, int, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, attempt - 1, err
		}

		id, ok, err := r.attempt(ctx, job)
		if err != nil {
			return 0, attempt, err
		}
		if ok {
			return id, attempt, nil
		}

		r.logger.Debug("id allocation conflict, retrying", "queue", job.Queue, "attempt", attempt)
		r.emit(&core.AllocationConflict{Queue: job.Queue, Attempt: attempt, Timestamp: r.now()})

		if r.maxAttempts > 0 && attempt >= r.maxAttempts {
			return 0, attempt, fmt.Errorf("%w (%d attempts)", core.ErrContention, attempt)
		}
	}
}

// attempt makes one allocation try. ok is false when another writer changed
// the counter or the candidate key between the read and the commit.
func (r *Registry) attempt(ctx context.Context, job *core.Job) (uint64, bool, error) {
	counterKey := CounterKey()
	counter, err := r.kv.Get(ctx, counterKey)
	if err != nil {
		return 0, false, err
	}

	var (
		last uint64
		vs   core.Versionstamp
	)
	if counter != nil {
		if last, err = core.DecodeU64(counter.Value); err != nil {
			return 0, false, err
		}
		vs = counter.Versionstamp
	}

	now := r.now()
	candidate := *job
	candidate.ID = last + 1
	candidate.CreatedAt = now

	value, err := encodeJob(&candidate)
	if err != nil {
		return 0, false, err
	}
	trigger, err := json.Marshal(core.Trigger{ID: candidate.ID, Queue: candidate.Queue})
	if err != nil {
		return 0, false, err
	}

	delay := max(candidate.FireAt.Sub(now), 0)
	key := JobKey(candidate.Queue, candidate.ID)

	res, err := r.kv.Commit(ctx, core.Atomic().
		Check(counterKey, vs).
		Check(key, 0).
		Set(key, value, core.ExpireIn(delay+r.grace)).
		Enqueue(trigger, delay).
		Sum(counterKey, 1))
	if err != nil || !res.OK {
		return 0, false, err
	}

	*job = candidate
	return candidate.ID, true, nil
}

// Expiry returns the TTL Create gives a record firing at fireAt.
func (r *Registry) Expiry(fireAt time.Time) time.Duration {
	return max(fireAt.Sub(r.now()), 0) + r.grace
}
