// Package jobctx provides public access to dispatch context for custom senders.
package jobctx

import (
	"context"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
	intctx "github.com/jdziat/simple-delayed-requests/pkg/internal/context"
)

// JobFromContext returns the job being dispatched, or nil outside a dispatch.
// Use this in a custom Sender to tag outbound requests or logs.
func JobFromContext(ctx context.Context) *core.Job {
	d := intctx.GetDelivery(ctx)
	if d == nil {
		return nil
	}
	return d.Job
}

// JobIDFromContext returns the id of the job being dispatched, or zero.
func JobIDFromContext(ctx context.Context) uint64 {
	job := JobFromContext(ctx)
	if job == nil {
		return 0
	}
	return job.ID
}

// AttemptFromContext returns how many times the current trigger has been
// delivered, counting this one. Zero outside a worker.
func AttemptFromContext(ctx context.Context) int {
	d := intctx.GetDelivery(ctx)
	if d == nil {
		return 0
	}
	return d.Attempt
}

// WorkerIDFromContext returns the id of the worker handling the trigger.
func WorkerIDFromContext(ctx context.Context) string {
	d := intctx.GetDelivery(ctx)
	if d == nil {
		return ""
	}
	return d.WorkerID
}
