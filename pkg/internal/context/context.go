// Package context provides context helpers for the later package.
package context

import (
	"context"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
)

// DeliveryKey is the key for storing delivery state in context.Context.
type DeliveryKey struct{}

// Delivery describes one delivery of a delayed message. The worker creates
// it; the dispatch listener fills in Job once the record is loaded.
type Delivery struct {
	WorkerID  string
	MessageID string
	Attempt   int
	Job       *core.Job
}

// GetDelivery retrieves the delivery from a context.Context.
func GetDelivery(ctx context.Context) *Delivery {
	if d, ok := ctx.Value(DeliveryKey{}).(*Delivery); ok {
		return d
	}
	return nil
}

// WithDelivery adds delivery state to a context.Context.
func WithDelivery(ctx context.Context, d *Delivery) context.Context {
	return context.WithValue(ctx, DeliveryKey{}, d)
}

// WithJob records job on the delivery in ctx, creating one if needed.
func WithJob(ctx context.Context, job *core.Job) context.Context {
	if d := GetDelivery(ctx); d != nil {
		d.Job = job
		return ctx
	}
	return WithDelivery(ctx, &Delivery{Job: job})
}
