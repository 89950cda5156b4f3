package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
)

func TestDelivery_RoundTrip(t *testing.T) {
	assert.Nil(t, GetDelivery(context.Background()))

	d := &Delivery{WorkerID: "w1", MessageID: "m1", Attempt: 2}
	ctx := WithDelivery(context.Background(), d)
	assert.Same(t, d, GetDelivery(ctx))
}

func TestWithJob_FillsExistingDelivery(t *testing.T) {
	d := &Delivery{WorkerID: "w1"}
	ctx := WithDelivery(context.Background(), d)

	job := &core.Job{ID: 4, Queue: "a"}
	out := WithJob(ctx, job)

	assert.Equal(t, ctx, out)
	assert.Same(t, job, d.Job)
}

func TestWithJob_CreatesDelivery(t *testing.T) {
	job := &core.Job{ID: 4}
	ctx := WithJob(context.Background(), job)

	d := GetDelivery(ctx)
	if assert.NotNil(t, d) {
		assert.Same(t, job, d.Job)
		assert.Empty(t, d.WorkerID)
	}
}
