package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvents_ImplementEvent(t *testing.T) {
	events := []Event{
		&JobScheduled{Job: &Job{ID: 1}, Attempts: 1, Timestamp: time.Now()},
		&JobDispatched{Job: &Job{ID: 1}, StatusCode: 200, Timestamp: time.Now()},
		&JobDispatched{Job: &Job{ID: 1}, Error: errors.New("refused"), Timestamp: time.Now()},
		&JobCancelled{ID: 1, Timestamp: time.Now()},
		&TriggerSkipped{Trigger: Trigger{ID: 1, Queue: "a"}, Timestamp: time.Now()},
		&AllocationConflict{Queue: "a", Attempt: 2, Timestamp: time.Now()},
	}
	for _, e := range events {
		assert.NotNil(t, e)
	}
}

func TestEventHandler_Receives(t *testing.T) {
	var got []Event
	var h EventHandler = func(e Event) { got = append(got, e) }

	h(&JobCancelled{ID: 7})
	h(&TriggerSkipped{Trigger: Trigger{ID: 8}})

	assert.Len(t, got, 2)
	cancelled, ok := got[0].(*JobCancelled)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), cancelled.ID)
}
