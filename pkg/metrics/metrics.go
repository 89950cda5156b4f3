// Package metrics exposes scheduler events as Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
)

// Dispatch outcomes
const (
	OutcomeOK          = "ok"
	OutcomeErrorStatus = "error_status"
	OutcomeSendFailed  = "send_failed"
)

// Collector counts scheduler events.
type Collector struct {
	scheduled  *prometheus.CounterVec
	dispatched *prometheus.CounterVec
	cancelled  prometheus.Counter
	skipped    prometheus.Counter
	conflicts  prometheus.Counter
	duration   prometheus.Histogram
}

// New creates a Collector and registers it with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		scheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "later_jobs_scheduled_total",
			Help: "Jobs committed with their trigger.",
		}, []string{"queue"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "later_jobs_dispatched_total",
			Help: "Jobs whose request was sent and record retired.",
		}, []string{"queue", "outcome"}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "later_jobs_cancelled_total",
			Help: "Pending jobs removed by cancel.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "later_triggers_skipped_total",
			Help: "Triggers that arrived for a job that no longer exists.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "later_allocation_conflicts_total",
			Help: "Id allocation attempts that lost a race and retried.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "later_dispatch_duration_seconds",
			Help:    "Time spent sending a job's request.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		return c, nil
	}
	for _, col := range c.collectors() {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{c.scheduled, c.dispatched, c.cancelled, c.skipped, c.conflicts, c.duration}
}

// Observe updates counters for e. It has the core.EventHandler signature.
func (c *Collector) Observe(e core.Event) {
	switch ev := e.(type) {
	case *core.JobScheduled:
		c.scheduled.WithLabelValues(ev.Job.Queue).Inc()
	case *core.JobDispatched:
		c.dispatched.WithLabelValues(ev.Job.Queue, outcome(ev)).Inc()
		c.duration.Observe(ev.Duration.Seconds())
	case *core.JobCancelled:
		c.cancelled.Inc()
	case *core.TriggerSkipped:
		c.skipped.Inc()
	case *core.AllocationConflict:
		c.conflicts.Inc()
	}
}

func outcome(ev *core.JobDispatched) string {
	switch {
	case ev.Error != nil:
		return OutcomeSendFailed
	case ev.StatusCode >= 400:
		return OutcomeErrorStatus
	default:
		return OutcomeOK
	}
}
