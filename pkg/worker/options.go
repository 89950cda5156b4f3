// Package worker provides the Worker delivery loop for the later package.
package worker

import (
	"log/slog"
	"time"

	"github.com/jdziat/simple-delayed-requests/pkg/security"
)

// Defaults
const (
	DefaultConcurrency   = 10
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultLease         = time.Minute
	DefaultMaxDeliveries = 5
	DefaultSweepSchedule = "@every 1m"
)

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	Concurrency   int
	PollInterval  time.Duration
	WorkerID      string
	Lease         time.Duration
	MaxDeliveries int
	SweepSchedule string
	Logger        *slog.Logger

	// StorageRetry governs ack and release calls.
	StorageRetry *RetryConfig
	// DequeueRetry governs polling; it backs off harder during outages.
	DequeueRetry *RetryConfig
}

// HeartbeatInterval is how often a running handler's lease is extended.
func (c WorkerConfig) HeartbeatInterval() time.Duration {
	if d := c.Lease / 3; d > 0 {
		return d
	}
	return time.Millisecond
}

// Concurrency sets how many messages are handled at once.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// PollInterval sets how often the channel is polled when idle.
func PollInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.PollInterval = d
		}
	})
}

// WorkerID overrides the generated worker id.
func WorkerID(id string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if id != "" {
			c.WorkerID = id
		}
	})
}

// Lease sets how long a claimed message stays invisible to other workers.
func Lease(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.Lease = d
		}
	})
}

// MaxDeliveries sets how many times a message is delivered before it is
// dropped. Values are clamped to [1, MaxDeliveries].
func MaxDeliveries(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.MaxDeliveries = security.ClampDeliveries(n)
	})
}

// SweepSchedule sets the cron expression for the expiry sweeper. An empty
// string disables sweeping.
func SweepSchedule(expr string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.SweepSchedule = expr
	})
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if l != nil {
			c.Logger = l
		}
	})
}

// WithStorageRetry overrides the retry policy for ack and release calls.
func WithStorageRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StorageRetry = &cfg
	})
}

// WithDequeueRetry overrides the retry policy for polling.
func WithDequeueRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.DequeueRetry = &cfg
	})
}
