package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
	intctx "github.com/jdziat/simple-delayed-requests/pkg/internal/context"
	"github.com/jdziat/simple-delayed-requests/pkg/schedule"
)

// Handler processes one message payload. Returning an error schedules a
// redelivery unless the error is a core.NoRetryError.
type Handler func(ctx context.Context, payload []byte) error

// Sweeper removes expired entries. core.Storage implementations satisfy it.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Worker leases messages from a core.DelayedQueue and runs the handler.
type Worker struct {
	queue   core.DelayedQueue
	handler Handler
	config  WorkerConfig
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewWorker creates a new worker for the given channel. If q also
// implements Sweeper, Start runs the expiry sweeper on SweepSchedule.
func NewWorker(q core.DelayedQueue, h Handler, opts ...WorkerOption) *Worker {
	config := WorkerConfig{
		Concurrency:   DefaultConcurrency,
		PollInterval:  DefaultPollInterval,
		WorkerID:      uuid.New().String(),
		Lease:         DefaultLease,
		MaxDeliveries: DefaultMaxDeliveries,
		SweepSchedule: DefaultSweepSchedule,
		Logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}

	if config.StorageRetry == nil {
		defaultCfg := DefaultRetryConfig()
		config.StorageRetry = &defaultCfg
	}
	if config.DequeueRetry == nil {
		// Use longer backoff for dequeue to avoid hammering the store during outages
		dequeueCfg := RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			JitterFraction:    0.2,
		}
		config.DequeueRetry = &dequeueCfg
	}

	return &Worker{
		queue:   q,
		handler: h,
		config:  config,
		logger:  config.Logger.With("worker_id", config.WorkerID),
	}
}

// ID returns the worker id used for leases.
func (w *Worker) ID() string {
	return w.config.WorkerID
}

// Config returns a copy of the effective configuration.
func (w *Worker) Config() WorkerConfig {
	return w.config
}

// Start begins delivering messages. Blocks until ctx is cancelled, then
// waits for in-flight handlers before returning ctx.Err().
func (w *Worker) Start(ctx context.Context) error {
	var sweep schedule.Schedule
	if sweeper, ok := w.queue.(Sweeper); ok && w.config.SweepSchedule != "" {
		s, err := schedule.Cron(w.config.SweepSchedule)
		if err != nil {
			return err
		}
		sweep = s
		w.wg.Add(1)
		go w.runSweeper(ctx, sweeper, sweep)
	}

	slots := make(chan struct{}, w.config.Concurrency)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started",
		"concurrency", w.config.Concurrency,
		"poll_interval", w.config.PollInterval,
		"lease", w.config.Lease,
		"sweeping", sweep != nil,
	)

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info("worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx, slots)
		}
	}
}

// poll claims ready messages while a handler slot is free. A message is
// only leased once a goroutine can start on it, so no lease runs down
// while the message waits in a buffer.
func (w *Worker) poll(ctx context.Context, slots chan struct{}) {
	for {
		select {
		case slots <- struct{}{}:
		default:
			return
		}

		msg, err := w.dequeueWithRetry(ctx)
		if err != nil || msg == nil {
			<-slots
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				w.logger.Error("failed to dequeue after retries", "error", err)
			}
			return
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-slots }()
			w.processMessage(ctx, msg)
		}()
	}
}

// Drain handles every message that is ready now on the calling goroutine
// and returns how many were handled. Messages that become ready while
// draining are picked up too.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		msg, err := w.dequeueWithRetry(ctx)
		if err != nil {
			return n, err
		}
		if msg == nil {
			return n, nil
		}
		w.processMessage(ctx, msg)
		n++
	}
}

// dequeueWithRetry attempts to claim a message with exponential backoff on failure.
func (w *Worker) dequeueWithRetry(ctx context.Context) (*core.Message, error) {
	var msg *core.Message
	err := retryWithBackoff(ctx, *w.config.DequeueRetry, func() error {
		var dequeueErr error
		msg, dequeueErr = w.queue.DequeueMessage(ctx, w.config.WorkerID, w.config.Lease)
		return dequeueErr
	})
	return msg, err
}

func (w *Worker) processMessage(ctx context.Context, msg *core.Message) {
	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, msg)

	err := w.executeHandler(ctx, msg)

	// Stop extending before the message is acked or released.
	cancelHeartbeat()

	if err == nil {
		w.ack(ctx, msg)
		return
	}
	w.handleError(ctx, msg, err)
}

// runHeartbeat extends the lease on msg while its handler runs, so a slow
// handler is not redelivered to another goroutine or worker.
func (w *Worker) runHeartbeat(ctx context.Context, msg *core.Message) {
	ticker := time.NewTicker(w.config.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
				return w.queue.ExtendLease(ctx, msg.ID, w.config.WorkerID, w.config.Lease)
			})
			switch {
			case err == nil:
				w.logger.Debug("lease extended", "message_id", msg.ID)
			case errors.Is(err, core.ErrMessageNotOwned):
				w.logger.Warn("lease lost while handling", "message_id", msg.ID)
				return
			case ctx.Err() != nil:
				return
			default:
				w.logger.Warn("lease extension failed after retries", "message_id", msg.ID, "error", err)
			}
		}
	}
}

func (w *Worker) executeHandler(ctx context.Context, msg *core.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	dctx := intctx.WithDelivery(ctx, &intctx.Delivery{
		WorkerID:  w.config.WorkerID,
		MessageID: msg.ID,
		Attempt:   msg.Deliveries,
	})
	return w.handler(dctx, msg.Payload)
}

func (w *Worker) handleError(ctx context.Context, msg *core.Message, err error) {
	var noRetry *core.NoRetryError
	if errors.As(err, &noRetry) {
		w.logger.Warn("dropping message", "message_id", msg.ID, "error", err)
		w.ack(ctx, msg)
		return
	}

	if msg.Deliveries >= w.config.MaxDeliveries {
		w.logger.Error("dropping message after max deliveries",
			"message_id", msg.ID,
			"deliveries", msg.Deliveries,
			"error", err,
		)
		w.ack(ctx, msg)
		return
	}

	delay := RedeliveryConfig().Delay(msg.Deliveries)
	var retryAfter *core.RetryAfterError
	if errors.As(err, &retryAfter) {
		delay = retryAfter.Delay
	}
	retryAt := time.Now().Add(delay)

	w.logger.Warn("handler failed, redelivering",
		"message_id", msg.ID,
		"deliveries", msg.Deliveries,
		"retry_at", retryAt,
		"error", err,
	)
	releaseErr := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return w.queue.RetryMessage(ctx, msg.ID, w.config.WorkerID, retryAt)
	})
	w.logStorageResult("release", msg, releaseErr)
}

// ack removes msg with retry on transient storage failures.
func (w *Worker) ack(ctx context.Context, msg *core.Message) {
	err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return w.queue.AckMessage(ctx, msg.ID, w.config.WorkerID)
	})
	w.logStorageResult("ack", msg, err)
}

func (w *Worker) logStorageResult(op string, msg *core.Message, err error) {
	switch {
	case err == nil:
	case errors.Is(err, core.ErrMessageNotOwned):
		// Lease expired mid-handling; the next holder owns the message now.
		w.logger.Debug("lease lost before "+op, "message_id", msg.ID)
	default:
		w.logger.Error(op+" failed after retries", "message_id", msg.ID, "error", err)
	}
}

func (w *Worker) runSweeper(ctx context.Context, sweeper Sweeper, s schedule.Schedule) {
	defer w.wg.Done()

	for {
		next := s.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			n, err := sweeper.SweepExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Warn("expiry sweep failed", "error", err)
				}
				continue
			}
			if n > 0 {
				w.logger.Debug("expiry sweep", "removed", n)
			}
		}
	}
}
