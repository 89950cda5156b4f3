package core

import (
	"context"
	"iter"
	"time"
)

// Starter is the interface for starting workers.
type Starter interface {
	Start(ctx context.Context) error
}

// Versionstamp is the change token a store assigns to every committed write.
// Zero means the key is absent.
type Versionstamp uint64

// Entry is a live key/value pair as read from a KV store.
type Entry struct {
	Key          Key
	Value        []byte
	Versionstamp Versionstamp
}

// ListSelector chooses the keys a List call walks.
type ListSelector struct {
	// Prefix selects every key that strictly extends it.
	Prefix Key
	// Limit stops iteration after that many entries. Zero means no limit.
	Limit int
	// BatchSize is the page size fetched from the backend. Zero uses the
	// backend default.
	BatchSize int
}

// CommitResult reports the outcome of an atomic operation.
type CommitResult struct {
	// OK is false when a check failed and nothing was written.
	OK           bool
	Versionstamp Versionstamp
}

// Message is a delivery of a delayed payload.
type Message struct {
	ID         string
	Payload    []byte
	ReadyAt    time.Time
	Deliveries int
}

// KV is the transactional key/value contract the registry runs on.
type KV interface {
	// Get returns nil when the key is absent or expired.
	Get(ctx context.Context, key Key) (*Entry, error)

	// List iterates live entries in key order. Iteration is lazy and paged,
	// so it observes writes made while it runs. Calling the returned
	// sequence again restarts from the beginning.
	List(ctx context.Context, sel ListSelector) iter.Seq2[Entry, error]

	// Commit applies op atomically. A failed check is not an error.
	Commit(ctx context.Context, op *AtomicOperation) (CommitResult, error)
}

// DelayedQueue is the delayed-message channel. Delivery is at least once.
type DelayedQueue interface {
	// DequeueMessage leases the next ready message, or returns nil.
	DequeueMessage(ctx context.Context, workerID string, lease time.Duration) (*Message, error)

	// AckMessage removes a delivered message.
	AckMessage(ctx context.Context, id, workerID string) error

	// RetryMessage releases the lease and schedules redelivery at readyAt.
	RetryMessage(ctx context.Context, id, workerID string, readyAt time.Time) error

	// ExtendLease pushes the lease on a held message to now+lease. It
	// returns ErrMessageNotOwned when workerID no longer holds it.
	ExtendLease(ctx context.Context, id, workerID string, lease time.Duration) error
}

// Storage is a full backend: KV, delayed channel and housekeeping.
type Storage interface {
	KV
	DelayedQueue

	// Migrate creates the tables or indexes the backend needs.
	Migrate(ctx context.Context) error

	// SweepExpired removes entries whose TTL has passed.
	SweepExpired(ctx context.Context) (int64, error)

	Close() error
}
