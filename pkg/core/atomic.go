package core

import "time"

// MutationType identifies the kind of write in an atomic operation.
type MutationType int

const (
	MutationSet MutationType = iota
	MutationDelete
	MutationSum
)

// Check requires Key to carry Versionstamp at commit time. A zero
// Versionstamp requires the key to be absent.
type Check struct {
	Key          Key
	Versionstamp Versionstamp
}

// Mutation is a single write.
type Mutation struct {
	Type     MutationType
	Key      Key
	Value    []byte
	Delta    uint64
	ExpireIn time.Duration
}

// Enqueue places Payload on the delayed channel, deliverable after Delay.
type Enqueue struct {
	Payload []byte
	Delay   time.Duration
}

// AtomicOperation collects checks, mutations and enqueues that commit
// together or not at all.
type AtomicOperation struct {
	Checks    []Check
	Mutations []Mutation
	Enqueues  []Enqueue
}

// SetOption configures a Set mutation.
type SetOption func(*Mutation)

// ExpireIn makes the stored value expire after d. Non-positive d means no TTL.
func ExpireIn(d time.Duration) SetOption {
	return func(m *Mutation) {
		m.ExpireIn = d
	}
}

// Atomic starts an empty atomic operation.
func Atomic() *AtomicOperation {
	return &AtomicOperation{}
}

// Check adds a versionstamp precondition.
func (op *AtomicOperation) Check(key Key, vs Versionstamp) *AtomicOperation {
	op.Checks = append(op.Checks, Check{Key: key, Versionstamp: vs})
	return op
}

// Set writes value under key.
func (op *AtomicOperation) Set(key Key, value []byte, opts ...SetOption) *AtomicOperation {
	m := Mutation{Type: MutationSet, Key: key, Value: value}
	for _, opt := range opts {
		opt(&m)
	}
	op.Mutations = append(op.Mutations, m)
	return op
}

// Delete removes key.
func (op *AtomicOperation) Delete(key Key) *AtomicOperation {
	op.Mutations = append(op.Mutations, Mutation{Type: MutationDelete, Key: key})
	return op
}

// Sum adds delta to the counter at key. An absent counter starts at zero.
func (op *AtomicOperation) Sum(key Key, delta uint64) *AtomicOperation {
	op.Mutations = append(op.Mutations, Mutation{Type: MutationSum, Key: key, Delta: delta})
	return op
}

// Enqueue schedules payload for delivery after delay. Negative delays are
// delivered immediately.
func (op *AtomicOperation) Enqueue(payload []byte, delay time.Duration) *AtomicOperation {
	if delay < 0 {
		delay = 0
	}
	op.Enqueues = append(op.Enqueues, Enqueue{Payload: payload, Delay: delay})
	return op
}
