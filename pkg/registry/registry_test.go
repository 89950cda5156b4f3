package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
	"github.com/jdziat/simple-delayed-requests/pkg/storage"
)

func newTestStore(t *testing.T) *storage.GormStorage {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")

	s := storage.NewGormStorage(db)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

func newJob(queue string, fireAt time.Time) *core.Job {
	return &core.Job{
		Queue:   queue,
		FireAt:  fireAt,
		Request: core.Request{Method: "POST", URL: "http://localhost/hook", Body: []byte("x")},
	}
}

func listIDs(t *testing.T, r *Registry, queue string) []uint64 {
	t.Helper()
	var ids []uint64
	for job, err := range r.List(context.Background(), queue) {
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	return ids
}

// conflictKV rejects the first n commits as if another writer won.
type conflictKV struct {
	core.KV
	remaining atomic.Int32
	commits   atomic.Int32
}

func (c *conflictKV) Commit(ctx context.Context, op *core.AtomicOperation) (core.CommitResult, error) {
	c.commits.Add(1)
	if c.remaining.Add(-1) >= 0 {
		return core.CommitResult{}, nil
	}
	return c.KV.Commit(ctx, op)
}

// failingKV fails every call with a storage error.
type failingKV struct{ core.KV }

func (failingKV) Get(context.Context, core.Key) (*core.Entry, error) {
	return nil, core.StorageFailure("get", errors.New("connection reset"))
}

// ──────────────────────────────────────────────────────────────────────────────
// Create / allocation
// ──────────────────────────────────────────────────────────────────────────────

func TestCreate_SequentialIDs(t *testing.T) {
	ctx := context.Background()
	r := New(newTestStore(t))

	for want := uint64(1); want <= 3; want++ {
		job := newJob("a", time.Now().Add(time.Hour))
		id, attempts, err := r.Create(ctx, job)
		require.NoError(t, err)
		assert.Equal(t, want, id)
		assert.Equal(t, want, job.ID)
		assert.Equal(t, 1, attempts)
		assert.False(t, job.CreatedAt.IsZero())
	}
}

func TestCreate_WritesRecordCounterAndTrigger(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := New(s)

	job := newJob("b", time.Now().Add(-time.Minute))
	id, _, err := r.Create(ctx, job)
	require.NoError(t, err)

	got, vs, err := r.Get(ctx, "b", id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotZero(t, vs)
	assert.Equal(t, "POST", got.Request.Method)
	assert.Equal(t, []byte("x"), got.Request.Body)
	assert.True(t, got.FireAt.Equal(job.FireAt))

	counter, err := s.Get(ctx, CounterKey())
	require.NoError(t, err)
	n, err := core.DecodeU64(counter.Value)
	require.NoError(t, err)
	assert.Equal(t, id, n)

	// Past fire time: trigger is deliverable now.
	msg, err := s.DequeueMessage(ctx, "w", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, msg)
	var trig core.Trigger
	require.NoError(t, json.Unmarshal(msg.Payload, &trig))
	assert.Equal(t, core.Trigger{ID: id, Queue: "b"}, trig)
}

func TestCreate_FutureTriggerNotVisible(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := New(s)

	_, _, err := r.Create(ctx, newJob("a", time.Now().Add(time.Hour)))
	require.NoError(t, err)

	msg, err := s.DequeueMessage(ctx, "w", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestCreate_ConcurrentIDsContiguous(t *testing.T) {
	ctx := context.Background()
	r := New(newTestStore(t), WithMaxAllocationAttempts(0))

	// Seed so the batch starts after an existing id.
	_, _, err := r.Create(ctx, newJob("a", time.Now().Add(time.Hour)))
	require.NoError(t, err)

	const n = 20
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids []uint64
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			queue := "a"
			if i%2 == 1 {
				queue = "b"
			}
			id, _, err := r.Create(ctx, newJob(queue, time.Now().Add(time.Hour)))
			if assert.NoError(t, err) {
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	require.Len(t, ids, n)
	for i, id := range ids {
		assert.Equal(t, uint64(i+2), id)
	}
}

func TestCreate_RetriesAfterConflict(t *testing.T) {
	ctx := context.Background()
	kv := &conflictKV{KV: newTestStore(t)}
	kv.remaining.Store(3)

	var conflicts []int
	r := New(kv, WithEventHandler(func(e core.Event) {
		if c, ok := e.(*core.AllocationConflict); ok {
			conflicts = append(conflicts, c.Attempt)
		}
	}))

	id, attempts, err := r.Create(ctx, newJob("a", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, []int{1, 2, 3}, conflicts)
}

func TestCreate_ContentionCap(t *testing.T) {
	ctx := context.Background()
	kv := &conflictKV{KV: newTestStore(t)}
	kv.remaining.Store(100)

	r := New(kv, WithMaxAllocationAttempts(5))
	_, attempts, err := r.Create(ctx, newJob("a", time.Now()))
	assert.ErrorIs(t, err, core.ErrContention)
	assert.Equal(t, 5, attempts)
	assert.Equal(t, int32(5), kv.commits.Load())
}

func TestCreate_ContextCancelledStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	kv := &conflictKV{KV: newTestStore(t)}
	kv.remaining.Store(1 << 20)

	r := New(kv, WithMaxAllocationAttempts(0), WithEventHandler(func(e core.Event) {
		if c, ok := e.(*core.AllocationConflict); ok && c.Attempt == 3 {
			cancel()
		}
	}))

	_, _, err := r.Create(ctx, newJob("a", time.Now()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCreate_StorageErrorSurfaces(t *testing.T) {
	r := New(failingKV{KV: newTestStore(t)})
	_, _, err := r.Create(context.Background(), newJob("a", time.Now()))
	assert.ErrorIs(t, err, core.ErrStorageUnavailable)
}

func TestCreate_RecordExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(newTestStore(t), WithClock(func() time.Time { return now }), WithRecordGrace(10*time.Minute))

	assert.Equal(t, 70*time.Minute, r.Expiry(now.Add(time.Hour)))
	assert.Equal(t, 10*time.Minute, r.Expiry(now.Add(-time.Hour)))
}

// ──────────────────────────────────────────────────────────────────────────────
// List
// ──────────────────────────────────────────────────────────────────────────────

func TestList_PerQueueAndAll(t *testing.T) {
	ctx := context.Background()
	r := New(newTestStore(t))

	for range 8 {
		_, _, err := r.Create(ctx, newJob("a", time.Now().Add(time.Hour)))
		require.NoError(t, err)
	}
	idB, _, err := r.Create(ctx, newJob("b", time.Now().Add(time.Hour)))
	require.NoError(t, err)

	assert.Len(t, listIDs(t, r, "a"), 8)
	assert.Equal(t, []uint64{idB}, listIDs(t, r, "b"))
	assert.Len(t, listIDs(t, r, ""), 9)
	assert.Empty(t, listIDs(t, r, "c"))
}

func TestList_QueueNameIsNotAPrefixMatch(t *testing.T) {
	ctx := context.Background()
	r := New(newTestStore(t))

	_, _, err := r.Create(ctx, newJob("a", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	_, _, err = r.Create(ctx, newJob("ab", time.Now().Add(time.Hour)))
	require.NoError(t, err)

	assert.Equal(t, []uint64{1}, listIDs(t, r, "a"))
}

func TestList_EarlyBreak(t *testing.T) {
	ctx := context.Background()
	r := New(newTestStore(t))
	for range 3 {
		_, _, err := r.Create(ctx, newJob("a", time.Now().Add(time.Hour)))
		require.NoError(t, err)
	}

	n := 0
	for _, err := range r.List(ctx, "a") {
		require.NoError(t, err)
		n++
		break
	}
	assert.Equal(t, 1, n)
}

// ──────────────────────────────────────────────────────────────────────────────
// Remove / Retire
// ──────────────────────────────────────────────────────────────────────────────

func TestRemove_AcrossQueues(t *testing.T) {
	ctx := context.Background()
	r := New(newTestStore(t))

	idA, _, err := r.Create(ctx, newJob("a", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	idB, _, err := r.Create(ctx, newJob("b", time.Now().Add(time.Hour)))
	require.NoError(t, err)

	removed, err := r.Remove(ctx, idB)
	require.NoError(t, err)
	assert.True(t, removed)

	assert.Empty(t, listIDs(t, r, "b"))
	assert.Equal(t, []uint64{idA}, listIDs(t, r, "a"))

	removed, err = r.Remove(ctx, idB)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = r.Remove(ctx, 999)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRetire_VersionstampGuard(t *testing.T) {
	ctx := context.Background()
	r := New(newTestStore(t))

	id, _, err := r.Create(ctx, newJob("a", time.Now()))
	require.NoError(t, err)
	job, vs, err := r.Get(ctx, "a", id)
	require.NoError(t, err)

	ok, err := r.Retire(ctx, job, vs+1)
	require.NoError(t, err)
	assert.False(t, ok, "stale versionstamp must not delete")

	ok, err = r.Retire(ctx, job, vs)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Retire(ctx, job, vs)
	require.NoError(t, err)
	assert.False(t, ok, "already gone")

	got, _, err := r.Get(ctx, "a", id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDecodeJob_KeyIsAuthoritative(t *testing.T) {
	entry := &core.Entry{
		Key:   JobKey("b", 7),
		Value: []byte(`{"id":1,"queue":"zzz","request":{"method":"GET","url":"http://x"}}`),
	}
	job, err := decodeJob(entry)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), job.ID)
	assert.Equal(t, "b", job.Queue)

	_, err = decodeJob(&core.Entry{Key: CounterKey(), Value: []byte("{}")})
	assert.ErrorIs(t, err, core.ErrInvalidKey)
}
