package later_test

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	later "github.com/jdziat/simple-delayed-requests"
	"github.com/jdziat/simple-delayed-requests/pkg/config"
)

// setupTestScheduler creates an in-memory SQLite scheduler for use in tests.
func setupTestScheduler(t *testing.T, opts ...later.SchedulerOption) (*later.Scheduler, later.Storage) {
	t.Helper()
	store, err := later.OpenSQL(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return later.New(store, opts...), store
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestFacadeNew_CreatesScheduler(t *testing.T) {
	s, store := setupTestScheduler(t)
	assert.NotNil(t, s)
	assert.Same(t, store, s.Storage())
}

func TestFacadeOpenStorage_SQLFile(t *testing.T) {
	cfg := config.Default()
	cfg.Database = filepath.Join(t.TempDir(), "later.db")

	store, err := later.OpenStorage(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer store.Close()

	s := later.New(store)
	id, err := s.Schedule(context.Background(), later.Request{URL: "http://localhost/"}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
}

func TestFacadeOpenStorage_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "etcd"
	_, err := later.OpenStorage(context.Background(), cfg, nil)
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

func TestFacadeOptions_AllReturnNonNil(t *testing.T) {
	assert.NotNil(t, later.QueueOpt("b"))
	assert.NotNil(t, later.WithLogger(nil))
	assert.NotNil(t, later.WithSender(nil))
	assert.NotNil(t, later.WithDispatchTimeout(time.Second))
	assert.NotNil(t, later.WithMaxAllocationAttempts(3))
	assert.NotNil(t, later.WithRecordGrace(time.Minute))
	assert.NotNil(t, later.WithEventHandler(func(later.Event) {}))
	assert.NotNil(t, later.Concurrency(2))
	assert.NotNil(t, later.PollInterval(time.Second))
	assert.NotNil(t, later.SweepSchedule(""))
}

func TestFacadeQueueOpt(t *testing.T) {
	s, _ := setupTestScheduler(t)
	ctx := context.Background()

	id, err := s.Schedule(ctx, later.Request{URL: "http://localhost/"}, time.Now().Add(time.Hour), later.QueueOpt("reports"))
	require.NoError(t, err)

	job, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "reports", job.Queue)
	assert.Equal(t, http.MethodGet, job.Request.Method)
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestFacadeErrors(t *testing.T) {
	s, _ := setupTestScheduler(t)
	ctx := context.Background()

	_, err := s.Schedule(ctx, later.Request{URL: "not a url"}, time.Now())
	assert.ErrorIs(t, err, later.ErrInvalidRequest)

	_, err = s.Schedule(ctx, later.Request{Method: "POST", URL: "http://localhost/", Body: make([]byte, later.MaxRequestBodySize+1)}, time.Now())
	assert.ErrorIs(t, err, later.ErrRequestTooLarge)
	assert.ErrorIs(t, err, later.ErrInvalidRequest)
}

func TestFacadeMaxAllocationAttempts(t *testing.T) {
	var conflicts int
	s, _ := setupTestScheduler(t,
		later.WithMaxAllocationAttempts(1),
		later.WithEventHandler(func(e later.Event) {
			if _, ok := e.(*later.AllocationConflict); ok {
				conflicts++
			}
		}),
	)
	_, err := s.Schedule(context.Background(), later.Request{URL: "http://localhost/"}, time.Now().Add(time.Hour))
	require.NoError(t, err, "an uncontended allocation succeeds on the first attempt")
	assert.Zero(t, conflicts)
}

// ---------------------------------------------------------------------------
// Time parsing
// ---------------------------------------------------------------------------

func TestFacadeParseTime(t *testing.T) {
	got, err := later.ParseTime("2030-05-06T07:08:09Z")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2030, 5, 6, 7, 8, 9, 0, time.UTC)))

	got, err = later.ParseTime("+90s")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(90*time.Second), got, 5*time.Second)

	_, err = later.ParseTime("")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

func TestFacadeContextHelpers_OutsideDispatch(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, later.JobFromContext(ctx))
	assert.Zero(t, later.JobIDFromContext(ctx))
}
