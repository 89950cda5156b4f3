package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
)

func jobKey(queue string, id uint64) core.Key {
	return core.NewKey("jobs", queue, id)
}

func collect(t *testing.T, s *GormStorage, sel core.ListSelector) []core.Entry {
	t.Helper()
	var out []core.Entry
	for e, err := range s.List(context.Background(), sel) {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Constructor / detection
// ──────────────────────────────────────────────────────────────────────────────

func TestNewGormStorage_IsSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	s := NewGormStorage(db)
	assert.True(t, s.IsSQLite(), "should detect SQLite dialect")
	assert.Same(t, db, s.DB())

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections, "sqlite is pinned to one connection")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Migrate(context.Background()))

	var count int64
	require.NoError(t, s.DB().Model(&metaRow{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

// ──────────────────────────────────────────────────────────────────────────────
// Get / Commit
// ──────────────────────────────────────────────────────────────────────────────

func TestGet_Absent(t *testing.T) {
	s := newTestStorage(t)
	e, err := s.Get(context.Background(), jobKey("a", 1))
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestCommit_SetAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	res, err := s.Commit(ctx, core.Atomic().Set(jobKey("a", 1), []byte("hello")))
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.NotZero(t, res.Versionstamp)

	e, err := s.Get(ctx, jobKey("a", 1))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, []byte("hello"), e.Value)
	assert.Equal(t, res.Versionstamp, e.Versionstamp)
}

func TestCommit_VersionstampsIncrease(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	first, err := s.Commit(ctx, core.Atomic().Set(jobKey("a", 1), []byte("1")))
	require.NoError(t, err)
	second, err := s.Commit(ctx, core.Atomic().Set(jobKey("a", 1), []byte("2")))
	require.NoError(t, err)

	assert.Greater(t, second.Versionstamp, first.Versionstamp)
}

func TestCommit_CheckAbsent(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	k := jobKey("a", 1)

	res, err := s.Commit(ctx, core.Atomic().Check(k, 0).Set(k, []byte("first")))
	require.NoError(t, err)
	require.True(t, res.OK)

	res, err = s.Commit(ctx, core.Atomic().Check(k, 0).Set(k, []byte("second")))
	require.NoError(t, err)
	assert.False(t, res.OK, "key exists, absence check must fail")

	e, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), e.Value)
}

func TestCommit_FailedCheckWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	k := jobKey("a", 1)
	other := jobKey("a", 2)

	_, err := s.Commit(ctx, core.Atomic().Set(k, []byte("v")))
	require.NoError(t, err)

	res, err := s.Commit(ctx, core.Atomic().
		Check(k, 12345).
		Set(other, []byte("x")).
		Sum(core.NewKey("counter"), 1).
		Enqueue([]byte("t"), 0))
	require.NoError(t, err)
	assert.False(t, res.OK)

	e, err := s.Get(ctx, other)
	require.NoError(t, err)
	assert.Nil(t, e)
	c, err := s.Get(ctx, core.NewKey("counter"))
	require.NoError(t, err)
	assert.Nil(t, c)
	pending, err := s.PendingMessages(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestCommit_ConditionalDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	k := jobKey("a", 1)

	_, err := s.Commit(ctx, core.Atomic().Set(k, []byte("v")))
	require.NoError(t, err)
	e, err := s.Get(ctx, k)
	require.NoError(t, err)

	res, err := s.Commit(ctx, core.Atomic().Check(k, e.Versionstamp).Delete(k))
	require.NoError(t, err)
	assert.True(t, res.OK)

	// Second delete with the stale versionstamp observes absence.
	res, err = s.Commit(ctx, core.Atomic().Check(k, e.Versionstamp).Delete(k))
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestCommit_Sum(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	k := core.NewKey("counters", "job_id")

	for range 3 {
		res, err := s.Commit(ctx, core.Atomic().Sum(k, 1))
		require.NoError(t, err)
		require.True(t, res.OK)
	}

	e, err := s.Get(ctx, k)
	require.NoError(t, err)
	n, err := core.DecodeU64(e.Value)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}

func TestCommit_ConcurrentChecksOneWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	k := jobKey("a", 1)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Commit(ctx, core.Atomic().Check(k, 0).Set(k, []byte("v")))
			assert.NoError(t, err)
			if res.OK {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

// ──────────────────────────────────────────────────────────────────────────────
// Expiry
// ──────────────────────────────────────────────────────────────────────────────

func TestExpiry_HidesAndSweeps(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	k := jobKey("a", 1)
	_, err := s.Commit(ctx, core.Atomic().Set(k, []byte("v"), core.ExpireIn(time.Minute)))
	require.NoError(t, err)
	_, err = s.Commit(ctx, core.Atomic().Set(jobKey("a", 2), []byte("v")))
	require.NoError(t, err)

	e, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.NotNil(t, e)

	now = now.Add(2 * time.Minute)

	e, err = s.Get(ctx, k)
	require.NoError(t, err)
	assert.Nil(t, e, "expired entry must read as absent")
	assert.Len(t, collect(t, s, core.ListSelector{Prefix: core.NewKey("jobs")}), 1)

	// An expired entry satisfies an absence check.
	res, err := s.Commit(ctx, core.Atomic().Check(k, 0).Set(k, []byte("again")))
	require.NoError(t, err)
	assert.True(t, res.OK)

	now = now.Add(time.Hour)
	_, err = s.Commit(ctx, core.Atomic().Set(jobKey("b", 1), []byte("v"), core.ExpireIn(time.Second)))
	require.NoError(t, err)
	now = now.Add(time.Minute)

	n, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// ──────────────────────────────────────────────────────────────────────────────
// List
// ──────────────────────────────────────────────────────────────────────────────

func TestList_PrefixAndOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	for _, k := range []core.Key{
		jobKey("b", 1), jobKey("a", 10), jobKey("a", 2), jobKey("ab", 1),
		core.NewKey("counters", "job_id"),
	} {
		_, err := s.Commit(ctx, core.Atomic().Set(k, []byte("v")))
		require.NoError(t, err)
	}

	got := collect(t, s, core.ListSelector{Prefix: core.NewKey("jobs", "a")})
	require.Len(t, got, 2)
	assert.Equal(t, jobKey("a", 2), got[0].Key)
	assert.Equal(t, jobKey("a", 10), got[1].Key)

	all := collect(t, s, core.ListSelector{Prefix: core.NewKey("jobs")})
	assert.Len(t, all, 4)

	everything := collect(t, s, core.ListSelector{})
	assert.Len(t, everything, 5)
}

func TestList_PagesAndLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	for i := uint64(1); i <= 25; i++ {
		_, err := s.Commit(ctx, core.Atomic().Set(jobKey("a", i), []byte("v")))
		require.NoError(t, err)
	}

	got := collect(t, s, core.ListSelector{Prefix: core.NewKey("jobs"), BatchSize: 4})
	require.Len(t, got, 25)
	for i, e := range got {
		assert.Equal(t, uint64(i+1), e.Key[2])
	}

	limited := collect(t, s, core.ListSelector{Prefix: core.NewKey("jobs"), BatchSize: 4, Limit: 6})
	assert.Len(t, limited, 6)
}

func TestList_WritesDuringIteration(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	for i := uint64(1); i <= 6; i++ {
		_, err := s.Commit(ctx, core.Atomic().Set(jobKey("a", i), []byte("v")))
		require.NoError(t, err)
	}

	seen := 0
	for e, err := range s.List(ctx, core.ListSelector{Prefix: core.NewKey("jobs"), BatchSize: 2}) {
		require.NoError(t, err)
		seen++
		res, err := s.Commit(ctx, core.Atomic().Check(e.Key, e.Versionstamp).Delete(e.Key))
		require.NoError(t, err)
		assert.True(t, res.OK)
	}
	assert.Equal(t, 6, seen)
	assert.Empty(t, collect(t, s, core.ListSelector{Prefix: core.NewKey("jobs")}))
}

func TestList_Restartable(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	_, err := s.Commit(ctx, core.Atomic().Set(jobKey("a", 1), []byte("v")))
	require.NoError(t, err)

	seq := s.List(ctx, core.ListSelector{Prefix: core.NewKey("jobs")})
	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}
	assert.Equal(t, 1, count())
	assert.Equal(t, 1, count())
}
