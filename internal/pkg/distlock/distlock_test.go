package distlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocks_ExclusiveUntilExpiry(t *testing.T) {
	now := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	table := NewMemoryLocks().WithClock(func() time.Time { return now })
	newLock := table.Factory()
	ctx := context.Background()

	first := newLock("inbound:abc", time.Hour)
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	second := newLock("inbound:abc", time.Hour)
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// a non-owner release is ignored
	require.NoError(t, second.Release(ctx))
	ok, _ = newLock("inbound:abc", time.Hour).Acquire(ctx)
	assert.False(t, ok)

	now = now.Add(time.Hour)
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLocks_ReleaseFreesKey(t *testing.T) {
	newLock := NewMemoryLocks().Factory()
	ctx := context.Background()

	l := newLock("k", time.Minute)
	ok, _ := l.Acquire(ctx)
	require.True(t, ok)
	require.NoError(t, l.Release(ctx))

	ok, _ = newLock("k", time.Minute).Acquire(ctx)
	assert.True(t, ok)
}

func TestMemoryLocks_ConcurrentSingleWinner(t *testing.T) {
	newLock := NewMemoryLocks().Factory()
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := newLock("race", time.Minute).Acquire(context.Background()); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestWait_AcquiresAfterRelease(t *testing.T) {
	newLock := NewMemoryLocks().Factory()
	ctx := context.Background()

	holder := newLock("deliver:w:a", time.Minute)
	ok, _ := holder.Acquire(ctx)
	require.True(t, ok)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = holder.Release(ctx)
	}()

	ok, err := Wait(ctx, newLock("deliver:w:a", time.Minute), 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWait_GivesUpAfterWait(t *testing.T) {
	newLock := NewMemoryLocks().Factory()
	ctx := context.Background()

	ok, _ := newLock("k", time.Minute).Acquire(ctx)
	require.True(t, ok)

	start := time.Now()
	ok, err := Wait(ctx, newLock("k", time.Minute), 40*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWait_CanceledContext(t *testing.T) {
	newLock := NewMemoryLocks().Factory()
	ok, _ := newLock("k", time.Minute).Acquire(context.Background())
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ok, err := Wait(ctx, newLock("k", time.Minute), time.Minute)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLock(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	a := NewRedisLock(client, "inbound:m1", time.Hour)
	b := NewRedisLock(client, "inbound:m1", time.Hour)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("lock:inbound:m1"))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("lock:inbound:m1"), "non-owner must not release")
	assert.Error(t, b.Extend(ctx, time.Hour))

	require.NoError(t, a.Extend(ctx, 2*time.Hour))
	assert.Equal(t, 2*time.Hour, mr.TTL("lock:inbound:m1"))

	mr.FastForward(3 * time.Hour)
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewFactory_PrefersRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, isRedis := NewFactory(client, nil)("k", time.Second).(*RedisLock)
	assert.True(t, isRedis)

	_, isMem := NewFactory(nil, nil)("k", time.Second).(*memoryLock)
	assert.True(t, isMem)
}

func TestPGLeaseLock(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	l := NewPGLeaseLock(db, "inbound:m1", time.Hour)

	mock.ExpectQuery(`INSERT INTO distlock_claims`).
		WithArgs("inbound:m1", l.owner, float64(3600)).
		WillReturnRows(sqlmock.NewRows([]string{"owner"}).AddRow(l.owner))
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	other := NewPGLeaseLock(db, "inbound:m1", time.Hour)
	mock.ExpectQuery(`INSERT INTO distlock_claims`).
		WithArgs("inbound:m1", other.owner, float64(3600)).
		WillReturnRows(sqlmock.NewRows([]string{"owner"}))
	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec(`DELETE FROM distlock_claims WHERE claim_key = \$1 AND owner = \$2`).
		WithArgs("inbound:m1", l.owner).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, l.Release(ctx))

	require.NoError(t, mock.ExpectationsWereMet())
}
