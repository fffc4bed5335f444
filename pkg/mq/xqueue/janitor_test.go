package xqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/botkit/pkg/distributed/xdlock"
)

func newTestJanitor(t *testing.T, opts ...JanitorOption) (*Janitor, *Queue, xdlock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q, err := New(client)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	locker, err := xdlock.New(client)
	require.NoError(t, err)
	t.Cleanup(func() { _ = locker.Close() })

	j, err := NewJanitor(q, locker, opts...)
	require.NoError(t, err)
	return j, q, locker, mr
}

func TestNewJanitor_Validation(t *testing.T) {
	_, q, locker, _ := newTestJanitor(t)

	_, err := NewJanitor(nil, locker)
	assert.ErrorIs(t, err, ErrNilClient)

	_, err = NewJanitor(q, nil)
	assert.ErrorIs(t, err, ErrNilLocker)

	_, err = NewJanitor(q, locker, WithSchedule("not a cron spec"))
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestJanitor_Sweep_PurgesExpiredJobs(t *testing.T) {
	j, q, _, _ := newTestJanitor(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "report", nil)
	require.NoError(t, err)
	finishJob(t, q, job, StatusCompleted, time.Now().Add(-time.Minute))

	require.NoError(t, j.Sweep(ctx))

	_, err = q.GetStatus(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	// 再扫一遍仍然成功（幂等）
	require.NoError(t, j.Sweep(ctx))
}

func TestJanitor_Sweep_RequeuesStaleActiveJobs(t *testing.T) {
	j, q, _, _ := newTestJanitor(t,
		WithTypes("report"),
		WithStaleTimeout(10*time.Minute),
	)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "report", nil)
	require.NoError(t, err)
	started := time.Now().Add(-time.Hour)
	job.Status = StatusActive
	job.ProcessedAt = &started
	require.NoError(t, q.saveJob(ctx, job))
	require.NoError(t, q.client.Del(ctx, waitingKey("report")).Err())
	require.NoError(t, q.client.LPush(ctx, activeKey("report"), job.ID).Err())

	require.NoError(t, j.Sweep(ctx))

	got, err := q.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)
}

func TestJanitor_Sweep_SkipsWhenLockHeld(t *testing.T) {
	j, q, locker, _ := newTestJanitor(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "report", nil)
	require.NoError(t, err)
	finishJob(t, q, job, StatusCompleted, time.Now().Add(-time.Minute))

	// 模拟另一实例正在清理
	handle, err := locker.TryLock(ctx, cleanupLockKey, xdlock.WithExpiry(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, handle)
	defer func() { _ = handle.Unlock(ctx) }()

	require.NoError(t, j.Sweep(ctx))

	// 没抢到锁，任务未被清理
	_, err = q.GetStatus(ctx, job.ID)
	assert.NoError(t, err)
}
