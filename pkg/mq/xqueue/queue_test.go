package xqueue

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q, err := New(client, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

type reportPayload struct {
	TenantID string `json:"tenantId"`
	Month    string `json:"month"`
}

// =============================================================================
// 入队测试
// =============================================================================

func TestNew_WithNilClient_ReturnsError(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestEnqueue_ImmediateJob_IsWaiting(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "report", reportPayload{TenantID: "T1", Month: "2026-07"})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "report", job.Type)
	assert.Equal(t, StatusWaiting, job.Status)
	assert.Zero(t, job.Attempts)
	assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)
	assert.False(t, job.CreatedAt.IsZero())

	n, err := q.client.LLen(ctx, waitingKey("report")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEnqueue_WithDelay_GoesToDelayedSet(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "report", nil, WithDelay(time.Minute))
	require.NoError(t, err)

	waiting, err := q.client.LLen(ctx, waitingKey("report")).Result()
	require.NoError(t, err)
	assert.Zero(t, waiting)

	delayed, err := q.client.ZCard(ctx, delayedKey("report")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)
}

func TestEnqueue_EmptyType_ReturnsError(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptyType)
}

func TestEnqueue_UnserializablePayload_ReturnsError(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), "report", math.Inf(1))
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestEnqueue_GeneratesUniqueIDs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		job, err := q.Enqueue(ctx, "report", nil)
		require.NoError(t, err)
		require.False(t, seen[job.ID], "duplicate job id %s", job.ID)
		seen[job.ID] = true
	}
}

// =============================================================================
// 状态查询与进度测试
// =============================================================================

func TestGetStatus_UnknownJob_ReturnsErrJobNotFound(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.GetStatus(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGetStatus_RoundTripsPayload(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	enqueued, err := q.Enqueue(ctx, "report", reportPayload{TenantID: "T1", Month: "2026-07"})
	require.NoError(t, err)

	job, err := q.GetStatus(ctx, enqueued.ID)
	require.NoError(t, err)

	var p reportPayload
	require.NoError(t, job.UnmarshalPayload(&p))
	assert.Equal(t, "T1", p.TenantID)
	assert.Equal(t, "2026-07", p.Month)
}

func TestReportProgress_UpdatesJob(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "report", nil)
	require.NoError(t, err)

	require.NoError(t, q.ReportProgress(ctx, job.ID, 42))

	got, err := q.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Progress)
}

func TestReportProgress_OutOfRange_ReturnsError(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "report", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, q.ReportProgress(ctx, job.ID, -1), ErrInvalidProgress)
	assert.ErrorIs(t, q.ReportProgress(ctx, job.ID, 101), ErrInvalidProgress)
}

func TestReportProgress_OnFinishedJob_ReturnsError(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "report", nil)
	require.NoError(t, err)

	job.Status = StatusCompleted
	require.NoError(t, q.saveJob(ctx, job))

	assert.ErrorIs(t, q.ReportProgress(ctx, job.ID, 50), ErrJobFinished)
}

// =============================================================================
// 清理测试
// =============================================================================

// finishJob 把任务置为终态并写入终态集合，purgeAt 为清除时间。
func finishJob(t *testing.T, q *Queue, job *Job, status Status, purgeAt time.Time) {
	t.Helper()
	ctx := context.Background()

	job.Status = status
	require.NoError(t, q.saveJob(ctx, job))

	key := completedKey
	if status == StatusFailed {
		key = failedKey
	}
	require.NoError(t, q.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(purgeAt.UnixMilli()),
		Member: job.ID,
	}).Err())
}

func TestCleanup_EmptyQueue_IsIdempotent(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		n, err := q.Cleanup(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
}

func TestCleanup_PurgesOnlyExpiredTerminalJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	expired, err := q.Enqueue(ctx, "report", nil)
	require.NoError(t, err)
	finishJob(t, q, expired, StatusCompleted, time.Now().Add(-time.Minute))

	kept, err := q.Enqueue(ctx, "report", nil)
	require.NoError(t, err)
	finishJob(t, q, kept, StatusFailed, time.Now().Add(time.Hour))

	n, err := q.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = q.GetStatus(ctx, expired.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	got, err := q.GetStatus(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)

	// 再跑一次没有新的可清理任务
	n, err = q.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// =============================================================================
// 滞留任务回收测试
// =============================================================================

func TestRequeueStale_RecoversCrashedWorkerJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	// 模拟崩溃 worker 留下的任务：active 状态、很久以前开始执行
	stale, err := q.Enqueue(ctx, "report", nil)
	require.NoError(t, err)
	started := time.Now().Add(-time.Hour)
	stale.Status = StatusActive
	stale.ProcessedAt = &started
	require.NoError(t, q.saveJob(ctx, stale))
	require.NoError(t, q.client.Del(ctx, waitingKey("report")).Err())
	require.NoError(t, q.client.LPush(ctx, activeKey("report"), stale.ID).Err())

	// 正常执行中的任务不应被回收
	fresh, err := q.Enqueue(ctx, "report", nil)
	require.NoError(t, err)
	now := time.Now()
	fresh.Status = StatusActive
	fresh.ProcessedAt = &now
	require.NoError(t, q.saveJob(ctx, fresh))
	require.NoError(t, q.client.LRem(ctx, waitingKey("report"), 1, fresh.ID).Err())
	require.NoError(t, q.client.LPush(ctx, activeKey("report"), fresh.ID).Err())

	n, err := q.RequeueStale(ctx, []string{"report"}, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.GetStatus(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)

	waiting, err := q.client.LRange(ctx, waitingKey("report"), 0, -1).Result()
	require.NoError(t, err)
	assert.Contains(t, waiting, stale.ID)

	active, err := q.client.LRange(ctx, activeKey("report"), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.ID}, active)
}

func TestRequeueStale_RecoversJobCrashedBeforeMarkActive(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	// 模拟 worker 取出任务后、mark-active 落盘前崩溃：
	// 任务体还是 waiting 状态且没有 ProcessedAt
	job, err := q.Enqueue(ctx, "report", nil)
	require.NoError(t, err)
	id, err := q.client.RPopLPush(ctx, waitingKey("report"), activeKey("report")).Result()
	require.NoError(t, err)
	require.Equal(t, job.ID, id)

	n, err := q.RequeueStale(ctx, []string{"report"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)

	waiting, err := q.client.LRange(ctx, waitingKey("report"), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, waiting)

	active, err := q.client.LLen(ctx, activeKey("report")).Result()
	require.NoError(t, err)
	assert.Zero(t, active)
}

func TestRequeueStale_SkipsJobAlreadyScheduledForRetry(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	// 模拟重试调度已落盘、active 摘除前崩溃：
	// 任务同时出现在 delayed 集合和 active 列表里
	job, err := q.Enqueue(ctx, "report", nil)
	require.NoError(t, err)
	require.NoError(t, q.client.Del(ctx, waitingKey("report")).Err())

	started := time.Now().Add(-time.Hour)
	job.Status = StatusWaiting
	job.ProcessedAt = &started
	job.Attempts = 1
	require.NoError(t, q.saveJob(ctx, job))
	require.NoError(t, q.client.LPush(ctx, activeKey("report"), job.ID).Err())
	require.NoError(t, q.client.ZAdd(ctx, delayedKey("report"), redis.Z{
		Score:  float64(time.Now().Add(time.Minute).UnixMilli()),
		Member: job.ID,
	}).Err())

	n, err := q.RequeueStale(ctx, []string{"report"}, 10*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	// 残留的 active 项被摘除，但任务仍只在 delayed 中排队一次
	active, err := q.client.LLen(ctx, activeKey("report")).Result()
	require.NoError(t, err)
	assert.Zero(t, active)

	delayed, err := q.client.ZCard(ctx, delayedKey("report")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)

	waiting, err := q.client.LLen(ctx, waitingKey("report")).Result()
	require.NoError(t, err)
	assert.Zero(t, waiting)
}

func TestRequeueStale_DropsFinishedLeftovers(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "report", nil)
	require.NoError(t, err)
	require.NoError(t, q.client.Del(ctx, waitingKey("report")).Err())
	finishJob(t, q, job, StatusCompleted, time.Now().Add(time.Hour))
	require.NoError(t, q.client.LPush(ctx, activeKey("report"), job.ID).Err())

	n, err := q.RequeueStale(ctx, []string{"report"}, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	active, err := q.client.LLen(ctx, activeKey("report")).Result()
	require.NoError(t, err)
	assert.Zero(t, active)

	got, err := q.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

// =============================================================================
// 统计与关闭测试
// =============================================================================

func TestQueueStats_CountsPerType(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, "report", nil)
		require.NoError(t, err)
	}
	_, err := q.Enqueue(ctx, "report", nil, WithDelay(time.Minute))
	require.NoError(t, err)

	done, err := q.Enqueue(ctx, "cleanup", nil)
	require.NoError(t, err)
	require.NoError(t, q.client.LRem(ctx, waitingKey("cleanup"), 1, done.ID).Err())
	finishJob(t, q, done, StatusCompleted, time.Now().Add(time.Hour))

	stats, err := q.QueueStats(ctx, "report", "cleanup")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Types["report"].Waiting)
	assert.Equal(t, int64(1), stats.Types["report"].Delayed)
	assert.Zero(t, stats.Types["cleanup"].Waiting)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Zero(t, stats.Failed)
}

func TestQueue_AfterClose_ReturnsErrClosed(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Close())
	require.NoError(t, q.Close()) // 幂等

	_, err := q.Enqueue(ctx, "report", nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = q.GetStatus(ctx, "x")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = q.Cleanup(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, q.Health(ctx), ErrClosed)
}

func TestQueue_Health(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Health(ctx))

	mr.SetError("connection refused")
	assert.Error(t, q.Health(ctx))
}
