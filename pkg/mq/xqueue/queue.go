package xqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/sonyflake/v2"
)

// =============================================================================
// 键布局
// =============================================================================

const (
	jobKeyPrefix   = "job:"
	queueKeyPrefix = "queue:"

	completedKey = "queue:completed"
	failedKey    = "queue:failed"

	// cleanupBatch 单轮清理扫描的最大条数，限制单次清理的阻塞时间。
	cleanupBatch = 256
)

func jobKey(id string) string      { return jobKeyPrefix + id }
func waitingKey(typ string) string { return queueKeyPrefix + typ + ":waiting" }
func activeKey(typ string) string  { return queueKeyPrefix + typ + ":active" }
func delayedKey(typ string) string { return queueKeyPrefix + typ + ":delayed" }

// =============================================================================
// Queue 实现
// =============================================================================

// Queue 基于 Redis 的持久化任务队列的生产与查询侧。
// 消费侧见 [Worker]，终态清理见 [Janitor]。并发安全。
type Queue struct {
	client redis.UniversalClient
	opts   *Options
	gen    *sonyflake.Sonyflake
	closed atomic.Bool
}

// New 创建任务队列。
func New(client redis.UniversalClient, opts ...Option) (*Queue, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	// 机器 ID 取自 PID 低 16 位：同一主机上的多个 worker 进程
	// 互不冲突，且不依赖网络环境（默认实现要求存在私有 IP）。
	gen, err := sonyflake.New(sonyflake.Settings{
		MachineID: func() (int, error) { return os.Getpid() & 0xFFFF, nil },
	})
	if err != nil {
		return nil, fmt.Errorf("xqueue: init id generator: %w", err)
	}

	return &Queue{client: client, opts: options, gen: gen}, nil
}

// Enqueue 创建任务并入队，立即返回任务快照。
//
// payload 会被 JSON 序列化后随任务持久化。任务默认立即就绪，
// [WithDelay] 可推迟首次执行。
func (q *Queue) Enqueue(ctx context.Context, typ string, payload any, opts ...EnqueueOption) (*Job, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}
	if typ == "" {
		return nil, ErrEmptyType
	}

	options := defaultEnqueueOptions()
	for _, opt := range opts {
		opt(options)
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
		}
		raw = data
	}

	id, err := q.gen.NextID()
	if err != nil {
		return nil, fmt.Errorf("xqueue: generate job id: %w", err)
	}

	retainCompleted := options.RetainCompleted
	if retainCompleted < 0 {
		retainCompleted = q.opts.RetainCompleted
	}
	retainFailed := options.RetainFailed
	if retainFailed < 0 {
		retainFailed = q.opts.RetainFailed
	}

	job := &Job{
		ID:              strconv.FormatInt(id, 36),
		Type:            typ,
		Payload:         raw,
		Status:          StatusWaiting,
		MaxAttempts:     options.Attempts,
		CreatedAt:       time.Now(),
		Backoff:         options.Backoff,
		BackoffMax:      options.BackoffMax,
		RetainCompleted: retainCompleted,
		RetainFailed:    retainFailed,
		Notify:          options.Notify,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), data, 0)
		if options.Delay > 0 {
			pipe.ZAdd(ctx, delayedKey(typ), redis.Z{
				Score:  float64(time.Now().Add(options.Delay).UnixMilli()),
				Member: job.ID,
			})
		} else {
			pipe.LPush(ctx, waitingKey(typ), job.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("xqueue: enqueue job %s: %w", job.ID, err)
	}

	q.opts.Logger.Debug("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("type", typ),
	)
	return job, nil
}

// GetStatus 返回任务快照。
// 任务不存在（或已被清理）时返回 [ErrJobNotFound]。
func (q *Queue) GetStatus(ctx context.Context, jobID string) (*Job, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}
	return q.loadJob(ctx, jobID)
}

// ReportProgress 更新任务进度。
//
// 进度必须在 [0, 100] 区间；任务已进入终态时返回 [ErrJobFinished]
// （终态任务的进度由队列定格，completed 恒为 100）。
func (q *Queue) ReportProgress(ctx context.Context, jobID string, pct int) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidProgress, pct)
	}

	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, jobID, job.Status)
	}

	job.Progress = pct
	return q.saveJob(ctx, job)
}

// Cleanup 移除保留期已过的终态任务，返回移除条数。
//
// 幂等：没有到期任务时返回 (0, nil)。终态集合以清除时间为 score，
// 清理即按当前时间截断，无需逐条加载任务。
func (q *Queue) Cleanup(ctx context.Context) (int, error) {
	if q.closed.Load() {
		return 0, ErrClosed
	}

	total := 0
	for _, key := range []string{completedKey, failedKey} {
		n, err := q.purgeExpired(ctx, key)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// purgeExpired 清除单个终态集合中 score（清除时间）已过期的任务。
func (q *Queue) purgeExpired(ctx context.Context, key string) (int, error) {
	purged := 0
	for {
		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		ids, err := q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: "-inf", Max: now, Count: cleanupBatch,
		}).Result()
		if err != nil {
			return purged, fmt.Errorf("xqueue: scan %s: %w", key, err)
		}
		if len(ids) == 0 {
			return purged, nil
		}

		members := make([]any, len(ids))
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, id := range ids {
				pipe.Del(ctx, jobKey(id))
				members[i] = id
			}
			pipe.ZRem(ctx, key, members...)
			return nil
		})
		if err != nil {
			return purged, fmt.Errorf("xqueue: purge %s: %w", key, err)
		}
		purged += len(ids)

		if len(ids) < cleanupBatch {
			return purged, nil
		}
	}
}

// RequeueStale 回收在执行列表中滞留超过 olderThan 的任务。
//
// worker 崩溃时任务会留在 active 列表里——无论崩在 mark-active
// 落盘之前（任务体还是 waiting 状态）还是执行之中；回收把所有
// 滞留任务放回就绪列表重新执行（at-least-once 的兜底路径）。
// olderThan 必须大于任务的最坏执行时长，否则会回收仍在正常
// 执行的任务。
func (q *Queue) RequeueStale(ctx context.Context, types []string, olderThan time.Duration) (int, error) {
	if q.closed.Load() {
		return 0, ErrClosed
	}

	requeued := 0
	for _, typ := range types {
		ids, err := q.client.LRange(ctx, activeKey(typ), 0, -1).Result()
		if err != nil {
			return requeued, fmt.Errorf("xqueue: scan active %s: %w", typ, err)
		}
		for _, id := range ids {
			job, err := q.loadJob(ctx, id)
			if errors.Is(err, ErrJobNotFound) {
				// 任务体已被清理，残留的列表项直接移除
				q.client.LRem(ctx, activeKey(typ), 1, id)
				continue
			}
			if err != nil {
				return requeued, err
			}
			if job.Status.Terminal() {
				// 终态已落盘但来不及摘除的残留项
				q.client.LRem(ctx, activeKey(typ), 1, id)
				continue
			}

			// 崩在 mark-active 落盘前的任务没有 ProcessedAt，
			// 以创建时间兜底判断滞留时长
			ref := job.CreatedAt
			if job.ProcessedAt != nil {
				ref = *job.ProcessedAt
			}
			if time.Since(ref) < olderThan {
				continue
			}

			// 先从 active 摘除，摘除成功才算回收本任务；
			// LRem 原子性保证并发清理时每个任务只被回收一次。
			n, err := q.client.LRem(ctx, activeKey(typ), 1, id).Result()
			if err != nil {
				return requeued, fmt.Errorf("xqueue: requeue %s: %w", id, err)
			}
			if n == 0 {
				continue
			}

			// 重试路径先写延迟集合再摘 active，崩在两步之间的
			// 任务已在 delayed 中排队，这里只需去重
			if err := q.client.ZScore(ctx, delayedKey(typ), id).Err(); err == nil {
				continue
			} else if !errors.Is(err, redis.Nil) {
				return requeued, fmt.Errorf("xqueue: requeue %s: %w", id, err)
			}

			job.Status = StatusWaiting
			if err := q.saveJob(ctx, job); err != nil {
				return requeued, err
			}
			if err := q.client.LPush(ctx, waitingKey(typ), id).Err(); err != nil {
				return requeued, fmt.Errorf("xqueue: requeue %s: %w", id, err)
			}
			requeued++
			q.opts.Logger.Warn("stale active job requeued",
				slog.String("job_id", id),
				slog.String("type", typ),
			)
		}
	}
	return requeued, nil
}

// =============================================================================
// 统计
// =============================================================================

// TypeStats 单个任务类型的队列深度。
type TypeStats struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
}

// Stats 队列整体统计。
type Stats struct {
	Types     map[string]TypeStats `json:"types"`
	Completed int64                `json:"completed"`
	Failed    int64                `json:"failed"`
}

// QueueStats 返回指定任务类型的队列深度与终态任务总数。
func (q *Queue) QueueStats(ctx context.Context, types ...string) (*Stats, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}

	stats := &Stats{Types: make(map[string]TypeStats, len(types))}
	for _, typ := range types {
		var ts TypeStats
		var err error
		if ts.Waiting, err = q.client.LLen(ctx, waitingKey(typ)).Result(); err != nil {
			return nil, fmt.Errorf("xqueue: stats %s: %w", typ, err)
		}
		if ts.Active, err = q.client.LLen(ctx, activeKey(typ)).Result(); err != nil {
			return nil, fmt.Errorf("xqueue: stats %s: %w", typ, err)
		}
		if ts.Delayed, err = q.client.ZCard(ctx, delayedKey(typ)).Result(); err != nil {
			return nil, fmt.Errorf("xqueue: stats %s: %w", typ, err)
		}
		stats.Types[typ] = ts
	}

	var err error
	if stats.Completed, err = q.client.ZCard(ctx, completedKey).Result(); err != nil {
		return nil, fmt.Errorf("xqueue: stats completed: %w", err)
	}
	if stats.Failed, err = q.client.ZCard(ctx, failedKey).Result(); err != nil {
		return nil, fmt.Errorf("xqueue: stats failed: %w", err)
	}
	return stats, nil
}

// Health 检查队列底层存储是否可达。
func (q *Queue) Health(ctx context.Context) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("xqueue: health check: %w", err)
	}
	return nil
}

// Close 关闭队列。幂等；不关闭注入的 Redis 客户端。
func (q *Queue) Close() error {
	q.closed.Store(true)
	return nil
}

// =============================================================================
// 任务读写
// =============================================================================

func (q *Queue) loadJob(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, ErrEmptyJobID
	}
	data, err := q.client.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("xqueue: load job %s: %w", jobID, err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: job %s: %w", ErrSerialization, jobID, err)
	}
	return &job, nil
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if err := q.client.Set(ctx, jobKey(job.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("xqueue: save job %s: %w", job.ID, err)
	}
	return nil
}
