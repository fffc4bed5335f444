package xqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"
)

// =============================================================================
// worker 选项
// =============================================================================

const (
	// DefaultConcurrency 默认的任务并发执行上限。
	DefaultConcurrency = 3

	// DefaultPollInterval 默认的队列轮询间隔。
	DefaultPollInterval = 250 * time.Millisecond
)

// WorkerOptions 定义 worker 的配置选项。
type WorkerOptions struct {
	// Concurrency 同时执行的任务数上限。默认为 DefaultConcurrency。
	Concurrency int

	// PollInterval 队列轮询间隔。默认为 DefaultPollInterval。
	PollInterval time.Duration

	// Notifier 完成通知投递器。nil 表示不投递通知。
	Notifier Notifier

	// Logger 日志记录器。默认为队列的 Logger。
	Logger *slog.Logger
}

// WorkerOption 定义配置 worker 的函数类型。
type WorkerOption func(*WorkerOptions)

// WithConcurrency 设置任务并发执行上限。
// 非正值会被静默忽略。
func WithConcurrency(n int) WorkerOption {
	return func(o *WorkerOptions) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithPollInterval 设置队列轮询间隔。
// 非正值会被静默忽略。
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.PollInterval = d
		}
	}
}

// WithNotifier 设置完成通知投递器。
func WithNotifier(n Notifier) WorkerOption {
	return func(o *WorkerOptions) {
		o.Notifier = n
	}
}

// WithWorkerLogger 设置日志记录器。
// 传入 nil 会被静默忽略。
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(o *WorkerOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// =============================================================================
// Worker 实现
// =============================================================================

// Worker 任务队列的消费侧：轮询就绪任务、有界并发执行、
// 失败退避重试、成功后投递完成通知。
//
// 取出任务用 RPOPLPUSH 搬进在执行列表，执行中崩溃的任务
// 由 [Queue.RequeueStale] 回收，整体为 at-least-once 语义。
type Worker struct {
	queue *Queue
	opts  *WorkerOptions
	sem   *semaphore.Weighted

	mu       sync.RWMutex
	handlers map[string]Handler

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWorker 创建 worker。注册处理函数后调用 [Worker.Start] 开始消费。
func NewWorker(queue *Queue, opts ...WorkerOption) (*Worker, error) {
	if queue == nil {
		return nil, ErrNilClient
	}

	options := &WorkerOptions{
		Concurrency:  DefaultConcurrency,
		PollInterval: DefaultPollInterval,
		Logger:       queue.opts.Logger,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Worker{
		queue:    queue,
		opts:     options,
		sem:      semaphore.NewWeighted(int64(options.Concurrency)),
		handlers: make(map[string]Handler),
	}, nil
}

// Register 注册某任务类型的处理函数。
// worker 只消费已注册类型的队列；重复注册返回 [ErrHandlerExists]。
func (w *Worker) Register(typ string, h Handler) error {
	if typ == "" {
		return ErrEmptyType
	}
	if h == nil {
		return ErrNilHandler
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.handlers[typ]; exists {
		return fmt.Errorf("%w: %q", ErrHandlerExists, typ)
	}
	w.handlers[typ] = h
	return nil
}

// Types 返回已注册的任务类型。
func (w *Worker) Types() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	types := make([]string, 0, len(w.handlers))
	for typ := range w.handlers {
		types = append(types, typ)
	}
	return types
}

// Start 启动消费循环。重复调用返回 [ErrAlreadyStarted]。
// ctx 取消或调用 [Worker.Stop] 都会停止轮询；已取出的任务不受
// 影响，仍会执行到完成并落盘。
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.loop(runCtx)
	return nil
}

// Stop 停止消费并等待在执行的任务收尾。
// ctx 到期时不再等待，剩余任务留在在执行列表中，由回收路径兜底。
func (w *Worker) Stop(ctx context.Context) error {
	if !w.started.Load() {
		return ErrNotStarted
	}

	w.cancel()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("xqueue: stop worker: %w", ctx.Err())
	}
}

// loop 消费主循环：每个轮询周期先晋升到期的延迟任务，再取就绪任务。
func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return
		case <-ticker.C:
			for _, typ := range w.Types() {
				w.promoteDelayed(ctx, typ)
				w.dispatch(ctx, typ)
			}
		}
	}
}

// promoteDelayed 把延迟集合中已到就绪时间的任务搬入就绪列表。
// ZRem 原子性保证多 worker 并发晋升时每个任务只入队一次。
func (w *Worker) promoteDelayed(ctx context.Context, typ string) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	ids, err := w.queue.client.ZRangeByScore(ctx, delayedKey(typ), &redis.ZRangeBy{
		Min: "-inf", Max: now,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			w.opts.Logger.Warn("promote delayed jobs failed",
				slog.String("type", typ),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	for _, id := range ids {
		n, err := w.queue.client.ZRem(ctx, delayedKey(typ), id).Result()
		if err != nil || n == 0 {
			continue
		}
		if err := w.queue.client.LPush(ctx, waitingKey(typ), id).Err(); err != nil {
			w.opts.Logger.Error("promote delayed job failed",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// dispatch 在并发额度内尽量多取就绪任务执行。
func (w *Worker) dispatch(ctx context.Context, typ string) {
	for {
		if !w.sem.TryAcquire(1) {
			return
		}

		id, err := w.queue.client.RPopLPush(ctx, waitingKey(typ), activeKey(typ)).Result()
		if err != nil {
			w.sem.Release(1)
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				w.opts.Logger.Warn("pop job failed",
					slog.String("type", typ),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer w.sem.Release(1)
			// Stop 只取消轮询，已取出的任务执行到完成再收尾
			w.process(context.WithoutCancel(ctx), typ, id)
		}()
	}
}

// process 执行单个任务并落盘其结果状态。
func (w *Worker) process(ctx context.Context, typ, id string) {
	job, err := w.queue.loadJob(ctx, id)
	if err != nil {
		// 任务体丢失（如被清理），摘除残留的列表项
		w.queue.client.LRem(ctx, activeKey(typ), 1, id)
		w.opts.Logger.Warn("active job has no body, dropped",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
		return
	}

	now := time.Now()
	job.Status = StatusActive
	job.ProcessedAt = &now
	job.Attempts++
	if err := w.queue.saveJob(ctx, job); err != nil {
		// 状态落盘失败则不执行，任务留在 active 由回收路径重试
		w.opts.Logger.Error("mark job active failed",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
		return
	}

	w.mu.RLock()
	handler := w.handlers[typ]
	w.mu.RUnlock()

	result, runErr := w.runHandler(ctx, handler, job)

	// 先落盘重试/终态，落盘成功才从 active 摘除；
	// 顺序反了的话崩在两步之间会永久丢任务
	var persisted bool
	if runErr != nil {
		persisted = w.handleFailure(ctx, job, runErr)
	} else {
		persisted = w.handleSuccess(ctx, job, result)
	}
	if persisted {
		w.queue.client.LRem(ctx, activeKey(typ), 1, id)
	}
}

// runHandler 执行处理函数，panic 统一转为错误以免击穿 worker。
func (w *Worker) runHandler(ctx context.Context, handler Handler, job *Job) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("xqueue: handler panic: %v", r)
		}
	}()
	return handler(ctx, &JobContext{Job: *job, queue: w.queue})
}

// handleSuccess 落盘完成状态并投递通知。
// 返回终态是否已持久化；false 时任务留在 active 由回收路径兜底。
func (w *Worker) handleSuccess(ctx context.Context, job *Job, result *Result) bool {
	fin := time.Now()
	job.Status = StatusCompleted
	job.Progress = 100
	job.FinishedAt = &fin
	job.Result = result

	if err := w.queue.saveJob(ctx, job); err != nil {
		w.opts.Logger.Error("mark job completed failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	purgeAt := fin.Add(job.RetainCompleted)
	if err := w.queue.client.ZAdd(ctx, completedKey, redis.Z{
		Score:  float64(purgeAt.UnixMilli()),
		Member: job.ID,
	}).Err(); err != nil {
		w.opts.Logger.Error("record completed job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	w.opts.Logger.Info("job completed",
		slog.String("job_id", job.ID),
		slog.String("type", job.Type),
		slog.Int("attempts", job.Attempts),
	)
	w.notify(ctx, job, result)
	return true
}

// handleFailure 按剩余尝试次数退避重试或落盘失败终态。
// 返回重试调度/终态是否已持久化；false 时任务留在 active 由回收路径兜底。
func (w *Worker) handleFailure(ctx context.Context, job *Job, runErr error) bool {
	job.FailureReason = runErr.Error()

	if job.Attempts < job.MaxAttempts {
		delay := backoffDelay(job.Backoff, job.BackoffMax, job.Attempts)
		job.Status = StatusWaiting
		if err := w.queue.saveJob(ctx, job); err != nil {
			w.opts.Logger.Error("mark job for retry failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			return false
		}
		if err := w.queue.client.ZAdd(ctx, delayedKey(job.Type), redis.Z{
			Score:  float64(time.Now().Add(delay).UnixMilli()),
			Member: job.ID,
		}).Err(); err != nil {
			w.opts.Logger.Error("schedule job retry failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			return false
		}
		w.opts.Logger.Warn("job failed, retry scheduled",
			slog.String("job_id", job.ID),
			slog.String("type", job.Type),
			slog.Int("attempt", job.Attempts),
			slog.Int("max_attempts", job.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", runErr.Error()),
		)
		return true
	}

	fin := time.Now()
	job.Status = StatusFailed
	job.FinishedAt = &fin
	if err := w.queue.saveJob(ctx, job); err != nil {
		w.opts.Logger.Error("mark job failed failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	purgeAt := fin.Add(job.RetainFailed)
	if err := w.queue.client.ZAdd(ctx, failedKey, redis.Z{
		Score:  float64(purgeAt.UnixMilli()),
		Member: job.ID,
	}).Err(); err != nil {
		w.opts.Logger.Error("record failed job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	w.opts.Logger.Error("job failed permanently",
		slog.String("job_id", job.ID),
		slog.String("type", job.Type),
		slog.Int("attempts", job.Attempts),
		slog.String("error", runErr.Error()),
	)
	return true
}

// notify 向通知目标投递一次完成通知。
// 投递失败只记日志：任务已经完成，通知是尽力而为的附加动作。
func (w *Worker) notify(ctx context.Context, job *Job, result *Result) {
	if w.opts.Notifier == nil || job.Notify == nil {
		return
	}
	n := Notification{
		JobID:     job.ID,
		Type:      job.Type,
		UserID:    job.Notify.UserID,
		ChatID:    job.Notify.ChatID,
		RequestID: job.Notify.RequestID,
		Result:    result,
	}
	if err := w.opts.Notifier.Notify(ctx, n); err != nil {
		w.opts.Logger.Error("completion notification failed",
			slog.String("job_id", job.ID),
			slog.String("user_id", n.UserID),
			slog.String("error", err.Error()),
		)
	}
}
