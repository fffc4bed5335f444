package xqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/omeyang/botkit/pkg/distributed/xdlock"
)

// =============================================================================
// 清理任务
// =============================================================================

const (
	// DefaultCleanupSchedule 默认每五分钟清理一次。
	DefaultCleanupSchedule = "*/5 * * * *"

	// DefaultStaleTimeout 在执行列表中滞留超过此时长的任务视为
	// 属于已崩溃的 worker，被回收重跑。必须大于任务的最坏执行时长。
	DefaultStaleTimeout = 10 * time.Minute

	// cleanupLockKey 清理任务的分布式锁 key。
	cleanupLockKey = "queue:cleanup"

	// sweepTimeout 单轮清理的执行超时。
	sweepTimeout = time.Minute
)

// JanitorOptions 定义清理任务的配置选项。
type JanitorOptions struct {
	// Schedule cron 表达式。默认为 DefaultCleanupSchedule。
	Schedule string

	// StaleTimeout 回收在执行任务的滞留阈值。默认为 DefaultStaleTimeout。
	StaleTimeout time.Duration

	// Types 需要回收在执行任务的类型列表。
	// 终态清理与类型无关，不受此配置影响。
	Types []string

	// Logger 日志记录器。默认为队列的 Logger。
	Logger *slog.Logger
}

// JanitorOption 定义配置清理任务的函数类型。
type JanitorOption func(*JanitorOptions)

// WithSchedule 设置清理的 cron 表达式。
// 空串会被静默忽略。
func WithSchedule(spec string) JanitorOption {
	return func(o *JanitorOptions) {
		if spec != "" {
			o.Schedule = spec
		}
	}
}

// WithStaleTimeout 设置在执行任务的回收阈值。
// 非正值会被静默忽略。
func WithStaleTimeout(d time.Duration) JanitorOption {
	return func(o *JanitorOptions) {
		if d > 0 {
			o.StaleTimeout = d
		}
	}
}

// WithTypes 设置需要回收在执行任务的类型列表。
func WithTypes(types ...string) JanitorOption {
	return func(o *JanitorOptions) {
		o.Types = types
	}
}

// WithJanitorLogger 设置日志记录器。
// 传入 nil 会被静默忽略。
func WithJanitorLogger(l *slog.Logger) JanitorOption {
	return func(o *JanitorOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// Janitor 按 cron 调度执行队列维护：清除保留期已过的终态任务，
// 回收崩溃 worker 留下的在执行任务。
//
// 多实例部署时每轮清理先抢分布式锁，抢不到的实例静默跳过，
// 保证同一时刻只有一个实例在清理。
type Janitor struct {
	queue  *Queue
	locker xdlock.Locker
	opts   *JanitorOptions
	cron   *cron.Cron
}

// NewJanitor 创建清理任务。调用 [Janitor.Start] 后按计划执行。
func NewJanitor(queue *Queue, locker xdlock.Locker, opts ...JanitorOption) (*Janitor, error) {
	if queue == nil {
		return nil, ErrNilClient
	}
	if locker == nil {
		return nil, ErrNilLocker
	}

	options := &JanitorOptions{
		Schedule:     DefaultCleanupSchedule,
		StaleTimeout: DefaultStaleTimeout,
		Logger:       queue.opts.Logger,
	}
	for _, opt := range opts {
		opt(options)
	}

	j := &Janitor{
		queue:  queue,
		locker: locker,
		opts:   options,
		cron:   cron.New(),
	}
	if _, err := j.cron.AddFunc(options.Schedule, j.sweep); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, options.Schedule, err)
	}
	return j, nil
}

// Start 启动清理调度。
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop 停止调度并等待正在执行的清理收尾。
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// sweep 执行一轮清理。Sweep 可单独调用（如 CLI 的手动清理入口）。
func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if err := j.Sweep(ctx); err != nil {
		j.opts.Logger.Error("queue sweep failed", slog.String("error", err.Error()))
	}
}

// Sweep 在分布式锁保护下执行一轮清理。
// 锁被其他实例持有时静默跳过，返回 nil。
func (j *Janitor) Sweep(ctx context.Context) error {
	handle, err := j.locker.TryLock(ctx, cleanupLockKey, xdlock.WithExpiry(sweepTimeout))
	if err != nil {
		return fmt.Errorf("xqueue: acquire cleanup lock: %w", err)
	}
	if handle == nil {
		// 其他实例正在清理
		return nil
	}
	defer func() { _ = handle.Unlock(ctx) }()

	purged, err := j.queue.Cleanup(ctx)
	if err != nil {
		return err
	}

	requeued := 0
	if len(j.opts.Types) > 0 {
		requeued, err = j.queue.RequeueStale(ctx, j.opts.Types, j.opts.StaleTimeout)
		if err != nil {
			return err
		}
	}

	if purged > 0 || requeued > 0 {
		j.opts.Logger.Info("queue sweep done",
			slog.Int("purged", purged),
			slog.Int("requeued", requeued),
		)
	}
	return nil
}
