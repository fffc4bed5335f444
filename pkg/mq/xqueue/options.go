package xqueue

import (
	"log/slog"
	"time"
)

// =============================================================================
// 默认值
// =============================================================================

const (
	// DefaultMaxAttempts 默认最大尝试次数。
	DefaultMaxAttempts = 3

	// DefaultBackoff 默认的重试退避初始延迟。
	DefaultBackoff = time.Second

	// DefaultBackoffMax 默认的重试退避上限。
	DefaultBackoffMax = 5 * time.Minute

	// DefaultRetainCompleted 成功任务的默认保留时长。
	DefaultRetainCompleted = time.Hour

	// DefaultRetainFailed 失败任务的默认保留时长。
	// 比成功任务长，失败记录是排障的主要线索。
	DefaultRetainFailed = 24 * time.Hour
)

// =============================================================================
// 队列选项
// =============================================================================

// Options 定义队列的配置选项。
type Options struct {
	// Logger 日志记录器。默认为 slog.Default()。
	Logger *slog.Logger

	// RetainCompleted 成功任务的保留时长，可被 Enqueue 选项覆盖。
	RetainCompleted time.Duration

	// RetainFailed 失败任务的保留时长，可被 Enqueue 选项覆盖。
	RetainFailed time.Duration
}

// Option 定义配置队列的函数类型。
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Logger:          slog.Default(),
		RetainCompleted: DefaultRetainCompleted,
		RetainFailed:    DefaultRetainFailed,
	}
}

// WithLogger 设置日志记录器。
// 传入 nil 会被静默忽略。
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithRetainCompleted 设置成功任务的默认保留时长。
// 非正值会被静默忽略。
func WithRetainCompleted(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.RetainCompleted = d
		}
	}
}

// WithRetainFailed 设置失败任务的默认保留时长。
// 非正值会被静默忽略。
func WithRetainFailed(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.RetainFailed = d
		}
	}
}

// =============================================================================
// 入队选项
// =============================================================================

// EnqueueOptions 定义单个任务的入队选项。
type EnqueueOptions struct {
	// Attempts 最大尝试次数。默认为 DefaultMaxAttempts。
	Attempts int

	// Delay 首次执行前的延迟。0 表示立即就绪。
	Delay time.Duration

	// Backoff / BackoffMax 重试退避的初始延迟与上限。
	Backoff    time.Duration
	BackoffMax time.Duration

	// RetainCompleted / RetainFailed 覆盖队列级别的保留时长。
	// 0 表示终态后下一次清理即移除。负值使用队列默认值。
	RetainCompleted time.Duration
	RetainFailed    time.Duration

	// Notify 完成通知的投递目标。
	Notify *NotifyTarget
}

// EnqueueOption 定义配置单个任务的函数类型。
type EnqueueOption func(*EnqueueOptions)

func defaultEnqueueOptions() *EnqueueOptions {
	return &EnqueueOptions{
		Attempts:        DefaultMaxAttempts,
		Backoff:         DefaultBackoff,
		BackoffMax:      DefaultBackoffMax,
		RetainCompleted: -1,
		RetainFailed:    -1,
	}
}

// WithAttempts 设置最大尝试次数。
// 非正值会被静默忽略。
func WithAttempts(n int) EnqueueOption {
	return func(o *EnqueueOptions) {
		if n > 0 {
			o.Attempts = n
		}
	}
}

// WithDelay 设置首次执行前的延迟。
// 负值会被静默忽略。
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) {
		if d >= 0 {
			o.Delay = d
		}
	}
}

// WithBackoff 设置重试退避的初始延迟。
// 非正值会被静默忽略。
func WithBackoff(d time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) {
		if d > 0 {
			o.Backoff = d
		}
	}
}

// WithBackoffMax 设置重试退避的上限。
// 非正值会被静默忽略。
func WithBackoffMax(d time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) {
		if d > 0 {
			o.BackoffMax = d
		}
	}
}

// WithRetention 覆盖此任务终态后的保留时长。
// 0 是合法值，表示下一次清理即移除；负值会被静默忽略。
func WithRetention(completed, failed time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) {
		if completed >= 0 {
			o.RetainCompleted = completed
		}
		if failed >= 0 {
			o.RetainFailed = failed
		}
	}
}

// WithNotify 设置完成通知的投递目标。
// userID 或 chatID 为空时忽略此设置。
func WithNotify(userID, chatID, requestID string) EnqueueOption {
	return func(o *EnqueueOptions) {
		if userID != "" && chatID != "" {
			o.Notify = &NotifyTarget{UserID: userID, ChatID: chatID, RequestID: requestID}
		}
	}
}
