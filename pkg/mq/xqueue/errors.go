package xqueue

import "errors"

var (
	// ErrNilClient Redis 客户端为 nil。
	ErrNilClient = errors.New("xqueue: nil redis client")

	// ErrNilLocker 分布式锁实例为 nil。
	ErrNilLocker = errors.New("xqueue: nil locker")

	// ErrClosed 队列已关闭。
	ErrClosed = errors.New("xqueue: queue is closed")

	// ErrEmptyType 任务类型为空。
	ErrEmptyType = errors.New("xqueue: empty job type")

	// ErrEmptyJobID 任务 ID 为空。
	ErrEmptyJobID = errors.New("xqueue: empty job id")

	// ErrJobNotFound 任务不存在（或已被清理）。
	ErrJobNotFound = errors.New("xqueue: job not found")

	// ErrJobFinished 任务已进入终态，不再接受进度上报。
	ErrJobFinished = errors.New("xqueue: job already finished")

	// ErrJobFailed 任务尝试次数耗尽进入 failed 终态。
	// 由 [Job.Err] 返回，可用 errors.Is 匹配。
	ErrJobFailed = errors.New("xqueue: job failed")

	// ErrInvalidProgress 进度值不在 [0, 100] 区间内。
	ErrInvalidProgress = errors.New("xqueue: progress out of range [0, 100]")

	// ErrSerialization 任务载荷序列化或反序列化失败。
	ErrSerialization = errors.New("xqueue: serialization failed")

	// ErrNilHandler 任务处理函数为 nil。
	ErrNilHandler = errors.New("xqueue: nil handler")

	// ErrHandlerExists 同一任务类型重复注册处理函数。
	ErrHandlerExists = errors.New("xqueue: handler already registered")

	// ErrAlreadyStarted worker 已启动。
	ErrAlreadyStarted = errors.New("xqueue: worker already started")

	// ErrNotStarted worker 未启动。
	ErrNotStarted = errors.New("xqueue: worker not started")

	// ErrInvalidSchedule 清理任务的 cron 表达式无效。
	ErrInvalidSchedule = errors.New("xqueue: invalid cleanup schedule")
)
