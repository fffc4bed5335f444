package xqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// 任务状态
// =============================================================================

// Status 任务生命周期状态。
type Status string

const (
	// StatusWaiting 等待执行（含延迟与退避重试中的任务）。
	StatusWaiting Status = "waiting"
	// StatusActive 正在被某个 worker 执行。
	StatusActive Status = "active"
	// StatusCompleted 执行成功，按保留期暂存以供查询。
	StatusCompleted Status = "completed"
	// StatusFailed 尝试次数耗尽，按更长的保留期暂存以便排障。
	StatusFailed Status = "failed"
)

// Terminal 报告状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// =============================================================================
// 任务模型
// =============================================================================

// Job 一条持久化任务。字段在任务生命周期内由队列维护，
// 调用方通过 [Queue.GetStatus] 拿到的是快照副本。
type Job struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"data,omitempty"`

	Status   Status `json:"status"`
	Progress int    `json:"progress"`

	// Attempts 已经开始过的执行次数（含当前这次）。
	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"maxAttempts"`

	CreatedAt   time.Time  `json:"createdAt"`
	ProcessedAt *time.Time `json:"processedOn,omitempty"`
	FinishedAt  *time.Time `json:"finishedOn,omitempty"`

	// FailureReason 最近一次失败原因。重试成功后保留最后一次的记录。
	FailureReason string `json:"failedReason,omitempty"`

	// Result 执行成功后处理函数的返回值。
	Result *Result `json:"result,omitempty"`

	// Backoff 重试退避的初始延迟；实际延迟按尝试次数指数增长并加抖动。
	Backoff    time.Duration `json:"backoff,omitempty"`
	BackoffMax time.Duration `json:"backoffMax,omitempty"`

	// RetainCompleted / RetainFailed 终态后到被清理的保留时长。
	RetainCompleted time.Duration `json:"retainCompleted,omitempty"`
	RetainFailed    time.Duration `json:"retainFailed,omitempty"`

	// Notify 完成通知的投递目标。nil 表示此任务不需要通知。
	Notify *NotifyTarget `json:"notify,omitempty"`
}

// Err 任务进入 failed 终态时返回包裹 [ErrJobFailed] 的错误，
// 附带最后一次失败原因；其余状态返回 nil。
func (j *Job) Err() error {
	if j.Status != StatusFailed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrJobFailed, j.FailureReason)
}

// UnmarshalPayload 把任务载荷反序列化到 v。
func (j *Job) UnmarshalPayload(v any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(j.Payload, v)
}

// Result 任务处理函数的结构化返回值。
type Result struct {
	// Location 产出物的存放位置（如报表文件路径、对象存储 key）。
	Location string `json:"location,omitempty"`
	// Summary 摘要统计，原样带入完成通知。
	Summary map[string]any `json:"summary,omitempty"`
}

// =============================================================================
// 完成通知
// =============================================================================

// NotifyTarget 完成通知的投递目标。
type NotifyTarget struct {
	UserID    string `json:"userId"`
	ChatID    string `json:"chatId"`
	RequestID string `json:"requestId,omitempty"`
}

// Notification 任务成功完成后投递给 [Notifier] 的消息。
type Notification struct {
	JobID     string  `json:"jobId"`
	Type      string  `json:"type"`
	UserID    string  `json:"userId"`
	ChatID    string  `json:"chatId"`
	RequestID string  `json:"requestId,omitempty"`
	Result    *Result `json:"result,omitempty"`
}

// Notifier 把完成通知投递给用户（如 bot 推送消息）。
// 每个成功完成的任务至多收到一次通知；投递失败只记日志，
// 不影响任务的完成状态。
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// =============================================================================
// 处理函数
// =============================================================================

// Handler 任务处理函数。返回 nil 表示成功；返回错误时按
// 剩余尝试次数决定退避重试或进入 failed 终态。
type Handler func(ctx context.Context, jc *JobContext) (*Result, error)

// JobContext 处理函数的执行上下文，提供任务快照与进度上报。
type JobContext struct {
	Job   Job
	queue *Queue
}

// Progress 上报当前任务的执行进度（0-100）。
func (jc *JobContext) Progress(ctx context.Context, pct int) error {
	return jc.queue.ReportProgress(ctx, jc.Job.ID, pct)
}
