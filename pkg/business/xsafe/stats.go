package xsafe

import (
	"sync"
	"sync/atomic"
	"time"
)

// stats 锁使用统计，原子计数，可在运行期间安全读取。
type stats struct {
	acquired     atomic.Int64 // 锁获取成功次数
	lockFailures atomic.Int64 // 锁重试耗尽次数
	fallbackRuns atomic.Int64 // 无锁降级执行次数（fail-open）
	refused      atomic.Int64 // fail-closed 拒绝次数
	fnFailures   atomic.Int64 // 业务操作自身失败次数

	mu           sync.RWMutex
	lastRunAt    time.Time
	lastDuration time.Duration
	lastError    error
}

// LockStats 锁使用统计快照。
type LockStats struct {
	// Acquired 锁获取成功次数。
	Acquired int64

	// LockFailures 锁重试耗尽次数。
	LockFailures int64

	// FallbackRuns 无锁降级执行次数（仅 ClassIdempotent 产生）。
	FallbackRuns int64

	// Refused fail-closed 拒绝次数。
	Refused int64

	// FnFailures 业务操作自身失败次数。
	FnFailures int64

	// LastRunAt 最近一次执行时间。
	LastRunAt time.Time

	// LastDuration 最近一次执行耗时。
	LastDuration time.Duration

	// LastError 最近一次错误（可能为 nil）。
	LastError error
}

// recordRun 记录一次执行的时间、耗时与错误。
func (s *stats) recordRun(start time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRunAt = start
	s.lastDuration = time.Since(start)
	s.lastError = err
}

// snapshot 返回当前统计快照。
func (s *stats) snapshot() LockStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return LockStats{
		Acquired:     s.acquired.Load(),
		LockFailures: s.lockFailures.Load(),
		FallbackRuns: s.fallbackRuns.Load(),
		Refused:      s.refused.Load(),
		FnFailures:   s.fnFailures.Load(),
		LastRunAt:    s.lastRunAt,
		LastDuration: s.lastDuration,
		LastError:    s.lastError,
	}
}
