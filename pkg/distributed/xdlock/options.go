package xdlock

import (
	"strings"
	"time"
)

// maxKeyLength 锁 key 的最大长度（字节）。
const maxKeyLength = 512

// validateKey 校验锁 key 是否有效。
func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if len(key) > maxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// =============================================================================
// Mutex 选项
// =============================================================================

// MutexOption 定义单次锁获取的配置选项。
type MutexOption func(*mutexOptions)

// mutexOptions 锁获取配置。
type mutexOptions struct {
	KeyPrefix  string        // Key 前缀，默认 "lock:"
	Expiry     time.Duration // 过期时间，默认 8s
	Tries      int           // 最大尝试次数（包含首次），默认 4
	RetryDelay time.Duration // 重试延迟，默认 200ms
}

// defaultMutexOptions 返回默认的锁获取配置。
func defaultMutexOptions() *mutexOptions {
	return &mutexOptions{
		KeyPrefix:  "lock:",
		Expiry:     8 * time.Second,
		Tries:      4,
		RetryDelay: 200 * time.Millisecond,
	}
}

// WithKeyPrefix 设置锁 key 的前缀。
// 最终 key = prefix + key。默认值："lock:"。
func WithKeyPrefix(prefix string) MutexOption {
	return func(o *mutexOptions) {
		o.KeyPrefix = prefix
	}
}

// WithExpiry 设置锁的过期时间（TTL）。
// 默认值：8 秒。过期时间应大于临界区的最坏执行时长。
func WithExpiry(d time.Duration) MutexOption {
	return func(o *mutexOptions) {
		if d > 0 {
			o.Expiry = d
		}
	}
}

// WithTries 设置获取锁的最大尝试次数（包含首次）。
// 默认值：4。设置为 1 表示不重试。
func WithTries(n int) MutexOption {
	return func(o *mutexOptions) {
		if n > 0 {
			o.Tries = n
		}
	}
}

// WithRetryDelay 设置重试延迟。
// 默认值：200ms。redsync 会在 [d/2, 3d/2) 内抖动，
// 天然打散多个 worker 的重试节奏。
func WithRetryDelay(d time.Duration) MutexOption {
	return func(o *mutexOptions) {
		if d > 0 {
			o.RetryDelay = d
		}
	}
}
