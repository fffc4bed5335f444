package xdlock

import "errors"

// 预定义错误。
// 使用 errors.Is 进行错误匹配。
var (
	// ErrNilClient 传入的客户端为 nil。
	ErrNilClient = errors.New("xdlock: client is nil")

	// ErrNilFunc 传入的临界区函数为 nil。
	ErrNilFunc = errors.New("xdlock: fn is nil")

	// ErrEmptyKey 锁 key 为空或仅含空白。
	ErrEmptyKey = errors.New("xdlock: key must not be empty")

	// ErrKeyTooLong 锁 key 超过 512 字节限制。
	ErrKeyTooLong = errors.New("xdlock: key exceeds maximum length of 512 bytes")

	// ErrLockFailed 获取锁失败（重试耗尽）。
	// 降级策略由调用方决定，本包不做任何兜底。
	ErrLockFailed = errors.New("xdlock: failed to acquire lock")

	// ErrLockExpired 锁已过期或被其他持有者抢走。
	// 释放时发现锁已不属于当前持有者返回此错误。
	ErrLockExpired = errors.New("xdlock: lock expired or stolen")

	// ErrExtendFailed 续期失败（锁可能仍在，可重试）。
	ErrExtendFailed = errors.New("xdlock: failed to extend lock")

	// ErrNotLocked 锁未被持有。
	ErrNotLocked = errors.New("xdlock: not locked")

	// ErrClosed 锁服务已关闭。
	ErrClosed = errors.New("xdlock: locker is closed")
)
