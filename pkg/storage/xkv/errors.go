package xkv

import "errors"

// 预定义错误。
// 使用 errors.Is 进行错误匹配。
var (
	// ErrNilClient 传入的客户端为 nil。
	ErrNilClient = errors.New("xkv: nil client")

	// ErrEmptyKey key 为空字符串。
	// 空 key 在 Redis 中合法但几乎总是使用错误，应在入口处 fail-fast。
	ErrEmptyKey = errors.New("xkv: empty key")

	// ErrInvalidTTL TTL 无效（负值）。
	ErrInvalidTTL = errors.New("xkv: ttl must not be negative")

	// ErrNotFound key 不存在或已过期。
	ErrNotFound = errors.New("xkv: key not found")

	// ErrUnavailable 存储不可达。
	// 重试耗尽后仍无法完成操作时返回此错误，
	// 上层据此决定是否降级到本地存储。
	ErrUnavailable = errors.New("xkv: store unavailable")

	// ErrNotOwner CompareAndDelete 发现值不匹配。
	// 典型场景：锁已过期并被其他持有者重新获取。
	ErrNotOwner = errors.New("xkv: value mismatch, not the owner")

	// ErrClosed 存储已关闭。
	ErrClosed = errors.New("xkv: store is closed")
)
