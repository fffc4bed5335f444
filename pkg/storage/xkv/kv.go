package xkv

import (
	"context"
	"time"
)

// =============================================================================
// Store 接口定义
// =============================================================================

// Store 定义协调层使用的键值存储接口。
//
// 所有实现必须满足：
//   - Get 对不存在或已过期的 key 返回 [ErrNotFound]
//   - SetNX 在 key 已存在时返回 (false, nil)，不视为错误
//   - CompareAndDelete 在值不匹配或 key 不存在时返回 [ErrNotOwner]
//   - ttl 为 0 表示永不过期，负值返回 [ErrInvalidTTL]
//
// 值约定为 UTF-8 JSON 字符串，但 Store 本身不做校验。
type Store interface {
	// Get 读取 key 对应的值。
	Get(ctx context.Context, key string) (string, error)

	// Set 写入键值对并设置过期时间。
	// 已存在的 key 会被覆盖，TTL 重新计算。
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX 仅当 key 不存在时写入（原子操作）。
	// 返回 true 表示写入成功（调用方成为持有者）。
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndDelete 仅当 key 的当前值等于 value 时删除。
	// 用于安全释放锁：只有持有者能删除自己的锁。
	CompareAndDelete(ctx context.Context, key, value string) error

	// Delete 删除 key。key 不存在时不报错。
	Delete(ctx context.Context, key string) error

	// Health 健康检查。
	Health(ctx context.Context) error

	// Close 关闭存储，释放底层资源。
	Close() error
}

// validateKey 校验 key 是否有效。
func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

// validateTTL 校验 TTL 是否有效。
func validateTTL(ttl time.Duration) error {
	if ttl < 0 {
		return ErrInvalidTTL
	}
	return nil
}
