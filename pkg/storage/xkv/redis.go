package xkv

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
)

// compareAndDeleteScript 是值匹配删除的 Lua 脚本。
// 返回 1 表示成功删除，0 表示值不匹配或 key 不存在。
var compareAndDeleteScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// =============================================================================
// Redis 配置选项
// =============================================================================

// RedisOptions 定义 Redis 存储的配置选项。
type RedisOptions struct {
	// RetryAttempts 瞬时错误的最大尝试次数（包含首次）。
	// 默认为 3。设置为 1 表示不重试。
	RetryAttempts int

	// RetryDelay 重试间隔（固定延迟）。
	// 默认为 50ms。
	RetryDelay time.Duration
}

// RedisOption 定义配置 Redis 存储的函数类型。
type RedisOption func(*RedisOptions)

// defaultRedisOptions 返回默认的 Redis 配置。
func defaultRedisOptions() *RedisOptions {
	return &RedisOptions{
		RetryAttempts: 3,
		RetryDelay:    50 * time.Millisecond,
	}
}

// WithRetryAttempts 设置瞬时错误的最大尝试次数（包含首次）。
// n <= 0 时忽略此设置。
func WithRetryAttempts(n int) RedisOption {
	return func(o *RedisOptions) {
		if n > 0 {
			o.RetryAttempts = n
		}
	}
}

// WithRetryDelay 设置重试间隔。
// d <= 0 时忽略此设置。
func WithRetryDelay(d time.Duration) RedisOption {
	return func(o *RedisOptions) {
		if d > 0 {
			o.RetryDelay = d
		}
	}
}

// =============================================================================
// Redis 实现
// =============================================================================

// NewRedis 创建 Redis 存储实例。
// client 必须是已初始化的 redis.UniversalClient，生命周期由调用方管理
// （Close 会关闭传入的客户端）。
func NewRedis(client redis.UniversalClient, opts ...RedisOption) (Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	options := defaultRedisOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &redisStore{
		client:  client,
		options: options,
	}, nil
}

// redisStore 实现 Store 接口，基于 go-redis。
// 瞬时命令失败经 retry-go 固定延迟重试，耗尽后包裹为 ErrUnavailable。
type redisStore struct {
	client  redis.UniversalClient
	options *RedisOptions
	closed  atomic.Bool
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	if err := validateKey(key); err != nil {
		return "", err
	}

	var value string
	err := s.do(ctx, func() error {
		v, err := s.client.Get(ctx, key).Result()
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateTTL(ttl); err != nil {
		return err
	}

	return s.do(ctx, func() error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
}

func (s *redisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	if err := validateKey(key); err != nil {
		return false, err
	}
	if err := validateTTL(ttl); err != nil {
		return false, err
	}

	var acquired bool
	err := s.do(ctx, func() error {
		ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
		if err != nil {
			return err
		}
		acquired = ok
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

func (s *redisStore) CompareAndDelete(ctx context.Context, key, value string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}

	var deleted int64
	err := s.do(ctx, func() error {
		n, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, value).Int64()
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrNotOwner
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}

	return s.do(ctx, func() error {
		return s.client.Del(ctx, key).Err()
	})
}

func (s *redisStore) Health(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *redisStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return s.client.Close()
}

// do 执行一次 Redis 命令，瞬时错误按配置重试。
// 重试耗尽后把最后一个瞬时错误包裹为 ErrUnavailable 返回；
// 非瞬时错误（redis.Nil、context 取消）立即透传。
func (s *redisStore) do(ctx context.Context, fn func() error) error {
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(safeAttempts(s.options.RetryAttempts)),
		retry.Delay(s.options.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
	).Do(fn)
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// isTransient 判断错误是否为可重试的瞬时错误。
// redis.Nil（key 不存在）和 context 取消/超时属于确定性结果，不重试。
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// safeAttempts 将 int 尝试次数安全转换为 retry-go 需要的 uint。
func safeAttempts(n int) uint {
	if n <= 0 {
		return 1
	}
	return uint(n)
}
