package xdlock

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// 接口定义
// =============================================================================

// Handle 表示一次成功的锁获取。
//
// 每次 TryLock 成功都会返回一个新的 handle，内部封装了唯一持有者标识。
// 只有持有 handle 的调用方能释放或续期这把锁，
// 不同获取之间不会互相干扰。
type Handle interface {
	// Unlock 释放锁。
	// 返回 [ErrNotLocked] 表示锁已过期或被其他获取覆盖。
	Unlock(ctx context.Context) error

	// Extend 续期锁，续期时长为获取时配置的 Expiry。
	// 返回 [ErrNotLocked] 表示所有权已丢失，
	// [ErrExtendFailed] 表示续期操作失败（锁可能仍在，可重试）。
	Extend(ctx context.Context) error

	// Key 返回锁的完整 key（含前缀），用于日志记录。
	Key() string
}

// Locker 定义命名互斥锁服务。
type Locker interface {
	// WithLock 在锁保护下执行 fn。
	//
	// 获取成功后运行 fn，随后释放锁（仅当锁仍属于本次获取时删除，
	// 防止误释放后来者的锁）。重试耗尽仍未获取到锁时返回
	// [ErrLockFailed]，fn 不会被执行；fn 的错误原样透传。
	//
	// 释放失败仅说明锁已过期或被抢走（临界区执行超过了 Expiry），
	// 不影响 fn 已经产生的结果，WithLock 对此返回 nil 并由
	// 调用方通过合理的 Expiry 配置避免。
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error, opts ...MutexOption) error

	// TryLock 非阻塞式获取锁。
	// 成功时返回 Handle；锁被其他持有者占用时返回 (nil, nil)。
	TryLock(ctx context.Context, key string, opts ...MutexOption) (Handle, error)

	// Health 健康检查，对底层 Redis 执行 PING。
	Health(ctx context.Context) error

	// Close 关闭锁服务。不会关闭传入的 Redis 客户端。
	Close() error
}

// =============================================================================
// Redis 实现
// =============================================================================

// New 创建基于 Redis 的锁服务。
// client 必须是已初始化的 redis.UniversalClient，生命周期由调用方管理。
func New(client redis.UniversalClient) (Locker, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	return &redisLocker{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
	}, nil
}

// redisLocker 实现 Locker 接口，基于 redsync（单池即 SET NX PX 语义）。
type redisLocker struct {
	client redis.UniversalClient
	rs     *redsync.Redsync
	closed atomic.Bool
}

func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error, opts ...MutexOption) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if fn == nil {
		return ErrNilFunc
	}
	if err := validateKey(key); err != nil {
		return err
	}

	mutex, _ := l.newMutex(key, opts...)

	if err := mutex.LockContext(ctx); err != nil {
		// redsync 不透传 context 错误，需要单独检查
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return wrapRedsyncError(err)
	}

	fnErr := fn(ctx)

	// 释放锁。锁已过期/被抢走不覆盖 fn 的结果：
	// fn 的副作用已经发生，过期属于 TTL 配置问题而非执行失败。
	if _, err := mutex.UnlockContext(ctx); err != nil && fnErr == nil {
		if unlockErr := wrapRedsyncError(err); !errors.Is(unlockErr, ErrLockExpired) {
			return unlockErr
		}
	}
	return fnErr
}

func (l *redisLocker) TryLock(ctx context.Context, key string, opts ...MutexOption) (Handle, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	mutex, fullKey := l.newMutex(key, opts...)

	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) {
			return nil, nil // 锁被占用，正常情况
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, wrapRedsyncError(err)
	}

	return &redisHandle{mutex: mutex, key: fullKey}, nil
}

func (l *redisLocker) Health(ctx context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.client.Ping(ctx).Err()
}

func (l *redisLocker) Close() error {
	if l.closed.Swap(true) {
		return ErrClosed
	}
	// redsync 没有需要释放的资源，Redis 客户端由调用方管理
	return nil
}

// newMutex 构造 redsync.Mutex，返回 mutex 和完整 key（含前缀）。
func (l *redisLocker) newMutex(key string, opts ...MutexOption) (*redsync.Mutex, string) {
	options := defaultMutexOptions()
	for _, opt := range opts {
		opt(options)
	}

	fullKey := options.KeyPrefix + key
	mutex := l.rs.NewMutex(fullKey,
		redsync.WithExpiry(options.Expiry),
		redsync.WithTries(options.Tries),
		redsync.WithRetryDelay(options.RetryDelay),
	)
	return mutex, fullKey
}

// =============================================================================
// Handle 实现
// =============================================================================

// redisHandle 实现 Handle 接口。
type redisHandle struct {
	mutex *redsync.Mutex
	key   string
}

func (h *redisHandle) Unlock(ctx context.Context) error {
	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		wrapped := wrapRedsyncError(err)
		if errors.Is(wrapped, ErrLockExpired) {
			return ErrNotLocked
		}
		return wrapped
	}
	if !ok {
		return ErrNotLocked
	}
	return nil
}

func (h *redisHandle) Extend(ctx context.Context) error {
	ok, err := h.mutex.ExtendContext(ctx)
	if err != nil {
		wrapped := wrapRedsyncError(err)
		if errors.Is(wrapped, ErrLockExpired) {
			return ErrNotLocked
		}
		return wrapped
	}
	if !ok {
		return ErrNotLocked
	}
	return nil
}

func (h *redisHandle) Key() string {
	return h.key
}

// =============================================================================
// 错误转换
// =============================================================================

// wrapRedsyncError 将 redsync 错误转换为 xdlock 错误，保留原始错误链。
func wrapRedsyncError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var taken *redsync.ErrTaken
	if errors.As(err, &taken) {
		return fmt.Errorf("%w: %w", ErrLockFailed, err)
	}
	if errors.Is(err, redsync.ErrFailed) {
		return fmt.Errorf("%w: %w", ErrLockFailed, err)
	}
	if errors.Is(err, redsync.ErrExtendFailed) {
		return fmt.Errorf("%w: %w", ErrExtendFailed, err)
	}
	if errors.Is(err, redsync.ErrLockAlreadyExpired) {
		return fmt.Errorf("%w: %w", ErrLockExpired, err)
	}
	return err
}

// 编译期接口断言。
var (
	_ Locker = (*redisLocker)(nil)
	_ Handle = (*redisHandle)(nil)
)
