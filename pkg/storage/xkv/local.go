package xkv

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// =============================================================================
// Local 配置选项
// =============================================================================

// maxLocalSize 本地存储最大条目数上限。
const maxLocalSize = 1 << 20

// LocalOptions 定义本地存储的配置选项。
type LocalOptions struct {
	// Size 最大条目数，超出后按 LRU 淘汰。
	// 默认为 4096。
	Size int

	// MaxTTL 条目在 LRU 中的驻留上限。
	// 每个条目各自的 TTL 在读取时惰性判定，MaxTTL 只是兜底回收边界。
	// 默认为 1 小时。
	MaxTTL time.Duration
}

// LocalOption 定义配置本地存储的函数类型。
type LocalOption func(*LocalOptions)

// defaultLocalOptions 返回默认的本地存储配置。
func defaultLocalOptions() *LocalOptions {
	return &LocalOptions{
		Size:   4096,
		MaxTTL: time.Hour,
	}
}

// WithLocalSize 设置最大条目数。
// n <= 0 或超过上限时忽略此设置。
func WithLocalSize(n int) LocalOption {
	return func(o *LocalOptions) {
		if n > 0 && n <= maxLocalSize {
			o.Size = n
		}
	}
}

// WithLocalMaxTTL 设置条目驻留上限。
// d <= 0 时忽略此设置。
func WithLocalMaxTTL(d time.Duration) LocalOption {
	return func(o *LocalOptions) {
		if d > 0 {
			o.MaxTTL = d
		}
	}
}

// =============================================================================
// Local 实现
// =============================================================================

// localEntry 本地存储条目。
// expiresAt 为零值表示永不过期。
type localEntry struct {
	value     string
	expiresAt time.Time
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewLocal 创建进程内存储实例。
//
// 基于 expirable LRU，容量与驻留时间有界，实例之间相互独立，
// 便于测试构造与依赖注入。注意：本地存储是 worker 私有的，
// 仅用于 Redis 不可用时的降级，不提供跨进程一致性。
func NewLocal(opts ...LocalOption) Store {
	options := defaultLocalOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &localStore{
		lru: expirable.NewLRU[string, localEntry](options.Size, nil, options.MaxTTL),
	}
}

// localStore 实现 Store 接口，进程内后备存储。
//
// expirable.LRU 自身是并发安全的，但 SetNX/CompareAndDelete 需要
// 读-判-写的复合原子性，因此用互斥锁串行化写路径。
type localStore struct {
	mu     sync.Mutex
	lru    *expirable.LRU[string, localEntry]
	closed bool
}

func (s *localStore) Get(_ context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	entry, ok := s.lru.Get(key)
	if !ok || entry.expired(time.Now()) {
		s.lru.Remove(key)
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (s *localStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateTTL(ttl); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.lru.Add(key, newEntry(value, ttl))
	return nil
}

func (s *localStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if err := validateTTL(ttl); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	if entry, ok := s.lru.Get(key); ok && !entry.expired(time.Now()) {
		return false, nil
	}
	s.lru.Add(key, newEntry(value, ttl))
	return true, nil
}

func (s *localStore) CompareAndDelete(_ context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	entry, ok := s.lru.Get(key)
	if !ok || entry.expired(time.Now()) || entry.value != value {
		return ErrNotOwner
	}
	s.lru.Remove(key)
	return nil
}

func (s *localStore) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.lru.Remove(key)
	return nil
}

func (s *localStore) Health(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *localStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.lru.Purge()
	return nil
}

// newEntry 构造本地条目，ttl 为 0 表示永不过期。
func newEntry(value string, ttl time.Duration) localEntry {
	entry := localEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	return entry
}
