package xsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/omeyang/botkit/pkg/storage/xkv"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	// ErrNilStore 传入的存储为 nil。
	ErrNilStore = errors.New("xsession: nil store")

	// ErrEmptyUserID 用户 ID 为空。
	ErrEmptyUserID = errors.New("xsession: empty user id")

	// ErrNilSession 传入的会话为 nil。
	ErrNilSession = errors.New("xsession: nil session")

	// ErrNotFound 会话不存在或已过期。
	ErrNotFound = errors.New("xsession: session not found")

	// ErrSerialization 会话无法序列化为 JSON。
	// 立即返回、不重试，调用方可以选择不持久化继续处理本回合。
	ErrSerialization = errors.New("xsession: serialization failed")
)

// =============================================================================
// 数据模型
// =============================================================================

// Session 单个用户的会话状态。
type Session struct {
	// UserID 用户标识。
	UserID string `json:"userId"`

	// TenantID 租户标识。
	TenantID string `json:"tenantId"`

	// State 任意会话状态，值必须可 JSON 序列化。
	State map[string]any `json:"state"`

	// UpdatedAt 最近一次写入时间，由 Set 自动刷新。
	UpdatedAt time.Time `json:"updatedAt"`
}

// =============================================================================
// 配置选项
// =============================================================================

// DefaultTTL 会话默认过期时间。
const DefaultTTL = 30 * time.Minute

// keyPrefix 会话 key 前缀，完整 key 为 "session:{userId}"。
const keyPrefix = "session:"

// Options 定义会话缓存的配置选项。
type Options struct {
	// TTL 会话过期时间，每次 Set 刷新。
	// 默认为 DefaultTTL。
	TTL time.Duration
}

// Option 定义配置会话缓存的函数类型。
type Option func(*Options)

// defaultOptions 返回默认配置。
func defaultOptions() *Options {
	return &Options{TTL: DefaultTTL}
}

// WithTTL 设置会话过期时间。
// d <= 0 时忽略此设置。
func WithTTL(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.TTL = d
		}
	}
}

// =============================================================================
// Cache 实现
// =============================================================================

// Cache 定义会话缓存接口。
type Cache interface {
	// Get 读取用户会话。不存在或已过期返回 [ErrNotFound]。
	Get(ctx context.Context, userID string) (*Session, error)

	// Set 整体写入用户会话并刷新 TTL。
	// session.UserID 以参数 userID 为准，UpdatedAt 自动盖章。
	Set(ctx context.Context, userID string, session *Session) error

	// Delete 删除用户会话。会话不存在时不报错。
	Delete(ctx context.Context, userID string) error
}

// New 创建会话缓存。
// store 通常为 xkv.NewFallback 组合存储，以获得降级能力。
func New(store xkv.Store, opts ...Option) (Cache, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &cache{
		store: store,
		ttl:   options.TTL,
	}, nil
}

type cache struct {
	store xkv.Store
	ttl   time.Duration
}

func (c *cache) Get(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	raw, err := c.store.Get(ctx, keyPrefix+userID)
	if err != nil {
		if errors.Is(err, xkv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("xsession: get %s: %w", userID, err)
	}

	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		// 存储中的数据损坏视为不存在，让调用方重建会话
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return &session, nil
}

func (c *cache) Set(ctx context.Context, userID string, session *Session) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if session == nil {
		return ErrNilSession
	}

	session.UserID = userID
	session.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	if err := c.store.Set(ctx, keyPrefix+userID, string(raw), c.ttl); err != nil {
		return fmt.Errorf("xsession: set %s: %w", userID, err)
	}
	return nil
}

func (c *cache) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if err := c.store.Delete(ctx, keyPrefix+userID); err != nil {
		return fmt.Errorf("xsession: delete %s: %w", userID, err)
	}
	return nil
}
