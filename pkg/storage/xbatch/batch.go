package xbatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/omeyang/botkit/pkg/storage/xkv"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	// ErrNilStore 传入的存储为 nil。
	ErrNilStore = errors.New("xbatch: nil store")

	// ErrEmptyUserID 用户 ID 为空。
	ErrEmptyUserID = errors.New("xbatch: empty user id")

	// ErrEmptyBatchID 批次 ID 为空。
	ErrEmptyBatchID = errors.New("xbatch: empty batch id")

	// ErrNotFound 批次不存在或已过期（stale batch reference）。
	// 面向用户应转译为"数据已过期，请重试"，不是致命错误。
	ErrNotFound = errors.New("xbatch: batch not found or expired")

	// ErrSerialization 批次负载无法序列化为 JSON。
	// 立即返回、不重试。
	ErrSerialization = errors.New("xbatch: serialization failed")
)

// =============================================================================
// 数据模型
// =============================================================================

// DefaultTTL 批次状态默认过期时间。
const DefaultTTL = 15 * time.Minute

// State 批次状态信封。
type State[T any] struct {
	// BatchID 批次标识，由 NewBatchID 生成。
	BatchID string `json:"batchId"`

	// UserID 所属用户。
	UserID string `json:"userId"`

	// Timestamp 批次创建（首次 Save）时间。
	Timestamp time.Time `json:"timestamp"`

	// Payload 工作流自定义负载。
	Payload T `json:"payload"`
}

// NewBatchID 生成不透明、抗碰撞的批次标识。
func NewBatchID() string {
	return uuid.NewString()
}

// =============================================================================
// 配置选项
// =============================================================================

// Options 定义批次存储的配置选项。
type Options struct {
	// TTL 批次过期时间，每次 Save/Update 刷新。
	// 默认为 DefaultTTL（900 秒）。
	TTL time.Duration
}

// Option 定义配置批次存储的函数类型。
type Option func(*Options)

// defaultOptions 返回默认配置。
func defaultOptions() *Options {
	return &Options{TTL: DefaultTTL}
}

// WithTTL 设置批次过期时间。
// d <= 0 时忽略此设置。
func WithTTL(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.TTL = d
		}
	}
}

// =============================================================================
// Store 实现
// =============================================================================

// Store 定义批次状态存储。
// 泛型参数 T 为工作流负载类型，必须可 JSON 序列化。
type Store[T any] struct {
	store xkv.Store
	ttl   time.Duration
}

// New 创建批次状态存储。
// store 应为 Redis 后端（xkv.NewRedis）：批次状态必须跨 worker
// 可见，没有安全的本地降级。
func New[T any](store xkv.Store, opts ...Option) (*Store[T], error) {
	if store == nil {
		return nil, ErrNilStore
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Store[T]{
		store: store,
		ttl:   options.TTL,
	}, nil
}

// Save 写入批次负载。批次不存在时创建，已存在时整体覆盖并刷新 TTL。
func (s *Store[T]) Save(ctx context.Context, userID, batchID string, payload T) error {
	if err := validateIDs(userID, batchID); err != nil {
		return err
	}

	state := State[T]{
		BatchID:   batchID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	return s.write(ctx, userID, batchID, state)
}

// Get 读取批次负载。不存在或已过期返回 [ErrNotFound]。
func (s *Store[T]) Get(ctx context.Context, userID, batchID string) (T, error) {
	var zero T
	state, err := s.load(ctx, userID, batchID)
	if err != nil {
		return zero, err
	}
	return state.Payload, nil
}

// Update 读-改-写批次负载：读取当前值，应用 fn 的原地修改，写回并刷新 TTL。
//
// 前置条件：同一批次无并发写者（见包文档）。此操作不是原子的，
// 并发 Update 同一批次会相互覆盖。
func (s *Store[T]) Update(ctx context.Context, userID, batchID string, fn func(payload *T) error) error {
	if fn == nil {
		return errors.New("xbatch: nil update func")
	}

	state, err := s.load(ctx, userID, batchID)
	if err != nil {
		return err
	}

	if err := fn(&state.Payload); err != nil {
		return err
	}
	return s.write(ctx, userID, batchID, state)
}

// Delete 删除批次。批次不存在时不报错。
func (s *Store[T]) Delete(ctx context.Context, userID, batchID string) error {
	if err := validateIDs(userID, batchID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, key(userID, batchID)); err != nil {
		return fmt.Errorf("xbatch: delete %s: %w", batchID, err)
	}
	return nil
}

// load 读取并反序列化批次状态。
func (s *Store[T]) load(ctx context.Context, userID, batchID string) (State[T], error) {
	var state State[T]
	if err := validateIDs(userID, batchID); err != nil {
		return state, err
	}

	raw, err := s.store.Get(ctx, key(userID, batchID))
	if err != nil {
		if errors.Is(err, xkv.ErrNotFound) {
			return state, ErrNotFound
		}
		return state, fmt.Errorf("xbatch: get %s: %w", batchID, err)
	}

	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		// 损坏的数据视为过期，让用户重新发起工作流
		return state, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return state, nil
}

// write 序列化并写入批次状态，刷新 TTL。
func (s *Store[T]) write(ctx context.Context, userID, batchID string, state State[T]) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if err := s.store.Set(ctx, key(userID, batchID), string(raw), s.ttl); err != nil {
		return fmt.Errorf("xbatch: set %s: %w", batchID, err)
	}
	return nil
}

// key 构造批次存储 key："batch:{userId}:{batchId}"。
func key(userID, batchID string) string {
	return "batch:" + userID + ":" + batchID
}

// validateIDs 校验用户与批次标识。
func validateIDs(userID, batchID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if batchID == "" {
		return ErrEmptyBatchID
	}
	return nil
}
