package xkv

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// =============================================================================
// Fallback 配置选项
// =============================================================================

// FallbackOptions 定义降级存储的配置选项。
type FallbackOptions struct {
	// BreakerName 熔断器名称，用于日志与状态回调。
	// 默认为 "xkv"。
	BreakerName string

	// ConsecutiveFailures 连续失败多少次后熔断。
	// 默认为 5。
	ConsecutiveFailures uint32

	// OpenTimeout 熔断器从 Open 进入 Half-Open 的等待时间。
	// 默认为 10 秒。
	OpenTimeout time.Duration

	// Logger 日志记录器。默认为 slog.Default()。
	Logger *slog.Logger
}

// FallbackOption 定义配置降级存储的函数类型。
type FallbackOption func(*FallbackOptions)

// defaultFallbackOptions 返回默认的降级配置。
func defaultFallbackOptions() *FallbackOptions {
	return &FallbackOptions{
		BreakerName:         "xkv",
		ConsecutiveFailures: 5,
		OpenTimeout:         10 * time.Second,
		Logger:              slog.Default(),
	}
}

// WithBreakerName 设置熔断器名称。
func WithBreakerName(name string) FallbackOption {
	return func(o *FallbackOptions) {
		if name != "" {
			o.BreakerName = name
		}
	}
}

// WithConsecutiveFailures 设置触发熔断的连续失败次数。
// n 为 0 时忽略此设置。
func WithConsecutiveFailures(n uint32) FallbackOption {
	return func(o *FallbackOptions) {
		if n > 0 {
			o.ConsecutiveFailures = n
		}
	}
}

// WithOpenTimeout 设置熔断恢复探测的等待时间。
// d <= 0 时忽略此设置。
func WithOpenTimeout(d time.Duration) FallbackOption {
	return func(o *FallbackOptions) {
		if d > 0 {
			o.OpenTimeout = d
		}
	}
}

// WithFallbackLogger 设置日志记录器。
// 传入 nil 会被静默忽略。
func WithFallbackLogger(l *slog.Logger) FallbackOption {
	return func(o *FallbackOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// =============================================================================
// Fallback 实现
// =============================================================================

// NewFallback 创建带降级能力的组合存储。
//
// 正常情况下所有操作走 primary（Redis）；当 primary 连续返回
// ErrUnavailable 触发熔断后，操作降级到 local（进程内存储），
// 直到熔断器半开探测恢复。
//
// 降级期间跨 worker 一致性丢失，调用方必须把降级数据当作
// 尽力而为的缓存（见包文档）。只有存在安全本地降级的场景
// （如会话缓存）应使用此组合；批次状态等场景应直接使用 Redis 存储。
func NewFallback(primary, local Store, opts ...FallbackOption) (Store, error) {
	if primary == nil || local == nil {
		return nil, ErrNilClient
	}

	options := defaultFallbackOptions()
	for _, opt := range opts {
		opt(options)
	}

	f := &fallbackStore{
		primary: primary,
		local:   local,
		logger:  options.Logger,
	}

	f.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    options.BreakerName,
		Timeout: options.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= options.ConsecutiveFailures
		},
		// 只有不可达错误计入熔断统计；ErrNotFound/ErrNotOwner 等
		// 确定性结果视为成功，避免正常业务流量触发熔断。
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			options.Logger.Warn("kv store breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return f, nil
}

// fallbackStore 实现 Store 接口，经熔断器在 primary 与 local 之间切换。
type fallbackStore struct {
	primary Store
	local   Store
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// Degraded 返回当前是否处于降级模式（熔断器非 Closed 状态）。
func (f *fallbackStore) Degraded() bool {
	return f.breaker.State() != gobreaker.StateClosed
}

// execute 经熔断器执行 primary 操作；熔断打开或 primary 不可达时降级到 local。
func (f *fallbackStore) execute(ctx context.Context, op string, primaryFn, localFn func() error) error {
	_, err := f.breaker.Execute(func() (any, error) {
		return nil, primaryFn()
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrUnavailable) && !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		return err
	}

	f.logger.Warn("kv store degraded to local fallback",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return localFn()
}

func (f *fallbackStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := f.execute(ctx, "get",
		func() error {
			v, err := f.primary.Get(ctx, key)
			if err != nil {
				return err
			}
			value = v
			return nil
		},
		func() error {
			v, err := f.local.Get(ctx, key)
			if err != nil {
				return err
			}
			value = v
			return nil
		},
	)
	if err != nil {
		return "", err
	}
	return value, nil
}

func (f *fallbackStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return f.execute(ctx, "set",
		func() error { return f.primary.Set(ctx, key, value, ttl) },
		func() error { return f.local.Set(ctx, key, value, ttl) },
	)
}

func (f *fallbackStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var acquired bool
	err := f.execute(ctx, "setnx",
		func() error {
			ok, err := f.primary.SetNX(ctx, key, value, ttl)
			if err != nil {
				return err
			}
			acquired = ok
			return nil
		},
		func() error {
			ok, err := f.local.SetNX(ctx, key, value, ttl)
			if err != nil {
				return err
			}
			acquired = ok
			return nil
		},
	)
	if err != nil {
		return false, err
	}
	return acquired, nil
}

func (f *fallbackStore) CompareAndDelete(ctx context.Context, key, value string) error {
	return f.execute(ctx, "cad",
		func() error { return f.primary.CompareAndDelete(ctx, key, value) },
		func() error { return f.local.CompareAndDelete(ctx, key, value) },
	)
}

func (f *fallbackStore) Delete(ctx context.Context, key string) error {
	return f.execute(ctx, "delete",
		func() error { return f.primary.Delete(ctx, key) },
		func() error { return f.local.Delete(ctx, key) },
	)
}

func (f *fallbackStore) Health(ctx context.Context) error {
	return f.primary.Health(ctx)
}

// Close 关闭两个底层存储，返回第一个出现的错误。
func (f *fallbackStore) Close() error {
	err := f.primary.Close()
	if lerr := f.local.Close(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}
