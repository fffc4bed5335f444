package xsafe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/omeyang/botkit/pkg/distributed/xdlock"
)

// =============================================================================
// 配置选项
// =============================================================================

// Options 定义 Runner 的配置选项。
type Options struct {
	// Logger 日志记录器。默认为 slog.Default()。
	Logger *slog.Logger

	// MeterProvider OTel 指标提供器。nil 表示不收集指标。
	MeterProvider metric.MeterProvider
}

// Option 定义配置 Runner 的函数类型。
type Option func(*Options)

// defaultOptions 返回默认配置。
func defaultOptions() *Options {
	return &Options{Logger: slog.Default()}
}

// WithLogger 设置日志记录器。
// 传入 nil 会被静默忽略。
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithMeterProvider 设置 OTel 指标提供器。
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Options) {
		o.MeterProvider = mp
	}
}

// =============================================================================
// Runner 实现
// =============================================================================

// Runner 按注册的策略在分布式锁保护下执行业务操作。
// 并发安全；策略注册通常在启动期完成。
type Runner struct {
	locker  xdlock.Locker
	logger  *slog.Logger
	metrics *Metrics

	mu       sync.RWMutex
	policies map[string]Policy

	stats stats
}

// New 创建安全操作执行器。
func New(locker xdlock.Locker, opts ...Option) (*Runner, error) {
	if locker == nil {
		return nil, ErrNilLocker
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	metrics, err := NewMetrics(options.MeterProvider)
	if err != nil {
		return nil, err
	}

	return &Runner{
		locker:   locker,
		logger:   options.Logger,
		metrics:  metrics,
		policies: make(map[string]Policy),
	}, nil
}

// RegisterPolicy 注册安全操作策略。
// 参数非法或 LockTTL 小于申报的最坏执行时长时 fail-fast，
// 同名策略重复注册返回 [ErrPolicyExists]。
func (r *Runner) RegisterPolicy(p Policy) error {
	if err := p.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.policies[p.Name]; exists {
		return fmt.Errorf("%w: %q", ErrPolicyExists, p.Name)
	}
	r.policies[p.Name] = p
	return nil
}

// Run 按策略在锁保护下执行 fn。
//
// 锁 key 为 "{policy}:{tenantID}:{resource}"，同一 (tenant, resource)
// 的临界区全局至多一个在执行——除 ClassIdempotent 的降级窗口外。
// 降级策略见 [Class] 文档。
func (r *Runner) Run(ctx context.Context, tenantID, resource, policyName string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return ErrNilFunc
	}
	if tenantID == "" {
		return ErrEmptyTenant
	}
	if resource == "" {
		return ErrEmptyResource
	}

	r.mu.RLock()
	policy, ok := r.policies[policyName]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrPolicyNotFound, policyName)
	}

	start := time.Now()
	err := r.run(ctx, policy, tenantID, resource, fn)
	r.stats.recordRun(start, err)
	r.metrics.recordRun(ctx, policy.Name, policy.Class, outcome(err), time.Since(start))
	return err
}

// run 执行一次带锁调用（不含统计快照收尾）。
func (r *Runner) run(ctx context.Context, policy Policy, tenantID, resource string, fn func(ctx context.Context) error) error {
	key := policy.Name + ":" + tenantID + ":" + resource

	lockOpts := []xdlock.MutexOption{
		xdlock.WithExpiry(policy.LockTTL),
		xdlock.WithTries(policy.effectiveTries()),
	}
	if policy.RetryDelay > 0 {
		lockOpts = append(lockOpts, xdlock.WithRetryDelay(policy.RetryDelay))
	}

	// fnRan 标记是否真正进入了临界区：只有锁到手回调才会执行，
	// 据此区分 fn 阶段的错误与获取阶段的错误
	var fnRan bool
	err := r.locker.WithLock(ctx, key, func(ctx context.Context) error {
		fnRan = true
		if fnErr := fn(ctx); fnErr != nil {
			r.stats.fnFailures.Add(1)
			return fnErr
		}
		return nil
	}, lockOpts...)

	if fnRan {
		r.stats.acquired.Add(1)
		return err
	}
	if !errors.Is(err, xdlock.ErrLockFailed) {
		// 获取路径的基础设施错误（连接失败、ctx 取消等），
		// 未持有过锁，也不属于锁竞争，不降级
		return err
	}

	// 锁重试耗尽：按类别降级
	r.stats.lockFailures.Add(1)
	r.metrics.recordLockFailure(ctx, policy.Name, policy.Class)

	switch policy.Class {
	case ClassIdempotent:
		// fail-open：读旧值可接受，硬失败不可接受
		r.stats.fallbackRuns.Add(1)
		r.metrics.recordFallback(ctx, policy.Name)
		r.logger.Warn("lock unavailable, running idempotent operation without lock",
			slog.String("policy", policy.Name),
			slog.String("key", key),
		)
		if fnErr := fn(ctx); fnErr != nil {
			r.stats.fnFailures.Add(1)
			return fnErr
		}
		return nil

	default:
		// fail-closed：重复副作用比请求失败更糟
		r.stats.refused.Add(1)
		return fmt.Errorf("%w: %w", ErrLockFailed, err)
	}
}

// LockStats 返回锁使用统计快照。
func (r *Runner) LockStats() LockStats {
	return r.stats.snapshot()
}

// outcome 把错误归类为低基数的指标标签。
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrLockFailed):
		return "lock_failed"
	default:
		return "error"
	}
}
