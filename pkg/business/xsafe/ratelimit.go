package xsafe

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// 限流配置
// =============================================================================

// RateRule 单个操作的限流规则。
type RateRule struct {
	// Rate 窗口内允许的请求数。
	Rate int

	// Burst 突发容量。0 表示与 Rate 相同。
	Burst int

	// Period 窗口时长。
	Period time.Duration
}

func (r RateRule) limit() redis_rate.Limit {
	burst := r.Burst
	if burst <= 0 {
		burst = r.Rate
	}
	return redis_rate.Limit{Rate: r.Rate, Burst: burst, Period: r.Period}
}

// RateOptions 定义限流器的配置选项。
type RateOptions struct {
	// DefaultRule 未单独配置的操作使用的规则。
	// 默认为每分钟 30 次。
	DefaultRule RateRule

	// Rules 按操作名配置的规则。
	Rules map[string]RateRule

	// FailClosed 存储故障时是否拒绝请求。
	// 默认为 false（fail-open，可用性优先的显式选择）。
	FailClosed bool

	// Logger 日志记录器。默认为 slog.Default()。
	Logger *slog.Logger
}

// RateOption 定义配置限流器的函数类型。
type RateOption func(*RateOptions)

// defaultRateOptions 返回默认的限流配置。
func defaultRateOptions() *RateOptions {
	return &RateOptions{
		DefaultRule: RateRule{Rate: 30, Period: time.Minute},
		Rules:       make(map[string]RateRule),
		Logger:      slog.Default(),
	}
}

// WithDefaultRule 设置默认限流规则。
// Rate 或 Period 非正值时忽略此设置。
func WithDefaultRule(rule RateRule) RateOption {
	return func(o *RateOptions) {
		if rule.Rate > 0 && rule.Period > 0 {
			o.DefaultRule = rule
		}
	}
}

// WithRule 设置指定操作的限流规则。
// 操作名为空或规则非法时忽略此设置。
func WithRule(operation string, rule RateRule) RateOption {
	return func(o *RateOptions) {
		if operation != "" && rule.Rate > 0 && rule.Period > 0 {
			o.Rules[operation] = rule
		}
	}
}

// WithRateFailClosed 设置存储故障时拒绝请求（fail-closed）。
// 默认 fail-open：限流是保护措施而非正确性保证，存储故障时
// 放行请求、记录告警，优于整体拒绝服务。
func WithRateFailClosed(b bool) RateOption {
	return func(o *RateOptions) {
		o.FailClosed = b
	}
}

// WithRateLogger 设置日志记录器。
// 传入 nil 会被静默忽略。
func WithRateLogger(l *slog.Logger) RateOption {
	return func(o *RateOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// =============================================================================
// RateLimiter 实现
// =============================================================================

// RateLimiter 按 (userID, operation) 维度限流。
// 基于 redis_rate 的 GCRA 算法（滑动窗口），配额跨 worker 共享。
type RateLimiter struct {
	limiter *redis_rate.Limiter
	opts    *RateOptions
}

// NewRateLimiter 创建限流器。
func NewRateLimiter(client redis.UniversalClient, opts ...RateOption) (*RateLimiter, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	options := defaultRateOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &RateLimiter{
		limiter: redis_rate.NewLimiter(client),
		opts:    options,
	}, nil
}

// Allow 检查用户对某操作的此次请求是否放行。
//
// 返回 (false, nil) 表示被限流。存储故障时按 FailClosed 配置
// 决定放行或拒绝；fail-open 放行会记录 Warn 日志。
func (rl *RateLimiter) Allow(ctx context.Context, userID, operation string) (bool, error) {
	if userID == "" || operation == "" {
		return false, errors.New("xsafe: empty rate limit key component")
	}

	rule, ok := rl.opts.Rules[operation]
	if !ok {
		rule = rl.opts.DefaultRule
	}

	key := "rate:" + userID + ":" + operation
	res, err := rl.limiter.Allow(ctx, key, rule.limit())
	if err != nil {
		if rl.opts.FailClosed {
			return false, err
		}
		// fail-open：显式的可用性优先选择，每次发生都有告警
		rl.opts.Logger.Warn("rate limiter store error, failing open",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return true, nil
	}
	return res.Allowed > 0, nil
}

// Reset 清空用户对某操作的限流计数。
func (rl *RateLimiter) Reset(ctx context.Context, userID, operation string) error {
	if userID == "" || operation == "" {
		return errors.New("xsafe: empty rate limit key component")
	}
	return rl.limiter.Reset(ctx, "rate:"+userID+":"+operation)
}
