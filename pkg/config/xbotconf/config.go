package xbotconf

import (
	"fmt"
	"time"
)

// Config 协调层的完整配置快照。
// 零值不可直接使用，请通过 [Loader.Snapshot] 获取填充过默认值的实例。
type Config struct {
	Redis     RedisConfig     `koanf:"redis"`
	Session   SessionConfig   `koanf:"session"`
	Batch     BatchConfig     `koanf:"batch"`
	Lock      LockConfig      `koanf:"lock"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Queue     QueueConfig     `koanf:"queue"`
}

// RedisConfig Redis 连接配置。
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// SessionConfig 会话缓存配置。
type SessionConfig struct {
	// TTL 会话过期时间，每次写入重新计时。
	TTL time.Duration `koanf:"ttl"`
}

// BatchConfig 批量操作状态配置。
type BatchConfig struct {
	// TTL 批量状态过期时间。
	TTL time.Duration `koanf:"ttl"`
}

// LockConfig 分布式锁默认参数。
type LockConfig struct {
	Expiry     time.Duration `koanf:"expiry"`
	Tries      int           `koanf:"tries"`
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// RateRuleConfig 单条限流规则。
type RateRuleConfig struct {
	Rate   int           `koanf:"rate"`
	Burst  int           `koanf:"burst"`
	Period time.Duration `koanf:"period"`
}

// RateLimitConfig 限流配置。
type RateLimitConfig struct {
	Default    RateRuleConfig            `koanf:"default"`
	Rules      map[string]RateRuleConfig `koanf:"rules"`
	FailClosed bool                      `koanf:"fail_closed"`
}

// QueueConfig 任务队列配置。
type QueueConfig struct {
	Concurrency     int           `koanf:"concurrency"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	RetainCompleted time.Duration `koanf:"retain_completed"`
	RetainFailed    time.Duration `koanf:"retain_failed"`
	CleanupSchedule string        `koanf:"cleanup_schedule"`
	StaleTimeout    time.Duration `koanf:"stale_timeout"`
}

// =============================================================================
// 默认值与校验
// =============================================================================

// Default 返回内置默认配置。Redis 地址无默认值，必须显式提供。
func Default() Config {
	return Config{
		Session: SessionConfig{TTL: 30 * time.Minute},
		Batch:   BatchConfig{TTL: 15 * time.Minute},
		Lock: LockConfig{
			Expiry:     8 * time.Second,
			Tries:      4,
			RetryDelay: 200 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Default: RateRuleConfig{Rate: 30, Period: time.Minute},
		},
		Queue: QueueConfig{
			Concurrency:     3,
			PollInterval:    250 * time.Millisecond,
			RetainCompleted: time.Hour,
			RetainFailed:    24 * time.Hour,
			CleanupSchedule: "*/5 * * * *",
			StaleTimeout:    10 * time.Minute,
		},
	}
}

// fillDefaults 把未设置的字段补成默认值。
// 只补零值字段：文件或环境变量显式设置的值不被覆盖。
func (c *Config) fillDefaults() {
	def := Default()
	if c.Session.TTL == 0 {
		c.Session.TTL = def.Session.TTL
	}
	if c.Batch.TTL == 0 {
		c.Batch.TTL = def.Batch.TTL
	}
	if c.Lock.Expiry == 0 {
		c.Lock.Expiry = def.Lock.Expiry
	}
	if c.Lock.Tries == 0 {
		c.Lock.Tries = def.Lock.Tries
	}
	if c.Lock.RetryDelay == 0 {
		c.Lock.RetryDelay = def.Lock.RetryDelay
	}
	if c.RateLimit.Default.Rate == 0 {
		c.RateLimit.Default.Rate = def.RateLimit.Default.Rate
	}
	if c.RateLimit.Default.Period == 0 {
		c.RateLimit.Default.Period = def.RateLimit.Default.Period
	}
	if c.Queue.Concurrency == 0 {
		c.Queue.Concurrency = def.Queue.Concurrency
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = def.Queue.PollInterval
	}
	if c.Queue.RetainCompleted == 0 {
		c.Queue.RetainCompleted = def.Queue.RetainCompleted
	}
	if c.Queue.RetainFailed == 0 {
		c.Queue.RetainFailed = def.Queue.RetainFailed
	}
	if c.Queue.CleanupSchedule == "" {
		c.Queue.CleanupSchedule = def.Queue.CleanupSchedule
	}
	if c.Queue.StaleTimeout == 0 {
		c.Queue.StaleTimeout = def.Queue.StaleTimeout
	}
}

// Validate 校验配置值。启动期 fail-fast，带出第一个发现的问题。
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required", ErrValidation)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("%w: session.ttl must be positive, got %s", ErrValidation, c.Session.TTL)
	}
	if c.Batch.TTL <= 0 {
		return fmt.Errorf("%w: batch.ttl must be positive, got %s", ErrValidation, c.Batch.TTL)
	}
	if c.Lock.Expiry <= 0 {
		return fmt.Errorf("%w: lock.expiry must be positive, got %s", ErrValidation, c.Lock.Expiry)
	}
	if c.Lock.Tries < 1 {
		return fmt.Errorf("%w: lock.tries must be at least 1, got %d", ErrValidation, c.Lock.Tries)
	}
	if c.RateLimit.Default.Rate <= 0 || c.RateLimit.Default.Period <= 0 {
		return fmt.Errorf("%w: rate_limit.default must have positive rate and period", ErrValidation)
	}
	for op, rule := range c.RateLimit.Rules {
		if rule.Rate <= 0 || rule.Period <= 0 {
			return fmt.Errorf("%w: rate_limit.rules.%s must have positive rate and period", ErrValidation, op)
		}
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("%w: queue.concurrency must be at least 1, got %d", ErrValidation, c.Queue.Concurrency)
	}
	if c.Queue.StaleTimeout <= 0 {
		return fmt.Errorf("%w: queue.stale_timeout must be positive, got %s", ErrValidation, c.Queue.StaleTimeout)
	}
	return nil
}
