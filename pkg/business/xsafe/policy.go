package xsafe

import (
	"fmt"
	"time"
)

// =============================================================================
// 操作类别
// =============================================================================

// Class 操作类别，决定锁获取失败后的降级策略。
type Class int

const (
	// ClassIdempotent 幂等读/预估：锁失败时无锁执行（fail-open）。
	ClassIdempotent Class = iota + 1

	// ClassCounter 非幂等计数：锁失败时传播错误（fail-closed）。
	ClassCounter

	// ClassComposite 复合临界区：单次尝试、不重试、fail-closed。
	ClassComposite
)

// String 返回类别名称。
func (c Class) String() string {
	switch c {
	case ClassIdempotent:
		return "idempotent"
	case ClassCounter:
		return "counter"
	case ClassComposite:
		return "composite"
	default:
		return "unknown"
	}
}

func (c Class) valid() bool {
	return c >= ClassIdempotent && c <= ClassComposite
}

// =============================================================================
// 策略定义
// =============================================================================

// Policy 安全操作策略。
//
// Name 同时是策略标识和锁 key 的 domain 段：
// 锁 key 为 "{Name}:{tenantID}:{resource}"（xdlock 再加 "lock:" 前缀）。
type Policy struct {
	// Name 策略名，如 "folio"、"quota-check"。
	Name string

	// Class 操作类别。
	Class Class

	// LockTTL 锁过期时间，按操作量级设置
	// （计数自增 5s，完整开票流程 15s）。
	LockTTL time.Duration

	// Tries 锁获取最大尝试次数（包含首次）。
	// ClassComposite 忽略此值，固定为 1。
	Tries int

	// RetryDelay 锁重试延迟。默认 200ms（xdlock 默认值）。
	RetryDelay time.Duration

	// WorstCase 临界区的最坏执行时长申报值。
	// 必须为正，且不得超过 LockTTL，否则注册被拒绝。
	WorstCase time.Duration
}

// validate 校验策略参数。
func (p Policy) validate() error {
	if p.Name == "" {
		return ErrEmptyPolicyName
	}
	if !p.Class.valid() {
		return fmt.Errorf("%w: class %d", ErrInvalidClass, p.Class)
	}
	if p.LockTTL <= 0 {
		return fmt.Errorf("%w: lock ttl must be positive", ErrInvalidPolicy)
	}
	if p.WorstCase <= 0 {
		return fmt.Errorf("%w: worst-case duration must be declared", ErrInvalidPolicy)
	}
	if p.Tries < 0 {
		return fmt.Errorf("%w: tries must not be negative", ErrInvalidPolicy)
	}
	if p.LockTTL < p.WorstCase {
		return fmt.Errorf("%w: ttl=%s worst-case=%s (policy %q)",
			ErrImplausibleTTL, p.LockTTL, p.WorstCase, p.Name)
	}
	return nil
}

// effectiveTries 返回实际使用的尝试次数。
// 复合临界区固定单次尝试：半途失败的序列不可安全重跑。
func (p Policy) effectiveTries() int {
	if p.Class == ClassComposite {
		return 1
	}
	if p.Tries <= 0 {
		return 1
	}
	return p.Tries
}
