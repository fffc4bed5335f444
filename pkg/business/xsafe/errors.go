package xsafe

import "errors"

// 预定义错误。
// 使用 errors.Is 进行错误匹配。
var (
	// ErrNilLocker 传入的锁服务为 nil。
	ErrNilLocker = errors.New("xsafe: nil locker")

	// ErrNilClient 传入的 Redis 客户端为 nil。
	ErrNilClient = errors.New("xsafe: nil client")

	// ErrNilFunc 传入的业务操作为 nil。
	ErrNilFunc = errors.New("xsafe: fn is nil")

	// ErrEmptyPolicyName 策略名为空。
	ErrEmptyPolicyName = errors.New("xsafe: empty policy name")

	// ErrInvalidClass 操作类别无效。
	ErrInvalidClass = errors.New("xsafe: invalid operation class")

	// ErrInvalidPolicy 策略参数无效（TTL/WorstCase 非正值等）。
	ErrInvalidPolicy = errors.New("xsafe: invalid policy")

	// ErrImplausibleTTL 锁 TTL 小于申报的临界区最坏执行时长。
	// 这是配置错误，应在开发阶段修复，注册时 fail-fast。
	ErrImplausibleTTL = errors.New("xsafe: lock ttl shorter than declared worst-case duration")

	// ErrPolicyExists 策略名已注册。
	ErrPolicyExists = errors.New("xsafe: policy already registered")

	// ErrPolicyNotFound 策略未注册。
	ErrPolicyNotFound = errors.New("xsafe: policy not found")

	// ErrEmptyTenant 租户标识为空。
	ErrEmptyTenant = errors.New("xsafe: empty tenant id")

	// ErrEmptyResource 资源标识为空。
	ErrEmptyResource = errors.New("xsafe: empty resource name")

	// ErrLockFailed 锁获取失败且策略为 fail-closed。
	// 包裹 xdlock.ErrLockFailed，两者都可用 errors.Is 匹配。
	ErrLockFailed = errors.New("xsafe: lock acquisition failed")
)
