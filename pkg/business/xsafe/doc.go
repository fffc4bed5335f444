// Package xsafe 把业务操作与分布式锁组合成"安全操作"。
//
// xdlock 只负责互斥，不决定获取失败后怎么办；降级策略属于业务语义，
// 由本包按操作类别（Class）定义：
//
//   - ClassIdempotent: 幂等读/预估（如"能否开票"）。锁失败时无锁
//     执行（fail-open）——读到旧值可接受，硬失败不可接受。
//   - ClassCounter: 非幂等计数（如发票用量自增）。锁失败时向上
//     传播错误（fail-closed）——重复计数比请求失败更糟。
//   - ClassComposite: 复合临界区（查配额 → 开票 → 计数）。整段一把锁、
//     单次尝试不重试——半途失败后重跑会产生重复副作用。
//
// 每个策略注册时必须申报临界区的最坏执行时长，锁 TTL 低于申报值
// 直接拒绝注册（fail-fast），避免"临界区还在跑、锁已过期"的事故。
//
// 另提供按 (userID, operation) 维度的请求限流（GCRA 滑动窗口，
// redis_rate 实现）。存储故障时限流默认放行（fail-open）：这是
// 可用性优先的显式选择，每次发生都会记录 Warn 日志。
package xsafe
