// Package xdlock 提供基于 Redis 的命名互斥锁。
//
// 锁算法即 SET NX PX + 唯一持有者标识 + compare-and-delete 释放
// （由 redsync 实现），保证任一时刻同一 key 至多一个持有者。
// 锁只代表临界区的所有权，不代表被保护资源本身的所有权。
//
// # 使用模式
//
//	locker, _ := xdlock.New(redisClient)
//	err := locker.WithLock(ctx, "folio:T1:A", func(ctx context.Context) error {
//	    return incrementFolio(ctx)
//	}, xdlock.WithExpiry(5*time.Second), xdlock.WithTries(4))
//	if errors.Is(err, xdlock.ErrLockFailed) {
//	    // 重试耗尽，降级策略由调用方（xsafe）决定
//	}
//
// # TTL 与临界区时长
//
// fn 运行超过 Expiry 时锁会过期并可能被其他调用方获取，
// 此时两个临界区并发执行。调用方必须保证 Expiry 不小于 fn 的
// 最坏执行时长，并保持临界区尽量短；长临界区可通过 TryLock
// 返回的 Handle.Extend 续期。
//
// 本包不定义锁获取失败后的降级策略，策略属于 xsafe。
package xdlock
