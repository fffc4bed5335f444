// Package distributed 提供分布式协调相关的子包。
//
// 子包列表：
//   - xdlock: 基于 Redis 的分布式锁，支持 WithLock 包裹执行、
//     TryLock 非阻塞获取与锁续期
//
// 设计原则：
//   - 锁凭据绑定持有者，只有持有者能释放
//   - 锁失败与锁过期是可区分的错误，调用方按业务类别降级
package distributed
