// Package xkv 提供共享键值存储的统一适配层。
//
// xkv 是 botkit 所有协调组件（会话缓存、批次状态、分布式锁、任务队列）
// 的存储底座，只暴露协调层需要的最小原语集：
//
//   - Get/Set/Delete: 基本读写，值为 UTF-8 JSON 字符串
//   - SetNX: 原子 set-if-absent（带过期时间），分布式锁的基础
//   - CompareAndDelete: 值匹配才删除，防止误释放他人持有的锁
//
// # 后端实现
//
//   - NewRedis: 生产环境后端，基于 go-redis，瞬时错误自动重试
//   - NewLocal: 进程内后端，基于 expirable LRU，容量与 TTL 有界
//   - NewFallback: 组合后端，Redis 不可用时经熔断器降级到本地存储
//
// # 降级语义
//
// 本地存储是 worker 进程私有的，降级期间跨 worker 一致性丢失。
// 调用方必须把降级模式下的数据当作尽力而为的缓存，
// 不可作为不可逆操作的事实来源。批次状态等无安全本地降级的场景
// 应直接使用 Redis 后端并接受调用失败。
package xkv
