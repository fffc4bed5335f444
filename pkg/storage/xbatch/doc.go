// Package xbatch 提供按 (用户, 批次) 维度的多步骤工作流临时状态。
//
// 典型场景：用户上传多个文件、确认、批量开票。工作流的每一步可能
// 由不同的 worker 处理，状态必须经共享存储传递；TTL（默认 900 秒）
// 为被放弃的工作流兜底回收，调用方无需显式清理。
//
// # 一致性边界
//
//   - Update 是非原子的读-改-写。前置条件：同一批次由单个用户的
//     串行交互驱动，不存在并发写者；违反此前置条件会丢失写入。
//   - 批次状态没有安全的本地降级（数据必须跨 worker 可见），
//     存储不可用时调用直接失败，不会静默落到进程内。
//   - 批次状态与会话缓存相互独立：任一方为空不得破坏另一方，
//     依赖两者的工作流必须容忍其中之一缺失。
//
// Get 对过期或不存在的批次返回 [ErrNotFound]，调用方应将其
// 转译为面向用户的"数据已过期，请重试"，而非致命错误。
package xbatch
