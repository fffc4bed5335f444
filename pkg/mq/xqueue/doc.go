// Package xqueue 提供基于 Redis 的持久化任务队列。
//
// 面向长任务（报表生成、清理作业）：请求侧 Enqueue 后立即返回，
// worker 侧有界并发地消费，支持进度上报、指数退避重试、
// 终态任务的保留与定期清理，以及完成后的通知回调。
//
// # 状态机
//
//	waiting → active → completed
//	                 → waiting（还有剩余尝试次数，退避后重新入队）
//	                 → failed（尝试耗尽，保留更久以便排障）
//
// # 存储布局
//
//	job:{id}                任务 JSON
//	queue:{type}:waiting    就绪列表（LPUSH / RPOPLPUSH）
//	queue:{type}:active     在执行列表（worker 崩溃后可回收）
//	queue:{type}:delayed    延迟集合，score 为就绪时间
//	queue:completed         终态集合，score 为清除时间（PurgeAt）
//	queue:failed            终态集合，score 为清除时间
//
// # At-least-once 契约
//
// 队列保证每个任务至少执行一次，而非恰好一次：worker 在执行完成、
// 确认之前崩溃，任务会被回收重跑。因此任务体必须幂等或可安全重试
// （如以确定性的输出路径为去重 key）——这是 Enqueue 的使用契约，
// 不是实现细节。
package xqueue
