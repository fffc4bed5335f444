// Package mq 提供消息队列相关的子包。
//
// 子包列表：
//   - xqueue: 基于 Redis 的持久化任务队列，支持延迟、重试、
//     进度上报、完成通知与终态保留清理
//
// 设计原则：
//   - at-least-once 投递语义，任务体要求幂等
//   - worker 有界并发，崩溃任务可回收
//   - 终态任务按保留期定时清理
package mq
