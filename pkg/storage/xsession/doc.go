// Package xsession 提供按用户维度的会话缓存。
//
// 会话是 chat-bot 单个用户的对话状态，每个用户一份，写入即整体覆盖，
// 每次写入刷新 TTL。存储经 xkv.Store 抽象：注入 xkv.NewFallback
// 组合存储后，Redis 不可用时透明降级到进程内缓存。
//
// # 一致性边界
//
//   - 同一用户的并发写没有协调，后写覆盖先写（last-writer-wins）。
//     按产品设计一个用户的回合是串行的，此风险已明确接受。
//   - 降级模式下会话只在当前 worker 可见，跨 worker 一致性丢失。
//     调用方必须把会话当作尽力而为的缓存，不可作为不可逆操作的依据。
package xsession
