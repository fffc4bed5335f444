// Package storage 提供数据存储相关的子包。
//
// 子包列表：
//   - xkv: 键值存储适配层，Redis 为主、本地缓存为降级后备
//   - xsession: 用户会话缓存，构建在 xkv 之上
//   - xbatch: 多步批量操作的中间状态存储
//
// 设计原则：
//   - 面向接口编程，存储后端可替换
//   - 存储故障的降级行为显式声明，绝不静默丢数据
//   - 过期策略由各子包按业务语义设定
package storage
