// Package xbotconf 提供协调层的类型化配置加载。
//
// 配置来源按优先级从低到高叠加：
//  1. 内置默认值
//  2. 配置文件（YAML 或 JSON，按扩展名识别）
//  3. BOTKIT_ 前缀的环境变量（容器化部署的覆盖入口）
//
// 环境变量用双下划线分隔层级，单下划线保留在键名内：
//
//	BOTKIT_REDIS__ADDR=redis:6379          → redis.addr
//	BOTKIT_LOCK__RETRY_DELAY=300ms         → lock.retry_delay
//	BOTKIT_QUEUE__CLEANUP_SCHEDULE=@hourly → queue.cleanup_schedule
//
// Load 返回的快照经过默认值填充与校验，可直接用于装配各组件；
// Watch 基于 fsnotify 监控文件变更并自动重载。
package xbotconf
