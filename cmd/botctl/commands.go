package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/omeyang/botkit/pkg/config/xbotconf"
	"github.com/omeyang/botkit/pkg/mq/xqueue"
	"github.com/omeyang/botkit/pkg/storage/xkv"
	"github.com/omeyang/botkit/pkg/storage/xsession"
)

// 创建所有子命令。
func createCommands() []*cli.Command {
	return []*cli.Command{
		createJobCommand(),
		createSessionCommand(),
		createQueueCommand(),
		createHealthCommand(),
	}
}

// =============================================================================
// 连接装配
// =============================================================================

// newRedisClient 按 --redis / --config 的优先级解析连接参数。
func newRedisClient(cmd *cli.Command) (*redis.Client, error) {
	opts := &redis.Options{Addr: cmd.String("redis")}

	if path := cmd.String("config"); path != "" {
		loader, err := xbotconf.Load(path)
		if err != nil {
			return nil, err
		}
		cfg, err := loader.Snapshot()
		if err != nil {
			return nil, err
		}
		if opts.Addr == "" {
			opts.Addr = cfg.Redis.Addr
		}
		opts.Username = cfg.Redis.Username
		opts.Password = cfg.Redis.Password
		opts.DB = cfg.Redis.DB
	}

	if opts.Addr == "" {
		return nil, usageErrorf("需要 --redis 或 --config 提供 Redis 地址")
	}
	return redis.NewClient(opts), nil
}

// withTimeout 按 --timeout 包装命令执行上下文。
func withTimeout(ctx context.Context, cmd *cli.Command) (context.Context, context.CancelFunc) {
	timeout := cmd.Duration("timeout")
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// printJSON 以缩进 JSON 输出结果。
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// job 命令
// =============================================================================

func createJobCommand() *cli.Command {
	return &cli.Command{
		Name:  "job",
		Usage: "任务队列操作",
		Commands: []*cli.Command{
			{
				Name:      "status",
				Usage:     "查看任务状态",
				ArgsUsage: "<job-id>",
				Action:    cmdJobStatus,
			},
			{
				Name:   "cleanup",
				Usage:  "手动执行一轮终态任务清理",
				Action: cmdJobCleanup,
			},
		},
	}
}

func cmdJobStatus(ctx context.Context, cmd *cli.Command) error {
	jobID := cmd.Args().First()
	if jobID == "" {
		return usageErrorf("缺少任务 ID")
	}

	client, err := newRedisClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	q, err := xqueue.New(client)
	if err != nil {
		return err
	}
	defer q.Close()

	ctx, cancel := withTimeout(ctx, cmd)
	defer cancel()

	job, err := q.GetStatus(ctx, jobID)
	if err != nil {
		return err
	}
	return printJSON(cmd.Root().Writer, job)
}

func cmdJobCleanup(ctx context.Context, cmd *cli.Command) error {
	client, err := newRedisClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	q, err := xqueue.New(client)
	if err != nil {
		return err
	}
	defer q.Close()

	ctx, cancel := withTimeout(ctx, cmd)
	defer cancel()

	purged, err := q.Cleanup(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "已清理 %d 个任务\n", purged)
	return nil
}

// =============================================================================
// session 命令
// =============================================================================

func createSessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "会话缓存操作",
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "查看用户会话",
				ArgsUsage: "<user-id>",
				Action:    cmdSessionGet,
			},
			{
				Name:      "del",
				Usage:     "删除用户会话",
				ArgsUsage: "<user-id>",
				Action:    cmdSessionDel,
			},
		},
	}
}

// newSessionCache 装配会话缓存及其底层存储。
func newSessionCache(cmd *cli.Command) (xsession.Cache, func(), error) {
	client, err := newRedisClient(cmd)
	if err != nil {
		return nil, nil, err
	}

	store, err := xkv.NewRedis(client)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	cache, err := xsession.New(store)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return cache, func() { client.Close() }, nil
}

func cmdSessionGet(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.Args().First()
	if userID == "" {
		return usageErrorf("缺少用户 ID")
	}

	cache, cleanup, err := newSessionCache(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := withTimeout(ctx, cmd)
	defer cancel()

	session, err := cache.Get(ctx, userID)
	if err != nil {
		return err
	}
	return printJSON(cmd.Root().Writer, session)
}

func cmdSessionDel(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.Args().First()
	if userID == "" {
		return usageErrorf("缺少用户 ID")
	}

	cache, cleanup, err := newSessionCache(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := withTimeout(ctx, cmd)
	defer cancel()

	if err := cache.Delete(ctx, userID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "会话 %s 已删除\n", userID)
	return nil
}

// =============================================================================
// queue / health 命令
// =============================================================================

func createQueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "队列统计",
		Commands: []*cli.Command{
			{
				Name:      "stats",
				Usage:     "查看指定任务类型的队列深度",
				ArgsUsage: "<type> [type...]",
				Action:    cmdQueueStats,
			},
		},
	}
}

func cmdQueueStats(ctx context.Context, cmd *cli.Command) error {
	types := cmd.Args().Slice()
	if len(types) == 0 {
		return usageErrorf("至少指定一个任务类型")
	}

	client, err := newRedisClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	q, err := xqueue.New(client)
	if err != nil {
		return err
	}
	defer q.Close()

	ctx, cancel := withTimeout(ctx, cmd)
	defer cancel()

	stats, err := q.QueueStats(ctx, types...)
	if err != nil {
		return err
	}
	return printJSON(cmd.Root().Writer, stats)
}

func createHealthCommand() *cli.Command {
	return &cli.Command{
		Name:   "health",
		Usage:  "检查 Redis 连通性",
		Action: cmdHealth,
	}
}

func cmdHealth(ctx context.Context, cmd *cli.Command) error {
	client, err := newRedisClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := withTimeout(ctx, cmd)
	defer cancel()

	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis 不可达: %w", err)
	}
	fmt.Fprintf(cmd.Root().Writer, "ok (%s)\n", time.Since(start).Round(time.Millisecond))
	return nil
}
