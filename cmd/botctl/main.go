// botctl 是协调层的运维命令行工具。
//
// 用法:
//
//	botctl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config   配置文件路径（YAML/JSON，可用 BOTKIT_ 环境变量覆盖）
//	-r, --redis    Redis 地址（优先级高于配置文件）
//	-t, --timeout  命令超时时间 (默认: 30s)
//
// 命令:
//
//	job status <id>       查看任务状态
//	job cleanup           手动执行一轮终态任务清理
//	session get <uid>     查看用户会话
//	session del <uid>     删除用户会话
//	queue stats <types>   查看队列深度统计
//	health                检查 Redis 连通性
//
// 退出码:
//
//	0: 命令执行成功
//	1: 命令执行失败（任务/会话不存在、存储不可达等）
//	2: 参数错误（缺少必需参数、未知命令等）
//
// 示例:
//
//	botctl -r localhost:6379 job status 8k3jz02m91
//	botctl -c /etc/botkit/config.yaml queue stats report cleanup
//	botctl -r localhost:6379 session del u1001
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

const defaultTimeout = 30 * time.Second

// 版本信息（可通过 -ldflags 注入）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args))
}

// createApp 创建 CLI 应用。
func createApp() *cli.Command {
	return &cli.Command{
		Name:    "botctl",
		Usage:   "协调层运维命令行工具",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径",
			},
			&cli.StringFlag{
				Name:    "redis",
				Aliases: []string{"r"},
				Usage:   "Redis 地址（覆盖配置文件）",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "命令超时时间",
				Value:   defaultTimeout,
			},
		},
		Commands:       createCommands(),
		DefaultCommand: "help",
		// 退出码由 run() 统一映射，禁止框架直接 os.Exit
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(os.Stderr, err)
			}
		},
	}
}

func run(args []string) int {
	app := createApp()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Run(ctx, args); err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(os.Stderr, "参数错误: %v\n", usageErr)
			return 2
		}
		if _, ok := err.(cli.ExitCoder); ok {
			// 框架产生的参数错误，详情已输出
			return 2
		}
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		return 1
	}
	return 0
}

// usageError 表示调用方参数错误，退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}
