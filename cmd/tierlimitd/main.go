// tierlimitd 是 tierlimit 的独立限流网关守护进程。
//
// 用法:
//
//	tierlimitd serve [选项]
//
// serve 选项:
//
//	-c, --config     配置文件路径 (.yaml/.yml/.json，缺省使用内置默认配置)
//	-l, --listen     HTTP 监听地址 (默认: :8080)
//	    --log-file   日志文件路径（启用滚动切割，缺省输出到 stdout）
//	    --log-level  日志级别 (debug/info/warn/error，默认: info)
//
// 路由:
//
//	/api/v1/rate-limit/stats     全局限流统计
//	/api/v1/rate-limit/my-usage  当前客户端用量
//	/api/v1/status               演示业务端点（经过限流）
//	/healthz                     健康检查（不经过限流）
//
// 配置文件变更会被监视并热加载：新配置构建新限流器后原子切换，
// 切换丢弃旧计数窗口（窗口状态不持久化）。
//
// 退出码:
//
//	0: 正常退出（收到 SIGINT/SIGTERM 后完成优雅关闭）
//	1: 启动失败或运行期错误
//	2: 参数错误
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 版本信息（可通过 -ldflags 注入）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	app := createApp()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// createApp 创建 CLI 应用。
func createApp() *cli.Command {
	return &cli.Command{
		Name:    "tierlimitd",
		Usage:   "分层自适应 API 限流网关",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "启动限流网关服务",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "配置文件路径 (.yaml/.yml/.json)",
					},
					&cli.StringFlag{
						Name:    "listen",
						Aliases: []string{"l"},
						Usage:   "HTTP 监听地址",
						Value:   ":8080",
					},
					&cli.StringFlag{
						Name:  "log-file",
						Usage: "日志文件路径（启用滚动切割）",
					},
					&cli.StringFlag{
						Name:  "log-level",
						Usage: "日志级别 (debug/info/warn/error)",
						Value: "info",
					},
					&cli.DurationFlag{
						Name:  "shutdown-timeout",
						Usage: "优雅关闭超时",
						Value: 10 * time.Second,
					},
				},
				Action: serveAction,
			},
		},
		DefaultCommand: "serve",
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	logger, closeLog, err := buildLogger(cmd.String("log-file"), cmd.String("log-level"))
	if err != nil {
		return err
	}
	defer closeLog()

	srv := &server{
		listen:          cmd.String("listen"),
		configPath:      cmd.String("config"),
		shutdownTimeout: cmd.Duration("shutdown-timeout"),
		logger:          logger,
	}
	return srv.run(ctx)
}

// buildLogger 构建 JSON 结构化日志器
//
// 指定日志文件时启用滚动切割，否则输出到 stdout。
func buildLogger(logFile, level string) (*slog.Logger, func(), error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("unknown log level %q", level)
	}

	var out io.Writer = os.Stdout
	closeLog := func() {}
	if logFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     30, // 天
			Compress:   true,
		}
		out = rotator
		closeLog = func() { _ = rotator.Close() }
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler), closeLog, nil
}
