// Package tierlimit 提供多层级 API 限流功能，按客户端层级（tier）和接口路径
// 实施差异化配额，保护公开 API 免受滥用。
//
// # 设计理念
//
// tierlimit 基于固定窗口算法实现进程内限流，每个客户端在分钟/小时/天
// 三个时间窗口上独立计数，并叠加一个 1 秒突发子窗口吸收短时流量尖峰。
// 一次请求的判定是"全有或全无"的复合检查：任一窗口拒绝，所有窗口的
// 计数保持不变，避免重复失败的请求慢慢耗尽客户端配额。
//
// 固定窗口是有意的取舍：每客户端 O(1) 的内存与更新成本，接受窗口边界
// 处最多 2 倍的突发放行。需要平滑限流时应选择滑动日志或漏桶方案。
//
// # 核心概念
//
//   - Limiter：限流器接口，支持 Check/Close 操作
//   - Tier：客户端层级（default/authenticated/premium/admin），每层级有默认配额
//   - Rule / Override：层级默认规则与按精确路径覆盖的局部规则
//   - Decision：检查结果，包含是否允许、剩余配额、重置时间、重试等待等
//   - Identifier：从 HTTP 请求提取客户端身份（凭证哈希）和层级
//
// # 复合检查顺序
//
// 突发（1s）→ 分钟 → 小时 → 天，逐级检查并在首个拒绝处短路。
// 同一客户端的并发检查是线性化的（按客户端加锁），不同客户端互不阻塞。
//
// # 快速开始
//
//	limiter, err := tierlimit.New(
//	    tierlimit.WithLogger(slog.Default()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer limiter.Close()
//
//	dec, err := limiter.Check(ctx, "api:3a7bd3e2360a3d29", tierlimit.TierAuthenticated, "/api/v1/search/precedents")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !dec.Allowed {
//	    log.Printf("限流触发，请在 %v 后重试", dec.RetryAfter)
//	}
//
// # HTTP 中间件
//
//	ident, _ := tierlimit.NewIdentifier(tierlimit.WithTierLookup(authSvc))
//	mux := http.NewServeMux()
//	mux.Handle("/api/", tierlimit.HTTPMiddleware(limiter, tierlimit.WithIdentifier(ident))(apiHandler))
//	mux.Handle("/api/v1/rate-limit/stats", tierlimit.StatsHandler(limiter))
//	mux.Handle("/api/v1/rate-limit/my-usage", tierlimit.UsageHandler(limiter, ident))
//
// # 扩展接口
//
// 通过类型断言使用：
//
//	if sr, ok := limiter.(tierlimit.StatsReader); ok {
//	    stats := sr.Stats()
//	}
//	if ur, ok := limiter.(tierlimit.UsageReader); ok {
//	    usage, found := ur.Usage(clientID)
//	}
//
// # 客户端状态回收
//
// 后台清扫任务按固定间隔驱逐长期不活跃的客户端记录，保留期默认为
// 最长配置窗口的 2 倍。清扫只关乎内存回收，错过一轮清扫不会导致
// 错误的限流判定。
//
// # 可观测性
//
// 日志（log/slog）：
//   - Debug：限流通过事件
//   - Warn：限流拒绝事件、可疑配置告警
//   - Error：内部不变量被破坏时的钳制告警
//
// 指标（OpenTelemetry Metrics）：
//   - tierlimit.requests.total：请求总数 (Counter)
//   - tierlimit.denied.total：被拒绝请求数 (Counter)
//   - tierlimit.evicted.total：被驱逐客户端数 (Counter)
//   - tierlimit.check.duration：检查延迟 (Histogram)
package tierlimit
