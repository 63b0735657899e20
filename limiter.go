package tierlimit

import (
	"context"
	"time"
)

// =============================================================================
// 核心接口定义
// =============================================================================

// Limiter 限流器核心接口
//
// 实现是并发安全的：同一客户端的并发 Check 线性化执行，
// 不同客户端互不阻塞。
//
// Check 的返回契约：
//   - err == nil 时，返回的 *Decision 必非 nil
//   - 正常流量的"超限"不是错误，体现为 Decision.Allowed=false
//   - err != nil 仅出现在限流器已关闭等异常场景
type Limiter interface {
	// Check 对一次请求执行复合限流检查并在放行时记账
	//
	// clientID 是身份识别阶段产出的不透明标识，tier 为客户端层级，
	// endpoint 为请求路径（用于接口级覆盖规则的精确匹配）。
	Check(ctx context.Context, clientID string, tier Tier, endpoint string) (*Decision, error)

	// Close 关闭限流器，停止后台清扫任务
	Close() error
}

// =============================================================================
// 可选扩展接口（通过类型断言使用）
// =============================================================================

// StatsReader 全局统计接口
//
// 实现此接口的限流器支持读取聚合统计。统计是尽力而为的快照，
// 与并发请求之间最终一致。
type StatsReader interface {
	// Stats 返回全局统计
	Stats() GlobalStats
}

// UsageReader 单客户端用量查询接口
type UsageReader interface {
	// Usage 返回指定客户端的用量视图
	// 客户端不存在时返回 (ClientUsage{}, false)，不是错误
	Usage(clientID string) (ClientUsage, bool)
}

// Sweeper 客户端状态清扫接口
//
// 后台任务会按固定间隔自动清扫，此接口用于测试和运维场景下
// 手动触发。清扫是幂等的，重复执行无副作用。
type Sweeper interface {
	// Sweep 驱逐在 now 之前已超过保留期不活跃的客户端记录，
	// 返回本轮驱逐数量
	Sweep(now time.Time) int
}

// =============================================================================
// 工厂函数
// =============================================================================

// New 创建限流器
//
// 配置校验失败（层级规则缺失、负值配额等）立即返回错误，
// 调用方应把它当作启动期致命错误处理。
func New(opts ...Option) (Limiter, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// 初始化指标收集器
	if cfg.config.EnableMetrics && cfg.meterProvider != nil {
		metrics, err := NewMetrics(cfg.meterProvider)
		if err != nil {
			return nil, err
		}
		cfg.metrics = metrics
	}

	resolver, err := newRuleResolver(cfg.config)
	if err != nil {
		return nil, err
	}

	core := newLimiterCore(resolver, cfg)
	core.warnSuspiciousConfig()
	core.startReaper()

	return core, nil
}
