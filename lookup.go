package tierlimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
)

// 层级查询的降级协议:
//   - 查询协作方未配置: 一律 TierAuthenticated
//   - 查询失败或熔断器打开: TierAuthenticated（有凭证的客户端至少拿到认证层配额）
//   - 查询返回非法层级: TierAuthenticated
//
// 设计决策: 失败降级到 TierAuthenticated 而不是 TierDefault。
// 凭证的存在本身就是一个信号，鉴权服务抖动不应该把付费客户
// 打回匿名配额；真正的无效凭证由鉴权层在业务路径上拒绝。

// tierLookupClient 带熔断与缓存的层级查询客户端
//
// 三层防护: LRU 缓存吸收重复查询，singleflight 合并并发同键查询，
// 熔断器隔离故障的查询协作方。
type tierLookupClient struct {
	lookup  TierLookup
	cache   *expirable.LRU[string, Tier]
	group   singleflight.Group
	breaker *gobreaker.CircuitBreaker[Tier]
	logger  *slog.Logger
}

func newTierLookupClient(cfg *identifierOptions) *tierLookupClient {
	c := &tierLookupClient{
		lookup: cfg.lookup,
		logger: cfg.logger,
	}
	if cfg.lookup == nil {
		return c
	}

	if cfg.cacheSize > 0 {
		c.cache = expirable.NewLRU[string, Tier](cfg.cacheSize, nil, cfg.cacheTTL)
	}

	c.breaker = gobreaker.NewCircuitBreaker[Tier](gobreaker.Settings{
		Name:        "tierlimit-tier-lookup",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.breakerThreshold
		},
	})
	return c
}

// resolve 解析凭证对应的层级，失败时按降级协议返回
//
// 缓存键是凭证哈希而非凭证本身，原始凭证不在缓存中停留。
func (c *tierLookupClient) resolve(ctx context.Context, credential string) Tier {
	if c.lookup == nil {
		return TierAuthenticated
	}

	key := hashIdentity(credential)
	if c.cache != nil {
		if tier, ok := c.cache.Get(key); ok {
			return tier
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.breaker.Execute(func() (Tier, error) {
			return c.lookup.LookupTier(ctx, credential)
		})
	})
	if err != nil {
		if c.logger != nil {
			c.logger.LogAttrs(ctx, slog.LevelWarn, "tier lookup degraded",
				slog.String("fallback", string(TierAuthenticated)),
				slog.String("error", err.Error()))
		}
		return TierAuthenticated
	}

	tier, ok := v.(Tier)
	if !ok || !tier.IsValid() {
		if c.logger != nil {
			c.logger.LogAttrs(ctx, slog.LevelWarn, "tier lookup returned invalid tier",
				slog.String("tier", string(tier)),
				slog.String("fallback", string(TierAuthenticated)))
		}
		return TierAuthenticated
	}

	if c.cache != nil {
		c.cache.Add(key, tier)
	}
	return tier
}

// identifierOptions 身份提取器配置
type identifierOptions struct {
	lookup         TierLookup
	logger         *slog.Logger
	trustXFF       bool
	trustedProxies []string

	cacheSize int
	cacheTTL  time.Duration

	breakerThreshold uint32
	breakerCooldown  time.Duration
}

func defaultIdentifierOptions() *identifierOptions {
	return &identifierOptions{
		cacheSize:        4096,
		cacheTTL:         time.Minute,
		breakerThreshold: 5,
		breakerCooldown:  30 * time.Second,
	}
}

// IdentifierOption 身份提取器选项
type IdentifierOption func(*identifierOptions)

// WithTierLookup 设置凭证层级查询协作方
//
// 不设置时所有持凭证客户端归入 TierAuthenticated。
func WithTierLookup(lookup TierLookup) IdentifierOption {
	return func(o *identifierOptions) {
		o.lookup = lookup
	}
}

// WithIdentifierLogger 设置降级日志输出
func WithIdentifierLogger(logger *slog.Logger) IdentifierOption {
	return func(o *identifierOptions) {
		o.logger = logger
	}
}

// WithTrustForwardedFor 信任 X-Forwarded-For 头
//
// proxies 为可信代理的地址或 CIDR 网段；为空时信任任意直连对端，
// 仅适用于确定所有入口流量都经过己方代理的部署。
func WithTrustForwardedFor(proxies ...string) IdentifierOption {
	return func(o *identifierOptions) {
		o.trustXFF = true
		o.trustedProxies = proxies
	}
}

// WithLookupCache 设置层级查询缓存参数
//
// size <= 0 关闭缓存。
func WithLookupCache(size int, ttl time.Duration) IdentifierOption {
	return func(o *identifierOptions) {
		o.cacheSize = size
		if ttl > 0 {
			o.cacheTTL = ttl
		}
	}
}

// WithLookupBreaker 设置层级查询熔断参数
func WithLookupBreaker(consecutiveFailures uint32, cooldown time.Duration) IdentifierOption {
	return func(o *identifierOptions) {
		if consecutiveFailures > 0 {
			o.breakerThreshold = consecutiveFailures
		}
		if cooldown > 0 {
			o.breakerCooldown = cooldown
		}
	}
}
