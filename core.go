package tierlimit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// checkOrder 复合检查顺序：最便宜/最具体的粒度在前，首个拒绝即短路
var checkOrder = [...]granularity{granBurst, granMinute, granHour, granDay}

// limiterCore 限流器核心实现
//
// 职责:
//   - 解析有效规则并执行复合窗口检查（全有或全无）
//   - 维护客户端记录注册表
//   - 处理可观测性（日志、指标）与回调
type limiterCore struct {
	resolver *ruleResolver
	clients  *registry
	reaper   *reaper
	opts     *options
	closed   atomic.Bool
}

// newLimiterCore 创建限流器核心
func newLimiterCore(resolver *ruleResolver, opts *options) *limiterCore {
	c := &limiterCore{
		resolver: resolver,
		clients:  newRegistry(opts.shardCount),
		opts:     opts,
	}
	c.reaper = newReaper(c, opts.config.retention(), opts.config.sweepInterval())
	return c
}

// Check 对一次请求执行复合限流检查
//
// 判定在持有该客户端记录锁的情况下完成：先在计数器副本上演算四个
// 粒度的滚动与递增，全部通过才一次性提交。任一粒度拒绝时所有计数
// 保持原样，被拒绝的请求不产生部分计费。
func (c *limiterCore) Check(ctx context.Context, clientID string, tier Tier, endpoint string) (*Decision, error) {
	if c.closed.Load() {
		return nil, ErrLimiterClosed
	}

	start := time.Now()
	rule := c.resolver.Resolve(tier, endpoint)
	now := c.opts.now()

	rec := c.lockRecord(clientID)
	if rec.firstSeen.IsZero() {
		rec.firstSeen = now
	}
	rec.lastSeen = now
	rec.tier = tier

	dec := c.evaluate(ctx, rec, rule, now)
	dec.Tier = tier
	rec.mu.Unlock()

	c.opts.metrics.RecordCheck(ctx, tier, dec.Allowed, time.Since(start))

	if dec.Allowed {
		c.callOnAllow(ctx, clientID, dec)
	} else {
		c.callOnDeny(ctx, clientID, dec)
	}
	return dec, nil
}

// lockRecord 获取并锁定客户端记录
//
// 记录可能在取得指针和加锁之间被清扫任务驱逐，此时重新向注册表
// 取记录。驱逐标记在持锁时置位，循环至多重试一次即可稳定。
func (c *limiterCore) lockRecord(clientID string) *clientRecord {
	for {
		rec := c.clients.getOrCreate(clientID)
		rec.mu.Lock()
		if !rec.evicted {
			return rec
		}
		rec.mu.Unlock()
	}
}

// evaluate 在持有记录锁的前提下执行复合检查，调用方负责解锁
func (c *limiterCore) evaluate(ctx context.Context, rec *clientRecord, rule Rule, now time.Time) *Decision {
	staged := rec.windows

	for _, g := range checkOrder {
		limit := rule.limit(g)
		if limit <= 0 {
			continue
		}

		w := staged[g].at(now, g.duration())
		if w.count >= limit {
			if w.count > limit {
				// 计数超过上限属于逻辑错误：钳制为拒绝并大声记录，
				// 不让它以异常形式冲击请求路径
				c.logError(ctx, "window counter exceeds limit",
					slog.String("granularity", g.noun()),
					slog.Int("count", w.count),
					slog.Int("limit", limit),
				)
			}
			rec.violations++
			return deniedDecision(w, g, limit, now)
		}

		w.count++
		staged[g] = w
	}

	// 全部粒度通过，一次性提交
	rec.windows = staged
	rec.totalRequests++

	return allowedDecision(staged, rule, now)
}

// deniedDecision 构造拒绝结果，元数据描述触发拒绝的粒度
func deniedDecision(w windowCounter, g granularity, limit int, now time.Time) *Decision {
	resetAt := w.resetAt(g.duration())
	return &Decision{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		Window:     g.duration(),
		RetryAfter: resetAt.Sub(now),
		Policy:     policyString(limit, g),
	}
}

// allowedDecision 构造放行结果
//
// 响应头描述"最接近耗尽"的粒度：在分钟/小时/天中选用量占比最高者。
// 突发子窗口只有 1 秒寿命，放进响应头只会让客户端看到抖动的配额，
// 因此不参与选择（它拒绝时仍会主导 Retry-After）。
func allowedDecision(windows [numGranularities]windowCounter, rule Rule, now time.Time) *Decision {
	best := granularity(-1)
	bestRatio := -1.0
	for _, g := range [...]granularity{granMinute, granHour, granDay} {
		limit := rule.limit(g)
		if limit <= 0 {
			continue
		}
		ratio := float64(windows[g].count) / float64(limit)
		if ratio > bestRatio {
			best, bestRatio = g, ratio
		}
	}

	if best < 0 {
		// 所有窗口都不设限
		return &Decision{Allowed: true}
	}

	limit := rule.limit(best)
	return &Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - windows[best].count,
		ResetAt:   windows[best].resetAt(best.duration()),
		Window:    best.duration(),
		Policy:    policyString(limit, best),
	}
}

// Sweep 驱逐超过保留期不活跃的客户端记录，返回驱逐数量
func (c *limiterCore) Sweep(now time.Time) int {
	return c.reaper.sweep(now)
}

// Close 关闭限流器并停止后台清扫任务
func (c *limiterCore) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.reaper.stop()
	return nil
}

// startReaper 启动后台清扫任务
func (c *limiterCore) startReaper() {
	c.reaper.start()
}

// warnSuspiciousConfig 对可疑但合法的配置输出启动告警
func (c *limiterCore) warnSuspiciousConfig() {
	if c.opts.logger == nil {
		return
	}
	for _, msg := range c.opts.config.suspiciousRules() {
		c.opts.logger.LogAttrs(context.Background(), slog.LevelWarn,
			"suspicious rate limit config", slog.String("detail", msg))
	}
}

// callOnAllow 调用允许回调并记录日志
func (c *limiterCore) callOnAllow(ctx context.Context, clientID string, dec *Decision) {
	if c.opts.onAllow != nil {
		c.opts.onAllow(clientID, dec)
	}

	if c.opts.logger != nil {
		c.opts.logger.LogAttrs(ctx, slog.LevelDebug, "rate limit allowed",
			slog.String("client_id", clientID),
			slog.String("tier", string(dec.Tier)),
			slog.Int("remaining", dec.Remaining),
		)
	}
}

// callOnDeny 调用拒绝回调并记录日志
func (c *limiterCore) callOnDeny(ctx context.Context, clientID string, dec *Decision) {
	if c.opts.onDeny != nil {
		c.opts.onDeny(clientID, dec)
	}

	if c.opts.logger != nil {
		c.opts.logger.LogAttrs(ctx, slog.LevelWarn, "rate limit exceeded",
			slog.String("client_id", clientID),
			slog.String("tier", string(dec.Tier)),
			slog.String("policy", dec.Policy),
			slog.Duration("retry_after", dec.RetryAfter),
		)
	}
}

func (c *limiterCore) logError(ctx context.Context, msg string, attrs ...slog.Attr) {
	if c.opts.logger != nil {
		c.opts.logger.LogAttrs(ctx, slog.LevelError, msg, attrs...)
	}
}

// 确保 limiterCore 实现了必要接口
var (
	_ Limiter     = (*limiterCore)(nil)
	_ StatsReader = (*limiterCore)(nil)
	_ UsageReader = (*limiterCore)(nil)
	_ Sweeper     = (*limiterCore)(nil)
)
