package tierlimit

import (
	"fmt"
	"time"
)

// Config 限流器配置
type Config struct {
	// TierRules 各层级的默认规则，键为层级名（default/authenticated/premium/admin）
	// 四个层级必须全部配置，缺失属于致命配置错误
	TierRules map[string]Rule `json:"tier_rules" yaml:"tier_rules" koanf:"tier_rules"`

	// EndpointOverrides 接口级覆盖规则，键为精确路径
	EndpointOverrides map[string]Override `json:"endpoint_overrides" yaml:"endpoint_overrides" koanf:"endpoint_overrides"`

	// RetentionMultiplier 客户端记录保留期倍数
	// 保留期 = 倍数 × 最长配置窗口（配置了天级配额时为 1 天）
	RetentionMultiplier int `json:"retention_multiplier" yaml:"retention_multiplier" koanf:"retention_multiplier"`

	// SweepInterval 清扫间隔，0 表示按保留期的 1/10 推导（下限 5 分钟）
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval" koanf:"sweep_interval"`

	// ActiveWindow 统计"活跃客户端"的观察窗口
	ActiveWindow time.Duration `json:"active_window" yaml:"active_window" koanf:"active_window"`

	// TrustXForwardedFor 是否信任 X-Forwarded-For 头
	// 开启后客户端 IP 取 XFF 的第一个地址；TrustedProxies 非空时
	// 仅当直连对端位于可信代理网段内才生效
	TrustXForwardedFor bool `json:"trust_x_forwarded_for" yaml:"trust_x_forwarded_for" koanf:"trust_x_forwarded_for"`

	// TrustedProxies 可信代理网段（CIDR 或单 IP）
	TrustedProxies []string `json:"trusted_proxies" yaml:"trusted_proxies" koanf:"trusted_proxies"`

	// EnableMetrics 是否启用指标收集
	EnableMetrics bool `json:"enable_metrics" yaml:"enable_metrics" koanf:"enable_metrics"`

	// EnableHeaders 是否在响应中添加限流头
	EnableHeaders bool `json:"enable_headers" yaml:"enable_headers" koanf:"enable_headers"`
}

// Validate 验证配置是否有效
//
// 校验失败意味着服务应拒绝启动，而不是退化为"无限配额"或"零配额"。
func (c Config) Validate() error {
	seen := make(map[Tier]bool, len(c.TierRules))
	for name, rule := range c.TierRules {
		tier, err := ParseTier(name)
		if err != nil {
			return fmt.Errorf("%w: tier_rules: %w", ErrInvalidConfig, err)
		}
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("tier_rules[%s]: %w", name, err)
		}
		seen[tier] = true
	}
	for _, tier := range allTiers {
		if !seen[tier] {
			return fmt.Errorf("%w: %s", ErrMissingTierRule, tier)
		}
	}

	for path, o := range c.EndpointOverrides {
		if path == "" {
			return fmt.Errorf("%w: endpoint_overrides: empty path", ErrInvalidConfig)
		}
		if err := o.Validate(); err != nil {
			return fmt.Errorf("endpoint_overrides[%s]: %w", path, err)
		}
	}

	if c.RetentionMultiplier < 1 {
		return fmt.Errorf("%w: retention_multiplier must be at least 1", ErrInvalidConfig)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("%w: sweep_interval cannot be negative", ErrInvalidConfig)
	}
	if c.ActiveWindow < 0 {
		return fmt.Errorf("%w: active_window cannot be negative", ErrInvalidConfig)
	}

	return nil
}

// suspiciousRules 返回"可疑但合法"的配置描述，用于启动告警
//
// 设计决策: burst > per_minute 时突发子窗口永远不是瓶颈，大概率是
// 配置笔误，但语义上无害，因此只告警不拒绝启动。
func (c Config) suspiciousRules() []string {
	var warnings []string
	for name, rule := range c.TierRules {
		if rule.PerMinute > 0 && rule.Burst > rule.PerMinute {
			warnings = append(warnings, fmt.Sprintf(
				"tier_rules[%s]: burst %d exceeds per_minute %d", name, rule.Burst, rule.PerMinute))
		}
	}
	return warnings
}

// retention 返回客户端记录的保留期
//
// 以最长的启用窗口为基数：任一层级或覆盖规则配置了天级配额则取 1 天，
// 否则依次回落到小时、分钟。
func (c Config) retention() time.Duration {
	base := time.Minute
	bump := func(r Rule) {
		if r.PerHour > 0 && base < time.Hour {
			base = time.Hour
		}
		if r.PerDay > 0 {
			base = 24 * time.Hour
		}
	}
	for _, rule := range c.TierRules {
		bump(rule)
	}
	for _, o := range c.EndpointOverrides {
		if o.PerHour != nil && *o.PerHour > 0 && base < time.Hour {
			base = time.Hour
		}
		if o.PerDay != nil && *o.PerDay > 0 {
			base = 24 * time.Hour
		}
	}
	return time.Duration(c.RetentionMultiplier) * base
}

// sweepInterval 返回有效的清扫间隔
func (c Config) sweepInterval() time.Duration {
	if c.SweepInterval > 0 {
		return c.SweepInterval
	}
	interval := c.retention() / 10
	if interval < 5*time.Minute {
		interval = 5 * time.Minute
	}
	return interval
}

// activeWindow 返回有效的活跃客户端观察窗口
func (c Config) activeWindow() time.Duration {
	if c.ActiveWindow > 0 {
		return c.ActiveWindow
	}
	return 5 * time.Minute
}

// Clone 创建配置的深拷贝
func (c Config) Clone() Config {
	clone := c

	if c.TierRules != nil {
		clone.TierRules = make(map[string]Rule, len(c.TierRules))
		for name, rule := range c.TierRules {
			clone.TierRules[name] = rule
		}
	}
	if c.EndpointOverrides != nil {
		clone.EndpointOverrides = make(map[string]Override, len(c.EndpointOverrides))
		for path, o := range c.EndpointOverrides {
			clone.EndpointOverrides[path] = o.Clone()
		}
	}
	if c.TrustedProxies != nil {
		clone.TrustedProxies = append([]string(nil), c.TrustedProxies...)
	}

	return clone
}

// DefaultConfig 返回默认配置
//
// 层级配额与接口覆盖取自 JurisRank API 的生产默认值。
func DefaultConfig() Config {
	intp := func(v int) *int { return &v }

	return Config{
		TierRules: map[string]Rule{
			string(TierDefault):       {PerMinute: 10, PerHour: 100, PerDay: 500, Burst: 10},
			string(TierAuthenticated): {PerMinute: 50, PerHour: 1000, PerDay: 5000, Burst: 20},
			string(TierPremium):       {PerMinute: 200, PerHour: 5000, PerDay: 25000, Burst: 50},
			string(TierAdmin):         {PerMinute: 500, PerHour: 10000, PerDay: 100000, Burst: 100},
		},
		EndpointOverrides: map[string]Override{
			"/api/v1/analysis/constitutional": {PerMinute: intp(5), PerHour: intp(50)},
			"/api/v1/document/enhance":        {PerMinute: intp(3), PerHour: intp(25)},
			"/api/v1/search/precedents":       {PerMinute: intp(20), PerHour: intp(200)},
		},
		RetentionMultiplier: 2,
		TrustXForwardedFor:  true,
		EnableMetrics:       true,
		EnableHeaders:       true,
	}
}
