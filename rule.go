package tierlimit

import "fmt"

// Rule 限流规则
//
// 四个字段都以"窗口内最大请求数"计意，0 表示该窗口不设限。
// Burst 是叠加在分钟窗口之上的 1 秒突发子窗口配额，0 表示不做突发检查。
type Rule struct {
	// PerMinute 分钟窗口配额
	PerMinute int `json:"per_minute" yaml:"per_minute" koanf:"per_minute"`

	// PerHour 小时窗口配额
	PerHour int `json:"per_hour" yaml:"per_hour" koanf:"per_hour"`

	// PerDay 天窗口配额
	PerDay int `json:"per_day" yaml:"per_day" koanf:"per_day"`

	// Burst 突发子窗口（1 秒）配额
	Burst int `json:"burst" yaml:"burst" koanf:"burst"`
}

// Validate 验证规则是否有效
func (r Rule) Validate() error {
	if r.PerMinute < 0 {
		return fmt.Errorf("%w: per_minute cannot be negative", ErrInvalidRule)
	}
	if r.PerHour < 0 {
		return fmt.Errorf("%w: per_hour cannot be negative", ErrInvalidRule)
	}
	if r.PerDay < 0 {
		return fmt.Errorf("%w: per_day cannot be negative", ErrInvalidRule)
	}
	if r.Burst < 0 {
		return fmt.Errorf("%w: burst cannot be negative", ErrInvalidRule)
	}
	return nil
}

// limit 返回指定粒度的配额
func (r Rule) limit(g granularity) int {
	switch g {
	case granBurst:
		return r.Burst
	case granMinute:
		return r.PerMinute
	case granHour:
		return r.PerHour
	case granDay:
		return r.PerDay
	default:
		return 0
	}
}

// Override 接口级覆盖规则
//
// 以精确路径为键，只覆盖显式给出的字段，未给出的字段沿用层级默认值。
// 指针字段区分"未设置"（nil，沿用层级值）和"设置为 0"（该窗口不设限）。
type Override struct {
	PerMinute *int `json:"per_minute,omitempty" yaml:"per_minute,omitempty" koanf:"per_minute"`
	PerHour   *int `json:"per_hour,omitempty" yaml:"per_hour,omitempty" koanf:"per_hour"`
	PerDay    *int `json:"per_day,omitempty" yaml:"per_day,omitempty" koanf:"per_day"`
	Burst     *int `json:"burst,omitempty" yaml:"burst,omitempty" koanf:"burst"`
}

// Validate 验证覆盖规则是否有效
func (o Override) Validate() error {
	for name, v := range map[string]*int{
		"per_minute": o.PerMinute,
		"per_hour":   o.PerHour,
		"per_day":    o.PerDay,
		"burst":      o.Burst,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%w: override %s cannot be negative", ErrInvalidRule, name)
		}
	}
	return nil
}

// apply 将覆盖规则套用到层级默认规则上，返回合并后的有效规则
func (o Override) apply(base Rule) Rule {
	merged := base
	if o.PerMinute != nil {
		merged.PerMinute = *o.PerMinute
	}
	if o.PerHour != nil {
		merged.PerHour = *o.PerHour
	}
	if o.PerDay != nil {
		merged.PerDay = *o.PerDay
	}
	if o.Burst != nil {
		merged.Burst = *o.Burst
	}
	return merged
}

// Clone 创建覆盖规则的深拷贝
func (o Override) Clone() Override {
	clone := Override{}
	if o.PerMinute != nil {
		v := *o.PerMinute
		clone.PerMinute = &v
	}
	if o.PerHour != nil {
		v := *o.PerHour
		clone.PerHour = &v
	}
	if o.PerDay != nil {
		v := *o.PerDay
		clone.PerDay = &v
	}
	if o.Burst != nil {
		v := *o.Burst
		clone.Burst = &v
	}
	return clone
}

// =============================================================================
// 规则解析
// =============================================================================

// ruleResolver 规则解析器
//
// 在构造期从配置生成，之后只读，按 (层级, 路径) 查询无需加锁。
// 路径匹配是精确匹配，不做前缀或模板匹配。
type ruleResolver struct {
	tiers     map[Tier]Rule
	endpoints map[string]Override
}

// newRuleResolver 创建规则解析器
//
// 任一层级缺少默认规则返回 ErrMissingTierRule，由 New 上抛为构造失败。
func newRuleResolver(cfg Config) (*ruleResolver, error) {
	tiers := make(map[Tier]Rule, len(allTiers))
	for name, rule := range cfg.TierRules {
		tier, err := ParseTier(name)
		if err != nil {
			return nil, err
		}
		tiers[tier] = rule
	}

	for _, tier := range allTiers {
		if _, ok := tiers[tier]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingTierRule, tier)
		}
	}

	endpoints := make(map[string]Override, len(cfg.EndpointOverrides))
	for path, o := range cfg.EndpointOverrides {
		endpoints[path] = o.Clone()
	}

	return &ruleResolver{tiers: tiers, endpoints: endpoints}, nil
}

// Resolve 解析 (层级, 路径) 的有效规则
//
// 接口覆盖规则中显式给出的字段优先，其余字段回落到层级默认值。
func (rr *ruleResolver) Resolve(tier Tier, endpoint string) Rule {
	base, ok := rr.tiers[tier]
	if !ok {
		// 构造期已保证四个层级齐全，未知层级按匿名处理
		base = rr.tiers[TierDefault]
	}

	if o, ok := rr.endpoints[endpoint]; ok {
		return o.apply(base)
	}
	return base
}
