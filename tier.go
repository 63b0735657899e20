package tierlimit

import "fmt"

// Tier 客户端层级
//
// 层级是封闭集合，由身份识别阶段在每次请求时赋值，不持久化。
type Tier string

const (
	// TierDefault 匿名客户端（无凭证或凭证格式错误）
	TierDefault Tier = "default"

	// TierAuthenticated 持有效凭证的普通客户端
	TierAuthenticated Tier = "authenticated"

	// TierPremium 付费客户端
	TierPremium Tier = "premium"

	// TierAdmin 管理端客户端
	TierAdmin Tier = "admin"
)

// allTiers 全部层级，配置校验时要求每个层级都有默认规则
var allTiers = []Tier{TierDefault, TierAuthenticated, TierPremium, TierAdmin}

// IsValid 检查层级是否有效
func (t Tier) IsValid() bool {
	switch t {
	case TierDefault, TierAuthenticated, TierPremium, TierAdmin:
		return true
	default:
		return false
	}
}

// String 返回层级的字符串表示
func (t Tier) String() string {
	return string(t)
}

// ParseTier 解析层级字符串
//
// 未知层级返回 ErrInvalidTier，调用方据此降级到 TierDefault
// 还是直接报错由其自身场景决定。
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
	return t, nil
}
