package tierlimit

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// Decision 限流检查结果
//
// 正常运行中的"超限"不是错误，而是 Allowed=false 的 Decision 值。
// Limit/Remaining/ResetAt/Window 描述的是约束粒度：放行时为最接近
// 耗尽的粒度，拒绝时为触发拒绝的粒度。
type Decision struct {
	// Allowed 是否允许请求通过
	Allowed bool

	// Limit 约束粒度的配额上限
	Limit int

	// Remaining 约束粒度窗口内剩余配额
	Remaining int

	// ResetAt 约束粒度窗口的重置时间
	ResetAt time.Time

	// Window 约束粒度的窗口时长
	Window time.Duration

	// RetryAfter 建议重试等待时间（仅在 Allowed=false 时有意义）
	RetryAfter time.Duration

	// Policy 人类可读的策略描述，如 "1000 per hour"
	Policy string

	// Tier 判定时使用的客户端层级
	Tier Tier
}

// policyString 生成策略描述
func policyString(limit int, g granularity) string {
	return strconv.Itoa(limit) + " per " + g.noun()
}

// Headers 返回标准限流响应头
//   - X-RateLimit-Limit: 配额上限
//   - X-RateLimit-Remaining: 剩余配额
//   - X-RateLimit-Reset: 窗口重置时间（Unix 时间戳）
//   - X-RateLimit-Window: 窗口时长（秒）
//   - X-RateLimit-Policy: 策略描述
//   - Retry-After: 重试等待秒数（仅在被限流时，向上取整确保最小值为 1）
func (d *Decision) Headers() map[string]string {
	headers := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(d.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(d.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(d.ResetAt.Unix(), 10),
		"X-RateLimit-Window":    strconv.FormatInt(int64(d.Window/time.Second), 10),
		"X-RateLimit-Policy":    d.Policy,
	}

	if !d.Allowed && d.RetryAfter > 0 {
		// 设计决策: 使用 math.Ceil 向上取整，避免亚秒级等待被截断为 0，
		// 导致客户端立即重试并放大瞬时流量。
		retryAfterSec := int64(math.Ceil(d.RetryAfter.Seconds()))
		headers["Retry-After"] = strconv.FormatInt(retryAfterSec, 10)
	}

	return headers
}

// SetHeaders 将限流响应头写入 http.ResponseWriter
//
// 设计决策: 当 Limit <= 0 时跳过写入。Limit=0 表示没有任何窗口设限，
// 写入 X-RateLimit-Limit: 0 会误导客户端认为配额为零。
func (d *Decision) SetHeaders(w http.ResponseWriter) {
	if d.Limit <= 0 {
		return
	}
	for key, value := range d.Headers() {
		w.Header().Set(key, value)
	}
}

// RetryAfterSeconds 返回向上取整的重试等待秒数
func (d *Decision) RetryAfterSeconds() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int64(math.Ceil(d.RetryAfter.Seconds()))
}
