package tierlimit

import "time"

// granularity 时间窗口粒度
type granularity int

const (
	granBurst granularity = iota // 1 秒突发子窗口
	granMinute
	granHour
	granDay
	numGranularities
)

// granDurations 各粒度的窗口时长
var granDurations = [numGranularities]time.Duration{
	granBurst:  time.Second,
	granMinute: time.Minute,
	granHour:   time.Hour,
	granDay:    24 * time.Hour,
}

// duration 返回粒度对应的窗口时长
func (g granularity) duration() time.Duration {
	return granDurations[g]
}

// noun 返回用于策略描述的窗口名词，如 "10 per minute"
func (g granularity) noun() string {
	switch g {
	case granBurst:
		return "second"
	case granMinute:
		return "minute"
	case granHour:
		return "hour"
	case granDay:
		return "day"
	default:
		return "window"
	}
}

// windowCounter 单个粒度的固定窗口计数器
//
// start 为零值表示窗口尚未开始。窗口到期后整体重置，不保留历史，
// 这是固定窗口算法的既定取舍（窗口边界处最多 2 倍突发）。
type windowCounter struct {
	start time.Time
	count int
}

// at 返回截至 now 时刻滚动后的计数器状态，不修改原值
//
// 复合检查要求"任一粒度拒绝则所有计数保持不变"，因此滚动与计数
// 都先在副本上演算，放行后由调用方一次性提交。
func (w windowCounter) at(now time.Time, d time.Duration) windowCounter {
	if w.start.IsZero() || now.Sub(w.start) >= d {
		return windowCounter{start: now}
	}
	return w
}

// resetAt 返回窗口的重置时刻
func (w windowCounter) resetAt(d time.Duration) time.Time {
	return w.start.Add(d)
}
