package tierlimit

import "time"

// GlobalStats 全局限流统计
//
// 始终由客户端记录聚合得出，不独立维护，避免双份计数漂移。
type GlobalStats struct {
	// TotalClients 当前在册客户端数
	TotalClients int `json:"total_clients"`

	// TotalRequests 所有客户端放行的请求总数
	TotalRequests int64 `json:"total_requests"`

	// TotalViolations 所有客户端被拒绝的请求总数
	TotalViolations int64 `json:"total_violations"`

	// ViolationRate 拒绝率 = violations / max(1, requests)
	ViolationRate float64 `json:"violation_rate"`

	// ActiveClients 观察窗口（默认 5 分钟）内有过请求的客户端数
	ActiveClients int `json:"active_clients"`
}

// ClientUsage 单客户端用量视图
type ClientUsage struct {
	// ClientID 客户端标识（凭证哈希，不含原始凭证）
	ClientID string `json:"client_id"`

	// Tier 最近一次请求时的层级
	Tier Tier `json:"client_tier"`

	// MinuteUsed / HourUsed / DayUsed 当前各窗口内已用量
	MinuteUsed int `json:"requests_this_minute"`
	HourUsed   int `json:"requests_this_hour"`
	DayUsed    int `json:"requests_this_day"`

	// TotalRequests 生命周期内放行的请求总数
	TotalRequests int64 `json:"total_requests"`

	// Violations 生命周期内被拒绝的请求总数
	Violations int64 `json:"violations"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Stats 返回全局统计
//
// 遍历时逐个短暂地持有记录锁，不会同时锁住多个客户端，
// 请求路径最多被单次原子读取级别的时长阻塞。
func (c *limiterCore) Stats() GlobalStats {
	now := c.opts.now()
	activeCutoff := now.Add(-c.opts.config.activeWindow())

	var stats GlobalStats
	c.clients.forEach(func(_ string, rec *clientRecord) {
		rec.mu.Lock()
		evicted := rec.evicted
		requests := rec.totalRequests
		violations := rec.violations
		lastSeen := rec.lastSeen
		rec.mu.Unlock()

		if evicted {
			return
		}
		stats.TotalClients++
		stats.TotalRequests += requests
		stats.TotalViolations += violations
		if lastSeen.After(activeCutoff) {
			stats.ActiveClients++
		}
	})

	denom := stats.TotalRequests
	if denom < 1 {
		denom = 1
	}
	stats.ViolationRate = float64(stats.TotalViolations) / float64(denom)
	return stats
}

// Usage 返回指定客户端的用量视图
//
// 客户端不存在时返回 (ClientUsage{}, false)，调用方据此渲染
// "尚无记录"的响应而不是错误。
func (c *limiterCore) Usage(clientID string) (ClientUsage, bool) {
	rec, ok := c.clients.get(clientID)
	if !ok {
		return ClientUsage{}, false
	}

	now := c.opts.now()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.evicted {
		return ClientUsage{}, false
	}

	return ClientUsage{
		ClientID:      clientID,
		Tier:          rec.tier,
		MinuteUsed:    rec.windows[granMinute].at(now, granMinute.duration()).count,
		HourUsed:      rec.windows[granHour].at(now, granHour.duration()).count,
		DayUsed:       rec.windows[granDay].at(now, granDay.duration()).count,
		TotalRequests: rec.totalRequests,
		Violations:    rec.violations,
		FirstSeen:     rec.firstSeen,
		LastSeen:      rec.lastSeen,
	}, true
}
