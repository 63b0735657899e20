package tierlimit

import (
	"context"
	"testing"
	"time"
)

func statsOf(t *testing.T, limiter Limiter) GlobalStats {
	t.Helper()
	reader, ok := limiter.(StatsReader)
	if !ok {
		t.Fatal("limiter should implement StatsReader")
	}
	return reader.Stats()
}

func TestStats_Aggregation(t *testing.T) {
	cfg := testConfig()
	rule := Rule{PerMinute: 5}
	cfg.TierRules[string(TierDefault)] = rule

	clock := newFakeClock()
	limiter := newTestLimiter(t, cfg, clock)
	ctx := context.Background()

	// client-a: 5 放行 + 3 拒绝
	for i := 0; i < 8; i++ {
		if _, err := limiter.Check(ctx, "client-a", TierDefault, "/x"); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
	}
	// client-b: 2 放行
	for i := 0; i < 2; i++ {
		if _, err := limiter.Check(ctx, "client-b", TierDefault, "/x"); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
	}

	stats := statsOf(t, limiter)
	if stats.TotalClients != 2 {
		t.Errorf("total clients: expected 2, got %d", stats.TotalClients)
	}
	if stats.TotalRequests != 7 {
		t.Errorf("total requests: expected 7, got %d", stats.TotalRequests)
	}
	if stats.TotalViolations != 3 {
		t.Errorf("total violations: expected 3, got %d", stats.TotalViolations)
	}
	want := 3.0 / 7.0
	if stats.ViolationRate < want-1e-9 || stats.ViolationRate > want+1e-9 {
		t.Errorf("violation rate: expected %v, got %v", want, stats.ViolationRate)
	}
	if stats.ActiveClients != 2 {
		t.Errorf("active clients: expected 2, got %d", stats.ActiveClients)
	}
}

func TestStats_ActiveWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, testConfig(), clock)
	ctx := context.Background()

	if _, err := limiter.Check(ctx, "old-client", TierDefault, "/x"); err != nil {
		t.Fatalf("Check failed: %v", err)
	}

	// 超过活跃观察窗口（默认 5 分钟）后不再计为活跃，但仍在册
	clock.Advance(6 * time.Minute)
	if _, err := limiter.Check(ctx, "new-client", TierDefault, "/x"); err != nil {
		t.Fatalf("Check failed: %v", err)
	}

	stats := statsOf(t, limiter)
	if stats.TotalClients != 2 {
		t.Errorf("total clients: expected 2, got %d", stats.TotalClients)
	}
	if stats.ActiveClients != 1 {
		t.Errorf("active clients: expected 1, got %d", stats.ActiveClients)
	}
}

func TestStats_EmptyLimiter(t *testing.T) {
	limiter := newTestLimiter(t, testConfig(), nil)

	stats := statsOf(t, limiter)
	if stats.TotalClients != 0 || stats.TotalRequests != 0 {
		t.Errorf("empty limiter should report zero stats: %+v", stats)
	}
	// 零请求时违规率取 0，不除零
	if stats.ViolationRate != 0 {
		t.Errorf("violation rate on empty limiter: expected 0, got %v", stats.ViolationRate)
	}
}

func TestUsage_UnknownClient(t *testing.T) {
	limiter := newTestLimiter(t, testConfig(), nil)

	reader := limiter.(UsageReader)
	if _, ok := reader.Usage("never-seen"); ok {
		t.Error("unknown client should report no usage")
	}
}

func TestUsage_WindowCounts(t *testing.T) {
	cfg := testConfig()
	rule := cfg.TierRules[string(TierDefault)]
	rule.Burst = 0
	cfg.TierRules[string(TierDefault)] = rule

	clock := newFakeClock()
	limiter := newTestLimiter(t, cfg, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.Check(ctx, "client-a", TierAuthenticated, "/x"); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
	}

	usage := usageOf(t, limiter, "client-a")
	if usage.ClientID != "client-a" {
		t.Errorf("client id: got %q", usage.ClientID)
	}
	if usage.Tier != TierAuthenticated {
		t.Errorf("tier: expected %q, got %q", TierAuthenticated, usage.Tier)
	}
	if usage.MinuteUsed != 3 || usage.HourUsed != 3 || usage.DayUsed != 3 {
		t.Errorf("window counts: %+v", usage)
	}

	// 窗口滚动后用量视图随之归零，生命周期计数不变
	clock.Advance(2 * time.Minute)
	usage = usageOf(t, limiter, "client-a")
	if usage.MinuteUsed != 0 {
		t.Errorf("minute used after rollover: expected 0, got %d", usage.MinuteUsed)
	}
	if usage.TotalRequests != 3 {
		t.Errorf("total requests: expected 3, got %d", usage.TotalRequests)
	}
}
