package tierlimit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// 指标名称常量
const (
	// metricNameRequestsTotal 请求总数计数器
	metricNameRequestsTotal = "tierlimit.requests.total"
	// metricNameDeniedTotal 被限流请求计数器
	metricNameDeniedTotal = "tierlimit.denied.total"
	// metricNameEvictedTotal 被驱逐客户端计数器
	metricNameEvictedTotal = "tierlimit.evicted.total"
	// metricNameCheckDuration 限流检查耗时直方图
	metricNameCheckDuration = "tierlimit.check.duration"
)

// Metrics 限流指标收集器
// 提供 Counter 和 Histogram 类型的指标收集
type Metrics struct {
	meter         metric.Meter
	requestsTotal metric.Int64Counter
	deniedTotal   metric.Int64Counter
	evictedTotal  metric.Int64Counter
	checkDuration metric.Float64Histogram
}

// NewMetrics 创建指标收集器
// 如果 meterProvider 为 nil，返回 nil（不收集指标）
func NewMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	if meterProvider == nil {
		return nil, nil
	}

	meter := meterProvider.Meter("tierlimit",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	requestsTotal, err := meter.Int64Counter(
		metricNameRequestsTotal,
		metric.WithDescription("限流请求总数"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	deniedTotal, err := meter.Int64Counter(
		metricNameDeniedTotal,
		metric.WithDescription("被限流拒绝的请求数"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	evictedTotal, err := meter.Int64Counter(
		metricNameEvictedTotal,
		metric.WithDescription("清扫任务驱逐的客户端记录数"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, err
	}

	checkDuration, err := meter.Float64Histogram(
		metricNameCheckDuration,
		metric.WithDescription("限流检查耗时"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.01,
		),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		meter:         meter,
		requestsTotal: requestsTotal,
		deniedTotal:   deniedTotal,
		evictedTotal:  evictedTotal,
		checkDuration: checkDuration,
	}, nil
}

// RecordCheck 记录一次限流检查
// ctx: 上下文，用于传播追踪信息
// tier: 客户端层级
// allowed: 是否允许通过
// duration: 检查耗时
func (m *Metrics) RecordCheck(ctx context.Context, tier Tier, allowed bool, duration time.Duration) {
	if m == nil {
		return
	}

	// 使用 context.WithoutCancel 确保即使 ctx 被取消，指标仍能记录
	metricsCtx := context.WithoutCancel(ctx)

	attrs := []attribute.KeyValue{
		attribute.String("tier", string(tier)),
		attribute.Bool("allowed", allowed),
	}

	m.requestsTotal.Add(metricsCtx, 1, metric.WithAttributes(attrs...))
	if !allowed {
		m.deniedTotal.Add(metricsCtx, 1, metric.WithAttributes(attrs...))
	}
	m.checkDuration.Record(metricsCtx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordEvicted 记录清扫任务驱逐的客户端数量
func (m *Metrics) RecordEvicted(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictedTotal.Add(context.WithoutCancel(ctx), int64(n))
}
