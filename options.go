package tierlimit

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// options 内部配置结构
type options struct {
	config        Config
	logger        *slog.Logger
	meterProvider metric.MeterProvider
	metrics       *Metrics
	onAllow       func(clientID string, d *Decision)
	onDeny        func(clientID string, d *Decision)
	now           func() time.Time
	shardCount    int
	initErr       error // 配置加载阶段的错误，延迟到 New 时返回
}

// validate 验证选项并返回初始化阶段收集的错误
//
// 设计决策: Option 函数签名不支持返回错误，因此将配置加载错误
// 暂存在 initErr 中，在 New 构造时统一检查。
func (o *options) validate() error {
	if o.initErr != nil {
		return o.initErr
	}
	return o.config.Validate()
}

// Option 配置选项函数
type Option func(*options)

// defaultOptions 返回默认配置
func defaultOptions() *options {
	return &options{
		config: DefaultConfig(),
		now:    time.Now,
	}
}

// WithConfig 使用完整配置覆盖
func WithConfig(config Config) Option {
	return func(o *options) {
		o.config = config.Clone()
	}
}

// WithConfigProvider 使用配置提供器加载配置
//
// 此选项会在创建限流器时立即加载配置。如果加载失败，错误将在 New
// 构造时返回，避免在无规则状态下静默放行所有请求。
func WithConfigProvider(provider ConfigProvider) Option {
	return func(o *options) {
		if provider == nil {
			return
		}

		config, err := provider.Load()
		if err != nil {
			// 设计决策: 将配置加载错误上抛到 New，而不是静默降级到默认
			// 配置。带着错误的配置启动比明确的创建失败更危险。
			o.initErr = fmt.Errorf("config provider load failed: %w", err)
			return
		}

		o.config = config
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMeterProvider 设置 OpenTelemetry MeterProvider
// 用于收集 Counter/Histogram 类型的指标
// 如果不设置，不会收集指标
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithOnAllow 设置请求通过时的回调
// 用于自定义日志记录、指标上报等
func WithOnAllow(fn func(clientID string, d *Decision)) Option {
	return func(o *options) {
		o.onAllow = fn
	}
}

// WithOnDeny 设置请求被拒绝时的回调
func WithOnDeny(fn func(clientID string, d *Decision)) Option {
	return func(o *options) {
		o.onDeny = fn
	}
}

// WithShardCount 设置客户端注册表分片数（2 的幂）
func WithShardCount(n int) Option {
	return func(o *options) {
		o.shardCount = n
	}
}

// WithNowFunc 设置时钟函数，用于测试中控制窗口滚动
func WithNowFunc(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
