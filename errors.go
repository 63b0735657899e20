package tierlimit

import "errors"

// 预定义错误，使用 errors.Is 进行比较
var (
	// ErrLimiterClosed 表示限流器已关闭
	ErrLimiterClosed = errors.New("tierlimit: limiter closed")

	// ErrInvalidRule 表示限流规则无效
	ErrInvalidRule = errors.New("tierlimit: invalid rule")

	// ErrInvalidTier 表示客户端层级无效
	ErrInvalidTier = errors.New("tierlimit: invalid tier")

	// ErrMissingTierRule 表示某个层级缺少默认规则
	//
	// 这是构造期错误：缺失层级规则意味着该层级的请求既不能放行
	// 也不能拒绝，服务应拒绝启动而不是静默回退。
	ErrMissingTierRule = errors.New("tierlimit: missing tier rule")

	// ErrInvalidConfig 表示配置无效
	ErrInvalidConfig = errors.New("tierlimit: invalid config")

	// ErrConfigNotFound 表示配置文件不存在或无法读取
	ErrConfigNotFound = errors.New("tierlimit: config not found")

	// ErrUnsupportedFormat 表示配置文件格式不受支持
	ErrUnsupportedFormat = errors.New("tierlimit: unsupported config format")
)
