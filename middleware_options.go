package tierlimit

import (
	"encoding/json"
	"net/http"
)

// MiddlewareOptions HTTP 中间件配置选项
type MiddlewareOptions struct {
	// Identifier 身份提取器
	Identifier *Identifier

	// DenyHandler 自定义拒绝处理器
	// 当请求被限流时调用
	DenyHandler func(w http.ResponseWriter, r *http.Request, decision *Decision)

	// SkipFunc 跳过函数
	// 返回 true 时跳过限流检查
	SkipFunc func(r *http.Request) bool

	// EnableHeaders 是否在响应中添加限流头
	EnableHeaders bool
}

// MiddlewareOption 中间件选项函数
type MiddlewareOption func(*MiddlewareOptions)

// defaultMiddlewareOptions 返回默认的中间件选项
func defaultMiddlewareOptions() *MiddlewareOptions {
	return &MiddlewareOptions{
		EnableHeaders: true,
		DenyHandler:   defaultDenyHandler,
	}
}

// sanitize 补齐缺失的必备字段
func (o *MiddlewareOptions) sanitize() {
	if o.Identifier == nil {
		// NewIdentifier 仅在可信代理配置非法时出错，无选项时不会失败
		o.Identifier, _ = NewIdentifier()
	}
	if o.DenyHandler == nil {
		o.DenyHandler = defaultDenyHandler
	}
}

// denyResponse 429 响应体
type denyResponse struct {
	Error denyError `json:"error"`
}

type denyError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details denyDetails `json:"details"`
}

type denyDetails struct {
	Limit      int    `json:"limit"`
	Window     int64  `json:"window"`
	RetryAfter int64  `json:"retry_after"`
	Policy     string `json:"policy"`
}

// defaultDenyHandler 默认的拒绝处理器
//
// 返回结构化 JSON 错误体，window 与 retry_after 均为秒。
func defaultDenyHandler(w http.ResponseWriter, _ *http.Request, decision *Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	body := denyResponse{
		Error: denyError{
			Code:    "RATE_LIMIT_EXCEEDED",
			Message: "Rate limit exceeded. " + decision.Policy,
			Details: denyDetails{
				Limit:      decision.Limit,
				Window:     int64(decision.Window.Seconds()),
				RetryAfter: decision.RetryAfterSeconds(),
				Policy:     decision.Policy,
			},
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	writeResponse(w, data)
}

// writeResponse 写入 HTTP 响应体。
// 写入失败时不返回错误，因为此时连接可能已断开，无法进行补救。
func writeResponse(w http.ResponseWriter, data []byte) {
	if _, err := w.Write(data); err != nil {
		// 写入失败通常表示客户端已断开连接
		// 此时无法采取补救措施，显式处理错误以满足 errcheck
		return
	}
}

// WithIdentifier 设置身份提取器
func WithIdentifier(identifier *Identifier) MiddlewareOption {
	return func(opts *MiddlewareOptions) {
		opts.Identifier = identifier
	}
}

// WithDenyHandler 设置自定义拒绝处理器
func WithDenyHandler(handler func(w http.ResponseWriter, r *http.Request, decision *Decision)) MiddlewareOption {
	return func(opts *MiddlewareOptions) {
		opts.DenyHandler = handler
	}
}

// WithSkipFunc 设置跳过函数
func WithSkipFunc(skipFunc func(r *http.Request) bool) MiddlewareOption {
	return func(opts *MiddlewareOptions) {
		opts.SkipFunc = skipFunc
	}
}

// WithMiddlewareHeaders 设置是否启用限流头
func WithMiddlewareHeaders(enable bool) MiddlewareOption {
	return func(opts *MiddlewareOptions) {
		opts.EnableHeaders = enable
	}
}
