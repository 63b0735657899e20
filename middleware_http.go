package tierlimit

import (
	"context"
	"net/http"
)

// identityContextKey 请求身份的 context 键类型，不导出避免碰撞
type identityContextKey struct{}

// IdentityFromContext 从请求 context 取出中间件解析的客户端身份
//
// 下游处理器（如用量查询接口）据此复用同一份身份判定。
// 中间件未参与该请求时返回 false。
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	return identity, ok
}

// ContextWithIdentity 将客户端身份注入 context
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// HTTPMiddleware 创建 HTTP 限流中间件
//
// 身份提取、层级解析、限流判定在一次调用内完成，判定结果通过
// X-RateLimit-* 响应头向客户端公告，解析出的身份注入请求 context
// 供下游处理器复用。
//
// 示例:
//
//	limiter, _ := tierlimit.New()
//	ident, _ := tierlimit.NewIdentifier()
//	mux := http.NewServeMux()
//	mux.Handle("/api/", tierlimit.HTTPMiddleware(limiter, tierlimit.WithIdentifier(ident))(apiHandler))
func HTTPMiddleware(limiter Limiter, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if limiter == nil {
		panic("tierlimit: HTTPMiddleware requires a non-nil Limiter")
	}

	mopts := defaultMiddlewareOptions()
	for _, opt := range opts {
		opt(mopts)
	}
	mopts.sanitize()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mopts.SkipFunc != nil && mopts.SkipFunc(r) {
				next.ServeHTTP(w, r)
				return
			}

			identity := mopts.Identifier.Identify(r)
			r = r.WithContext(ContextWithIdentity(r.Context(), identity))

			if handleHTTPLimit(w, r, limiter, mopts, identity) {
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// handleHTTPLimit 执行限流检查并处理结果。
// 返回 true 表示请求已被拒绝，调用方应直接返回。
func handleHTTPLimit(w http.ResponseWriter, r *http.Request, limiter Limiter, mopts *MiddlewareOptions, identity Identity) bool {
	decision, err := limiter.Check(r.Context(), identity.ID, identity.Tier, r.URL.Path)
	if err != nil {
		// 设计决策: 限流器内部错误 fail-open。限流保护的是容量，
		// 不是正确性；因限流器故障拒绝业务请求比放行更糟。
		return false
	}

	if mopts.EnableHeaders {
		decision.SetHeaders(w)
	}

	if !decision.Allowed {
		mopts.DenyHandler(w, r, decision)
		return true
	}

	return false
}

// HTTPMiddlewareFunc 创建 HTTP 限流中间件（函数式）
// 适用于需要 http.HandlerFunc 的场景
func HTTPMiddlewareFunc(limiter Limiter, opts ...MiddlewareOption) func(http.HandlerFunc) http.HandlerFunc {
	middleware := HTTPMiddleware(limiter, opts...)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return middleware(next).ServeHTTP
	}
}
