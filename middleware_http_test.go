package tierlimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newMiddlewareServer(t *testing.T, cfg Config, opts ...MiddlewareOption) http.Handler {
	t.Helper()
	limiter := newTestLimiter(t, cfg, newFakeClock())

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return HTTPMiddleware(limiter, opts...)(next)
}

func TestHTTPMiddleware_Allowed(t *testing.T) {
	handler := newMiddlewareServer(t, testConfig())

	r := httptest.NewRequest("GET", "/api/v1/status", nil)
	r.Header.Set("Authorization", "Bearer token-a")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	// 放行请求同样携带限流头
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Errorf("X-RateLimit-Limit: expected %q, got %q", "10", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "9" {
		t.Errorf("X-RateLimit-Remaining: expected %q, got %q", "9", got)
	}
	if rec.Header().Get("Retry-After") != "" {
		t.Error("allowed response should not carry Retry-After")
	}
}

func TestHTTPMiddleware_Denied(t *testing.T) {
	handler := newMiddlewareServer(t, testConfig())

	var rec *httptest.ResponseRecorder
	// 匿名客户端突发配额 3，第 4 个请求被拒
	for i := 0; i < 4; i++ {
		r := httptest.NewRequest("GET", "/api/v1/status", nil)
		r.RemoteAddr = "203.0.113.10:1234"
		r.Header.Set("User-Agent", "test-agent")
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
	}

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", got)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("denied response should carry Retry-After")
	}

	var body denyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body is not valid JSON: %v", err)
	}
	if body.Error.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("error code: expected RATE_LIMIT_EXCEEDED, got %q", body.Error.Code)
	}
	if !strings.Contains(body.Error.Message, "3 per second") {
		t.Errorf("message should name the violated policy: %q", body.Error.Message)
	}
	if body.Error.Details.Limit != 3 {
		t.Errorf("details.limit: expected 3, got %d", body.Error.Details.Limit)
	}
	if body.Error.Details.Window != 1 {
		t.Errorf("details.window: expected 1, got %d", body.Error.Details.Window)
	}
	if body.Error.Details.RetryAfter < 1 {
		t.Errorf("details.retry_after should be at least 1, got %d", body.Error.Details.RetryAfter)
	}
}

func TestHTTPMiddleware_SkipFunc(t *testing.T) {
	handler := newMiddlewareServer(t, testConfig(),
		WithSkipFunc(func(r *http.Request) bool {
			return r.URL.Path == "/healthz"
		}),
	)

	// 被跳过的路径不消耗配额、不写限流头
	for i := 0; i < 10; i++ {
		r := httptest.NewRequest("GET", "/healthz", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		if rec.Code != http.StatusOK {
			t.Fatalf("skipped path should always pass, got %d", rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "" {
			t.Fatal("skipped path should not carry rate limit headers")
		}
	}
}

func TestHTTPMiddleware_HeadersDisabled(t *testing.T) {
	handler := newMiddlewareServer(t, testConfig(), WithMiddlewareHeaders(false))

	r := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	if rec.Header().Get("X-RateLimit-Limit") != "" {
		t.Error("headers should be suppressed when disabled")
	}
}

func TestHTTPMiddleware_CustomDenyHandler(t *testing.T) {
	handler := newMiddlewareServer(t, testConfig(),
		WithDenyHandler(func(w http.ResponseWriter, _ *http.Request, _ *Decision) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}),
	)

	var rec *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "203.0.113.10:1234"
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("custom deny handler should take over, got %d", rec.Code)
	}
}

// erroringLimiter 总是返回内部错误的限流器
type erroringLimiter struct{}

func (erroringLimiter) Check(context.Context, string, Tier, string) (*Decision, error) {
	return nil, errors.New("internal failure")
}

func (erroringLimiter) Close() error { return nil }

func TestHTTPMiddleware_FailOpen(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := HTTPMiddleware(erroringLimiter{})(next)

	r := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	// 限流器内部错误不阻塞业务请求
	if rec.Code != http.StatusOK {
		t.Errorf("limiter failure should fail open, got %d", rec.Code)
	}
}

func TestHTTPMiddleware_InjectsIdentity(t *testing.T) {
	limiter := newTestLimiter(t, testConfig(), newFakeClock())

	var seen Identity
	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, ok = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := HTTPMiddleware(limiter)(next)

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer token-x")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !ok {
		t.Fatal("identity should be injected into request context")
	}
	if seen.Tier != TierAuthenticated {
		t.Errorf("tier: expected %q, got %q", TierAuthenticated, seen.Tier)
	}
	if !strings.HasPrefix(seen.ID, clientIDPrefixAPI) {
		t.Errorf("unexpected client id %q", seen.ID)
	}
}

func TestHTTPMiddleware_NilLimiterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("nil limiter should panic at construction")
		}
	}()
	HTTPMiddleware(nil)
}

func TestHTTPMiddlewareFunc(t *testing.T) {
	limiter := newTestLimiter(t, testConfig(), newFakeClock())

	called := false
	fn := HTTPMiddlewareFunc(limiter)(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	fn(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if !called {
		t.Error("wrapped handler func should be invoked")
	}
}
