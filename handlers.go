package tierlimit

import (
	"encoding/json"
	"net/http"
	"time"
)

// apiVersion 监控接口响应的版本号
const apiVersion = "1.0.0"

// envelope 监控接口统一响应包裹
type envelope struct {
	Success  bool             `json:"success"`
	Data     any              `json:"data"`
	Metadata envelopeMetadata `json:"metadata"`
}

type envelopeMetadata struct {
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
}

// writeEnvelope 写出统一包裹的 JSON 响应
func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := envelope{
		Success: status < http.StatusBadRequest,
		Data:    data,
		Metadata: envelopeMetadata{
			Timestamp: time.Now().Unix(),
			Version:   apiVersion,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	writeResponse(w, payload)
}

// StatsHandler 全局限流统计查询接口
//
// 返回客户端总数、请求总数、违规总数、违规率与活跃客户端数。
// 限流器未实现 StatsReader 扩展接口时返回 404。
func StatsHandler(limiter Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reader, ok := limiter.(StatsReader)
		if !ok {
			http.NotFound(w, nil)
			return
		}
		writeEnvelope(w, http.StatusOK, reader.Stats())
	})
}

// UsageHandler 当前客户端用量查询接口
//
// 身份优先取中间件注入 context 的判定结果，未经过中间件时
// 退回 identifier 就地提取。从未出现过的客户端返回全零用量
// 而非 404：没有记录等价于没有消耗。
func UsageHandler(limiter Limiter, identifier *Identifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reader, ok := limiter.(UsageReader)
		if !ok {
			http.NotFound(w, r)
			return
		}

		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			if identifier == nil {
				http.Error(w, "identifier not configured", http.StatusInternalServerError)
				return
			}
			identity = identifier.Identify(r)
		}

		usage, ok := reader.Usage(identity.ID)
		if !ok {
			usage = ClientUsage{
				ClientID: identity.ID,
				Tier:     identity.Tier,
			}
		}
		writeEnvelope(w, http.StatusOK, usage)
	})
}

// MonitoringMux 组装监控端点路由
//
// 路由:
//   - GET /api/v1/rate-limit/stats    全局统计
//   - GET /api/v1/rate-limit/my-usage 当前客户端用量
func MonitoringMux(limiter Limiter, identifier *Identifier) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/rate-limit/stats", StatsHandler(limiter))
	mux.Handle("GET /api/v1/rate-limit/my-usage", UsageHandler(limiter, identifier))
	return mux
}
