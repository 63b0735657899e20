package tierlimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// 凭证来源优先级: Authorization Bearer > X-API-Key > 来源 IP (+User-Agent)
const (
	headerAuthorization = "Authorization"
	headerAPIKey        = "X-API-Key"
	headerForwardedFor  = "X-Forwarded-For"

	bearerPrefix = "Bearer "

	// clientIDPrefixAPI / clientIDPrefixAnon 客户端标识前缀，
	// 标识主体是凭证或 IP+UA 组合的单向哈希，监控面永远不暴露原始凭证
	clientIDPrefixAPI  = "api:"
	clientIDPrefixAnon = "anon:"
)

// Identity 一次请求的客户端身份
type Identity struct {
	// ID 不透明的客户端标识（哈希，非原始凭证）
	ID string

	// Tier 客户端层级
	Tier Tier
}

// TierLookup 凭证到层级的查询协作方（如鉴权服务）
//
// 限流器不负责签发或校验凭证，只消费查询结果。实现应是并发安全的。
type TierLookup interface {
	// LookupTier 查询凭证对应的层级
	LookupTier(ctx context.Context, credential string) (Tier, error)
}

// TierLookupFunc 函数式 TierLookup 适配器
type TierLookupFunc func(ctx context.Context, credential string) (Tier, error)

// LookupTier 实现 TierLookup 接口
func (f TierLookupFunc) LookupTier(ctx context.Context, credential string) (Tier, error) {
	return f(ctx, credential)
}

// StaticTierLookup 静态凭证表
//
// 表内凭证返回映射层级，表外凭证视为普通认证客户端。
// 适用于测试和小规模部署。
type StaticTierLookup map[string]Tier

// LookupTier 实现 TierLookup 接口
func (s StaticTierLookup) LookupTier(_ context.Context, credential string) (Tier, error) {
	if tier, ok := s[credential]; ok {
		return tier, nil
	}
	return TierAuthenticated, nil
}

// Identifier 从 HTTP 请求提取客户端身份
//
// 提取本身是纯函数；层级解析依赖注入的 TierLookup 协作方，
// 查询经过熔断器和 LRU 缓存（见 lookup.go），失败时降级而非拒绝：
// 限流器永远不应该变成一道硬性鉴权闸门。
type Identifier struct {
	lookup *tierLookupClient

	trustXFF bool
	proxies  *netipx.IPSet
}

// NewIdentifier 创建身份提取器
//
// 仅在可信代理网段配置无法解析时返回错误。
func NewIdentifier(opts ...IdentifierOption) (*Identifier, error) {
	cfg := defaultIdentifierOptions()
	for _, opt := range opts {
		opt(cfg)
	}

	var proxies *netipx.IPSet
	if len(cfg.trustedProxies) > 0 {
		var err error
		proxies, err = buildProxySet(cfg.trustedProxies)
		if err != nil {
			return nil, err
		}
	}

	return &Identifier{
		lookup:   newTierLookupClient(cfg),
		trustXFF: cfg.trustXFF,
		proxies:  proxies,
	}, nil
}

// Identify 提取请求的客户端身份
//
// 凭证格式错误时降级为匿名身份（TierDefault），不报错：
// 鉴权失败与否由鉴权协作方决定，与限流判定无关。
func (i *Identifier) Identify(r *http.Request) Identity {
	if cred, ok := bearerCredential(r.Header.Get(headerAuthorization)); ok {
		return i.credentialIdentity(r.Context(), cred)
	}

	if cred := strings.TrimSpace(r.Header.Get(headerAPIKey)); cred != "" {
		return i.credentialIdentity(r.Context(), cred)
	}

	// 匿名：IP + User-Agent 组合哈希，比裸 IP 略细的粒度，
	// 同一 NAT 出口后的不同客户端不至于共享一份配额
	ua := r.Header.Get("User-Agent")
	if ua == "" {
		ua = "unknown"
	}
	composite := i.clientIP(r) + ":" + ua
	return Identity{
		ID:   clientIDPrefixAnon + hashIdentity(composite),
		Tier: TierDefault,
	}
}

// credentialIdentity 构造持凭证客户端的身份
func (i *Identifier) credentialIdentity(ctx context.Context, credential string) Identity {
	return Identity{
		ID:   clientIDPrefixAPI + hashIdentity(credential),
		Tier: i.lookup.resolve(ctx, credential),
	}
}

// clientIP 解析请求的来源 IP
//
// 仅当直连对端位于可信代理网段（或未配置网段但开启了信任开关）时
// 采用 X-Forwarded-For 的第一个地址（最接近原始客户端的一跳）。
func (i *Identifier) clientIP(r *http.Request) string {
	remote := remoteAddr(r)

	if i.trustXFF && i.peerTrusted(remote) {
		if xff := r.Header.Get(headerForwardedFor); xff != "" {
			first := xff
			if idx := strings.IndexByte(xff, ','); idx >= 0 {
				first = xff[:idx]
			}
			if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return addr.String()
			}
		}
	}

	if addr, err := netip.ParseAddr(remote); err == nil {
		return addr.String()
	}
	if remote != "" {
		return remote
	}
	return "unknown"
}

// peerTrusted 判断直连对端是否可信
func (i *Identifier) peerTrusted(remote string) bool {
	if i.proxies == nil {
		return true
	}
	addr, err := netip.ParseAddr(remote)
	if err != nil {
		return false
	}
	return i.proxies.Contains(addr.Unmap())
}

// bearerCredential 解析 Authorization 头中的 Bearer 凭证
//
// 返回 (凭证, 是否有效)。头缺失、前缀不符或凭证为空都视为无效，
// 由调用方降级处理。
func bearerCredential(header string) (string, bool) {
	if header == "" || !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	cred := strings.TrimSpace(header[len(bearerPrefix):])
	if cred == "" {
		return "", false
	}
	return cred, true
}

// remoteAddr 提取直连对端地址（去端口）
func remoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// hashIdentity 生成身份哈希（sha256 前 16 个十六进制字符）
//
// 单向哈希保证统计与日志面不会泄露原始凭证；16 个字符在进程内
// 客户端规模下碰撞概率可以忽略。
func hashIdentity(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// buildProxySet 解析可信代理网段集合
func buildProxySet(entries []string) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if strings.ContainsRune(entry, '/') {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, err
			}
			b.AddPrefix(prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, err
		}
		b.Add(addr.Unmap())
	}
	return b.IPSet()
}
