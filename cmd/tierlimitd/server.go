package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/tierlimit"
)

// server 网关服务的运行期状态
type server struct {
	listen          string
	configPath      string
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

func (s *server) run(ctx context.Context) error {
	var provider *tierlimit.FileProvider
	cfg := tierlimit.DefaultConfig()
	if s.configPath != "" {
		var err error
		provider, err = tierlimit.NewFileProvider(s.configPath)
		if err != nil {
			return err
		}
		cfg, err = provider.Load()
		if err != nil {
			return err
		}
	}

	limiter, err := s.buildLimiter(cfg)
	if err != nil {
		return err
	}
	reloadable := &reloadableLimiter{}
	reloadable.store(limiter)
	defer func() { _ = reloadable.Close() }()

	identifier, err := s.buildIdentifier(cfg)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              s.listen,
		Handler:           s.routes(reloadable, identifier, cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.LogAttrs(gctx, slog.LevelInfo, "listening",
			slog.String("addr", s.listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.LogAttrs(context.Background(), slog.LevelInfo, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if provider != nil {
		g.Go(func() error {
			return s.watchConfig(gctx, provider, reloadable)
		})
	}

	return g.Wait()
}

// routes 组装路由
//
// 监控端点与演示业务端点都经过限流中间件，健康检查除外。
func (s *server) routes(limiter tierlimit.Limiter, identifier *tierlimit.Identifier, cfg tierlimit.Config) http.Handler {
	api := http.NewServeMux()
	api.Handle("/api/v1/rate-limit/", tierlimit.MonitoringMux(limiter, identifier))
	api.HandleFunc("GET /api/v1/status", statusHandler)

	limited := tierlimit.HTTPMiddleware(limiter,
		tierlimit.WithIdentifier(identifier),
		tierlimit.WithMiddlewareHeaders(cfg.EnableHeaders),
	)(api)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", healthzHandler)
	root.Handle("/", limited)
	return root
}

func (s *server) buildLimiter(cfg tierlimit.Config) (tierlimit.Limiter, error) {
	opts := []tierlimit.Option{
		tierlimit.WithConfig(cfg),
		tierlimit.WithLogger(s.logger),
	}
	if cfg.EnableMetrics {
		opts = append(opts, tierlimit.WithMeterProvider(otel.GetMeterProvider()))
	}
	return tierlimit.New(opts...)
}

func (s *server) buildIdentifier(cfg tierlimit.Config) (*tierlimit.Identifier, error) {
	opts := []tierlimit.IdentifierOption{
		tierlimit.WithIdentifierLogger(s.logger),
	}
	if cfg.TrustXForwardedFor {
		opts = append(opts, tierlimit.WithTrustForwardedFor(cfg.TrustedProxies...))
	}
	return tierlimit.NewIdentifier(opts...)
}

// watchConfig 监视配置文件并热加载
//
// 新配置构建新限流器后原子切换，旧限流器关闭。窗口计数不迁移：
// 配置变更是低频运维动作，短暂的配额重置可以接受。
func (s *server) watchConfig(ctx context.Context, provider *tierlimit.FileProvider, reloadable *reloadableLimiter) error {
	changes, err := provider.Watch(ctx)
	if err != nil {
		return err
	}

	for change := range changes {
		if change.Err != nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "config reload failed",
				slog.String("error", change.Err.Error()))
			continue
		}

		limiter, err := s.buildLimiter(change.NewConfig)
		if err != nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "config reload rejected",
				slog.String("error", err.Error()))
			continue
		}

		old := reloadable.swap(limiter)
		if old != nil {
			_ = old.Close()
		}
		s.logger.LogAttrs(ctx, slog.LevelInfo, "config reloaded",
			slog.String("path", s.configPath))
	}
	return nil
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}

func statusHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"service": "tierlimitd",
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// reloadableLimiter 支持原子切换的限流器包装
//
// 中间件与监控处理器持有包装实例，配置热加载时仅切换内部指针。
type reloadableLimiter struct {
	current atomic.Value // tierlimit.Limiter
}

func (r *reloadableLimiter) store(l tierlimit.Limiter) {
	r.current.Store(&l)
}

func (r *reloadableLimiter) swap(l tierlimit.Limiter) tierlimit.Limiter {
	old := r.current.Swap(&l)
	if old == nil {
		return nil
	}
	return *old.(*tierlimit.Limiter)
}

func (r *reloadableLimiter) get() tierlimit.Limiter {
	v := r.current.Load()
	if v == nil {
		return nil
	}
	return *v.(*tierlimit.Limiter)
}

// Check 实现 tierlimit.Limiter 接口
func (r *reloadableLimiter) Check(ctx context.Context, clientID string, tier tierlimit.Tier, endpoint string) (*tierlimit.Decision, error) {
	return r.get().Check(ctx, clientID, tier, endpoint)
}

// Close 实现 tierlimit.Limiter 接口
func (r *reloadableLimiter) Close() error {
	return r.get().Close()
}

// Stats 实现 tierlimit.StatsReader 扩展接口
func (r *reloadableLimiter) Stats() tierlimit.GlobalStats {
	if reader, ok := r.get().(tierlimit.StatsReader); ok {
		return reader.Stats()
	}
	return tierlimit.GlobalStats{}
}

// Usage 实现 tierlimit.UsageReader 扩展接口
func (r *reloadableLimiter) Usage(clientID string) (tierlimit.ClientUsage, bool) {
	if reader, ok := r.get().(tierlimit.UsageReader); ok {
		return reader.Usage(clientID)
	}
	return tierlimit.ClientUsage{}, false
}
