package tierlimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// reaper 客户端记录清扫器
//
// 在独立的调度器 goroutine 上按固定间隔运行，绝不进入请求路径。
// 驱逐只是内存回收：错过或延迟一轮清扫不影响限流判定的正确性，
// 只是延迟了内存释放。
type reaper struct {
	core      *limiterCore
	retention time.Duration
	interval  time.Duration

	cron *cron.Cron

	// sweepMu 串行化手动 Sweep 与定时触发，保证幂等语义
	sweepMu sync.Mutex
}

// newReaper 创建清扫器（不启动）
func newReaper(core *limiterCore, retention, interval time.Duration) *reaper {
	return &reaper{
		core:      core,
		retention: retention,
		interval:  interval,
	}
}

// start 启动定时清扫
func (rp *reaper) start() {
	rp.cron = cron.New()
	// interval 来自配置推导，最小 5 分钟，@every 表达式不会失败
	_, _ = rp.cron.AddFunc("@every "+rp.interval.String(), func() {
		rp.sweep(rp.core.opts.now())
	})
	rp.cron.Start()
}

// stop 停止定时清扫并等待进行中的一轮结束
func (rp *reaper) stop() {
	if rp.cron == nil {
		return
	}
	ctx := rp.cron.Stop()
	<-ctx.Done()
}

// sweep 驱逐 lastSeen 早于保留期的客户端记录，返回驱逐数量
//
// 先对键做快照，再逐个以记录锁复核后删除：清扫期间重新活跃的
// 客户端在复核时 lastSeen 已更新，不会被驱逐。
func (rp *reaper) sweep(now time.Time) int {
	rp.sweepMu.Lock()
	defer rp.sweepMu.Unlock()

	cutoff := now.Add(-rp.retention)
	evicted := 0

	for _, clientID := range rp.core.clients.keys() {
		removed := rp.core.clients.removeIfStale(clientID, func(rec *clientRecord) bool {
			return rec.lastSeen.Before(cutoff)
		})
		if removed {
			evicted++
		}
	}

	rp.core.opts.metrics.RecordEvicted(context.Background(), evicted)

	if rp.core.opts.logger != nil && evicted > 0 {
		rp.core.opts.logger.LogAttrs(context.Background(), slog.LevelInfo,
			"evicted stale client records",
			slog.Int("evicted", evicted),
			slog.Int("remaining", rp.core.clients.len()),
		)
	}

	return evicted
}
