package tierlimit

import (
	"sync"
	"time"
)

// clientRecord 单个客户端的可变状态
//
// 所有计数器字段只在持有 mu 时读写。mu 只保护本记录，不同客户端
// 的请求互不阻塞。记录由注册表按需创建，由清扫任务驱逐，这是唯一
// 的删除路径。
type clientRecord struct {
	mu sync.Mutex

	// evicted 清扫任务在持锁删除时置位
	// 检查路径拿到旧指针后发现此标记会重新向注册表取记录，
	// 避免把计数写进一个已经不在表里的记录
	evicted bool

	tier    Tier
	windows [numGranularities]windowCounter

	// totalRequests 生命周期内放行的请求数
	totalRequests int64
	// violations 生命周期内被拒绝的请求数
	violations int64

	firstSeen time.Time
	lastSeen  time.Time
}
