package tierlimit

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// defaultShardCount 默认分片数，必须为 2 的幂
const defaultShardCount = 32

// registry 客户端记录注册表
//
// 按 xxhash(clientID) 分片的并发映射：分片锁只保护映射结构本身，
// 记录内部的计数器由记录自己的锁保护。new 客户端的并发首请求通过
// 分片锁内的 check-then-create 保证只产生一个记录。
type registry struct {
	shards []registryShard
	mask   uint64
	size   atomic.Int64
}

type registryShard struct {
	mu      sync.RWMutex
	records map[string]*clientRecord
}

// newRegistry 创建注册表
//
// shardCount 非 2 的幂或非正数时回落到默认值。
func newRegistry(shardCount int) *registry {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		shardCount = defaultShardCount
	}
	shards := make([]registryShard, shardCount)
	for i := range shards {
		shards[i].records = make(map[string]*clientRecord)
	}
	return &registry{
		shards: shards,
		mask:   uint64(shardCount - 1),
	}
}

func (r *registry) shard(clientID string) *registryShard {
	h := xxhash.Sum64String(clientID)
	return &r.shards[h&r.mask]
}

// getOrCreate 获取或创建客户端记录
func (r *registry) getOrCreate(clientID string) *clientRecord {
	s := r.shard(clientID)

	s.mu.RLock()
	rec, ok := s.records[clientID]
	s.mu.RUnlock()
	if ok {
		return rec
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[clientID]; ok {
		return rec
	}
	rec = &clientRecord{}
	s.records[clientID] = rec
	r.size.Add(1)
	return rec
}

// get 获取客户端记录
func (r *registry) get(clientID string) (*clientRecord, bool) {
	s := r.shard(clientID)
	s.mu.RLock()
	rec, ok := s.records[clientID]
	s.mu.RUnlock()
	return rec, ok
}

// len 返回记录总数
func (r *registry) len() int {
	return int(r.size.Load())
}

// keys 返回所有客户端 ID 的快照
//
// 清扫任务先取快照再逐个处理，避免长时间持有分片锁。
func (r *registry) keys() []string {
	out := make([]string, 0, r.len())
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for id := range s.records {
			out = append(out, id)
		}
		s.mu.RUnlock()
	}
	return out
}

// forEach 遍历所有记录
//
// 先按分片复制指针快照再调用 fn，fn 执行期间不持有分片锁。
// 遍历与并发写入之间是最终一致的：统计口径允许短暂偏差，
// 换取请求路径完全不被统计阻塞。
func (r *registry) forEach(fn func(clientID string, rec *clientRecord)) {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		ids := make([]string, 0, len(s.records))
		recs := make([]*clientRecord, 0, len(s.records))
		for id, rec := range s.records {
			ids = append(ids, id)
			recs = append(recs, rec)
		}
		s.mu.RUnlock()

		for j, rec := range recs {
			fn(ids[j], rec)
		}
	}
}

// removeIfStale 若记录自 cutoff 之前就不再活跃则删除
//
// 锁序固定为 分片锁 → 记录锁；检查路径只在取得记录指针之后才锁
// 记录，二者不会交叉成环。持记录锁复核 lastSeen 保证清扫期间重新
// 活跃的客户端不会被误删。
func (r *registry) removeIfStale(clientID string, cutoff func(rec *clientRecord) bool) bool {
	s := r.shard(clientID)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[clientID]
	if !ok {
		return false
	}

	rec.mu.Lock()
	stale := cutoff(rec)
	if stale {
		rec.evicted = true
		delete(s.records, clientID)
		r.size.Add(-1)
	}
	rec.mu.Unlock()

	return stale
}
