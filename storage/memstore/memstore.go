package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/mengeric/jobprogress/logging"
	"github.com/mengeric/jobprogress/status"
)

// DefaultTTL 记录自最后一次更新起的存活时长。
const DefaultTTL = 15 * time.Minute

// Store 是线程安全的进度内存存储，实现 status.Store。
// 每个 jobID 只有一条记录，写入按 status.Apply 合并（后写覆盖），读取返回副本。
type Store struct {
	mu  sync.RWMutex
	m   map[string]*status.Record
	ttl time.Duration
	now func() time.Time

	onSweep func(evicted, remaining int)
}

// Option 存储可选项。
type Option func(*Store)

// WithClock 注入时钟，便于测试 TTL。
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithSweepHook 每次清扫后回调（用于指标上报）。
func WithSweepHook(fn func(evicted, remaining int)) Option {
	return func(s *Store) { s.onSweep = fn }
}

// New 创建内存存储；ttl<=0 时使用 DefaultTTL。
func New(ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{m: map[string]*status.Record{}, ttl: ttl, now: time.Now}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

// Set 合并写入 jobID 对应记录，不存在则创建。
// 返回合并后的记录副本；写入被丢弃（终态或状态回退）时 applied=false，且不会创建空记录。
func (s *Store) Set(jobID string, u status.Update) (status.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.m[jobID]
	if !ok {
		r = &status.Record{JobID: jobID}
	}
	if !status.Apply(r, u, s.now()) {
		return *r, false
	}
	s.m[jobID] = r
	return *r, true
}

// Get 按 jobID 读取记录副本。
func (s *Store) Get(jobID string) (status.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.m[jobID]; ok {
		return *r, true
	}
	return status.Record{}, false
}

// Len 当前记录数。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// SweepExpired 删除 lastUpdatedAt 早于 TTL 的记录（不区分是否终态），返回删除条数。
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	cutoff := s.now().Add(-s.ttl)
	n := 0
	for id, r := range s.m {
		if r.LastUpdatedAt.Before(cutoff) {
			delete(s.m, id)
			n++
		}
	}
	remaining := len(s.m)
	s.mu.Unlock()

	if s.onSweep != nil {
		s.onSweep(n, remaining)
	}
	return n
}

// Start 启动周期清扫，ctx 取消后退出。
func (s *Store) Start(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Minute
	}
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.SweepExpired(); n > 0 {
					logging.L().Debug(ctx, "job status sweep", "evicted", n)
				}
			}
		}
	}()
}
