package tracker

import (
	"context"
	"sync"
	"time"
)

// Instance 一个被跟踪的运行单元（SSE 连接或进程内任务）。
type Instance struct {
	ID        string
	JobID     string
	StartedAt time.Time
	Ctx       context.Context
	Cancel    context.CancelFunc
}

// Manager 简单的运行单元跟踪器，用于停机时统一取消。
type Manager struct {
	mu      sync.RWMutex
	running map[string]*Instance
}

// NewManager 构造。
func NewManager() *Manager { return &Manager{running: map[string]*Instance{}} }

// Start 以 parent 派生可取消上下文并注册。
func (m *Manager) Start(parent context.Context, id, jobID string) *Instance {
	ctx, cancel := context.WithCancel(parent)
	return m.Track(ctx, id, jobID, cancel)
}

// Track 注册一个自带取消函数的实例（如 SSE 连接的 Close）。
func (m *Manager) Track(ctx context.Context, id, jobID string, cancel func()) *Instance {
	ins := &Instance{ID: id, JobID: jobID, StartedAt: time.Now(), Ctx: ctx, Cancel: cancel}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[id] = ins
	return ins
}

// Stop 取消并移除实例。
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	ins, ok := m.running[id]
	delete(m.running, id)
	m.mu.Unlock()
	if ok {
		ins.Cancel()
	}
	return ok
}

// Remove 仅移除，不取消（实例已自行结束）。
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[id]
	delete(m.running, id)
	return ok
}

// Get 查询实例。
func (m *Manager) Get(id string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ins, ok := m.running[id]
	return ins, ok
}

// Count 当前实例数。
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.running)
}

// CountJob 指定任务的实例数。
func (m *Manager) CountJob(jobID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ins := range m.running {
		if ins.JobID == jobID {
			n++
		}
	}
	return n
}

// StopAll 取消全部实例，返回数量。取消函数在锁外调用。
func (m *Manager) StopAll() int {
	m.mu.Lock()
	list := make([]*Instance, 0, len(m.running))
	for id, ins := range m.running {
		list = append(list, ins)
		delete(m.running, id)
	}
	m.mu.Unlock()
	for _, ins := range list {
		ins.Cancel()
	}
	return len(list)
}
