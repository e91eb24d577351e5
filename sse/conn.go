package sse

import (
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mengeric/jobprogress/status"
)

// State 单个流连接的状态：Open -> Streaming -> Closed。
type State int

const (
	StateOpen State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn 一条 SSE 连接。
// 不变量：terminalSent 至多翻转一次；翻转后不再写出任何帧，
// 轮询与心跳定时器在同一次调用内停止，随后才安排关闭。
type Conn struct {
	ID    string
	JobID string

	w   io.Writer
	fl  http.Flusher
	obs Observer

	mu           sync.Mutex
	state        State
	terminalSent bool
	sentProgress bool
	lastRevision uint64
	poll         *time.Ticker
	heartbeat    *time.Ticker

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id, jobID string, w io.Writer, fl http.Flusher, obs Observer) *Conn {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Conn{ID: id, JobID: jobID, w: w, fl: fl, obs: obs, done: make(chan struct{})}
}

// open 发送首个注释帧让客户端进入“已连接”，并启动轮询与心跳定时器。
func (c *Conn) open(opt Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return nil
	}
	if err := writeComment(c.w, "connected "+c.JobID); err != nil {
		return err
	}
	c.flushLocked()
	c.poll = time.NewTicker(opt.PollInterval)
	c.heartbeat = time.NewTicker(opt.HeartbeatInterval)
	c.state = StateStreaming
	return nil
}

// State 当前状态。
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TerminalSent 是否已发送终态事件。
func (c *Conn) TerminalSent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminalSent
}

// Tick 执行一次轮询：读取存储并按状态写出帧。
// 返回 terminal=true 表示终态事件已发送（本次或更早），调用方应安排关闭。
// 未找到记录视为尚不可用，直接跳过。
func (c *Conn) Tick(store status.Store) (terminal bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminalSent {
		return true, nil
	}
	if c.state != StateStreaming {
		return false, nil
	}
	rec, ok := store.Get(c.JobID)
	if !ok {
		return false, nil
	}
	switch rec.State {
	case status.StateSuccess:
		return true, c.emitTerminalLocked(EventComplete, CompleteData{Total: rec.Total, OutputURL: rec.OutputURL})
	case status.StateFailed:
		return true, c.emitTerminalLocked(EventError, ErrorData{Code: rec.ErrorCode, Message: rec.ErrorMessage})
	default:
		if c.sentProgress && rec.Revision == c.lastRevision {
			return false, nil
		}
		c.sentProgress = true
		c.lastRevision = rec.Revision
		return false, c.writeLocked(EventProgress, ProgressData{Current: rec.Current, Total: rec.Total, Message: rec.Message})
	}
}

// emitTerminalLocked 先置位守卫，再写终态帧，并立即停止两个定时器。
func (c *Conn) emitTerminalLocked(event string, data any) error {
	c.terminalSent = true
	err := c.writeLocked(event, data)
	c.stopTimersLocked()
	return err
}

// Heartbeat 写出心跳注释帧；终态后为空操作。
func (c *Conn) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminalSent || c.state != StateStreaming {
		return nil
	}
	if err := writeComment(c.w, "heartbeat "+strconv.FormatInt(time.Now().Unix(), 10)); err != nil {
		return err
	}
	c.flushLocked()
	c.obs.FrameSent(EventHeartbeat)
	return nil
}

// Close 停止定时器并标记关闭；可重复调用，清理只执行一次。
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.stopTimersLocked()
		c.state = StateClosed
		c.mu.Unlock()
		close(c.done)
		c.obs.ConnClosed()
	})
}

// Done 连接关闭后关闭。
func (c *Conn) Done() <-chan struct{} { return c.done }

// pollC/heartbeatC 定时器停止后返回 nil（select 永不命中）。
func (c *Conn) pollC() <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poll == nil {
		return nil
	}
	return c.poll.C
}

func (c *Conn) heartbeatC() <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heartbeat == nil {
		return nil
	}
	return c.heartbeat.C
}

func (c *Conn) stopTimersLocked() {
	if c.poll != nil {
		c.poll.Stop()
		c.poll = nil
	}
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
}

func (c *Conn) writeLocked(event string, data any) error {
	if err := writeEvent(c.w, event, data); err != nil {
		return err
	}
	c.flushLocked()
	c.obs.FrameSent(event)
	return nil
}

func (c *Conn) flushLocked() {
	if c.fl != nil {
		c.fl.Flush()
	}
}
