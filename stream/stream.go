// Package stream 任务进度事件流的客户端：断线重连、退避、静默检测，
// 并保证每个 Stream 至多处理一次终态事件。
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mengeric/jobprogress/logging"
)

var (
	ErrCompleted = errors.New("stream: job already completed")
	ErrDestroyed = errors.New("stream: stream destroyed")

	errSilence = errors.New("stream: no frames within silence timeout")
)

// State 客户端流状态。
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateCompleted // 终态：收到 complete/error
	StateDestroyed // 终态：手动关闭
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateCompleted:
		return "completed"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Progress progress 事件。
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// Complete complete 事件。
type Complete struct {
	Total     int    `json:"total"`
	OutputURL string `json:"outputUrl"`
}

// JobError error 事件。
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NoticeKind 连接层提示类别。
type NoticeKind string

const (
	NoticeReconnecting NoticeKind = "reconnecting"
	NoticeFailed       NoticeKind = "failed"
)

// Notice 连接层提示（非任务事件）。
type Notice struct {
	Kind    NoticeKind
	Attempt int
	Delay   time.Duration
	Message string
	Err     error
}

// Handlers UI 回调；均可为 nil。回调在内部锁之外执行。
type Handlers struct {
	OnProgress func(Progress)
	OnComplete func(Complete)
	OnError    func(JobError)
	OnNotice   func(Notice)
}

// Options 重连参数。
type Options struct {
	Backoff           []time.Duration
	SilenceTimeout    time.Duration
	SilenceCheckEvery time.Duration
}

// DefaultBackoff 六次重连的退避序列。
var DefaultBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}

func (o *Options) withDefaults() {
	if len(o.Backoff) == 0 {
		o.Backoff = DefaultBackoff
	}
	if o.SilenceTimeout <= 0 {
		o.SilenceTimeout = 20 * time.Second
	}
	if o.SilenceCheckEvery <= 0 {
		o.SilenceCheckEvery = 5 * time.Second
	}
}

// Option 可选项。
type Option func(*Stream)

func WithOptions(o Options) Option      { return func(s *Stream) { s.opt = o } }
func WithClock(c Clock) Option          { return func(s *Stream) { s.clock = c } }
func WithDialer(d Dialer) Option        { return func(s *Stream) { s.dialer = d } }
func WithLogger(l logging.Logger) Option { return func(s *Stream) { s.log = l } }

// Stream 单个任务的重连事件流。
//
// 每次拨号分配新的 generation；传输回调与定时器都携带创建时的 generation，
// 过期回调一律丢弃，从而在关闭或重连后不会再触发任何处理。
type Stream struct {
	url    string
	h      Handlers
	opt    Options
	clock  Clock
	dialer Dialer
	log    logging.Logger

	mu        sync.Mutex
	state     State
	completed bool
	gen       uint64
	attempts  int
	src       Source
	reconnect Timer
	silence   Timer
	lastFrame time.Time
}

// New 创建流；需调用 Connect 开始连接。
func New(url string, h Handlers, opts ...Option) *Stream {
	s := &Stream{url: url, h: h}
	for _, fn := range opts {
		fn(s)
	}
	s.opt.withDefaults()
	if s.clock == nil {
		s.clock = realClock{}
	}
	if s.dialer == nil {
		s.dialer = HTTPDialer{}
	}
	if s.log == nil {
		s.log = logging.L()
	}
	s.log = s.log.With("url", url)
	return s
}

// State 当前状态。
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect 打开连接。已完成或已销毁时返回错误；连接中或已连接时为空操作。
func (s *Stream) Connect() error {
	s.mu.Lock()
	switch s.state {
	case StateCompleted:
		s.mu.Unlock()
		return ErrCompleted
	case StateDestroyed:
		s.mu.Unlock()
		return ErrDestroyed
	case StateConnecting, StateConnected:
		s.mu.Unlock()
		return nil
	}
	s.detachLocked()
	gen := s.gen
	s.mu.Unlock()
	s.dial(gen)
	return nil
}

// Reconnect 手动重连：重置尝试计数后重新 Connect。任务已完成时不允许。
func (s *Stream) Reconnect() error {
	s.mu.Lock()
	switch {
	case s.completed:
		s.mu.Unlock()
		return ErrCompleted
	case s.state == StateDestroyed:
		s.mu.Unlock()
		return ErrDestroyed
	}
	s.attempts = 0
	s.detachLocked()
	s.state = StateDisconnected
	s.mu.Unlock()
	return s.Connect()
}

// Close 取消所有定时器、解除回调并关闭传输，标记为 Destroyed。可重复调用。
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDestroyed {
		return nil
	}
	s.detachLocked()
	s.state = StateDestroyed
	return nil
}

// Wait 阻塞至流进入 Completed/Destroyed，或在重连耗尽后停止，或 ctx 结束。
func (s *Stream) Wait(ctx context.Context) State {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		s.mu.Lock()
		st, stopped := s.state, s.state == StateDisconnected && s.attempts >= len(s.opt.Backoff)
		s.mu.Unlock()
		if st == StateCompleted || st == StateDestroyed || stopped {
			return st
		}
		select {
		case <-ctx.Done():
			return st
		case <-t.C:
		}
	}
}

// dial 以 gen 发起一次连接；拨号期间若流已被关闭或重连，丢弃结果。
func (s *Stream) dial(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.lastFrame = s.clock.Now()
	s.mu.Unlock()

	src, err := s.dialer.Dial(s.url, &genListener{s: s, gen: gen})

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		if src != nil {
			_ = src.Close()
		}
		return
	}
	if err != nil {
		notify := s.transportErrorLocked(err)
		s.mu.Unlock()
		notify()
		return
	}
	s.src = src
	s.armSilenceLocked(gen)
	s.mu.Unlock()
}

// detachLocked 作废当前 generation：停止定时器并关闭传输。
func (s *Stream) detachLocked() {
	s.gen++
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	if s.silence != nil {
		s.silence.Stop()
		s.silence = nil
	}
	if s.src != nil {
		_ = s.src.Close()
		s.src = nil
	}
}

func (s *Stream) armSilenceLocked(gen uint64) {
	s.silence = s.clock.AfterFunc(s.opt.SilenceCheckEvery, func() { s.checkSilence(gen) })
}

func (s *Stream) checkSilence(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || (s.state != StateConnected && s.state != StateConnecting) {
		s.mu.Unlock()
		return
	}
	if s.clock.Now().Sub(s.lastFrame) > s.opt.SilenceTimeout {
		s.log.Warn(context.Background(), "stream silent, reconnecting", "timeout", s.opt.SilenceTimeout)
		notify := s.transportErrorLocked(errSilence)
		s.mu.Unlock()
		notify()
		return
	}
	s.armSilenceLocked(gen)
	s.mu.Unlock()
}

// transportErrorLocked 处理传输层错误，返回需在锁外执行的通知。
// 已完成的流只强制关闭，不再安排重连。
func (s *Stream) transportErrorLocked(err error) func() {
	if s.completed {
		s.detachLocked()
		return func() {}
	}
	s.detachLocked()
	if s.attempts >= len(s.opt.Backoff) {
		s.state = StateDisconnected
		s.log.Error(context.Background(), "stream reconnect attempts exhausted", "attempts", s.attempts, "err", err)
		n := Notice{Kind: NoticeFailed, Attempt: s.attempts, Message: "connection failed, please refresh", Err: err}
		return func() { s.notice(n) }
	}
	delay := s.opt.Backoff[s.attempts]
	s.attempts++
	s.state = StateReconnecting
	gen := s.gen
	s.reconnect = s.clock.AfterFunc(delay, func() { s.dial(gen) })
	s.log.Debug(context.Background(), "stream reconnect scheduled", "attempt", s.attempts, "delay", delay, "err", err)
	n := Notice{Kind: NoticeReconnecting, Attempt: s.attempts, Delay: delay, Message: fmt.Sprintf("reconnecting (attempt %d)", s.attempts), Err: err}
	return func() { s.notice(n) }
}

func (s *Stream) notice(n Notice) {
	if s.h.OnNotice != nil {
		s.h.OnNotice(n)
	}
}

// genListener 绑定到某一 generation 的传输回调。
type genListener struct {
	s   *Stream
	gen uint64
}

func (l *genListener) Open() {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != l.gen || s.completed {
		return
	}
	s.state = StateConnected
	s.lastFrame = s.clock.Now()
	s.log.Debug(context.Background(), "stream connected")
}

func (l *genListener) Heartbeat() {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == l.gen {
		s.lastFrame = s.clock.Now()
	}
}

func (l *genListener) TransportError(err error) {
	s := l.s
	s.mu.Lock()
	if s.gen != l.gen {
		s.mu.Unlock()
		return
	}
	notify := s.transportErrorLocked(err)
	s.mu.Unlock()
	notify()
}

// Event 处理应用层事件。解析失败的帧被丢弃，连接保持不变。
// 终态事件先置位 completed，再取消重连与静默定时器，最后关闭传输，之后才回调 UI。
func (l *genListener) Event(name string, data []byte) {
	s := l.s
	s.mu.Lock()
	if s.gen != l.gen || s.completed {
		s.mu.Unlock()
		return
	}
	s.lastFrame = s.clock.Now()
	var deliver func()
	switch name {
	case "progress":
		var p Progress
		if err := json.Unmarshal(data, &p); err != nil {
			s.log.Warn(context.Background(), "malformed progress frame discarded", "err", err)
			break
		}
		// 收到进度说明连接健康，重置重连计数
		s.attempts = 0
		if s.h.OnProgress != nil {
			deliver = func() { s.h.OnProgress(p) }
		}
	case "complete":
		var c Complete
		if err := json.Unmarshal(data, &c); err != nil {
			s.log.Warn(context.Background(), "malformed complete frame discarded", "err", err)
			break
		}
		s.finishLocked()
		if s.h.OnComplete != nil {
			deliver = func() { s.h.OnComplete(c) }
		}
	case "error":
		var e JobError
		if err := json.Unmarshal(data, &e); err != nil {
			s.log.Warn(context.Background(), "malformed error frame discarded", "err", err)
			break
		}
		s.finishLocked()
		if s.h.OnError != nil {
			deliver = func() { s.h.OnError(e) }
		}
	default:
		s.log.Debug(context.Background(), "unknown event ignored", "event", name)
	}
	s.mu.Unlock()
	if deliver != nil {
		deliver()
	}
}

func (s *Stream) finishLocked() {
	s.completed = true
	s.detachLocked()
	s.state = StateCompleted
}
