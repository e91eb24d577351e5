package sse

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mengeric/jobprogress/logging"
	"github.com/mengeric/jobprogress/status"
	"github.com/mengeric/jobprogress/tracker"
)

// Options 流端点参数。
type Options struct {
	PollInterval      time.Duration // 轮询存储周期
	HeartbeatInterval time.Duration // 心跳注释帧周期
	FlushDelay        time.Duration // 终态帧写出后到关闭连接的等待
}

func (o *Options) withDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 15 * time.Second
	}
	if o.FlushDelay < 0 {
		o.FlushDelay = 0
	} else if o.FlushDelay == 0 {
		o.FlushDelay = 500 * time.Millisecond
	}
}

// Observer 流端点指标回调。
type Observer interface {
	ConnOpened()
	ConnClosed()
	FrameSent(event string)
}

type nopObserver struct{}

func (nopObserver) ConnOpened()      {}
func (nopObserver) ConnClosed()      {}
func (nopObserver) FrameSent(string) {}

// Handler GET /api/jobs/{jobId}/stream。
// 每个请求一条独立连接：轮询存储、写出 progress/complete/error，并发送心跳。
type Handler struct {
	store status.Store
	opt   Options
	conns *tracker.Manager
	obs   Observer
	jobID func(r *http.Request) string
}

// Option 端点可选项。
type Option func(*Handler)

func WithOptions(o Options) Option          { return func(h *Handler) { h.opt = o } }
func WithObserver(o Observer) Option        { return func(h *Handler) { h.obs = o } }
func WithTracker(m *tracker.Manager) Option { return func(h *Handler) { h.conns = m } }

// WithJobIDFunc 自定义从请求中提取 jobId（默认读取 mux 路由变量 jobId）。
func WithJobIDFunc(fn func(*http.Request) string) Option {
	return func(h *Handler) { h.jobID = fn }
}

// NewHandler 创建流端点。
func NewHandler(store status.Store, opts ...Option) *Handler {
	h := &Handler{store: store, obs: nopObserver{}, jobID: func(r *http.Request) string { return mux.Vars(r)["jobId"] }}
	for _, fn := range opts {
		fn(h)
	}
	h.opt.withDefaults()
	if h.obs == nil {
		h.obs = nopObserver{}
	}
	if h.conns == nil {
		h.conns = tracker.NewManager()
	}
	return h
}

// Connections 打开中的连接跟踪器。
func (h *Handler) Connections() *tracker.Manager { return h.conns }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobID := h.jobID(r)
	if jobID == "" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	conn := newConn(uuid.NewString(), jobID, w, fl, h.obs)
	h.conns.Track(ctx, conn.ID, jobID, conn.Close)
	h.obs.ConnOpened()
	defer h.conns.Remove(conn.ID)
	defer conn.Close()

	log := logging.L().With("job", jobID, "conn", conn.ID)
	if err := conn.open(h.opt); err != nil {
		log.Debug(ctx, "stream open failed", "err", err)
		return
	}
	log.Debug(ctx, "stream opened")
	h.serve(ctx, conn, log)
}

// serve 连接主循环；任一退出路径都经由 defer conn.Close() 统一清理。
func (h *Handler) serve(ctx context.Context, conn *Conn, log logging.Logger) {
	if h.step(ctx, conn, log) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			log.Debug(ctx, "client disconnected before terminal event")
			return
		case <-conn.Done():
			return
		case <-conn.pollC():
			if h.step(ctx, conn, log) {
				return
			}
		case <-conn.heartbeatC():
			if err := conn.Heartbeat(); err != nil {
				log.Debug(ctx, "heartbeat write failed", "err", err)
				return
			}
		}
	}
}

// step 轮询一次；返回 true 表示连接应结束。
// 终态帧写出时定时器已停止，这里只等待 FlushDelay 让帧送达。
func (h *Handler) step(ctx context.Context, conn *Conn, log logging.Logger) bool {
	terminal, err := conn.Tick(h.store)
	if err != nil {
		log.Debug(ctx, "stream write failed", "err", err)
		return true
	}
	if !terminal {
		return false
	}
	log.Info(ctx, "terminal event sent")
	t := time.NewTimer(h.opt.FlushDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-conn.Done():
	}
	return true
}
