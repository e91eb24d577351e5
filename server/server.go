package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/mengeric/jobprogress/logging"
	"github.com/mengeric/jobprogress/publisher"
	"github.com/mengeric/jobprogress/sse"
	"github.com/mengeric/jobprogress/status"
)

// Lookup 终态归档查询；记录被 TTL 淘汰后用于回查。
type Lookup interface {
	Get(ctx context.Context, jobID string) (status.Record, error)
}

// Options 服务参数。
type Options struct {
	ListenAddr      string        // 例如 ":8080"、"127.0.0.1:0"（0 表示随机端口）
	APIToken        string        // 为空时不校验
	ShutdownTimeout time.Duration // 优雅关闭等待上限
}

func (o *Options) withDefaults() {
	if o.ListenAddr == "" {
		o.ListenAddr = ":8080"
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
}

// Server 对外 HTTP 服务：事件流、状态查询、上游回调、任务启动、健康检查与指标。
type Server struct {
	opt     Options
	store   status.Store
	pub     *publisher.Publisher
	stream  *sse.Handler
	archive Lookup
	metrics http.Handler

	router *mux.Router
	base   context.Context
	srv    *http.Server
	done   chan struct{}
	addrMu sync.RWMutex
	addr   string
}

// Option 可选项。
type Option func(*Server)

func WithOptions(o Options) Option { return func(s *Server) { s.opt = o } }

// WithArchive 启用 GET /api/jobs/{jobId} 的归档回查。
func WithArchive(l Lookup) Option { return func(s *Server) { s.archive = l } }

// WithMetrics 挂载 GET /metrics。
func WithMetrics(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// New 创建服务；路由在构造时即注册完毕，可直接通过 Handler() 测试。
func New(store status.Store, pub *publisher.Publisher, stream *sse.Handler, opts ...Option) *Server {
	s := &Server{store: store, pub: pub, stream: stream, base: context.Background(), done: make(chan struct{})}
	for _, fn := range opts {
		fn(s)
	}
	s.opt.withDefaults()
	s.router = s.routes()
	return s
}

// Handler 根路由。
func (s *Server) Handler() http.Handler { return s.router }

// Start 监听并在后台提供服务，立即返回。
// ctx 取消时：关闭所有打开的事件流、取消进程内任务，再优雅关闭 HTTP Server，完成后关闭 Done()。
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opt.ListenAddr)
	if err != nil {
		logging.L().Errorf(ctx, "listen failed: addr=%s err=%v", s.opt.ListenAddr, err)
		return err
	}
	s.addrMu.Lock()
	s.addr = ln.Addr().String()
	s.addrMu.Unlock()
	s.base = ctx
	s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error(ctx, "http serve failed", "err", err)
		}
	}()
	go func() {
		defer close(s.done)
		<-ctx.Done()
		bg := context.WithoutCancel(ctx)
		streams := s.stream.Connections().StopAll()
		runs := s.pub.StopAll()
		logging.L().Info(bg, "shutting down", "streams", streams, "runs", runs)
		sctx, cancel := context.WithTimeout(bg, s.opt.ShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(sctx); err != nil {
			logging.L().Warn(bg, "http shutdown incomplete", "err", err)
		}
	}()
	logging.L().Info(ctx, "http server started", "addr", s.Addr())
	return nil
}

// Done 优雅关闭完成后关闭。
func (s *Server) Done() <-chan struct{} { return s.done }

// Addr 实际监听地址（用于测试或 :0 随机端口场景）。
func (s *Server) Addr() string { s.addrMu.RLock(); defer s.addrMu.RUnlock(); return s.addr }
