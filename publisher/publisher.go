package publisher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mengeric/jobprogress/client"
	"github.com/mengeric/jobprogress/logging"
	"github.com/mengeric/jobprogress/status"
	"github.com/mengeric/jobprogress/tracker"
)

// 终态失败错误码。
const (
	CodeUnreachable = "UPSTREAM_UNREACHABLE"
	CodeTimeout     = "UPSTREAM_TIMEOUT"
	CodeMalformed   = "UPSTREAM_MALFORMED"
	CodeNotFound    = "UPSTREAM_JOB_NOT_FOUND"
	CodeJobFailed   = "JOB_FAILED"
	CodeJobPanic    = "JOB_PANIC"
	CodeCanceled    = "JOB_CANCELED"
)

// Archive 终态记录归档（可选）。
type Archive interface {
	Save(ctx context.Context, rec status.Record) error
}

// Observer 发布侧指标回调。
type Observer interface {
	UpstreamFailed(code string)
	Published(state status.State)
}

type nopObserver struct{}

func (nopObserver) UpstreamFailed(string)       {}
func (nopObserver) Published(status.State) {}

// Options 发布器运行参数。
type Options struct {
	PollEvery      time.Duration // 轮询上游周期
	RequestTimeout time.Duration // 单次上游请求超时
	NotFoundGrace  time.Duration // 上游持续 404 多久后判定失败
}

func (o *Options) withDefaults() {
	if o.PollEvery <= 0 {
		o.PollEvery = 2 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 8 * time.Second
	}
	if o.NotFoundGrace <= 0 {
		o.NotFoundGrace = 2 * time.Minute
	}
}

// Publisher 把上游任务状态翻译后写入进度存储。
// 只做“翻译并转发，或以终态失败收尾”，不重试上游调用。
type Publisher struct {
	store   status.Store
	api     client.PipelineAPI
	archive Archive
	obs     Observer
	opt     Options
	now     func() time.Time
	runs    *tracker.Manager

	mu      sync.Mutex
	watched map[string]*watch
	running atomic.Bool
}

type watch struct {
	notFoundSince time.Time
}

// Option 发布器可选项。
type Option func(*Publisher)

func WithArchive(a Archive) Option   { return func(p *Publisher) { p.archive = a } }
func WithObserver(o Observer) Option { return func(p *Publisher) { p.obs = o } }
func WithOptions(o Options) Option   { return func(p *Publisher) { p.opt = o } }
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}
func WithRuns(m *tracker.Manager) Option { return func(p *Publisher) { p.runs = m } }

// New 创建发布器；api 可为 nil（仅接收推送与进程内上报）。
func New(store status.Store, api client.PipelineAPI, opts ...Option) *Publisher {
	p := &Publisher{store: store, api: api, obs: nopObserver{}, now: time.Now, watched: map[string]*watch{}}
	for _, fn := range opts {
		fn(p)
	}
	p.opt.withDefaults()
	if p.runs == nil {
		p.runs = tracker.NewManager()
	}
	return p
}

// Report 直接写入一次状态更新（进程内调用路径）。
// 返回合并后的记录；applied=false 表示写入因终态或状态回退被丢弃。
func (p *Publisher) Report(ctx context.Context, jobID string, u status.Update) (status.Record, bool) {
	rec, ok := p.store.Set(jobID, u)
	if !ok {
		logging.L().Debug(ctx, "status write dropped", "job", jobID, "state", rec.State)
		return rec, false
	}
	p.obs.Published(rec.State)
	if rec.Terminal() {
		p.finish(ctx, rec)
	}
	return rec, true
}

// Fail 写入失败终态；code 为空时使用 JOB_FAILED。
func (p *Publisher) Fail(ctx context.Context, jobID, code, msg string) (status.Record, bool) {
	if code == "" {
		code = CodeJobFailed
	}
	return p.Report(ctx, jobID, status.Failed(code, msg))
}

// HandleUpstream 处理上游推送/查询得到的载荷。
// 载荷非法时写入 UPSTREAM_MALFORMED 终态并返回错误。
func (p *Publisher) HandleUpstream(ctx context.Context, jobID string, ps *client.PipelineStatus) error {
	if ps == nil {
		err := fmt.Errorf("%w: empty payload", client.ErrMalformed)
		p.failUpstream(ctx, jobID, CodeMalformed, err)
		return err
	}
	u, err := Translate(*ps)
	if err != nil {
		p.failUpstream(ctx, jobID, CodeMalformed, err)
		return err
	}
	p.Report(ctx, jobID, u)
	return nil
}

// Watch 开始轮询上游某任务；未配置上游时返回 false。
func (p *Publisher) Watch(jobID string) bool {
	if p.api == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.watched[jobID]; !ok {
		p.watched[jobID] = &watch{}
	}
	return true
}

// Unwatch 停止轮询。
func (p *Publisher) Unwatch(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watched, jobID)
}

// Watching 是否正在轮询该任务。
func (p *Publisher) Watching(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.watched[jobID]
	return ok
}

// PollOnce 对所有被轮询任务执行一轮上游查询。
func (p *Publisher) PollOnce(ctx context.Context) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.watched))
	for id := range p.watched {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	sort.Strings(ids)
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		p.pollJob(ctx, id)
	}
}

func (p *Publisher) pollJob(ctx context.Context, jobID string) {
	cctx, cancel := context.WithTimeout(ctx, p.opt.RequestTimeout)
	ps, err := p.api.JobStatus(cctx, jobID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		switch {
		case errors.Is(err, client.ErrNotFound):
			p.notFound(ctx, jobID, err)
		case errors.Is(err, client.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			p.failUpstream(ctx, jobID, CodeTimeout, err)
		case errors.Is(err, client.ErrMalformed):
			p.failUpstream(ctx, jobID, CodeMalformed, err)
		default:
			p.failUpstream(ctx, jobID, CodeUnreachable, err)
		}
		return
	}
	p.mu.Lock()
	if w, ok := p.watched[jobID]; ok {
		w.notFoundSince = time.Time{}
	}
	p.mu.Unlock()
	_ = p.HandleUpstream(ctx, jobID, ps)
}

// notFound 上游暂不认识该任务：宽限期内跳过，超期判定失败。
func (p *Publisher) notFound(ctx context.Context, jobID string, err error) {
	now := p.now()
	p.mu.Lock()
	w, ok := p.watched[jobID]
	if !ok {
		p.mu.Unlock()
		return
	}
	if w.notFoundSince.IsZero() {
		w.notFoundSince = now
	}
	expired := now.Sub(w.notFoundSince) >= p.opt.NotFoundGrace
	p.mu.Unlock()
	if expired {
		p.failUpstream(ctx, jobID, CodeNotFound, err)
	}
}

func (p *Publisher) failUpstream(ctx context.Context, jobID, code string, err error) {
	logging.L().Warn(ctx, "upstream status failed", "job", jobID, "code", code, "err", err)
	p.obs.UpstreamFailed(code)
	if _, ok := p.Fail(ctx, jobID, code, err.Error()); !ok {
		// 已是终态：不再轮询即可
		p.Unwatch(jobID)
	}
}

// finish 终态收尾：停止轮询并归档。
func (p *Publisher) finish(ctx context.Context, rec status.Record) {
	p.Unwatch(rec.JobID)
	logging.L().Info(ctx, "job finished", "job", rec.JobID, "state", rec.State, "code", rec.ErrorCode)
	if p.archive == nil {
		return
	}
	if err := p.archive.Save(context.WithoutCancel(ctx), rec); err != nil {
		logging.L().Warn(ctx, "archive job status failed", "job", rec.JobID, "err", err)
	}
}

// Start 启动上游轮询，ctx 取消后退出；重复调用无效。
func (p *Publisher) Start(ctx context.Context) {
	if p.api == nil || p.running.Swap(true) {
		return
	}
	ticker := time.NewTicker(p.opt.PollEvery)
	go func() {
		defer ticker.Stop()
		defer p.running.Store(false)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.PollOnce(ctx)
			}
		}
	}()
}
