package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/mengeric/jobprogress/logging"
	"github.com/mengeric/jobprogress/processor"
	"github.com/mengeric/jobprogress/status"
)

// jobReporter 把处理器进度转为 Report 调用。
type jobReporter struct {
	p     *Publisher
	ctx   context.Context
	jobID string
}

func (r jobReporter) Progress(current, total int, msg status.Message) {
	r.p.Report(r.ctx, r.jobID, status.Progress(current, total, msg.String()))
}

// Run 在后台执行进程内处理器，全程通过 Report 发布状态。
// 生命周期：由 parent 控制，取消时任务以 JOB_CANCELED 收尾；panic 以 JOB_PANIC 收尾。
// 返回 done 通道，任务写入终态后关闭。
func (p *Publisher) Run(parent context.Context, jobID string, proc processor.Processor, params map[string]any) (<-chan struct{}, error) {
	if _, ok := p.runs.Get(jobID); ok {
		return nil, fmt.Errorf("job %s already running", jobID)
	}
	if _, ok := p.Report(parent, jobID, status.Queued("queued")); !ok {
		return nil, fmt.Errorf("job %s already exists", jobID)
	}
	ins := p.runs.Start(parent, jobID, jobID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer p.runs.Stop(jobID)
		defer func() {
			if r := recover(); r != nil {
				logging.L().Error(ins.Ctx, "processor panic", "job", jobID, "panic", r)
				p.Fail(context.WithoutCancel(ins.Ctx), jobID, CodeJobPanic, fmt.Sprint(r))
			}
		}()
		res, err := proc.Run(ins.Ctx, params, jobReporter{p: p, ctx: ins.Ctx, jobID: jobID})
		bg := context.WithoutCancel(ins.Ctx)
		switch {
		case err == nil:
			p.Report(bg, jobID, status.Succeeded(res.Total, res.OutputURL))
		case errors.Is(err, context.Canceled) || ins.Ctx.Err() != nil:
			p.Fail(bg, jobID, CodeCanceled, "job canceled")
		default:
			p.Fail(bg, jobID, CodeJobFailed, err.Error())
		}
	}()
	return done, nil
}

// Cancel 取消进程内任务。
func (p *Publisher) Cancel(jobID string) bool { return p.runs.Stop(jobID) }

// StopAll 取消所有进程内任务（停机时调用）。
func (p *Publisher) StopAll() int { return p.runs.StopAll() }
