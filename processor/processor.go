package processor

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mengeric/jobprogress/status"
)

// Result 处理器执行结果。
type Result struct {
	Total     int    // 实际完成的文档数
	OutputURL string // 产物链接（如共享文件夹）
}

// Reporter 处理器在执行过程中上报进度。
type Reporter interface {
	Progress(current, total int, msg status.Message)
}

// Processor 进程内任务处理器。
// 功能：执行文档生成等耗时逻辑，并通过 Reporter 推送进度；ctx 取消时应尽快返回。
type Processor interface {
	Name() string
	Run(ctx context.Context, params map[string]any, rep Reporter) (Result, error)
}

var (
	regMu      sync.RWMutex
	processors = map[string]Processor{}
)

// Register 注册处理器，同名覆盖。
func Register(p Processor) { regMu.Lock(); defer regMu.Unlock(); processors[p.Name()] = p }

// Get 获取处理器。
func Get(name string) (Processor, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	p, ok := processors[name]
	return p, ok
}

// Names 已注册的处理器名（排序）。
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(processors))
	for n := range processors {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ErrNotFound 处理器不存在错误。
var ErrNotFound = errors.New("processor not found")
