package example

import (
	"context"
	"fmt"
	"time"

	"github.com/mengeric/jobprogress/processor"
	"github.com/mengeric/jobprogress/status"
)

// Phases 每份文档依次经历的阶段。
var Phases = []string{"parsing", "formatting", "rendering"}

// DocGen 示例处理器：按文档 × 阶段逐步推进并上报进度。
// 参数：documents（文档名列表）、stepMS（每阶段耗时毫秒，默认 50）、outputUrl（成功后返回的链接）。
type DocGen struct{}

func (d *DocGen) Name() string { return "docgen" }

func (d *DocGen) Run(ctx context.Context, params map[string]any, rep processor.Reporter) (processor.Result, error) {
	docs := stringList(params["documents"])
	if len(docs) == 0 {
		return processor.Result{}, fmt.Errorf("docgen: no documents")
	}
	step := 50 * time.Millisecond
	if v, ok := params["stepMS"].(float64); ok && v >= 0 {
		step = time.Duration(v) * time.Millisecond
	}
	total := len(docs)
	rep.Progress(0, total, status.Message{Phase: "start"})
	for i, doc := range docs {
		for _, phase := range Phases {
			rep.Progress(i, total, status.Message{Document: doc, Phase: phase})
			select {
			case <-ctx.Done():
				return processor.Result{Total: i}, ctx.Err()
			case <-time.After(step):
			}
		}
	}
	url, _ := params["outputUrl"].(string)
	return processor.Result{Total: total, OutputURL: url}, nil
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, it := range x {
			if s, ok := it.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func init() { processor.Register(&DocGen{}) }
