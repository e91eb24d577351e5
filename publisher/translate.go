package publisher

import (
	"fmt"
	"strings"

	"github.com/mengeric/jobprogress/client"
	"github.com/mengeric/jobprogress/status"
)

// upstreamStates 流水线状态字符串到规范状态的映射。
var upstreamStates = map[string]status.State{
	"queued":     status.StatePending,
	"pending":    status.StatePending,
	"started":    status.StateRunning,
	"running":    status.StateRunning,
	"processing": status.StateRunning,
	"formatting": status.StateRunning,
	"completed":  status.StateSuccess,
	"success":    status.StateSuccess,
	"done":       status.StateSuccess,
	"failed":     status.StateFailed,
	"error":      status.StateFailed,
}

// Translate 将流水线载荷翻译为规范的局部更新。
// 例：{status: processing, documents_completed: 3, documents_total: 4, current_document: "SROGs Set 1", phase: "formatting"}
// => running, 3/4, "SROGs Set 1 • formatting"。
// 未知状态返回 client.ErrMalformed。
func Translate(ps client.PipelineStatus) (status.Update, error) {
	st, ok := upstreamStates[strings.ToLower(strings.TrimSpace(ps.Status))]
	if !ok {
		return status.Update{}, fmt.Errorf("%w: unknown status %q", client.ErrMalformed, ps.Status)
	}
	if ps.DocumentsCompleted < 0 || ps.DocumentsTotal < 0 {
		return status.Update{}, fmt.Errorf("%w: negative document counts", client.ErrMalformed)
	}
	msg := status.Message{Document: ps.CurrentDocument, Phase: ps.Phase, Detail: ps.Detail}.String()

	switch st {
	case status.StateSuccess:
		total := ps.DocumentsTotal
		if total == 0 {
			total = ps.DocumentsCompleted
		}
		u := status.Succeeded(total, ps.OutputURL)
		u.Message = &msg
		return u, nil
	case status.StateFailed:
		code := ps.ErrorCode
		if code == "" {
			code = CodeJobFailed
		}
		text := ps.Error
		if text == "" {
			text = msg
		}
		return status.Failed(code, text), nil
	default:
		u := status.Progress(ps.DocumentsCompleted, ps.DocumentsTotal, msg)
		u.State = &st
		return u, nil
	}
}
