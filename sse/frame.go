package sse

import (
	"encoding/json"
	"fmt"
	"io"
)

// 事件名。
const (
	EventProgress  = "progress"
	EventComplete  = "complete"
	EventError     = "error"
	EventHeartbeat = "heartbeat" // 仅用于指标标签；线上以注释帧发送
)

// ProgressData progress 事件载荷。
type ProgressData struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// CompleteData complete 事件载荷。
type CompleteData struct {
	Total     int    `json:"total"`
	OutputURL string `json:"outputUrl"`
}

// ErrorData error 事件载荷。
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeEvent 写出命名事件帧：event: <name>\ndata: <json>\n\n
func writeEvent(w io.Writer, event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	return err
}

// writeComment 写出注释帧（心跳），客户端事件监听器不会收到。
func writeComment(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", text)
	return err
}
