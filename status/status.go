// Package status 定义任务进度记录模型及其合并规则。
package status

import (
	"strings"
	"time"
)

// State 任务状态，仅允许向前推进：pending -> running -> success|failed。
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

// Terminal 是否为终态。
func (s State) Terminal() bool { return s == StateSuccess || s == StateFailed }

// Valid 是否为已知状态。
func (s State) Valid() bool { return s.rank() > 0 }

func (s State) rank() int {
	switch s {
	case StatePending:
		return 1
	case StateRunning:
		return 2
	case StateSuccess, StateFailed:
		return 3
	default:
		return 0
	}
}

// CanAdvance 判断从 s 迁移到 next 是否合法。
// 终态之后不可再迁移；同态写入（仅更新进度字段）视为合法。
func (s State) CanAdvance(next State) bool {
	if !next.Valid() || s.Terminal() {
		return false
	}
	if s == "" {
		return true
	}
	return next.rank() >= s.rank()
}

// Message 结构化状态描述，渲染为 "doc • phase • detail"。
type Message struct {
	Document string
	Phase    string
	Detail   string
}

// String 跳过空段后以 " • " 拼接。
func (m Message) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{m.Document, m.Phase, m.Detail} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " • ")
}

// Record 单个任务的进度记录。
type Record struct {
	JobID         string    `json:"jobId"`
	State         State     `json:"state"`
	Current       int       `json:"current"`
	Total         int       `json:"total"`
	Message       string    `json:"message"`
	OutputURL     string    `json:"outputUrl,omitempty"`
	ErrorCode     string    `json:"errorCode,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	Revision      uint64    `json:"revision"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// Terminal 记录是否已进入终态（不可再修改）。
func (r Record) Terminal() bool { return r.State.Terminal() }

// Update 局部更新；nil 字段表示不修改。
type Update struct {
	State        *State
	Current      *int
	Total        *int
	Message      *string
	OutputURL    *string
	ErrorCode    *string
	ErrorMessage *string
}

// Queued 任务已登记、尚未开始。
func Queued(msg string) Update {
	return Update{State: ptr(StatePending), Message: ptr(msg)}
}

// Started 标记任务开始运行。
func Started(msg string) Update {
	return Update{State: ptr(StateRunning), Message: ptr(msg)}
}

// Progress 运行中进度更新。
func Progress(current, total int, msg string) Update {
	return Update{State: ptr(StateRunning), Current: ptr(current), Total: ptr(total), Message: ptr(msg)}
}

// Succeeded 成功终态。
func Succeeded(total int, outputURL string) Update {
	return Update{State: ptr(StateSuccess), Current: ptr(total), Total: ptr(total), OutputURL: ptr(outputURL)}
}

// Failed 失败终态。
func Failed(code, msg string) Update {
	return Update{State: ptr(StateFailed), ErrorCode: ptr(code), ErrorMessage: ptr(msg)}
}

// Apply 将 u 合并进 rec。
// 返回 false 表示该写入被丢弃：记录已是终态，或状态会回退。
// outputUrl 仅在成功时保留，错误字段仅在失败时保留；进度计数不为负。
func Apply(rec *Record, u Update, now time.Time) bool {
	if rec.Terminal() {
		return false
	}
	next := rec.State
	if u.State != nil {
		if !rec.State.CanAdvance(*u.State) {
			return false
		}
		next = *u.State
	} else if next == "" {
		next = StatePending
	}
	rec.State = next
	if u.Current != nil {
		rec.Current = max(*u.Current, 0)
	}
	if u.Total != nil {
		rec.Total = max(*u.Total, 0)
	}
	if u.Message != nil {
		rec.Message = *u.Message
	}
	switch next {
	case StateSuccess:
		if u.OutputURL != nil {
			rec.OutputURL = *u.OutputURL
		}
		if rec.Total == 0 {
			rec.Total = rec.Current
		}
	case StateFailed:
		if u.ErrorCode != nil {
			rec.ErrorCode = *u.ErrorCode
		}
		if u.ErrorMessage != nil {
			rec.ErrorMessage = *u.ErrorMessage
		}
	}
	rec.Revision++
	rec.LastUpdatedAt = now
	return true
}

// Store 进度存储的读写契约。
// Set 按 jobID 合并写入（不存在则创建），返回合并后的记录与是否生效；
// Get 从不阻塞，未找到返回 false。
type Store interface {
	Set(jobID string, u Update) (Record, bool)
	Get(jobID string) (Record, bool)
}

func ptr[T any](v T) *T { return &v }
