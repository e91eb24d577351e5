package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// 上游错误分类，调用方以 errors.Is 判断。
var (
	ErrUnreachable = errors.New("pipeline unreachable")
	ErrTimeout     = errors.New("pipeline timeout")
	ErrMalformed   = errors.New("pipeline payload malformed")
	ErrNotFound    = errors.New("pipeline job not found")
)

// PipelineAPI 定义与文档规范化流水线服务的交互接口，便于 gomock 打桩。
type PipelineAPI interface {
	// JobStatus 查询单个任务的最新状态。
	JobStatus(ctx context.Context, jobID string) (*PipelineStatus, error)
}

// PipelineStatus 流水线上报/查询的原始状态载荷。
type PipelineStatus struct {
	JobID              string `json:"job_id"`
	Status             string `json:"status"`
	Phase              string `json:"phase,omitempty"`
	CurrentDocument    string `json:"current_document,omitempty"`
	Detail             string `json:"detail,omitempty"`
	DocumentsCompleted int    `json:"documents_completed"`
	DocumentsTotal     int    `json:"documents_total"`
	OutputURL          string `json:"output_url,omitempty"`
	ErrorCode          string `json:"error_code,omitempty"`
	Error              string `json:"error,omitempty"`
}

// httpPipelineAPI 实现 PipelineAPI。
type httpPipelineAPI struct {
	base string
	hc   *http.Client
}

// NewHTTPPipelineAPI 构造 HTTP 实现。
// 参数：baseURL 形如 http://pipeline:8000；timeout 单次请求超时（<=0 时 8s）。
func NewHTTPPipelineAPI(baseURL string, timeout time.Duration) PipelineAPI {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &httpPipelineAPI{base: strings.TrimRight(baseURL, "/"), hc: &http.Client{Timeout: timeout}}
}

// JobStatus 发起 GET {base}/api/jobs/{jobID}/status。
// 异常：
//   - 网络失败或 5xx => ErrUnreachable；超时 => ErrTimeout；
//   - 404 => ErrNotFound；响应无法解码 => ErrMalformed。
func (h *httpPipelineAPI) JobStatus(ctx context.Context, jobID string) (*PipelineStatus, error) {
	u := fmt.Sprintf("%s/api/jobs/%s/status", h.base, url.PathEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	res, err := h.hc.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: GET %s: %v", ErrTimeout, u, err)
		}
		return nil, fmt.Errorf("%w: GET %s: %v", ErrUnreachable, u, err)
	}
	defer res.Body.Close()
	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	case res.StatusCode/100 != 2:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("%w: GET %s => %d: %s", ErrUnreachable, u, res.StatusCode, string(b))
	}
	var out PipelineStatus
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: GET %s: %v", ErrTimeout, u, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &out, nil
}

// isTimeout 区分超时与其他网络错误。
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
