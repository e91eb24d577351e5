package stream

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"sync/atomic"
)

// ErrStreamEnded 服务端在未发送终态事件前结束了响应。
var ErrStreamEnded = errors.New("stream: server closed the stream")

// Listener 传输层回调。实现方需容忍任意 goroutine 调用。
type Listener interface {
	Open()
	Event(name string, data []byte)
	Heartbeat()
	TransportError(err error)
}

// Source 一次打开的传输连接。
type Source interface {
	Close() error
}

// Dialer 打开到 url 的事件流。Dial 立即返回；之后的回调都经由 l 异步送达，
// Dial 内部不得同步调用 l。
type Dialer interface {
	Dial(url string, l Listener) (Source, error)
}

// HTTPDialer 基于 net/http 的 EventSource 实现。
// Token 以 ?token= 查询参数发送，与浏览器 EventSource 的限制保持一致。
type HTTPDialer struct {
	Client *http.Client
	Token  string
}

// Dial 发起 GET 请求并在后台读取响应。
func (d HTTPDialer) Dial(rawURL string, l Listener) (Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	if d.Token != "" {
		q := u.Query()
		q.Set("token", d.Token)
		u.RawQuery = q.Encode()
	}
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c := d.Client
	if c == nil {
		c = &http.Client{}
	}
	src := &httpSource{cancel: cancel}
	go src.run(c, req, l)
	return src, nil
}

type httpSource struct {
	cancel context.CancelFunc
	closed atomic.Bool
}

func (s *httpSource) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.cancel()
	}
	return nil
}

func (s *httpSource) run(c *http.Client, req *http.Request, l Listener) {
	resp, err := c.Do(req)
	if err != nil {
		s.fail(l, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.fail(l, fmt.Errorf("stream: unexpected status %d", resp.StatusCode))
		return
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		s.fail(l, fmt.Errorf("stream: unexpected content type %q", mt))
		return
	}
	l.Open()
	err = parse(resp.Body, sourceSink{s: s, l: l})
	if err == nil {
		err = ErrStreamEnded
	}
	s.fail(l, err)
}

// fail 主动关闭后的错误不再上报。
func (s *httpSource) fail(l Listener, err error) {
	if s.closed.Load() {
		return
	}
	l.TransportError(err)
}

type sourceSink struct {
	s *httpSource
	l Listener
}

func (k sourceSink) Event(name string, data []byte) {
	if !k.s.closed.Load() {
		k.l.Event(name, data)
	}
}

func (k sourceSink) Heartbeat() {
	if !k.s.closed.Load() {
		k.l.Heartbeat()
	}
}
