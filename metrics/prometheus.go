package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mengeric/jobprogress/status"
)

// Collector Prometheus 指标收集器，同时实现 sse.Observer 与 publisher.Observer。
type Collector struct {
	gatherer prometheus.Gatherer

	connsActive      prometheus.Gauge
	connsTotal       prometheus.Counter
	frames           *prometheus.CounterVec
	records          prometheus.Gauge
	evicted          prometheus.Counter
	published        *prometheus.CounterVec
	upstreamFailures *prometheus.CounterVec
}

// NewCollector 在 reg 上注册全部指标；reg 为 nil 时新建独立 Registry（并附带 Go/进程指标）。
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	c := &Collector{
		gatherer: reg,
		connsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobprogress_sse_connections_active",
			Help: "Current number of open job progress streams",
		}),
		connsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobprogress_sse_connections_total",
			Help: "Total number of job progress streams opened",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobprogress_sse_frames_total",
			Help: "Frames written to progress streams by event type",
		}, []string{"event"}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobprogress_status_records",
			Help: "Job status records held in memory after the last sweep",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobprogress_status_evicted_total",
			Help: "Job status records evicted by TTL sweeps",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobprogress_status_writes_total",
			Help: "Applied job status writes by resulting state",
		}, []string{"state"}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobprogress_upstream_failures_total",
			Help: "Upstream pipeline failures converted into terminal job failures",
		}, []string{"code"}),
	}
	reg.MustRegister(c.connsActive, c.connsTotal, c.frames, c.records, c.evicted, c.published, c.upstreamFailures)
	return c
}

// ConnOpened 记录连接建立。
func (c *Collector) ConnOpened() {
	c.connsActive.Inc()
	c.connsTotal.Inc()
}

// ConnClosed 记录连接关闭。
func (c *Collector) ConnClosed() { c.connsActive.Dec() }

// FrameSent 记录一帧输出（progress/complete/error/heartbeat）。
func (c *Collector) FrameSent(event string) { c.frames.WithLabelValues(event).Inc() }

// Published 记录一次生效的状态写入。
func (c *Collector) Published(state status.State) { c.published.WithLabelValues(string(state)).Inc() }

// UpstreamFailed 记录上游失败。
func (c *Collector) UpstreamFailed(code string) { c.upstreamFailures.WithLabelValues(code).Inc() }

// ObserveSweep 作为 memstore 清扫回调。
func (c *Collector) ObserveSweep(evicted, remaining int) {
	c.evicted.Add(float64(evicted))
	c.records.Set(float64(remaining))
}

// Handler /metrics 端点。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
