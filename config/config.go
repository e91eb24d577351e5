package config

import (
	"net"
	"strconv"
	"time"

	"github.com/mengeric/jobprogress/logging"
)

// Config 服务端与客户端共用的完整配置。
// 时长字段使用 Go duration 字符串，例如 "15m"、"500ms"。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      logging.Config `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Stream   StreamConfig   `yaml:"stream"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Client   ClientConfig   `yaml:"client"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig HTTP 监听。
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	APIToken        string        `yaml:"apiToken"` // 为空时不校验
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StoreConfig 进度存储。
type StoreConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	SweepEvery time.Duration `yaml:"sweepEvery"`
}

// StreamConfig SSE 端点。
type StreamConfig struct {
	PollInterval      time.Duration `yaml:"pollInterval"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	FlushDelay        time.Duration `yaml:"flushDelay"`
}

// PipelineConfig 上游流水线服务；BaseURL 为空时不轮询，只接收推送。
type PipelineConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	PollEvery      time.Duration `yaml:"pollEvery"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	NotFoundGrace  time.Duration `yaml:"notFoundGrace"`
}

// ClientConfig watch 命令使用的重连参数。
type ClientConfig struct {
	Backoff           []time.Duration `yaml:"backoff"`
	SilenceTimeout    time.Duration   `yaml:"silenceTimeout"`
	SilenceCheckEvery time.Duration   `yaml:"silenceCheckEvery"`
}

// ArchiveConfig 终态记录归档（PostgreSQL）；DSN 为空时不启用。
type ArchiveConfig struct {
	DSN       string        `yaml:"dsn"`
	Retention time.Duration `yaml:"retention"` // 0 表示不清理
}

// MetricsConfig Prometheus 暴露。
type MetricsConfig struct {
	Disabled bool `yaml:"disabled"`
}

// Addr 监听地址。
func (s ServerConfig) Addr() string {
	host := s.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}

// Default 全部取默认值的配置。
func Default() Config {
	var c Config
	c.withDefaults()
	return c
}

func (c *Config) withDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Store.TTL <= 0 {
		c.Store.TTL = 15 * time.Minute
	}
	if c.Store.SweepEvery <= 0 {
		c.Store.SweepEvery = 5 * time.Minute
	}
	if c.Stream.PollInterval <= 0 {
		c.Stream.PollInterval = time.Second
	}
	if c.Stream.HeartbeatInterval <= 0 {
		c.Stream.HeartbeatInterval = 15 * time.Second
	}
	if c.Stream.FlushDelay <= 0 {
		c.Stream.FlushDelay = 500 * time.Millisecond
	}
	if c.Pipeline.PollEvery <= 0 {
		c.Pipeline.PollEvery = 2 * time.Second
	}
	if c.Pipeline.RequestTimeout <= 0 {
		c.Pipeline.RequestTimeout = 8 * time.Second
	}
	if c.Pipeline.NotFoundGrace <= 0 {
		c.Pipeline.NotFoundGrace = 2 * time.Minute
	}
	if len(c.Client.Backoff) == 0 {
		c.Client.Backoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	}
	if c.Client.SilenceTimeout <= 0 {
		c.Client.SilenceTimeout = 20 * time.Second
	}
	if c.Client.SilenceCheckEvery <= 0 {
		c.Client.SilenceCheckEvery = 5 * time.Second
	}
}
