package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 环境变量覆盖项，优先级高于 YAML。
const (
	EnvHost           = "JOBPROGRESS_HOST"
	EnvPort           = "JOBPROGRESS_PORT"
	EnvAPIToken       = "JOBPROGRESS_API_TOKEN"
	EnvLogLevel       = "JOBPROGRESS_LOG_LEVEL"
	EnvLogFormat      = "JOBPROGRESS_LOG_FORMAT"
	EnvStoreTTL       = "JOBPROGRESS_STORE_TTL"
	EnvPipelineURL    = "JOBPROGRESS_PIPELINE_URL"
	EnvArchiveDSN     = "JOBPROGRESS_ARCHIVE_DSN"
	EnvMetricsDisable = "JOBPROGRESS_METRICS_DISABLED"
)

// Load 从 YAML 文件加载配置，再应用环境变量覆盖并补齐默认值。
// file 为空时只使用环境变量与默认值。
func Load(file string) (Config, error) {
	var c Config
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return c, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse %s: %w", file, err)
		}
	}
	if err := applyEnv(&c); err != nil {
		return c, err
	}
	c.withDefaults()
	return c, nil
}

// LoadWithEnv 先加载 .env 文件（不覆盖已存在的环境变量；文件不存在时忽略），再 Load。
func LoadWithEnv(file, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}
	return Load(file)
}

// MustLoad 从 YAML 文件加载配置（失败 panic）。
func MustLoad(file string) Config {
	c, err := Load(file)
	if err != nil {
		panic(err)
	}
	return c
}

func applyEnv(c *Config) error {
	if v := os.Getenv(EnvHost); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = p
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		c.Server.APIToken = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv(EnvStoreTTL); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvStoreTTL, err)
		}
		c.Store.TTL = d
	}
	if v := os.Getenv(EnvPipelineURL); v != "" {
		c.Pipeline.BaseURL = v
	}
	if v := os.Getenv(EnvArchiveDSN); v != "" {
		c.Archive.DSN = v
	}
	if v := os.Getenv(EnvMetricsDisable); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMetricsDisable, err)
		}
		c.Metrics.Disabled = b
	}
	return nil
}
