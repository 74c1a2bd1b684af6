package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"Orchestra-Engine/pkg/logger"
	"Orchestra-Engine/pkg/plugin"
)

// EnvConfigPath 指定配置文件路径的环境变量名。
const EnvConfigPath = "ORCHD_CONFIG"

// Config 描述了 orchd 在启动阶段需要加载的核心配置。
type Config struct {
	Server      ServerConfig         `json:"server" yaml:"server"`
	Engine      EngineConfig         `json:"engine" yaml:"engine"`
	HistorySink HistorySinkConfig    `json:"history_sink" yaml:"history_sink"`
	Progress    ProgressConfig       `json:"progress" yaml:"progress"`
	Logging     logger.Config        `json:"logging" yaml:"logging"`
	Alerting    AlertingConfig       `json:"alerting" yaml:"alerting"`
	Spool       SpoolConfig          `json:"spool" yaml:"spool"`
	Plugins     plugin.ManagerConfig `json:"plugins" yaml:"plugins"`
	Runtime     RuntimeConfig        `json:"runtime" yaml:"runtime"`
}

// ServerConfig 控制 API 服务与指标端点的监听地址。
type ServerConfig struct {
	Address        string `json:"address" yaml:"address"`
	MetricsAddress string `json:"metrics_address" yaml:"metrics_address"`
}

// Admission 模式。
const (
	AdmissionBlocking    = "blocking"
	AdmissionNonBlocking = "non_blocking"
)

// EngineConfig 对应编排引擎可识别的参数。
type EngineConfig struct {
	ConcurrencyLimit      int                `json:"concurrency_limit" yaml:"concurrency_limit"`
	HistoryCapacity       int                `json:"history_capacity" yaml:"history_capacity"`
	DefaultChunkSize      int                `json:"default_chunk_size" yaml:"default_chunk_size"`
	ClassifierThresholds  map[string]float64 `json:"classifier_thresholds" yaml:"classifier_thresholds"`
	Admission             string             `json:"admission" yaml:"admission"`
	DefaultTimeoutSeconds int                `json:"default_timeout_seconds" yaml:"default_timeout_seconds"`
	MaxItems              int                `json:"max_items" yaml:"max_items"`
}

// HistorySinkConfig 描述淘汰历史的归档目标。
type HistorySinkConfig struct {
	Driver        string `json:"driver" yaml:"driver"`
	DSN           string `json:"dsn" yaml:"dsn"`
	Path          string `json:"path" yaml:"path"`
	Table         string `json:"table" yaml:"table"`
	RedisAddress  string `json:"redis_address" yaml:"redis_address"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	RedisKey      string `json:"redis_key" yaml:"redis_key"`
	RedisMaxLen   int64  `json:"redis_max_len" yaml:"redis_max_len"`
	ArchiveBuffer int    `json:"archive_buffer" yaml:"archive_buffer"`
}

// ProgressConfig 描述进度事件的外部订阅者。
type ProgressConfig struct {
	Driver           string `json:"driver" yaml:"driver"`
	RedisAddress     string `json:"redis_address" yaml:"redis_address"`
	RedisPassword    string `json:"redis_password" yaml:"redis_password"`
	RedisDB          int    `json:"redis_db" yaml:"redis_db"`
	RedisChannel     string `json:"redis_channel" yaml:"redis_channel"`
	AMQPURL          string `json:"amqp_url" yaml:"amqp_url"`
	AMQPExchange     string `json:"amqp_exchange" yaml:"amqp_exchange"`
	AMQPRoutingKey   string `json:"amqp_routing_key" yaml:"amqp_routing_key"`
	SubscriberBuffer int    `json:"subscriber_buffer" yaml:"subscriber_buffer"`
}

// AlertingConfig 配置告警渠道。
type AlertingConfig struct {
	DisableLog bool   `json:"disable_log" yaml:"disable_log"`
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// SpoolConfig 控制投递目录的监听。
type SpoolConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Directory string `json:"directory" yaml:"directory"`
	SettleMS  int    `json:"settle_ms" yaml:"settle_ms"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// Load 负责解析指定路径的 JSON 或 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	default:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回未读取文件时使用的默认配置。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Engine.ConcurrencyLimit == 0 {
		c.Engine.ConcurrencyLimit = 8
	}
	if c.Engine.HistoryCapacity == 0 {
		c.Engine.HistoryCapacity = 10000
	}
	if c.Engine.DefaultChunkSize == 0 {
		c.Engine.DefaultChunkSize = 100
	}
	if c.Engine.MaxItems == 0 {
		c.Engine.MaxItems = 100000
	}
	if c.Engine.Admission == "" {
		c.Engine.Admission = AdmissionBlocking
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.HistorySink.Driver == "" {
		c.HistorySink.Driver = "none"
	}
	if c.HistorySink.ArchiveBuffer == 0 {
		c.HistorySink.ArchiveBuffer = 1024
	}
	if c.HistorySink.Table == "" {
		c.HistorySink.Table = "orchestration_history"
	}
	if c.HistorySink.RedisKey == "" {
		c.HistorySink.RedisKey = "orchd:history"
	}
	switch c.HistorySink.Driver {
	case "file":
		if c.HistorySink.Path == "" {
			c.HistorySink.Path = filepath.Join(c.Runtime.DataDir, "history.jsonl")
		}
	case "sqlite":
		if c.HistorySink.Path == "" {
			c.HistorySink.Path = filepath.Join(c.Runtime.DataDir, "history.db")
		}
	}

	if c.Progress.Driver == "" {
		c.Progress.Driver = "none"
	}
	if c.Progress.RedisChannel == "" {
		c.Progress.RedisChannel = "orchd:progress"
	}
	if c.Progress.AMQPExchange == "" {
		c.Progress.AMQPExchange = "orchd.progress"
	}
	if c.Progress.SubscriberBuffer == 0 {
		c.Progress.SubscriberBuffer = 128
	}

	if c.Plugins.PluginDir != "" && !filepath.IsAbs(c.Plugins.PluginDir) {
		c.Plugins.PluginDir = filepath.Join(baseDir, c.Plugins.PluginDir)
	}

	if c.Spool.Directory == "" {
		c.Spool.Directory = filepath.Join(c.Runtime.DataDir, "spool")
	} else if !filepath.IsAbs(c.Spool.Directory) {
		c.Spool.Directory = filepath.Join(baseDir, c.Spool.Directory)
	}
}

// Validate 检查配置是否可用于构建引擎。
func (c *Config) Validate() error {
	if c.Engine.ConcurrencyLimit <= 0 {
		return fmt.Errorf("engine.concurrency_limit 必须为正数: %d", c.Engine.ConcurrencyLimit)
	}
	if c.Engine.HistoryCapacity <= 0 {
		return fmt.Errorf("engine.history_capacity 必须为正数: %d", c.Engine.HistoryCapacity)
	}
	if c.Engine.DefaultChunkSize <= 0 {
		return fmt.Errorf("engine.default_chunk_size 必须为正数: %d", c.Engine.DefaultChunkSize)
	}
	if c.Engine.MaxItems < 0 {
		return fmt.Errorf("engine.max_items 不能为负数: %d", c.Engine.MaxItems)
	}
	if c.Engine.DefaultTimeoutSeconds < 0 {
		return fmt.Errorf("engine.default_timeout_seconds 不能为负数: %d", c.Engine.DefaultTimeoutSeconds)
	}
	switch c.Engine.Admission {
	case AdmissionBlocking, AdmissionNonBlocking:
	default:
		return fmt.Errorf("未知的 engine.admission: %s", c.Engine.Admission)
	}
	switch c.HistorySink.Driver {
	case "none", "memory", "file", "mysql", "sqlite", "redis":
	default:
		return fmt.Errorf("未知的 history_sink.driver: %s", c.HistorySink.Driver)
	}
	if c.HistorySink.Driver == "mysql" && c.HistorySink.DSN == "" {
		return errors.New("history_sink.driver=mysql 时必须提供 dsn")
	}
	if c.HistorySink.Driver == "redis" && c.HistorySink.RedisAddress == "" {
		return errors.New("history_sink.driver=redis 时必须提供 redis_address")
	}
	switch c.Progress.Driver {
	case "none", "log", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的 progress.driver: %s", c.Progress.Driver)
	}
	if c.Progress.Driver == "redis" && c.Progress.RedisAddress == "" {
		return errors.New("progress.driver=redis 时必须提供 redis_address")
	}
	if c.Progress.Driver == "rabbitmq" && c.Progress.AMQPURL == "" {
		return errors.New("progress.driver=rabbitmq 时必须提供 amqp_url")
	}
	if err := c.Plugins.Validate(); err != nil {
		return fmt.Errorf("plugins 配置无效: %w", err)
	}
	return nil
}
