// Package config 负责解析服务启动所需的 JSON 配置。私钥等敏感信息
// 不进配置文件，只从环境变量读取。
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述 Skill Router 在启动阶段加载的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Ledger    LedgerConfig    `json:"ledger"`
	Reconcile ReconcileConfig `json:"reconcile"`
	Web3      Web3Config      `json:"web3"`
	Metrics   MetricsConfig   `json:"metrics"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
	// Seed 为 true 时启动即写入演示执行者与任务
	Seed bool `json:"seed"`
}

// LedgerConfig 描述账本存储后端。
type LedgerConfig struct {
	Driver string `json:"driver"` // memory | mysql
	DSN    string `json:"dsn"`
}

// ReconcileConfig 描述对账队列与工作器参数。
type ReconcileConfig struct {
	Driver      string         `json:"driver"` // memory | redis | rabbitmq
	Workers     int            `json:"workers"`
	MaxAttempts int            `json:"max_attempts"`
	RetryDelay  Duration       `json:"retry_delay"`
	Redis       RedisConfig    `json:"redis"`
	RabbitMQ    RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// RabbitMQConfig 描述 RabbitMQ 队列连接参数。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
	Durable  bool   `json:"durable"`
}

// Web3Config 指定结算网络与链定义文件。
type Web3Config struct {
	Chain       string   `json:"chain"`
	Definitions string   `json:"definitions"`
	ConfirmWait Duration `json:"confirm_wait"`
}

// MetricsConfig 控制独立的 /metrics 监听。
type MetricsConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 控制结构化日志输出。
type LoggingConfig struct {
	Level    string   `json:"level"`
	Format   string   `json:"format"`
	Outputs  []string `json:"outputs"`
	AuditDir string   `json:"audit_dir"`
}

// Duration 让 JSON 配置可以写 "25s" 这样的时长字面量。
type Duration time.Duration

// UnmarshalJSON 支持字符串时长与纳秒数字两种写法。
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("解析时长失败: %w", err)
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(v))
		return nil
	default:
		return fmt.Errorf("不支持的时长格式: %T", raw)
	}
}

// Std 返回标准库时长。
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load 解析指定路径的 JSON 配置文件并补齐默认值。
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
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// Default 返回内存驱动的默认配置，用于未提供配置文件的场景。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}

	if c.Reconcile.Driver == "" {
		c.Reconcile.Driver = "memory"
	}
	if c.Reconcile.Workers <= 0 {
		c.Reconcile.Workers = 2
	}
	if c.Reconcile.MaxAttempts <= 0 {
		c.Reconcile.MaxAttempts = 10
	}
	if c.Reconcile.RetryDelay <= 0 {
		c.Reconcile.RetryDelay = Duration(10 * time.Second)
	}

	if c.Web3.Chain == "" {
		c.Web3.Chain = "celo-sepolia"
	}
	if c.Web3.Definitions != "" && !filepath.IsAbs(c.Web3.Definitions) {
		c.Web3.Definitions = filepath.Join(baseDir, c.Web3.Definitions)
	}
	if c.Web3.ConfirmWait <= 0 {
		c.Web3.ConfirmWait = Duration(25 * time.Second)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.Outputs) == 0 {
		c.Logging.Outputs = []string{"stdout"}
	}
	if c.Logging.AuditDir != "" && !filepath.IsAbs(c.Logging.AuditDir) {
		c.Logging.AuditDir = filepath.Join(baseDir, c.Logging.AuditDir)
	}
}
