package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述了 AgentVault 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Events   EventsConfig   `json:"events" yaml:"events"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Protocol ProtocolConfig `json:"protocol" yaml:"protocol"`
	Runtime  RuntimeConfig  `json:"runtime" yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
}

// StorageConfig 描述台账、托管与信誉状态的持久化后端。
type StorageConfig struct {
	Driver          string        `json:"driver" yaml:"driver"`
	DSN             string        `json:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// EventsConfig 描述事件总线后端。
type EventsConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
	Kafka    KafkaConfig    `json:"kafka" yaml:"kafka"`
}

// RedisConfig 描述 Redis 事件流的连接信息。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Stream   string `json:"stream" yaml:"stream"`
}

// RabbitMQConfig 描述 RabbitMQ 事件队列的连接信息。
type RabbitMQConfig struct {
	URL   string `json:"url" yaml:"url"`
	Queue string `json:"queue" yaml:"queue"`
}

// KafkaConfig 描述 Kafka 事件主题的连接信息。
type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

// AuthConfig 控制 API 层的认证方式。
type AuthConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	JWTSecret string        `json:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string        `json:"issuer" yaml:"issuer"`
	TokenTTL  time.Duration `json:"token_ttl" yaml:"token_ttl"`
	Seeds     []SeedConfig  `json:"seeds" yaml:"seeds"`
}

// SeedConfig 描述启动时写入的初始账号。
type SeedConfig struct {
	Username    string   `json:"username" yaml:"username"`
	Password    string   `json:"password" yaml:"password"`
	Roles       []string `json:"roles" yaml:"roles"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// LoggingConfig 控制结构化日志与审计日志输出。
type LoggingConfig struct {
	Level        string `json:"level" yaml:"level"`
	AuditLogPath string `json:"audit_log_path" yaml:"audit_log_path"`
}

// ProtocolConfig 汇总协议层参数与特权身份。
type ProtocolConfig struct {
	Admin    string `json:"admin" yaml:"admin"`
	Vault    string `json:"vault" yaml:"vault"`
	Resolver string `json:"resolver" yaml:"resolver"`

	MinStake        uint64        `json:"min_stake" yaml:"min_stake"`
	WithdrawalDelay time.Duration `json:"withdrawal_delay" yaml:"withdrawal_delay"`
	SlashPercent    uint64        `json:"slash_percent" yaml:"slash_percent"`

	MinDeposit     uint64        `json:"min_deposit" yaml:"min_deposit"`
	MaxDeposit     uint64        `json:"max_deposit" yaml:"max_deposit"`
	MinLock        time.Duration `json:"min_lock" yaml:"min_lock"`
	MaxLock        time.Duration `json:"max_lock" yaml:"max_lock"`
	MinDisputeFee  uint64        `json:"min_dispute_fee" yaml:"min_dispute_fee"`
	EmergencyGrace time.Duration `json:"emergency_grace" yaml:"emergency_grace"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// Load 解析指定路径的配置文件，按扩展名支持 JSON 与 YAML。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置失败: %w", err)
		}
	default:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.MaxOpenConns <= 0 {
		c.Storage.MaxOpenConns = 25
	}
	if c.Storage.MaxIdleConns <= 0 {
		c.Storage.MaxIdleConns = 10
	}
	if c.Storage.ConnMaxLifetime <= 0 {
		c.Storage.ConnMaxLifetime = 30 * time.Minute
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Redis.Stream == "" {
		c.Events.Redis.Stream = "agentvault:events"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "agentvault.events"
	}
	if c.Events.Kafka.Topic == "" {
		c.Events.Kafka.Topic = "agentvault.events"
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "agentvault"
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Protocol.MinStake == 0 {
		c.Protocol.MinStake = 100_000_000
	}
	if c.Protocol.WithdrawalDelay <= 0 {
		c.Protocol.WithdrawalDelay = 7 * 24 * time.Hour
	}
	if c.Protocol.SlashPercent == 0 || c.Protocol.SlashPercent > 100 {
		c.Protocol.SlashPercent = 10
	}
	if c.Protocol.MinDeposit == 0 {
		c.Protocol.MinDeposit = 1_000_000
	}
	if c.Protocol.MaxDeposit == 0 {
		c.Protocol.MaxDeposit = 1_000_000_000_000
	}
	if c.Protocol.MinLock <= 0 {
		c.Protocol.MinLock = 24 * time.Hour
	}
	if c.Protocol.MaxLock <= 0 {
		c.Protocol.MaxLock = 365 * 24 * time.Hour
	}
	if c.Protocol.MinDisputeFee == 0 {
		c.Protocol.MinDisputeFee = 1_000_000
	}
	if c.Protocol.EmergencyGrace <= 0 {
		c.Protocol.EmergencyGrace = 30 * 24 * time.Hour
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
