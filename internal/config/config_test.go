package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "config.json", `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("默认监听地址 = %q", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "memory" || cfg.Events.Driver != "memory" {
		t.Fatalf("默认驱动不符: storage=%q events=%q", cfg.Storage.Driver, cfg.Events.Driver)
	}
	if cfg.Protocol.MinStake != 100_000_000 {
		t.Fatalf("默认最低质押 = %d", cfg.Protocol.MinStake)
	}
	if cfg.Protocol.WithdrawalDelay != 7*24*time.Hour {
		t.Fatalf("默认解押延迟 = %v", cfg.Protocol.WithdrawalDelay)
	}
	if cfg.Events.Kafka.Topic != "agentvault.events" {
		t.Fatalf("默认 Kafka 主题 = %q", cfg.Events.Kafka.Topic)
	}
}

func TestLoadParsesJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"server": {"address": ":9000"},
		"storage": {"driver": "mysql", "dsn": "user:pass@tcp(localhost:3306)/agentvault"},
		"events": {"driver": "kafka", "kafka": {"brokers": ["localhost:9092"], "topic": "protocol.events"}},
		"protocol": {"min_stake": 5, "slash_percent": 20, "admin": "0x00000000000000000000000000000000000000ab"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Fatalf("监听地址 = %q", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "mysql" {
		t.Fatalf("存储驱动 = %q", cfg.Storage.Driver)
	}
	if cfg.Events.Driver != "kafka" || len(cfg.Events.Kafka.Brokers) != 1 || cfg.Events.Kafka.Topic != "protocol.events" {
		t.Fatalf("Kafka 配置不符: %+v", cfg.Events.Kafka)
	}
	if cfg.Protocol.MinStake != 5 || cfg.Protocol.SlashPercent != 20 {
		t.Fatalf("协议参数不符: %+v", cfg.Protocol)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  address: ":9100"
storage:
  driver: mysql
  dsn: user:pass@tcp(localhost:3306)/agentvault
events:
  driver: redis
  redis:
    address: localhost:6379
protocol:
  min_stake: 42
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Server.Address != ":9100" {
		t.Fatalf("监听地址 = %q", cfg.Server.Address)
	}
	if cfg.Events.Driver != "redis" || cfg.Events.Redis.Address != "localhost:6379" {
		t.Fatalf("Redis 配置不符: %+v", cfg.Events.Redis)
	}
	if cfg.Events.Redis.Stream != "agentvault:events" {
		t.Fatalf("默认 Redis 流名 = %q", cfg.Events.Redis.Stream)
	}
	if cfg.Protocol.MinStake != 42 {
		t.Fatalf("最低质押 = %d", cfg.Protocol.MinStake)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("空路径应当报错")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("不存在的文件应当报错")
	}
}
