package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"AgentVault-Chain/internal/api"
	"AgentVault-Chain/internal/auth"
	"AgentVault-Chain/internal/bank"
	"AgentVault-Chain/internal/config"
	xerrors "AgentVault-Chain/internal/errors"
	"AgentVault-Chain/internal/escrow"
	"AgentVault-Chain/internal/events"
	"AgentVault-Chain/internal/ledger"
	"AgentVault-Chain/internal/reputation"
	"AgentVault-Chain/internal/storage/mysql"
	"AgentVault-Chain/pkg/logger"
)

// main 是 AgentVault 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentvaultd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTVAULT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentvault.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level: cfg.Logging.Level,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditLogPath != "",
			Path:    cfg.Logging.AuditLogPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	admin, err := parseIdentity("protocol.admin", cfg.Protocol.Admin)
	if err != nil {
		return err
	}
	vault, err := parseIdentity("protocol.vault", cfg.Protocol.Vault)
	if err != nil {
		return err
	}
	resolver, err := parseIdentity("protocol.resolver", cfg.Protocol.Resolver)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	ledgerStore, escrowStore, reputationStore, authStore, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer ledgerStore.Close()

	publisher, err := buildPublisher(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.L().Warn("关闭事件总线失败", "error", err)
		}
	}()

	b := bank.New()

	ledgerSvc := ledger.NewService(ledgerStore, b, publisher, ledger.Params{
		MinStake:        cfg.Protocol.MinStake,
		WithdrawalDelay: cfg.Protocol.WithdrawalDelay,
		SlashPercent:    cfg.Protocol.SlashPercent,
	}, vault)
	if err := ledgerSvc.Bootstrap(ctx, admin); err != nil && !isConflict(err) {
		return fmt.Errorf("初始化管理员失败: %w", err)
	}

	escrowSvc := escrow.NewService(escrowStore, b, ledgerSvc, publisher, escrow.Params{
		MinDeposit:     cfg.Protocol.MinDeposit,
		MaxDeposit:     cfg.Protocol.MaxDeposit,
		MinLock:        cfg.Protocol.MinLock,
		MaxLock:        cfg.Protocol.MaxLock,
		MinDisputeFee:  cfg.Protocol.MinDisputeFee,
		EmergencyGrace: cfg.Protocol.EmergencyGrace,
	}, vault, resolver)

	reputationSvc := reputation.NewService(reputationStore, ledgerSvc, publisher)

	var authSvc *auth.Service
	if cfg.Auth.Enabled {
		authSvc, err = auth.NewService(ctx, auth.Config{
			Mode: auth.ModeJWT,
			JWT: auth.JWTOptions{
				Secret:    cfg.Auth.JWTSecret,
				Issuer:    cfg.Auth.Issuer,
				AccessTTL: int64(cfg.Auth.TokenTTL.Seconds()),
			},
			Seeds: buildSeeds(cfg.Auth.Seeds),
		}, authStore)
		if err != nil {
			return err
		}
	}

	server := api.NewServer(cfg.Server.Address, api.Services{
		Ledger:     ledgerSvc,
		Escrow:     escrowSvc,
		Reputation: reputationSvc,
		Bank:       b,
		Auth:       authSvc,
	})

	logger.L().Info("agentvaultd 启动", "address", cfg.Server.Address,
		"storage", cfg.Storage.Driver, "events", cfg.Events.Driver)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildStores 按配置的存储驱动构建三个领域存储与认证存储。
// MySQL 模式下共享同一个连接池，返回的 ledger 存储负责关闭它。
func buildStores(ctx context.Context, cfg *config.Config) (ledger.Store, escrow.Store, reputation.Store, auth.Store, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		memAuth, err := auth.NewMemoryStore(nil)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return ledger.NewMemoryStore(), escrow.NewMemoryStore(), reputation.NewMemoryStore(), memAuth, nil
	case "mysql":
		store, err := mysql.NewStore(ctx, mysql.Config{
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return store, store, store, mysql.NewSQLAuthStoreFromDB(store.DB()), nil
	default:
		return nil, nil, nil, nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

// buildPublisher 按配置的事件驱动构建事件发布器。
func buildPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case "", "memory":
		return events.NewMemoryPublisher(), nil
	case "redis":
		return events.NewRedisPublisher(events.RedisConfig{
			Address:  cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Stream:   cfg.Events.Redis.Stream,
		})
	case "rabbitmq":
		return events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:     cfg.Events.RabbitMQ.URL,
			Queue:   cfg.Events.RabbitMQ.Queue,
			Durable: true,
		})
	case "kafka":
		return events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.Events.Kafka.Brokers,
			Topic:   cfg.Events.Kafka.Topic,
		})
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Events.Driver)
	}
}

func buildSeeds(seeds []config.SeedConfig) []auth.Seed {
	result := make([]auth.Seed, 0, len(seeds))
	for _, seed := range seeds {
		result = append(result, auth.Seed{
			Username:    seed.Username,
			Password:    seed.Password,
			Roles:       seed.Roles,
			Permissions: seed.Permissions,
		})
	}
	return result
}

func parseIdentity(field, value string) (common.Address, error) {
	if !common.IsHexAddress(strings.TrimSpace(value)) {
		return common.Address{}, fmt.Errorf("配置 %s 不是合法地址: %q", field, value)
	}
	return common.HexToAddress(strings.TrimSpace(value)), nil
}

// isConflict 识别管理员已初始化时 Bootstrap 返回的冲突错误，重启时忽略。
func isConflict(err error) bool {
	return xerrors.CodeOf(err) == xerrors.CodeConflict
}
