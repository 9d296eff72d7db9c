package reputation

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Store 抽象了信誉层级状态的持久化接口。
type Store interface {
	GetTierConfig(ctx context.Context) (TierConfig, error)
	PutTierConfig(ctx context.Context, config TierConfig) error

	GetStatus(ctx context.Context, agent common.Address) (*AgentTierStatus, error)
	PutStatus(ctx context.Context, status *AgentTierStatus) error

	GetVerificationKey(ctx context.Context) (*VerificationKey, error)
	PutVerificationKey(ctx context.Context, key *VerificationKey) error

	Close() error
}
