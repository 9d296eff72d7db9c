package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Store 抽象了质押台账的持久化接口。
type Store interface {
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, owner common.Address) (*Agent, error)
	UpdateAgent(ctx context.Context, agent *Agent) error
	ListAgents(ctx context.Context) ([]*Agent, error)

	PutWithdrawal(ctx context.Context, req *WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, owner common.Address) (*WithdrawalRequest, error)
	DeleteWithdrawal(ctx context.Context, owner common.Address) error

	GetState(ctx context.Context) (*ProtocolState, error)
	PutState(ctx context.Context, state *ProtocolState) error

	Close() error
}
