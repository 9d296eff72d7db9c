package escrow

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Store 抽象了托管仓位与争议的持久化接口。
// 实现负责分配单调递增的仓位/争议编号。
type Store interface {
	CreatePosition(ctx context.Context, position *CopyPosition) error
	GetPosition(ctx context.Context, id uint64) (*CopyPosition, error)
	UpdatePosition(ctx context.Context, position *CopyPosition) error
	ListPositionsByUser(ctx context.Context, user common.Address) ([]*CopyPosition, error)
	ListActivePositionsByUser(ctx context.Context, user common.Address) ([]*CopyPosition, error)

	CreateDispute(ctx context.Context, dispute *Dispute) error
	GetDispute(ctx context.Context, id uint64) (*Dispute, error)
	GetDisputeByPosition(ctx context.Context, positionID uint64) (*Dispute, error)
	UpdateDispute(ctx context.Context, dispute *Dispute) error

	Stats(ctx context.Context) (VaultStats, error)
	Close() error
}
