package escrow

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentVault-Chain/internal/errors"
)

// MemoryStore 以内存方式保存仓位与争议，主要用于开发与测试。
type MemoryStore struct {
	mu             sync.RWMutex
	positions      map[uint64]*CopyPosition
	disputes       map[uint64]*Dispute
	byUser         map[common.Address][]uint64
	nextPositionID uint64
	nextDisputeID  uint64
	totalDeposits  uint64
	totalFees      uint64
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions:      make(map[uint64]*CopyPosition),
		disputes:       make(map[uint64]*Dispute),
		byUser:         make(map[common.Address][]uint64),
		nextPositionID: 1,
		nextDisputeID:  1,
	}
}

// CreatePosition 分配仓位编号并建档。
func (m *MemoryStore) CreatePosition(_ context.Context, position *CopyPosition) error {
	if position == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "position 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	position.ID = m.nextPositionID
	m.nextPositionID++
	m.positions[position.ID] = clonePosition(position)
	m.byUser[position.User] = append(m.byUser[position.User], position.ID)
	m.totalDeposits += position.Deposit
	return nil
}

// GetPosition 返回仓位记录。
func (m *MemoryStore) GetPosition(_ context.Context, id uint64) (*CopyPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	position, ok := m.positions[id]
	if !ok {
		return nil, ErrPositionNotFound
	}
	return clonePosition(position), nil
}

// UpdatePosition 覆盖已有仓位记录。
func (m *MemoryStore) UpdatePosition(_ context.Context, position *CopyPosition) error {
	if position == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "position 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[position.ID]; !ok {
		return ErrPositionNotFound
	}
	m.positions[position.ID] = clonePosition(position)
	return nil
}

// ListPositionsByUser 返回用户的全部仓位，按编号升序。
func (m *MemoryStore) ListPositionsByUser(_ context.Context, user common.Address) ([]*CopyPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byUser[user]
	results := make([]*CopyPosition, 0, len(ids))
	for _, id := range ids {
		if position, ok := m.positions[id]; ok {
			results = append(results, clonePosition(position))
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

// ListActivePositionsByUser 返回用户仍在持有的仓位。
func (m *MemoryStore) ListActivePositionsByUser(ctx context.Context, user common.Address) ([]*CopyPosition, error) {
	all, err := m.ListPositionsByUser(ctx, user)
	if err != nil {
		return nil, err
	}
	results := make([]*CopyPosition, 0, len(all))
	for _, position := range all {
		if position.Active {
			results = append(results, position)
		}
	}
	return results, nil
}

// CreateDispute 分配争议编号并建档。
func (m *MemoryStore) CreateDispute(_ context.Context, dispute *Dispute) error {
	if dispute == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "dispute 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	dispute.ID = m.nextDisputeID
	m.nextDisputeID++
	m.disputes[dispute.ID] = cloneDispute(dispute)
	m.totalFees += dispute.Fee
	return nil
}

// GetDispute 返回争议记录。
func (m *MemoryStore) GetDispute(_ context.Context, id uint64) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dispute, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return cloneDispute(dispute), nil
}

// GetDisputeByPosition 返回仓位对应的争议记录。
func (m *MemoryStore) GetDisputeByPosition(_ context.Context, positionID uint64) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, dispute := range m.disputes {
		if dispute.PositionID == positionID {
			return cloneDispute(dispute), nil
		}
	}
	return nil, ErrDisputeNotFound
}

// UpdateDispute 覆盖已有争议记录。
func (m *MemoryStore) UpdateDispute(_ context.Context, dispute *Dispute) error {
	if dispute == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "dispute 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.disputes[dispute.ID]; !ok {
		return ErrDisputeNotFound
	}
	m.disputes[dispute.ID] = cloneDispute(dispute)
	return nil
}

// Stats 汇总托管层整体规模。
func (m *MemoryStore) Stats(_ context.Context) (VaultStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := VaultStats{
		TotalPositions: uint64(len(m.positions)),
		TotalDisputes:  uint64(len(m.disputes)),
		TotalDeposits:  m.totalDeposits,
		TotalFees:      m.totalFees,
	}
	for _, position := range m.positions {
		if position.Active {
			stats.ActivePositions++
		}
	}
	for _, dispute := range m.disputes {
		if !dispute.Resolved {
			stats.OpenDisputes++
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
