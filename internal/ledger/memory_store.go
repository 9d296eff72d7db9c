package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentVault-Chain/internal/errors"
)

// MemoryStore 以内存方式保存台账状态，主要用于开发与测试。
type MemoryStore struct {
	mu          sync.RWMutex
	agents      map[common.Address]*Agent
	withdrawals map[common.Address]*WithdrawalRequest
	state       ProtocolState
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:      make(map[common.Address]*Agent),
		withdrawals: make(map[common.Address]*WithdrawalRequest),
	}
}

// CreateAgent 实现 Store 接口。
func (m *MemoryStore) CreateAgent(_ context.Context, agent *Agent) error {
	if agent == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[agent.Owner]; ok {
		return ErrAgentExists
	}
	m.agents[agent.Owner] = cloneAgent(agent)
	return nil
}

// GetAgent 返回代理记录。
func (m *MemoryStore) GetAgent(_ context.Context, owner common.Address) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[owner]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return cloneAgent(agent), nil
}

// UpdateAgent 覆盖已有代理记录。
func (m *MemoryStore) UpdateAgent(_ context.Context, agent *Agent) error {
	if agent == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[agent.Owner]; !ok {
		return ErrAgentNotFound
	}
	m.agents[agent.Owner] = cloneAgent(agent)
	return nil
}

// ListAgents 返回全部代理，按注册时间排序。
func (m *MemoryStore) ListAgents(_ context.Context) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Agent, 0, len(m.agents))
	for _, agent := range m.agents {
		results = append(results, cloneAgent(agent))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].RegisteredAt == results[j].RegisteredAt {
			return results[i].Owner.Hex() < results[j].Owner.Hex()
		}
		return results[i].RegisteredAt < results[j].RegisteredAt
	})
	return results, nil
}

// PutWithdrawal 保存解押请求，同一代理覆盖写。
func (m *MemoryStore) PutWithdrawal(_ context.Context, req *WithdrawalRequest) error {
	if req == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "withdrawal 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *req
	m.withdrawals[req.Owner] = &clone
	return nil
}

// GetWithdrawal 返回代理当前的解押请求。
func (m *MemoryStore) GetWithdrawal(_ context.Context, owner common.Address) (*WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.withdrawals[owner]
	if !ok {
		return nil, ErrNoWithdrawal
	}
	clone := *req
	return &clone, nil
}

// DeleteWithdrawal 删除代理的解押请求。
func (m *MemoryStore) DeleteWithdrawal(_ context.Context, owner common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.withdrawals[owner]; !ok {
		return ErrNoWithdrawal
	}
	delete(m.withdrawals, owner)
	return nil
}

// GetState 返回全局状态。
func (m *MemoryStore) GetState(_ context.Context) (*ProtocolState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state := m.state
	return &state, nil
}

// PutState 覆盖全局状态。
func (m *MemoryStore) PutState(_ context.Context, state *ProtocolState) error {
	if state == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "state 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = *state
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
