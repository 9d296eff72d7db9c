package reputation

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentVault-Chain/internal/errors"
)

// MemoryStore 以内存方式保存层级状态，主要用于开发与测试。
type MemoryStore struct {
	mu       sync.RWMutex
	config   TierConfig
	statuses map[common.Address]*AgentTierStatus
	key      *VerificationKey
}

// NewMemoryStore 创建以默认层级表初始化的 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		config:   DefaultTierConfig(),
		statuses: make(map[common.Address]*AgentTierStatus),
	}
}

// GetTierConfig 返回层级配置表。
func (m *MemoryStore) GetTierConfig(_ context.Context) (TierConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config, nil
}

// PutTierConfig 覆盖层级配置表。
func (m *MemoryStore) PutTierConfig(_ context.Context, config TierConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
	return nil
}

// GetStatus 返回代理的层级状态。未验证过的代理返回层级 0。
func (m *MemoryStore) GetStatus(_ context.Context, agent common.Address) (*AgentTierStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if status, ok := m.statuses[agent]; ok {
		clone := *status
		return &clone, nil
	}
	return &AgentTierStatus{Agent: agent}, nil
}

// PutStatus 覆盖代理的层级状态。
func (m *MemoryStore) PutStatus(_ context.Context, status *AgentTierStatus) error {
	if status == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "status 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *status
	m.statuses[status.Agent] = &clone
	return nil
}

// GetVerificationKey 返回当前验证密钥。
func (m *MemoryStore) GetVerificationKey(_ context.Context) (*VerificationKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.key == nil {
		return nil, ErrNoVerificationKey
	}
	clone := *m.key
	clone.IC = append([]G1Point(nil), m.key.IC...)
	return &clone, nil
}

// PutVerificationKey 覆盖验证密钥。
func (m *MemoryStore) PutVerificationKey(_ context.Context, key *VerificationKey) error {
	if key == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "key 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *key
	clone.IC = append([]G1Point(nil), key.IC...)
	m.key = &clone
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
