package reputation

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentVault-Chain/internal/errors"
	"AgentVault-Chain/internal/events"
	"AgentVault-Chain/internal/ledger"
	"AgentVault-Chain/pkg/logger"
)

// AgentLedger 是信誉层依赖的质押台账能力子集：
// 注册校验、暂停状态与管理员身份。
type AgentLedger interface {
	Agent(ctx context.Context, owner common.Address) (*ledger.Agent, error)
	State(ctx context.Context) (*ledger.ProtocolState, error)
	Paused(ctx context.Context) (bool, error)
}

var _ AgentLedger = (*ledger.Service)(nil)

// Service 实现信誉层级的配置与零知识证明准入。
type Service struct {
	mu        sync.Mutex
	store     Store
	ledger    AgentLedger
	publisher events.Publisher
	now       func() time.Time
}

// Option 定义服务的可选配置。
type Option func(*Service)

// WithClock 替换服务读取墙钟的方式，供测试注入。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService 构造信誉服务。
func NewService(store Store, agentLedger AgentLedger, publisher events.Publisher, opts ...Option) *Service {
	s := &Service{
		store:     store,
		ledger:    agentLedger,
		publisher: publisher,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CopyLimits 返回代理当前已验证层级生效的准入上限。
// 未验证过的代理适用层级 0 的默认上限。
func (s *Service) CopyLimits(ctx context.Context, agent common.Address) (CopyLimits, error) {
	status, err := s.store.GetStatus(ctx, agent)
	if err != nil {
		return CopyLimits{}, err
	}
	config, err := s.store.GetTierConfig(ctx)
	if err != nil {
		return CopyLimits{}, err
	}
	slot := config[status.Tier]
	return CopyLimits{MaxCopyLimit: slot.MaxCopyLimit, MaxCopiers: slot.MaxCopiers}, nil
}

// CanAcceptDeposit 是纯准入判定：新增保证金后的资金规模与跟单者数量
// 是否仍在代理层级的上限内。该判定由开仓方在调用开仓前遵守，
// 不在开仓路径内部自动执行。
func (s *Service) CanAcceptDeposit(ctx context.Context, agent common.Address, currentAUM, currentCopiers, newDeposit uint64) (bool, string, error) {
	limits, err := s.CopyLimits(ctx, agent)
	if err != nil {
		return false, "", err
	}
	if currentAUM+newDeposit > limits.MaxCopyLimit {
		return false, ReasonCopyLimit, nil
	}
	if currentCopiers >= uint64(limits.MaxCopiers) {
		return false, ReasonCopierLimit, nil
	}
	return true, "", nil
}

// ProveReputation 验证“私有信誉分超过层级阈值”的零知识证明并记录新层级。
// 公共输入必须等于 [目标层级阈值, 分数承诺]；任何证明层面的失败
// 一律以同一个不透明错误拒绝。已验证层级只能严格上升。
func (s *Service) ProveReputation(ctx context.Context, caller common.Address, tier uint8, commitment *big.Int, proof *Proof, publicInputs []*big.Int) (*AgentTierStatus, error) {
	if tier == 0 || tier >= TierCount {
		return nil, ErrInvalidTier
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ledger.Agent(ctx, caller); err != nil {
		return nil, err
	}
	paused, err := s.ledger.Paused(ctx)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, ledger.ErrPaused
	}
	config, err := s.store.GetTierConfig(ctx)
	if err != nil {
		return nil, err
	}
	if len(publicInputs) != proofPublicInputs {
		return nil, ErrInputMismatch
	}
	threshold := new(big.Int).SetUint64(config[tier].Threshold)
	if commitment == nil || publicInputs[0].Cmp(threshold) != 0 || publicInputs[1].Cmp(commitment) != 0 {
		return nil, ErrInputMismatch
	}
	key, err := s.store.GetVerificationKey(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := VerifyProof(key, proof, publicInputs)
	if err != nil || !ok {
		return nil, ErrProofRejected
	}
	status, err := s.store.GetStatus(ctx, caller)
	if err != nil {
		return nil, err
	}
	if tier <= status.Tier {
		return nil, ErrTierNotHigher
	}
	status.Tier = tier
	status.VerifiedAt = s.now().Unix()
	if err := s.store.PutStatus(ctx, status); err != nil {
		return nil, err
	}
	logger.Audit().Info("tier_verified",
		slog.String("agent", caller.Hex()),
		slog.Int("tier", int(tier)),
	)
	s.publish(ctx, events.TypeTierVerified, map[string]any{
		"agent": caller.Hex(),
		"tier":  tier,
	})
	clone := *status
	return &clone, nil
}

// SetVerificationKey 替换验证密钥。仅限管理员。
func (s *Service) SetVerificationKey(ctx context.Context, caller common.Address, key *VerificationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAdmin(ctx, caller); err != nil {
		return err
	}
	if key == nil || len(key.IC) != proofPublicInputs+1 {
		return xerrors.New(xerrors.CodeInvalidArgument, "verification key shape mismatch")
	}
	if err := s.store.PutVerificationKey(ctx, key); err != nil {
		return err
	}
	logger.Audit().Info("verification_key_replaced", slog.String("admin", caller.Hex()))
	s.publish(ctx, events.TypeVerifyingKeySet, nil)
	return nil
}

// SetTier 重新配置单个层级槽位。仅限管理员，且阈值表必须保持单调不减。
func (s *Service) SetTier(ctx context.Context, caller common.Address, index uint8, slot TierSlot) error {
	if index >= TierCount {
		return ErrInvalidTier
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAdmin(ctx, caller); err != nil {
		return err
	}
	config, err := s.store.GetTierConfig(ctx)
	if err != nil {
		return err
	}
	config[index] = slot
	for i := 1; i < TierCount; i++ {
		if config[i].Threshold < config[i-1].Threshold {
			return xerrors.New(xerrors.CodeInvalidArgument, "tier thresholds must be non-decreasing")
		}
	}
	if err := s.store.PutTierConfig(ctx, config); err != nil {
		return err
	}
	logger.Audit().Info("tier_configured",
		slog.Int("index", int(index)),
		slog.Uint64("threshold", slot.Threshold),
	)
	s.publish(ctx, events.TypeTierConfigured, map[string]any{
		"index":     index,
		"threshold": slot.Threshold,
	})
	return nil
}

// Status 返回代理的层级状态。
func (s *Service) Status(ctx context.Context, agent common.Address) (*AgentTierStatus, error) {
	return s.store.GetStatus(ctx, agent)
}

// TierConfig 返回当前层级配置表。
func (s *Service) TierConfig(ctx context.Context) (TierConfig, error) {
	return s.store.GetTierConfig(ctx)
}

func (s *Service) requireAdmin(ctx context.Context, caller common.Address) error {
	state, err := s.ledger.State(ctx)
	if err != nil {
		return err
	}
	if caller != state.Admin || caller == (common.Address{}) {
		return ledger.ErrNotAdmin
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType events.Type, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.New(eventType, payload)); err != nil {
		logger.L().Error("事件发布失败",
			slog.String("type", string(eventType)),
			slog.Any("error", err),
		)
	}
}
