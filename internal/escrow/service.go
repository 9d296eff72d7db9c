package escrow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentVault-Chain/internal/bank"
	xerrors "AgentVault-Chain/internal/errors"
	"AgentVault-Chain/internal/events"
	"AgentVault-Chain/internal/ledger"
	"AgentVault-Chain/pkg/logger"
)

// Params 定义托管层的协议参数。
type Params struct {
	MinDeposit     uint64
	MaxDeposit     uint64
	MinLock        time.Duration
	MaxLock        time.Duration
	MinDisputeFee  uint64
	EmergencyGrace time.Duration
}

// DefaultParams 返回协议默认参数。
func DefaultParams() Params {
	return Params{
		MinDeposit:     1_000_000,
		MaxDeposit:     1_000_000_000_000,
		MinLock:        24 * time.Hour,
		MaxLock:        365 * 24 * time.Hour,
		MinDisputeFee:  1_000_000,
		EmergencyGrace: 30 * 24 * time.Hour,
	}
}

func (p *Params) applyDefaults() {
	def := DefaultParams()
	if p.MinDeposit == 0 {
		p.MinDeposit = def.MinDeposit
	}
	if p.MaxDeposit == 0 {
		p.MaxDeposit = def.MaxDeposit
	}
	if p.MinLock <= 0 {
		p.MinLock = def.MinLock
	}
	if p.MaxLock <= 0 {
		p.MaxLock = def.MaxLock
	}
	if p.MinDisputeFee == 0 {
		p.MinDisputeFee = def.MinDisputeFee
	}
	if p.EmergencyGrace <= 0 {
		p.EmergencyGrace = def.EmergencyGrace
	}
}

// AgentLedger 是托管层依赖的质押台账能力子集。
type AgentLedger interface {
	Agent(ctx context.Context, owner common.Address) (*ledger.Agent, error)
	State(ctx context.Context) (*ledger.ProtocolState, error)
	Paused(ctx context.Context) (bool, error)
	UpdateCopiers(ctx context.Context, caller, owner common.Address, delta int32) error
	RecordTrade(ctx context.Context, caller, owner common.Address, pnl int64, successful bool) error
	Slash(ctx context.Context, caller, owner common.Address, reason string) (uint64, error)
}

var _ AgentLedger = (*ledger.Service)(nil)

// Service 实现托管仓位的全部状态迁移。
// 写操作经由单一互斥锁串行化；跨组件调用先完成全部前置校验再产生副作用。
type Service struct {
	mu        sync.Mutex
	store     Store
	bank      *bank.Bank
	ledger    AgentLedger
	publisher events.Publisher
	params    Params
	vault     common.Address
	resolver  common.Address
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

// NewService 构造托管服务。vault 是服务调用台账时使用的特权身份，
// resolver 是争议裁决与可信预言机身份。
func NewService(store Store, b *bank.Bank, agentLedger AgentLedger, publisher events.Publisher, params Params, vault, resolver common.Address, opts ...Option) *Service {
	params.applyDefaults()
	s := &Service{
		store:     store,
		bank:      b,
		ledger:    agentLedger,
		publisher: publisher,
		params:    params,
		vault:     vault,
		resolver:  resolver,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Params 返回服务的协议参数。
func (s *Service) Params() Params {
	return s.params
}

// SetResolver 轮换争议裁决身份。仅限管理员。
func (s *Service) SetResolver(ctx context.Context, caller, resolver common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.ledger.State(ctx)
	if err != nil {
		return err
	}
	if caller != state.Admin || caller == (common.Address{}) {
		return ledger.ErrNotAdmin
	}
	if resolver == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "resolver address is empty")
	}
	s.resolver = resolver
	logger.Audit().Info("resolver_rotated", slog.String("resolver", resolver.Hex()))
	return nil
}

// OpenPosition 开立一笔跟单托管仓位并锁定用户保证金。
// 协议暂停时拒绝新开仓，存量仓位的资金退出路径不受影响。
func (s *Service) OpenPosition(ctx context.Context, user, agentOwner common.Address, deposit uint64, minReturnBps int32, lock time.Duration) (*CopyPosition, error) {
	if deposit < s.params.MinDeposit || deposit > s.params.MaxDeposit {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "deposit out of bounds")
	}
	if minReturnBps < -5_000 || minReturnBps > 10_000 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid min return bps")
	}
	if lock < s.params.MinLock || lock > s.params.MaxLock {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid lock period")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	paused, err := s.ledger.Paused(ctx)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, ledger.ErrPaused
	}
	agent, err := s.ledger.Agent(ctx, agentOwner)
	if err != nil {
		return nil, err
	}
	if !agent.Active {
		return nil, ErrAgentNotActive
	}
	if err := s.bank.Transfer(ctx, user, bank.EscrowPool, deposit); err != nil {
		return nil, err
	}
	if err := s.ledger.UpdateCopiers(ctx, s.vault, agentOwner, 1); err != nil {
		_ = s.bank.Transfer(ctx, bank.EscrowPool, user, deposit)
		return nil, err
	}
	startAt := s.now().Unix()
	position := &CopyPosition{
		User:         user,
		Agent:        agentOwner,
		Deposit:      deposit,
		CurrentValue: deposit,
		MinReturnBps: minReturnBps,
		StartAt:      startAt,
		EndAt:        startAt + int64(lock.Seconds()),
		Active:       true,
	}
	if err := s.store.CreatePosition(ctx, position); err != nil {
		_ = s.ledger.UpdateCopiers(ctx, s.vault, agentOwner, -1)
		_ = s.bank.Transfer(ctx, bank.EscrowPool, user, deposit)
		return nil, err
	}
	s.publish(ctx, events.TypePositionOpened, map[string]any{
		"position": position.ID,
		"user":     user.Hex(),
		"agent":    agentOwner.Hex(),
		"deposit":  deposit,
	})
	return clonePosition(position), nil
}

// CanClosePosition 判断仓位当前能否平仓，并在不能时给出原因。
func (s *Service) CanClosePosition(ctx context.Context, id uint64) (bool, string, error) {
	position, err := s.store.GetPosition(ctx, id)
	if err != nil {
		return false, "", err
	}
	switch {
	case !position.Active:
		return false, "position already closed", nil
	case position.Disputed:
		return false, "unresolved dispute pending", nil
	case s.now().Unix() < position.EndAt:
		return false, "lock period not elapsed", nil
	}
	return true, "", nil
}

// ClosePosition 在锁定期满后由持有人平仓，支付当前仓位价值，
// 并按约定最低回报判定本次跟单是否成功计入代理战绩。
func (s *Service) ClosePosition(ctx context.Context, caller common.Address, id uint64) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	position, err := s.store.GetPosition(ctx, id)
	if err != nil {
		return 0, false, err
	}
	if position.User != caller {
		return 0, false, ErrNotPositionOwner
	}
	if !position.Active {
		return 0, false, ErrPositionClosed
	}
	if position.Disputed {
		return 0, false, ErrDisputePending
	}
	if s.now().Unix() < position.EndAt {
		return 0, false, ErrPositionLocked
	}
	payout := position.CurrentValue
	successful := payout >= position.RequiredValue()

	if err := s.bank.Transfer(ctx, bank.EscrowPool, position.User, payout); err != nil {
		return 0, false, err
	}
	position.Active = false
	position.ClosedAt = s.now().Unix()
	if err := s.store.UpdatePosition(ctx, position); err != nil {
		_ = s.bank.Transfer(ctx, position.User, bank.EscrowPool, payout)
		return 0, false, err
	}
	if err := s.ledger.UpdateCopiers(ctx, s.vault, position.Agent, -1); err != nil {
		logger.L().Error("跟单计数回退失败", slog.Uint64("position", id), slog.Any("error", err))
	}
	pnl := int64(payout) - int64(position.Deposit)
	if err := s.ledger.RecordTrade(ctx, s.vault, position.Agent, pnl, successful); err != nil {
		logger.L().Error("交易战绩记录失败", slog.Uint64("position", id), slog.Any("error", err))
	}
	s.publish(ctx, events.TypePositionClosed, map[string]any{
		"position":   id,
		"payout":     payout,
		"successful": successful,
	})
	return payout, successful, nil
}

// FileDispute 由仓位持有人发起争议。争议费进入争议基金。
func (s *Service) FileDispute(ctx context.Context, caller common.Address, id uint64, fee uint64) (*Dispute, error) {
	if fee < s.params.MinDisputeFee {
		return nil, ErrFeeTooLow
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	position, err := s.store.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if position.User != caller {
		return nil, ErrNotPositionOwner
	}
	if !position.Active {
		return nil, ErrPositionClosed
	}
	if position.Disputed {
		return nil, ErrAlreadyDisputed
	}
	if err := s.bank.Transfer(ctx, caller, bank.DisputeFund, fee); err != nil {
		return nil, err
	}
	dispute := &Dispute{
		PositionID: id,
		User:       position.User,
		Agent:      position.Agent,
		Fee:        fee,
		FiledAt:    s.now().Unix(),
	}
	if err := s.store.CreateDispute(ctx, dispute); err != nil {
		_ = s.bank.Transfer(ctx, bank.DisputeFund, caller, fee)
		return nil, err
	}
	position.Disputed = true
	if err := s.store.UpdatePosition(ctx, position); err != nil {
		return nil, err
	}
	logger.Audit().Info("dispute_filed",
		slog.Uint64("dispute", dispute.ID),
		slog.Uint64("position", id),
		slog.String("user", caller.Hex()),
	)
	s.publish(ctx, events.TypeDisputeFiled, map[string]any{
		"dispute":  dispute.ID,
		"position": id,
		"fee":      fee,
	})
	return cloneDispute(dispute), nil
}

// ResolveDispute 由裁决身份一次性裁决争议并就地平仓：
// 用户胜诉退回原始保证金并罚没代理；代理胜诉按当前价值退出、不罚没。
// 平仓随裁决完成，不存在二次支付路径。
func (s *Service) ResolveDispute(ctx context.Context, caller common.Address, disputeID uint64, userWon bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.resolver || caller == (common.Address{}) {
		return ErrNotResolver
	}
	dispute, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return err
	}
	if dispute.Resolved {
		return ErrDisputeResolved
	}
	position, err := s.store.GetPosition(ctx, dispute.PositionID)
	if err != nil {
		return err
	}
	if !position.Active {
		return ErrPositionClosed
	}
	payout := position.CurrentValue
	if userWon {
		payout = position.Deposit
	}
	if err := s.bank.Transfer(ctx, bank.EscrowPool, position.User, payout); err != nil {
		return err
	}
	now := s.now().Unix()
	dispute.Resolved = true
	dispute.UserWon = userWon
	dispute.ResolvedAt = now
	if err := s.store.UpdateDispute(ctx, dispute); err != nil {
		_ = s.bank.Transfer(ctx, position.User, bank.EscrowPool, payout)
		return err
	}
	position.Active = false
	position.ClosedAt = now
	if err := s.store.UpdatePosition(ctx, position); err != nil {
		return err
	}
	if err := s.ledger.UpdateCopiers(ctx, s.vault, position.Agent, -1); err != nil {
		logger.L().Error("跟单计数回退失败", slog.Uint64("position", position.ID), slog.Any("error", err))
	}
	pnl := int64(payout) - int64(position.Deposit)
	if err := s.ledger.RecordTrade(ctx, s.vault, position.Agent, pnl, !userWon); err != nil {
		logger.L().Error("交易战绩记录失败", slog.Uint64("position", position.ID), slog.Any("error", err))
	}
	if userWon {
		if _, err := s.ledger.Slash(ctx, s.vault, position.Agent, "dispute resolved against agent"); err != nil {
			logger.L().Error("罚没执行失败", slog.String("agent", position.Agent.Hex()), slog.Any("error", err))
		}
	}
	logger.Audit().Info("dispute_resolved",
		slog.Uint64("dispute", disputeID),
		slog.Bool("user_won", userWon),
		slog.Uint64("payout", payout),
	)
	s.publish(ctx, events.TypeDisputeResolved, map[string]any{
		"dispute":  disputeID,
		"user_won": userWon,
		"payout":   payout,
	})
	return nil
}

// UpdatePositionValue 由可信预言机更新仓位的当前估值。
// 估值是可信输入，不做界限或时效校验。
func (s *Service) UpdatePositionValue(ctx context.Context, caller common.Address, id uint64, value uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireResolver(caller); err != nil {
		return err
	}
	return s.setValue(ctx, id, value)
}

// ValueUpdate 描述一次批量估值更新中的单条记录。
type ValueUpdate struct {
	PositionID uint64 `json:"position_id"`
	Value      uint64 `json:"value"`
}

// UpdatePositionValues 批量更新估值。先校验全部目标仓位再落盘，
// 任何一条不可更新则整批拒绝。
func (s *Service) UpdatePositionValues(ctx context.Context, caller common.Address, updates []ValueUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireResolver(caller); err != nil {
		return err
	}
	for _, update := range updates {
		position, err := s.store.GetPosition(ctx, update.PositionID)
		if err != nil {
			return err
		}
		if !position.Active {
			return ErrPositionClosed
		}
	}
	for _, update := range updates {
		if err := s.setValue(ctx, update.PositionID, update.Value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) setValue(ctx context.Context, id uint64, value uint64) error {
	position, err := s.store.GetPosition(ctx, id)
	if err != nil {
		return err
	}
	if !position.Active {
		return ErrPositionClosed
	}
	position.CurrentValue = value
	if err := s.store.UpdatePosition(ctx, position); err != nil {
		return err
	}
	s.publish(ctx, events.TypePositionValueSet, map[string]any{
		"position": id,
		"value":    value,
	})
	return nil
}

func (s *Service) requireResolver(caller common.Address) error {
	if caller != s.resolver || caller == (common.Address{}) {
		return ErrNotResolver
	}
	return nil
}

// EmergencyWithdraw 由管理员在锁定期满且宽限期结束后强制退出仓位。
// 直接支付当前价值给持有人，不计入代理战绩。
func (s *Service) EmergencyWithdraw(ctx context.Context, caller common.Address, id uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.ledger.State(ctx)
	if err != nil {
		return 0, err
	}
	if caller != state.Admin || caller == (common.Address{}) {
		return 0, ledger.ErrNotAdmin
	}
	position, err := s.store.GetPosition(ctx, id)
	if err != nil {
		return 0, err
	}
	if !position.Active {
		return 0, ErrPositionClosed
	}
	if s.now().Unix() < position.EndAt+int64(s.params.EmergencyGrace.Seconds()) {
		return 0, ErrGraceNotElapsed
	}
	payout := position.CurrentValue
	if err := s.bank.Transfer(ctx, bank.EscrowPool, position.User, payout); err != nil {
		return 0, err
	}
	position.Active = false
	position.ClosedAt = s.now().Unix()
	if err := s.store.UpdatePosition(ctx, position); err != nil {
		_ = s.bank.Transfer(ctx, position.User, bank.EscrowPool, payout)
		return 0, err
	}
	if err := s.ledger.UpdateCopiers(ctx, s.vault, position.Agent, -1); err != nil {
		logger.L().Error("跟单计数回退失败", slog.Uint64("position", id), slog.Any("error", err))
	}
	logger.Audit().Info("emergency_withdrawal",
		slog.Uint64("position", id),
		slog.String("user", position.User.Hex()),
		slog.Uint64("payout", payout),
	)
	s.publish(ctx, events.TypeEmergencyWithdrawal, map[string]any{
		"position": id,
		"payout":   payout,
	})
	return payout, nil
}

// Position 返回仓位记录。
func (s *Service) Position(ctx context.Context, id uint64) (*CopyPosition, error) {
	return s.store.GetPosition(ctx, id)
}

// Positions 返回用户的全部仓位。
func (s *Service) Positions(ctx context.Context, user common.Address) ([]*CopyPosition, error) {
	return s.store.ListPositionsByUser(ctx, user)
}

// ActivePositions 返回用户仍在持有的仓位。
func (s *Service) ActivePositions(ctx context.Context, user common.Address) ([]*CopyPosition, error) {
	return s.store.ListActivePositionsByUser(ctx, user)
}

// Dispute 返回争议记录。
func (s *Service) Dispute(ctx context.Context, id uint64) (*Dispute, error) {
	return s.store.GetDispute(ctx, id)
}

// Stats 返回托管层整体规模。
func (s *Service) Stats(ctx context.Context) (VaultStats, error) {
	return s.store.Stats(ctx)
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
