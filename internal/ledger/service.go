package ledger

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentVault-Chain/internal/bank"
	xerrors "AgentVault-Chain/internal/errors"
	"AgentVault-Chain/internal/events"
	"AgentVault-Chain/internal/observability/alerting"
	"AgentVault-Chain/pkg/logger"
)

// Params 定义质押台账的协议参数。
type Params struct {
	// MinStake 是注册与维持活跃状态所需的最低质押额。
	MinStake uint64
	// WithdrawalDelay 是解押请求从提交到可执行的等待期。
	WithdrawalDelay time.Duration
	// SlashPercent 是单次罚没占当前质押的百分比。
	SlashPercent uint64
}

// DefaultParams 返回协议默认参数。
func DefaultParams() Params {
	return Params{
		MinStake:        100_000_000,
		WithdrawalDelay: 7 * 24 * time.Hour,
		SlashPercent:    10,
	}
}

func (p *Params) applyDefaults() {
	def := DefaultParams()
	if p.MinStake == 0 {
		p.MinStake = def.MinStake
	}
	if p.WithdrawalDelay <= 0 {
		p.WithdrawalDelay = def.WithdrawalDelay
	}
	if p.SlashPercent == 0 || p.SlashPercent > 100 {
		p.SlashPercent = def.SlashPercent
	}
}

// Service 实现质押台账的全部状态迁移。
// 所有写操作经由单一互斥锁串行化。
type Service struct {
	mu        sync.Mutex
	store     Store
	bank      *bank.Bank
	publisher events.Publisher
	alerts    alerting.Dispatcher
	params    Params
	vault     common.Address
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

// WithAlerts 挂接告警分发器。
func WithAlerts(dispatcher alerting.Dispatcher) Option {
	return func(s *Service) {
		s.alerts = dispatcher
	}
}

// NewService 构造台账服务。vault 是托管组件的特权身份。
func NewService(store Store, b *bank.Bank, publisher events.Publisher, params Params, vault common.Address, opts ...Option) *Service {
	params.applyDefaults()
	s := &Service{
		store:     store,
		bank:      b,
		publisher: publisher,
		params:    params,
		vault:     vault,
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

// Bootstrap 设置初始管理员。仅在管理员尚未设置时生效。
func (s *Service) Bootstrap(ctx context.Context, admin common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.store.GetState(ctx)
	if err != nil {
		return err
	}
	if state.Admin != (common.Address{}) {
		return xerrors.New(xerrors.CodeConflict, "admin already set")
	}
	state.Admin = admin
	return s.store.PutState(ctx, state)
}

// Register 注册一个新的策略代理并锁定初始质押。
func (s *Service) Register(ctx context.Context, owner common.Address, name string, stake uint64) (*Agent, error) {
	if !ValidName(name) {
		return nil, ErrInvalidName
	}
	if stake < s.params.MinStake {
		return nil, ErrStakeTooLow
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.GetAgent(ctx, owner); err == nil {
		return nil, ErrAgentExists
	}
	state, err := s.store.GetState(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.bank.Transfer(ctx, owner, bank.StakePool, stake); err != nil {
		return nil, err
	}
	agent := &Agent{
		Owner:        owner,
		Name:         name,
		Stake:        stake,
		RegisteredAt: s.now().Unix(),
		Active:       true,
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		// 建档失败时退回质押，保证无部分副作用。
		_ = s.bank.Transfer(ctx, bank.StakePool, owner, stake)
		return nil, err
	}
	state.TotalStaked += stake
	if err := s.store.PutState(ctx, state); err != nil {
		return nil, err
	}
	logger.Audit().Info("agent_registered",
		slog.String("owner", owner.Hex()),
		slog.String("name", name),
		slog.Uint64("stake", stake),
	)
	s.publish(ctx, events.TypeAgentRegistered, map[string]any{
		"owner": owner.Hex(),
		"name":  name,
		"stake": stake,
	})
	return cloneAgent(agent), nil
}

// AddStake 追加质押。存在待执行的解押请求时会一并取消。
func (s *Service) AddStake(ctx context.Context, owner common.Address, amount uint64) (*Agent, error) {
	if amount == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "stake amount must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, err := s.store.GetAgent(ctx, owner)
	if err != nil {
		return nil, err
	}
	state, err := s.store.GetState(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.bank.Transfer(ctx, owner, bank.StakePool, amount); err != nil {
		return nil, err
	}
	agent.Stake += amount
	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		_ = s.bank.Transfer(ctx, bank.StakePool, owner, amount)
		return nil, err
	}
	state.TotalStaked += amount
	if err := s.store.PutState(ctx, state); err != nil {
		return nil, err
	}
	// 追加质押视为放弃退出意图。
	if _, err := s.store.GetWithdrawal(ctx, owner); err == nil {
		_ = s.store.DeleteWithdrawal(ctx, owner)
	}
	s.publish(ctx, events.TypeStakeAdded, map[string]any{
		"owner":  owner.Hex(),
		"amount": amount,
		"stake":  agent.Stake,
	})
	return agent, nil
}

// RequestWithdrawal 提交解押请求，进入延迟等待期。
func (s *Service) RequestWithdrawal(ctx context.Context, owner common.Address, amount uint64) (*WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, err := s.store.GetAgent(ctx, owner)
	if err != nil {
		return nil, err
	}
	if err := validateWithdrawal(agent, amount, s.params.MinStake); err != nil {
		return nil, err
	}
	if _, err := s.store.GetWithdrawal(ctx, owner); err == nil {
		return nil, ErrWithdrawalPending
	}
	req := &WithdrawalRequest{
		Owner:       owner,
		Amount:      amount,
		RequestedAt: s.now().Unix(),
	}
	if err := s.store.PutWithdrawal(ctx, req); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeWithdrawalRequested, map[string]any{
		"owner":  owner.Hex(),
		"amount": amount,
	})
	clone := *req
	return &clone, nil
}

// validateWithdrawal 在请求与执行两个时点使用同一套校验。
func validateWithdrawal(agent *Agent, amount uint64, minStake uint64) error {
	if agent.Copiers > 0 {
		return ErrHasCopiers
	}
	if amount == 0 || amount > agent.Stake {
		return xerrors.New(xerrors.CodeInvalidArgument, "invalid withdrawal amount")
	}
	if agent.Active && agent.Stake-amount < minStake {
		return ErrStakeTooLow
	}
	return nil
}

// ExecuteWithdrawal 在延迟期满后执行解押。执行时点重新校验全部条件。
func (s *Service) ExecuteWithdrawal(ctx context.Context, owner common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.store.GetWithdrawal(ctx, owner)
	if err != nil {
		return 0, err
	}
	if s.now().Unix() < req.RequestedAt+int64(s.params.WithdrawalDelay.Seconds()) {
		return 0, ErrDelayNotElapsed
	}
	agent, err := s.store.GetAgent(ctx, owner)
	if err != nil {
		return 0, err
	}
	if err := validateWithdrawal(agent, req.Amount, s.params.MinStake); err != nil {
		return 0, err
	}
	state, err := s.store.GetState(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.bank.Transfer(ctx, bank.StakePool, owner, req.Amount); err != nil {
		return 0, err
	}
	agent.Stake -= req.Amount
	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		_ = s.bank.Transfer(ctx, owner, bank.StakePool, req.Amount)
		return 0, err
	}
	state.TotalStaked -= req.Amount
	if err := s.store.PutState(ctx, state); err != nil {
		return 0, err
	}
	if err := s.store.DeleteWithdrawal(ctx, owner); err != nil {
		return 0, err
	}
	logger.Audit().Info("withdrawal_executed",
		slog.String("owner", owner.Hex()),
		slog.Uint64("amount", req.Amount),
	)
	s.publish(ctx, events.TypeWithdrawalExecuted, map[string]any{
		"owner":  owner.Hex(),
		"amount": req.Amount,
	})
	return req.Amount, nil
}

// CancelWithdrawal 撤回尚未执行的解押请求。
func (s *Service) CancelWithdrawal(ctx context.Context, owner common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.DeleteWithdrawal(ctx, owner); err != nil {
		return err
	}
	s.publish(ctx, events.TypeWithdrawalCancelled, map[string]any{
		"owner": owner.Hex(),
	})
	return nil
}

// Deactivate 将代理标记为停用，停止接收新的跟单。
func (s *Service) Deactivate(ctx context.Context, owner common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, err := s.store.GetAgent(ctx, owner)
	if err != nil {
		return err
	}
	if !agent.Active {
		return xerrors.New(xerrors.CodeFailedPrecondition, "agent already inactive")
	}
	agent.Active = false
	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return err
	}
	s.publish(ctx, events.TypeAgentDeactivated, map[string]any{"owner": owner.Hex()})
	return nil
}

// Reactivate 重新启用代理，要求质押额满足下限。
func (s *Service) Reactivate(ctx context.Context, owner common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, err := s.store.GetAgent(ctx, owner)
	if err != nil {
		return err
	}
	if agent.Active {
		return xerrors.New(xerrors.CodeFailedPrecondition, "agent already active")
	}
	if agent.Stake < s.params.MinStake {
		return ErrStakeTooLow
	}
	agent.Active = true
	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return err
	}
	s.publish(ctx, events.TypeAgentReactivated, map[string]any{"owner": owner.Hex()})
	return nil
}

// RecordTrade 记录一次交易结果。仅限特权调用者。
func (s *Service) RecordTrade(ctx context.Context, caller, owner common.Address, pnl int64, successful bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePrivileged(ctx, caller); err != nil {
		return err
	}
	agent, err := s.store.GetAgent(ctx, owner)
	if err != nil {
		return err
	}
	agent.TotalTrades++
	agent.TotalPnl += pnl
	if successful {
		agent.SuccessfulTrades++
	}
	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return err
	}
	s.publish(ctx, events.TypeTradeRecorded, map[string]any{
		"owner":      owner.Hex(),
		"pnl":        pnl,
		"successful": successful,
	})
	return nil
}

// Slash 罚没代理质押的固定比例至争议基金，返回实际罚没金额。
// 罚没比例之下以当前质押为上限，质押为零时为无操作。
func (s *Service) Slash(ctx context.Context, caller, owner common.Address, reason string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePrivileged(ctx, caller); err != nil {
		return 0, err
	}
	agent, err := s.store.GetAgent(ctx, owner)
	if err != nil {
		return 0, err
	}
	amount := agent.Stake * s.params.SlashPercent / 100
	if amount > agent.Stake {
		amount = agent.Stake
	}
	if amount == 0 {
		return 0, nil
	}
	state, err := s.store.GetState(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.bank.Transfer(ctx, bank.StakePool, bank.DisputeFund, amount); err != nil {
		return 0, err
	}
	agent.Stake -= amount
	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		_ = s.bank.Transfer(ctx, bank.DisputeFund, bank.StakePool, amount)
		return 0, err
	}
	state.TotalStaked -= amount
	state.DisputeFund += amount
	if err := s.store.PutState(ctx, state); err != nil {
		return 0, err
	}
	s.bank.RecordSlashed(amount)
	logger.Audit().Info("agent_slashed",
		slog.String("owner", owner.Hex()),
		slog.Uint64("amount", amount),
		slog.String("reason", reason),
	)
	s.alert(ctx, alerting.Event{
		Code:     CodeAgentSlashed,
		Message:  "agent stake slashed: " + reason,
		Severity: xerrors.SeverityWarning,
		Subject:  owner.Hex(),
		Metadata: map[string]string{
			"amount": strconv.FormatUint(amount, 10),
		},
		OccurredAt: s.now(),
	})
	s.publish(ctx, events.TypeAgentSlashed, map[string]any{
		"owner":  owner.Hex(),
		"amount": amount,
		"reason": reason,
	})
	return amount, nil
}

// UpdateCopiers 调整代理的跟单者计数，下限为零。仅限特权调用者。
func (s *Service) UpdateCopiers(ctx context.Context, caller, owner common.Address, delta int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePrivileged(ctx, caller); err != nil {
		return err
	}
	agent, err := s.store.GetAgent(ctx, owner)
	if err != nil {
		return err
	}
	if delta >= 0 {
		agent.Copiers += uint32(delta)
	} else {
		dec := uint32(-delta)
		if dec > agent.Copiers {
			agent.Copiers = 0
		} else {
			agent.Copiers -= dec
		}
	}
	return s.store.UpdateAgent(ctx, agent)
}

// ProposeAdmin 发起两步式管理员轮换的第一步。
func (s *Service) ProposeAdmin(ctx context.Context, caller, candidate common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.store.GetState(ctx)
	if err != nil {
		return err
	}
	if caller != state.Admin {
		return ErrNotAdmin
	}
	if candidate == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "candidate address is empty")
	}
	state.PendingAdmin = candidate
	if err := s.store.PutState(ctx, state); err != nil {
		return err
	}
	logger.Audit().Info("admin_proposed",
		slog.String("current", caller.Hex()),
		slog.String("candidate", candidate.Hex()),
	)
	s.publish(ctx, events.TypeAdminProposed, map[string]any{
		"candidate": candidate.Hex(),
	})
	return nil
}

// AcceptAdmin 完成管理员轮换，仅候选人本人可调用。
func (s *Service) AcceptAdmin(ctx context.Context, caller common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.store.GetState(ctx)
	if err != nil {
		return err
	}
	if state.PendingAdmin == (common.Address{}) || caller != state.PendingAdmin {
		return xerrors.New(xerrors.CodePermissionDenied, "caller is not the pending admin")
	}
	state.Admin = caller
	state.PendingAdmin = common.Address{}
	if err := s.store.PutState(ctx, state); err != nil {
		return err
	}
	logger.Audit().Info("admin_accepted", slog.String("admin", caller.Hex()))
	s.publish(ctx, events.TypeAdminAccepted, map[string]any{
		"admin": caller.Hex(),
	})
	return nil
}

// Pause 暂停协议：新开仓与信誉证明被拒绝，资金退出路径保持可用。
func (s *Service) Pause(ctx context.Context, caller common.Address) error {
	return s.setPaused(ctx, caller, true)
}

// Unpause 恢复协议。
func (s *Service) Unpause(ctx context.Context, caller common.Address) error {
	return s.setPaused(ctx, caller, false)
}

func (s *Service) setPaused(ctx context.Context, caller common.Address, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.store.GetState(ctx)
	if err != nil {
		return err
	}
	if caller != state.Admin {
		return ErrNotAdmin
	}
	if state.Paused == paused {
		return xerrors.New(xerrors.CodeFailedPrecondition, "pause state unchanged")
	}
	state.Paused = paused
	if err := s.store.PutState(ctx, state); err != nil {
		return err
	}
	eventType := events.TypeProtocolPaused
	if !paused {
		eventType = events.TypeProtocolUnpaused
	}
	logger.Audit().Info("protocol_pause_changed",
		slog.String("admin", caller.Hex()),
		slog.Bool("paused", paused),
	)
	s.publish(ctx, eventType, nil)
	return nil
}

// WithdrawTreasury 管理员从国库提取资金。
func (s *Service) WithdrawTreasury(ctx context.Context, caller, to common.Address, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.store.GetState(ctx)
	if err != nil {
		return err
	}
	if caller != state.Admin {
		return ErrNotAdmin
	}
	if err := s.bank.Transfer(ctx, bank.Treasury, to, amount); err != nil {
		return err
	}
	logger.Audit().Info("treasury_withdrawn",
		slog.String("to", to.Hex()),
		slog.Uint64("amount", amount),
	)
	s.publish(ctx, events.TypeTreasuryWithdrawn, map[string]any{
		"to":     to.Hex(),
		"amount": amount,
	})
	return nil
}

// Paused 返回协议是否处于暂停状态。
func (s *Service) Paused(ctx context.Context) (bool, error) {
	state, err := s.store.GetState(ctx)
	if err != nil {
		return false, err
	}
	return state.Paused, nil
}

// Agent 返回代理记录。
func (s *Service) Agent(ctx context.Context, owner common.Address) (*Agent, error) {
	return s.store.GetAgent(ctx, owner)
}

// Agents 返回全部代理。
func (s *Service) Agents(ctx context.Context) ([]*Agent, error) {
	return s.store.ListAgents(ctx)
}

// Withdrawal 返回代理当前的解押请求。
func (s *Service) Withdrawal(ctx context.Context, owner common.Address) (*WithdrawalRequest, error) {
	return s.store.GetWithdrawal(ctx, owner)
}

// State 返回全局状态。
func (s *Service) State(ctx context.Context) (*ProtocolState, error) {
	return s.store.GetState(ctx)
}

// requirePrivileged 校验调用者是否为托管身份或当前管理员。
func (s *Service) requirePrivileged(ctx context.Context, caller common.Address) error {
	if caller == s.vault && caller != (common.Address{}) {
		return nil
	}
	state, err := s.store.GetState(ctx)
	if err != nil {
		return err
	}
	if caller == state.Admin && caller != (common.Address{}) {
		return nil
	}
	return ErrNotPrivileged
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

func (s *Service) alert(ctx context.Context, event alerting.Event) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Notify(ctx, event); err != nil {
		logger.L().Warn("告警发送失败", slog.Any("error", err))
	}
}
