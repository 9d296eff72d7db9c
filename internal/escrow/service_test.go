package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentVault-Chain/internal/bank"
	"AgentVault-Chain/internal/events"
	"AgentVault-Chain/internal/ledger"
)

var (
	vaultIdentity    = common.HexToAddress("0xAA")
	adminIdentity    = common.HexToAddress("0xAB")
	resolverIdentity = common.HexToAddress("0xAC")
	agentIdentity    = common.HexToAddress("0x01")
	userIdentity     = common.HexToAddress("0x02")
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type fixture struct {
	service *Service
	ledger  *ledger.Service
	bank    *bank.Bank
	clock   *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	b := bank.New()
	publisher := events.NewMemoryPublisher()

	agentLedger := ledger.NewService(ledger.NewMemoryStore(), b, publisher, ledger.DefaultParams(), vaultIdentity, ledger.WithClock(clock.Now))
	if err := agentLedger.Bootstrap(ctx, adminIdentity); err != nil {
		t.Fatalf("初始化管理员失败: %v", err)
	}
	b.Mint(ctx, agentIdentity, 1_000_000_000)
	if _, err := agentLedger.Register(ctx, agentIdentity, "alpha_trader", 200_000_000); err != nil {
		t.Fatalf("注册代理失败: %v", err)
	}
	b.Mint(ctx, userIdentity, 1_000_000_000)

	service := NewService(NewMemoryStore(), b, agentLedger, publisher, DefaultParams(), vaultIdentity, resolverIdentity, WithClock(clock.Now))
	return &fixture{service: service, ledger: agentLedger, bank: b, clock: clock}
}

func (f *fixture) openPosition(t *testing.T, deposit uint64, minReturnBps int32, lock time.Duration) *CopyPosition {
	t.Helper()
	position, err := f.service.OpenPosition(context.Background(), userIdentity, agentIdentity, deposit, minReturnBps, lock)
	if err != nil {
		t.Fatalf("开仓失败: %v", err)
	}
	return position
}

func TestOpenPositionLocksDeposit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	position := f.openPosition(t, 10_000_000, 500, 30*24*time.Hour)
	if position.ID == 0 {
		t.Fatal("仓位 ID 应从 1 开始分配")
	}
	if position.CurrentValue != position.Deposit {
		t.Fatalf("初始估值应等于保证金: %+v", position)
	}
	if got := f.bank.Balance(ctx, bank.EscrowPool); got != 10_000_000 {
		t.Fatalf("托管池余额 = %d, 期望 10000000", got)
	}
	agent, err := f.ledger.Agent(ctx, agentIdentity)
	if err != nil {
		t.Fatalf("读取代理失败: %v", err)
	}
	if agent.Copiers != 1 {
		t.Fatalf("跟单计数 = %d, 期望 1", agent.Copiers)
	}
}

func TestOpenPositionValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lock := 30 * 24 * time.Hour

	cases := []struct {
		name         string
		deposit      uint64
		minReturnBps int32
		lock         time.Duration
	}{
		{"保证金过低", 1, 0, lock},
		{"保证金过高", 2_000_000_000_000, 0, lock},
		{"最低回报过低", 10_000_000, -5_001, lock},
		{"最低回报过高", 10_000_000, 10_001, lock},
		{"锁定期过短", 10_000_000, 0, time.Hour},
		{"锁定期过长", 10_000_000, 0, 400 * 24 * time.Hour},
	}
	for _, tc := range cases {
		if _, err := f.service.OpenPosition(ctx, userIdentity, agentIdentity, tc.deposit, tc.minReturnBps, tc.lock); err == nil {
			t.Fatalf("%s: 开仓应当被拒绝", tc.name)
		}
	}

	unknown := common.HexToAddress("0xEE")
	if _, err := f.service.OpenPosition(ctx, userIdentity, unknown, 10_000_000, 0, lock); !errors.Is(err, ledger.ErrAgentNotFound) {
		t.Fatalf("未注册代理应返回 ErrAgentNotFound, 实际 %v", err)
	}
	if err := f.ledger.Deactivate(ctx, agentIdentity); err != nil {
		t.Fatalf("停用代理失败: %v", err)
	}
	if _, err := f.service.OpenPosition(ctx, userIdentity, agentIdentity, 10_000_000, 0, lock); !errors.Is(err, ErrAgentNotActive) {
		t.Fatalf("停用代理应返回 ErrAgentNotActive, 实际 %v", err)
	}
	if err := f.ledger.Reactivate(ctx, agentIdentity); err != nil {
		t.Fatalf("重新启用失败: %v", err)
	}
	if err := f.ledger.Pause(ctx, adminIdentity); err != nil {
		t.Fatalf("暂停协议失败: %v", err)
	}
	if _, err := f.service.OpenPosition(ctx, userIdentity, agentIdentity, 10_000_000, 0, lock); !errors.Is(err, ledger.ErrPaused) {
		t.Fatalf("暂停期间开仓应返回 ErrPaused, 实际 %v", err)
	}
}

func TestClosePositionSuccessfulReturn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	position := f.openPosition(t, 10_000_000, 500, 30*24*time.Hour)

	if _, _, err := f.service.ClosePosition(ctx, userIdentity, position.ID); !errors.Is(err, ErrPositionLocked) {
		t.Fatalf("锁定期内平仓应返回 ErrPositionLocked, 实际 %v", err)
	}
	// 估值上涨到最低回报之上，托管池补足浮盈。
	if err := f.service.UpdatePositionValue(ctx, resolverIdentity, position.ID, 11_000_000); err != nil {
		t.Fatalf("估值更新失败: %v", err)
	}
	f.bank.Mint(ctx, bank.EscrowPool, 1_000_000)
	f.clock.Advance(31 * 24 * time.Hour)

	payout, successful, err := f.service.ClosePosition(ctx, userIdentity, position.ID)
	if err != nil {
		t.Fatalf("平仓失败: %v", err)
	}
	if payout != 11_000_000 || !successful {
		t.Fatalf("payout=%d successful=%v, 期望 11000000/true", payout, successful)
	}
	agent, err := f.ledger.Agent(ctx, agentIdentity)
	if err != nil {
		t.Fatalf("读取代理失败: %v", err)
	}
	if agent.TotalTrades != 1 || agent.SuccessfulTrades != 1 || agent.TotalPnl != 1_000_000 {
		t.Fatalf("代理战绩不符: %+v", agent)
	}
	if agent.Copiers != 0 {
		t.Fatalf("平仓后跟单计数 = %d, 期望 0", agent.Copiers)
	}
	if _, _, err := f.service.ClosePosition(ctx, userIdentity, position.ID); !errors.Is(err, ErrPositionClosed) {
		t.Fatalf("重复平仓应返回 ErrPositionClosed, 实际 %v", err)
	}
}

func TestClosePositionBelowRequiredValue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	position := f.openPosition(t, 10_000_000, 500, 30*24*time.Hour)

	// 估值停留在保证金水平，低于 10500000 的约定门槛。
	f.clock.Advance(31 * 24 * time.Hour)
	payout, successful, err := f.service.ClosePosition(ctx, userIdentity, position.ID)
	if err != nil {
		t.Fatalf("平仓失败: %v", err)
	}
	if payout != 10_000_000 || successful {
		t.Fatalf("payout=%d successful=%v, 期望 10000000/false", payout, successful)
	}
	agent, err := f.ledger.Agent(ctx, agentIdentity)
	if err != nil {
		t.Fatalf("读取代理失败: %v", err)
	}
	if agent.TotalTrades != 1 || agent.SuccessfulTrades != 0 {
		t.Fatalf("失败跟单不应计入胜场: %+v", agent)
	}
}

func TestClosePositionRequiresOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	position := f.openPosition(t, 10_000_000, 0, 30*24*time.Hour)
	f.clock.Advance(31 * 24 * time.Hour)

	if _, _, err := f.service.ClosePosition(ctx, agentIdentity, position.ID); !errors.Is(err, ErrNotPositionOwner) {
		t.Fatalf("非持有人平仓应返回 ErrNotPositionOwner, 实际 %v", err)
	}
}

func TestCanClosePositionReportsReason(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	position := f.openPosition(t, 10_000_000, 0, 30*24*time.Hour)

	ok, reason, err := f.service.CanClosePosition(ctx, position.ID)
	if err != nil || ok || reason != "lock period not elapsed" {
		t.Fatalf("锁定期内: ok=%v reason=%q err=%v", ok, reason, err)
	}
	if _, err := f.service.FileDispute(ctx, userIdentity, position.ID, 1_000_000); err != nil {
		t.Fatalf("发起争议失败: %v", err)
	}
	f.clock.Advance(31 * 24 * time.Hour)
	ok, reason, err = f.service.CanClosePosition(ctx, position.ID)
	if err != nil || ok || reason != "unresolved dispute pending" {
		t.Fatalf("争议期间: ok=%v reason=%q err=%v", ok, reason, err)
	}
	if err := f.service.ResolveDispute(ctx, resolverIdentity, 1, false); err != nil {
		t.Fatalf("裁决失败: %v", err)
	}
	ok, reason, err = f.service.CanClosePosition(ctx, position.ID)
	if err != nil || ok || reason != "position already closed" {
		t.Fatalf("裁决平仓后: ok=%v reason=%q err=%v", ok, reason, err)
	}
}

func TestFileDisputeBlocksClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	position := f.openPosition(t, 10_000_000, 0, 30*24*time.Hour)

	if _, err := f.service.FileDispute(ctx, userIdentity, position.ID, 1); !errors.Is(err, ErrFeeTooLow) {
		t.Fatalf("低于下限的争议费应返回 ErrFeeTooLow, 实际 %v", err)
	}
	if _, err := f.service.FileDispute(ctx, agentIdentity, position.ID, 1_000_000); !errors.Is(err, ErrNotPositionOwner) {
		t.Fatalf("非持有人发起争议应返回 ErrNotPositionOwner, 实际 %v", err)
	}
	dispute, err := f.service.FileDispute(ctx, userIdentity, position.ID, 1_000_000)
	if err != nil {
		t.Fatalf("发起争议失败: %v", err)
	}
	if dispute.ID == 0 || dispute.PositionID != position.ID {
		t.Fatalf("争议记录不符: %+v", dispute)
	}
	if got := f.bank.Balance(ctx, bank.DisputeFund); got != 1_000_000 {
		t.Fatalf("争议基金余额 = %d, 期望 1000000", got)
	}
	if _, err := f.service.FileDispute(ctx, userIdentity, position.ID, 1_000_000); !errors.Is(err, ErrAlreadyDisputed) {
		t.Fatalf("重复争议应返回 ErrAlreadyDisputed, 实际 %v", err)
	}
	f.clock.Advance(31 * 24 * time.Hour)
	if _, _, err := f.service.ClosePosition(ctx, userIdentity, position.ID); !errors.Is(err, ErrDisputePending) {
		t.Fatalf("争议未决时平仓应返回 ErrDisputePending, 实际 %v", err)
	}
}

func TestResolveDisputeUserWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	position := f.openPosition(t, 10_000_000, 0, 30*24*time.Hour)
	// 估值缩水后用户发起争议。
	if err := f.service.UpdatePositionValue(ctx, resolverIdentity, position.ID, 4_000_000); err != nil {
		t.Fatalf("估值更新失败: %v", err)
	}
	if _, err := f.service.FileDispute(ctx, userIdentity, position.ID, 1_000_000); err != nil {
		t.Fatalf("发起争议失败: %v", err)
	}

	if err := f.service.ResolveDispute(ctx, userIdentity, 1, true); !errors.Is(err, ErrNotResolver) {
		t.Fatalf("非裁决身份应返回 ErrNotResolver, 实际 %v", err)
	}
	userBefore := f.bank.Balance(ctx, userIdentity)
	if err := f.service.ResolveDispute(ctx, resolverIdentity, 1, true); err != nil {
		t.Fatalf("裁决失败: %v", err)
	}
	if got := f.bank.Balance(ctx, userIdentity); got != userBefore+10_000_000 {
		t.Fatalf("用户胜诉应退回原始保证金, 余额 %d", got)
	}
	dispute, err := f.service.Dispute(ctx, 1)
	if err != nil {
		t.Fatalf("读取争议失败: %v", err)
	}
	if !dispute.Resolved || !dispute.UserWon {
		t.Fatalf("争议状态不符: %+v", dispute)
	}
	agent, err := f.ledger.Agent(ctx, agentIdentity)
	if err != nil {
		t.Fatalf("读取代理失败: %v", err)
	}
	if agent.Stake != 180_000_000 {
		t.Fatalf("败诉代理应被罚没 10%%, 当前质押 %d", agent.Stake)
	}
	if agent.TotalTrades != 1 || agent.SuccessfulTrades != 0 {
		t.Fatalf("败诉跟单不应计入胜场: %+v", agent)
	}
	if err := f.service.ResolveDispute(ctx, resolverIdentity, 1, true); !errors.Is(err, ErrDisputeResolved) {
		t.Fatalf("重复裁决应返回 ErrDisputeResolved, 实际 %v", err)
	}
}

func TestResolveDisputeAgentWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	position := f.openPosition(t, 10_000_000, 0, 30*24*time.Hour)
	if err := f.service.UpdatePositionValue(ctx, resolverIdentity, position.ID, 9_000_000); err != nil {
		t.Fatalf("估值更新失败: %v", err)
	}
	if _, err := f.service.FileDispute(ctx, userIdentity, position.ID, 1_000_000); err != nil {
		t.Fatalf("发起争议失败: %v", err)
	}

	userBefore := f.bank.Balance(ctx, userIdentity)
	if err := f.service.ResolveDispute(ctx, resolverIdentity, 1, false); err != nil {
		t.Fatalf("裁决失败: %v", err)
	}
	if got := f.bank.Balance(ctx, userIdentity); got != userBefore+9_000_000 {
		t.Fatalf("代理胜诉应按当前估值退出, 余额 %d", got)
	}
	agent, err := f.ledger.Agent(ctx, agentIdentity)
	if err != nil {
		t.Fatalf("读取代理失败: %v", err)
	}
	if agent.Stake != 200_000_000 {
		t.Fatalf("胜诉代理不应被罚没, 当前质押 %d", agent.Stake)
	}
}

func TestUpdatePositionValuesIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.openPosition(t, 10_000_000, 0, 30*24*time.Hour)
	second := f.openPosition(t, 20_000_000, 0, 30*24*time.Hour)

	f.clock.Advance(31 * 24 * time.Hour)
	if _, _, err := f.service.ClosePosition(ctx, userIdentity, second.ID); err != nil {
		t.Fatalf("平仓失败: %v", err)
	}
	updates := []ValueUpdate{
		{PositionID: first.ID, Value: 12_000_000},
		{PositionID: second.ID, Value: 25_000_000},
	}
	if err := f.service.UpdatePositionValues(ctx, resolverIdentity, updates); !errors.Is(err, ErrPositionClosed) {
		t.Fatalf("包含已平仓仓位的批量更新应整批拒绝, 实际 %v", err)
	}
	position, err := f.service.Position(ctx, first.ID)
	if err != nil {
		t.Fatalf("读取仓位失败: %v", err)
	}
	if position.CurrentValue != 10_000_000 {
		t.Fatalf("被拒绝的批量更新不应有部分生效, 当前估值 %d", position.CurrentValue)
	}
	if err := f.service.UpdatePositionValue(ctx, userIdentity, first.ID, 1); !errors.Is(err, ErrNotResolver) {
		t.Fatalf("非预言机更新估值应返回 ErrNotResolver, 实际 %v", err)
	}
}

func TestEmergencyWithdrawAfterGrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	position := f.openPosition(t, 10_000_000, 0, 30*24*time.Hour)

	if _, err := f.service.EmergencyWithdraw(ctx, userIdentity, position.ID); !errors.Is(err, ledger.ErrNotAdmin) {
		t.Fatalf("非管理员紧急提取应返回 ErrNotAdmin, 实际 %v", err)
	}
	f.clock.Advance(31 * 24 * time.Hour)
	if _, err := f.service.EmergencyWithdraw(ctx, adminIdentity, position.ID); !errors.Is(err, ErrGraceNotElapsed) {
		t.Fatalf("宽限期内紧急提取应返回 ErrGraceNotElapsed, 实际 %v", err)
	}
	f.clock.Advance(31 * 24 * time.Hour)
	payout, err := f.service.EmergencyWithdraw(ctx, adminIdentity, position.ID)
	if err != nil {
		t.Fatalf("紧急提取失败: %v", err)
	}
	if payout != 10_000_000 {
		t.Fatalf("紧急提取金额 = %d, 期望 10000000", payout)
	}
	agent, err := f.ledger.Agent(ctx, agentIdentity)
	if err != nil {
		t.Fatalf("读取代理失败: %v", err)
	}
	if agent.TotalTrades != 0 {
		t.Fatalf("紧急提取不应计入代理战绩: %+v", agent)
	}
}

func TestStatsAggregates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.openPosition(t, 10_000_000, 0, 30*24*time.Hour)
	f.openPosition(t, 20_000_000, 0, 30*24*time.Hour)
	if _, err := f.service.FileDispute(ctx, userIdentity, first.ID, 1_000_000); err != nil {
		t.Fatalf("发起争议失败: %v", err)
	}

	stats, err := f.service.Stats(ctx)
	if err != nil {
		t.Fatalf("读取统计失败: %v", err)
	}
	if stats.TotalPositions != 2 || stats.ActivePositions != 2 {
		t.Fatalf("仓位统计不符: %+v", stats)
	}
	if stats.TotalDisputes != 1 || stats.OpenDisputes != 1 {
		t.Fatalf("争议统计不符: %+v", stats)
	}
	if stats.TotalDeposits != 30_000_000 || stats.TotalFees != 1_000_000 {
		t.Fatalf("资金统计不符: %+v", stats)
	}
}

func TestRequiredValueBounds(t *testing.T) {
	position := &CopyPosition{Deposit: 10_000_000, MinReturnBps: 500}
	if got := position.RequiredValue(); got != 10_500_000 {
		t.Fatalf("RequiredValue = %d, 期望 10500000", got)
	}
	position.MinReturnBps = -5_000
	if got := position.RequiredValue(); got != 5_000_000 {
		t.Fatalf("RequiredValue = %d, 期望 5000000", got)
	}
	position.MinReturnBps = 10_000
	if got := position.RequiredValue(); got != 20_000_000 {
		t.Fatalf("RequiredValue = %d, 期望 20000000", got)
	}
}
