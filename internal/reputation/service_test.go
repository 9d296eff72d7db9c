package reputation

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"AgentVault-Chain/internal/bank"
	"AgentVault-Chain/internal/events"
	"AgentVault-Chain/internal/ledger"
)

var (
	repAdmin = common.HexToAddress("0xAB")
	repAgent = common.HexToAddress("0x01")
)

func newRepFixture(t *testing.T) (*Service, *ledger.Service) {
	t.Helper()
	ctx := context.Background()
	b := bank.New()
	publisher := events.NewMemoryPublisher()

	agentLedger := ledger.NewService(ledger.NewMemoryStore(), b, publisher, ledger.DefaultParams(), common.Address{}, nil)
	if err := agentLedger.Bootstrap(ctx, repAdmin); err != nil {
		t.Fatalf("初始化管理员失败: %v", err)
	}
	b.Mint(ctx, repAgent, 1_000_000_000)
	if _, err := agentLedger.Register(ctx, repAgent, "alpha_trader", 200_000_000); err != nil {
		t.Fatalf("注册代理失败: %v", err)
	}

	service := NewService(NewMemoryStore(), agentLedger, publisher)
	key, _ := trivialSetup(proofPublicInputs)
	if err := service.SetVerificationKey(ctx, repAdmin, key); err != nil {
		t.Fatalf("配置验证密钥失败: %v", err)
	}
	return service, agentLedger
}

func proveInputs(threshold, commitment uint64) (*big.Int, []*big.Int) {
	c := new(big.Int).SetUint64(commitment)
	return c, []*big.Int{new(big.Int).SetUint64(threshold), c}
}

func TestProveReputationAdvancesTier(t *testing.T) {
	ctx := context.Background()
	service, _ := newRepFixture(t)
	_, proof := trivialSetup(proofPublicInputs)

	commitment, inputs := proveInputs(50, 12_345)
	status, err := service.ProveReputation(ctx, repAgent, 2, commitment, proof, inputs)
	if err != nil {
		t.Fatalf("证明失败: %v", err)
	}
	if status.Tier != 2 {
		t.Fatalf("层级 = %d, 期望 2", status.Tier)
	}

	// 层级只能严格上升。
	if _, err := service.ProveReputation(ctx, repAgent, 2, commitment, proof, inputs); !errors.Is(err, ErrTierNotHigher) {
		t.Fatalf("同层级重证应返回 ErrTierNotHigher, 实际 %v", err)
	}
	lowCommitment, lowInputs := proveInputs(25, 12_345)
	if _, err := service.ProveReputation(ctx, repAgent, 1, lowCommitment, proof, lowInputs); !errors.Is(err, ErrTierNotHigher) {
		t.Fatalf("降级证明应返回 ErrTierNotHigher, 实际 %v", err)
	}

	commitment, inputs = proveInputs(75, 12_345)
	status, err = service.ProveReputation(ctx, repAgent, 3, commitment, proof, inputs)
	if err != nil {
		t.Fatalf("晋级证明失败: %v", err)
	}
	if status.Tier != 3 {
		t.Fatalf("层级 = %d, 期望 3", status.Tier)
	}
}

func TestProveReputationBindsPublicInputs(t *testing.T) {
	ctx := context.Background()
	service, _ := newRepFixture(t)
	_, proof := trivialSetup(proofPublicInputs)

	// 公共输入声称的阈值与目标层级不符。
	commitment, inputs := proveInputs(25, 12_345)
	if _, err := service.ProveReputation(ctx, repAgent, 2, commitment, proof, inputs); !errors.Is(err, ErrInputMismatch) {
		t.Fatalf("阈值不符应返回 ErrInputMismatch, 实际 %v", err)
	}
	// 公共输入中的承诺与声称的承诺不符。
	commitment, inputs = proveInputs(50, 12_345)
	if _, err := service.ProveReputation(ctx, repAgent, 2, big.NewInt(99_999), proof, inputs); !errors.Is(err, ErrInputMismatch) {
		t.Fatalf("承诺不符应返回 ErrInputMismatch, 实际 %v", err)
	}
	if _, err := service.ProveReputation(ctx, repAgent, 2, commitment, proof, inputs[:1]); !errors.Is(err, ErrInputMismatch) {
		t.Fatalf("输入个数不符应返回 ErrInputMismatch, 实际 %v", err)
	}
}

func TestProveReputationRejectsOpaquely(t *testing.T) {
	ctx := context.Background()
	service, _ := newRepFixture(t)
	_, proof := trivialSetup(proofPublicInputs)
	tampered := *proof
	for i := range tampered.A {
		tampered.A[i] = 0xFF
	}

	commitment, inputs := proveInputs(50, 12_345)
	if _, err := service.ProveReputation(ctx, repAgent, 2, commitment, &tampered, inputs); !errors.Is(err, ErrProofRejected) {
		t.Fatalf("非法证明应返回统一的 ErrProofRejected, 实际 %v", err)
	}
	status, err := service.Status(ctx, repAgent)
	if err != nil {
		t.Fatalf("读取状态失败: %v", err)
	}
	if status.Tier != 0 {
		t.Fatalf("失败的证明不应改变层级, 当前 %d", status.Tier)
	}
}

func TestProveReputationPreconditions(t *testing.T) {
	ctx := context.Background()
	service, agentLedger := newRepFixture(t)
	_, proof := trivialSetup(proofPublicInputs)
	commitment, inputs := proveInputs(50, 12_345)

	if _, err := service.ProveReputation(ctx, repAgent, 0, commitment, proof, inputs); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("层级 0 不可证明, 实际 %v", err)
	}
	if _, err := service.ProveReputation(ctx, repAgent, TierCount, commitment, proof, inputs); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("越界层级应返回 ErrInvalidTier, 实际 %v", err)
	}
	stranger := common.HexToAddress("0xEE")
	if _, err := service.ProveReputation(ctx, stranger, 2, commitment, proof, inputs); !errors.Is(err, ledger.ErrAgentNotFound) {
		t.Fatalf("未注册代理应返回 ErrAgentNotFound, 实际 %v", err)
	}
	if err := agentLedger.Pause(ctx, repAdmin); err != nil {
		t.Fatalf("暂停失败: %v", err)
	}
	if _, err := service.ProveReputation(ctx, repAgent, 2, commitment, proof, inputs); !errors.Is(err, ledger.ErrPaused) {
		t.Fatalf("暂停期间证明应返回 ErrPaused, 实际 %v", err)
	}
}

func TestProveReputationRequiresKey(t *testing.T) {
	ctx := context.Background()
	b := bank.New()
	agentLedger := ledger.NewService(ledger.NewMemoryStore(), b, nil, ledger.DefaultParams(), common.Address{})
	if err := agentLedger.Bootstrap(ctx, repAdmin); err != nil {
		t.Fatalf("初始化管理员失败: %v", err)
	}
	b.Mint(ctx, repAgent, 1_000_000_000)
	if _, err := agentLedger.Register(ctx, repAgent, "alpha_trader", 200_000_000); err != nil {
		t.Fatalf("注册代理失败: %v", err)
	}
	service := NewService(NewMemoryStore(), agentLedger, nil)

	_, proof := trivialSetup(proofPublicInputs)
	commitment, inputs := proveInputs(50, 12_345)
	if _, err := service.ProveReputation(ctx, repAgent, 2, commitment, proof, inputs); !errors.Is(err, ErrNoVerificationKey) {
		t.Fatalf("未配置密钥应返回 ErrNoVerificationKey, 实际 %v", err)
	}
}

func TestCanAcceptDepositEnforcesTierLimits(t *testing.T) {
	ctx := context.Background()
	service, _ := newRepFixture(t)

	// 未验证代理适用层级 0 上限: 10e9 资金 / 10 个跟单者。
	ok, reason, err := service.CanAcceptDeposit(ctx, repAgent, 9_000_000_000, 3, 2_000_000_000)
	if err != nil {
		t.Fatalf("准入判定失败: %v", err)
	}
	if ok || reason != ReasonCopyLimit {
		t.Fatalf("超出资金上限: ok=%v reason=%q", ok, reason)
	}
	ok, reason, err = service.CanAcceptDeposit(ctx, repAgent, 1_000_000_000, 10, 1_000_000)
	if err != nil {
		t.Fatalf("准入判定失败: %v", err)
	}
	if ok || reason != ReasonCopierLimit {
		t.Fatalf("超出跟单者上限: ok=%v reason=%q", ok, reason)
	}
	ok, reason, err = service.CanAcceptDeposit(ctx, repAgent, 1_000_000_000, 3, 1_000_000)
	if err != nil || !ok || reason != "" {
		t.Fatalf("限额内应允许: ok=%v reason=%q err=%v", ok, reason, err)
	}

	// 晋级后上限随层级放宽。
	_, proof := trivialSetup(proofPublicInputs)
	commitment, inputs := proveInputs(50, 12_345)
	if _, err := service.ProveReputation(ctx, repAgent, 2, commitment, proof, inputs); err != nil {
		t.Fatalf("证明失败: %v", err)
	}
	ok, _, err = service.CanAcceptDeposit(ctx, repAgent, 9_000_000_000, 3, 2_000_000_000)
	if err != nil || !ok {
		t.Fatalf("层级 2 应允许更大规模: ok=%v err=%v", ok, err)
	}
}

func TestSetTierKeepsThresholdsOrdered(t *testing.T) {
	ctx := context.Background()
	service, _ := newRepFixture(t)

	if err := service.SetTier(ctx, repAgent, 2, TierSlot{Threshold: 60}); !errors.Is(err, ledger.ErrNotAdmin) {
		t.Fatalf("非管理员配置层级应返回 ErrNotAdmin, 实际 %v", err)
	}
	if err := service.SetTier(ctx, repAdmin, TierCount, TierSlot{}); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("越界槽位应返回 ErrInvalidTier, 实际 %v", err)
	}
	// 把层级 2 的阈值抬到层级 3 之上会破坏单调性。
	if err := service.SetTier(ctx, repAdmin, 2, TierSlot{Threshold: 80, MaxCopyLimit: 1, MaxCopiers: 1}); err == nil {
		t.Fatal("破坏单调性的配置应当被拒绝")
	}
	if err := service.SetTier(ctx, repAdmin, 2, TierSlot{Threshold: 60, MaxCopyLimit: 200_000_000_000, MaxCopiers: 80}); err != nil {
		t.Fatalf("合法配置失败: %v", err)
	}
	config, err := service.TierConfig(ctx)
	if err != nil {
		t.Fatalf("读取配置失败: %v", err)
	}
	if config[2].Threshold != 60 || config[2].MaxCopiers != 80 {
		t.Fatalf("层级配置不符: %+v", config[2])
	}
}

func TestSetVerificationKeyValidatesShape(t *testing.T) {
	ctx := context.Background()
	service, _ := newRepFixture(t)

	key, _ := trivialSetup(proofPublicInputs)
	if err := service.SetVerificationKey(ctx, repAgent, key); !errors.Is(err, ledger.ErrNotAdmin) {
		t.Fatalf("非管理员配置密钥应返回 ErrNotAdmin, 实际 %v", err)
	}
	malformed, _ := trivialSetup(5)
	if err := service.SetVerificationKey(ctx, repAdmin, malformed); err == nil {
		t.Fatal("IC 长度不符的密钥应当被拒绝")
	}
}
