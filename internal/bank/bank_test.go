package bank

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestTransferMovesBalance(t *testing.T) {
	ctx := context.Background()
	b := New()
	alice := common.HexToAddress("0x01")
	bob := common.HexToAddress("0x02")
	b.Mint(ctx, alice, 1_000)

	if err := b.Transfer(ctx, alice, bob, 400); err != nil {
		t.Fatalf("转账失败: %v", err)
	}
	if got := b.Balance(ctx, alice); got != 600 {
		t.Fatalf("alice 余额 = %d, 期望 600", got)
	}
	if got := b.Balance(ctx, bob); got != 400 {
		t.Fatalf("bob 余额 = %d, 期望 400", got)
	}
}

func TestTransferRejectsInvalidRequests(t *testing.T) {
	ctx := context.Background()
	b := New()
	alice := common.HexToAddress("0x01")
	bob := common.HexToAddress("0x02")
	b.Mint(ctx, alice, 100)

	if err := b.Transfer(ctx, alice, bob, 0); err == nil {
		t.Fatal("零金额转账应当被拒绝")
	}
	if err := b.Transfer(ctx, alice, alice, 10); err == nil {
		t.Fatal("自转账应当被拒绝")
	}
	if err := b.Transfer(ctx, alice, bob, 101); err == nil {
		t.Fatal("余额不足的转账应当被拒绝")
	}
	if got := b.Balance(ctx, alice); got != 100 {
		t.Fatalf("失败的转账不应改变余额, 当前 %d", got)
	}
}

func TestTreasuryStatsTracksFlows(t *testing.T) {
	ctx := context.Background()
	b := New()
	alice := common.HexToAddress("0x01")
	b.Mint(ctx, alice, 1_000)

	if err := b.Transfer(ctx, alice, Treasury, 300); err != nil {
		t.Fatalf("向国库转账失败: %v", err)
	}
	if err := b.Transfer(ctx, Treasury, alice, 100); err != nil {
		t.Fatalf("国库提款失败: %v", err)
	}
	b.RecordSlashed(50)

	stats := b.TreasuryStats(ctx)
	if stats.TotalFees != 300 {
		t.Fatalf("TotalFees = %d, 期望 300", stats.TotalFees)
	}
	if stats.TotalWithdrawn != 100 {
		t.Fatalf("TotalWithdrawn = %d, 期望 100", stats.TotalWithdrawn)
	}
	if stats.TotalSlashed != 50 {
		t.Fatalf("TotalSlashed = %d, 期望 50", stats.TotalSlashed)
	}
}

func TestModuleAccountsAreDistinct(t *testing.T) {
	accounts := []common.Address{StakePool, EscrowPool, DisputeFund, Treasury}
	seen := make(map[common.Address]bool)
	for _, account := range accounts {
		if account == (common.Address{}) {
			t.Fatal("模块账户地址不应为零地址")
		}
		if seen[account] {
			t.Fatalf("模块账户地址冲突: %s", account.Hex())
		}
		seen[account] = true
	}
}
