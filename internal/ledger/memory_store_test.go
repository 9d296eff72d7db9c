package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestMemoryStoreAgentLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	owner := common.HexToAddress("0x01")

	if _, err := store.GetAgent(ctx, owner); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("未注册代理应返回 ErrAgentNotFound, 实际 %v", err)
	}
	agent := &Agent{Owner: owner, Name: "alpha_trader", Stake: 100, RegisteredAt: 10, Active: true}
	if err := store.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("建档失败: %v", err)
	}
	if err := store.CreateAgent(ctx, agent); !errors.Is(err, ErrAgentExists) {
		t.Fatalf("重复建档应返回 ErrAgentExists, 实际 %v", err)
	}

	// 读出的记录是副本，修改不应影响存储。
	loaded, err := store.GetAgent(ctx, owner)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	loaded.Stake = 999
	reloaded, err := store.GetAgent(ctx, owner)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if reloaded.Stake != 100 {
		t.Fatalf("存储中的质押被外部修改污染: %d", reloaded.Stake)
	}

	loaded.Stake = 200
	if err := store.UpdateAgent(ctx, loaded); err != nil {
		t.Fatalf("更新失败: %v", err)
	}
	reloaded, err = store.GetAgent(ctx, owner)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if reloaded.Stake != 200 {
		t.Fatalf("更新后的质押 = %d, 期望 200", reloaded.Stake)
	}
}

func TestMemoryStoreListAgentsOrdered(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	registeredAts := []int64{30, 10, 20}
	for i, registeredAt := range registeredAts {
		agent := &Agent{
			Owner:        common.BytesToAddress([]byte{byte(i + 1)}),
			Name:         "agent",
			RegisteredAt: registeredAt,
		}
		if err := store.CreateAgent(ctx, agent); err != nil {
			t.Fatalf("建档失败: %v", err)
		}
	}

	agents, err := store.ListAgents(ctx)
	if err != nil {
		t.Fatalf("列表失败: %v", err)
	}
	if len(agents) != 3 {
		t.Fatalf("代理数量 = %d, 期望 3", len(agents))
	}
	for i := 1; i < len(agents); i++ {
		if agents[i-1].RegisteredAt > agents[i].RegisteredAt {
			t.Fatalf("列表未按注册时间排序: %d 在 %d 之前", agents[i-1].RegisteredAt, agents[i].RegisteredAt)
		}
	}
}

func TestMemoryStoreWithdrawals(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	owner := common.HexToAddress("0x01")

	if _, err := store.GetWithdrawal(ctx, owner); !errors.Is(err, ErrNoWithdrawal) {
		t.Fatalf("不存在的请求应返回 ErrNoWithdrawal, 实际 %v", err)
	}
	req := &WithdrawalRequest{Owner: owner, Amount: 100, RequestedAt: 10}
	if err := store.PutWithdrawal(ctx, req); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	loaded, err := store.GetWithdrawal(ctx, owner)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if loaded.Amount != 100 || loaded.RequestedAt != 10 {
		t.Fatalf("请求内容不符: %+v", loaded)
	}
	if err := store.DeleteWithdrawal(ctx, owner); err != nil {
		t.Fatalf("删除失败: %v", err)
	}
	if err := store.DeleteWithdrawal(ctx, owner); !errors.Is(err, ErrNoWithdrawal) {
		t.Fatalf("重复删除应返回 ErrNoWithdrawal, 实际 %v", err)
	}
}
