package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentVault-Chain/internal/bank"
	"AgentVault-Chain/internal/escrow"
	"AgentVault-Chain/internal/events"
	"AgentVault-Chain/internal/ledger"
	"AgentVault-Chain/internal/reputation"
)

const (
	ownerHex = "0x0000000000000000000000000000000000000001"
	userHex  = "0x0000000000000000000000000000000000000002"
	adminHex = "0x00000000000000000000000000000000000000ab"
	vaultHex = "0x00000000000000000000000000000000000000aa"
)

func newTestServer(t *testing.T) (*Server, *bank.Bank) {
	t.Helper()
	ctx := context.Background()
	b := bank.New()
	publisher := events.NewMemoryPublisher()
	vault := common.HexToAddress(vaultHex)

	ledgerSvc := ledger.NewService(ledger.NewMemoryStore(), b, publisher, ledger.DefaultParams(), vault)
	if err := ledgerSvc.Bootstrap(ctx, common.HexToAddress(adminHex)); err != nil {
		t.Fatalf("初始化管理员失败: %v", err)
	}
	escrowSvc := escrow.NewService(escrow.NewMemoryStore(), b, ledgerSvc, publisher, escrow.DefaultParams(), vault, common.HexToAddress(adminHex))
	reputationSvc := reputation.NewService(reputation.NewMemoryStore(), ledgerSvc, publisher)

	server := NewServer(":0", Services{
		Ledger:     ledgerSvc,
		Escrow:     escrowSvc,
		Reputation: reputationSvc,
		Bank:       b,
	})
	b.Mint(ctx, common.HexToAddress(ownerHex), 1_000_000_000)
	b.Mint(ctx, common.HexToAddress(userHex), 1_000_000_000)
	return server, b
}

func doRequest(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func registerAgent(t *testing.T, server *Server) {
	t.Helper()
	rec := doRequest(t, server, http.MethodPost, "/api/v1/agents",
		`{"owner":"`+ownerHex+`","name":"alpha_trader","stake":200000000}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("注册代理失败: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterAndGetAgent(t *testing.T) {
	server, _ := newTestServer(t)
	registerAgent(t, server)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/agents/"+ownerHex, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("查询代理失败: %d %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Name           string `json:"name"`
		Stake          uint64 `json:"stake"`
		SuccessRateBps uint64 `json:"success_rate_bps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if payload.Name != "alpha_trader" || payload.Stake != 200_000_000 {
		t.Fatalf("响应不符: %+v", payload)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/v1/agents/"+userHex, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("未注册代理应返回 404, 实际 %d", rec.Code)
	}
	rec = doRequest(t, server, http.MethodGet, "/api/v1/agents/not-an-address", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("非法地址应返回 400, 实际 %d", rec.Code)
	}
}

func TestRegisterAgentConflict(t *testing.T) {
	server, _ := newTestServer(t)
	registerAgent(t, server)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/agents",
		`{"owner":"`+ownerHex+`","name":"alpha_trader","stake":200000000}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("重复注册应返回 409, 实际 %d %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if payload.Error.Code != "AGENT_EXISTS" {
		t.Fatalf("错误码 = %q, 期望 AGENT_EXISTS", payload.Error.Code)
	}
}

func TestOpenAndQueryPosition(t *testing.T) {
	server, _ := newTestServer(t)
	registerAgent(t, server)

	lockSeconds := int64((30 * 24 * time.Hour).Seconds())
	rec := doRequest(t, server, http.MethodPost, "/api/v1/positions",
		`{"user":"`+userHex+`","agent":"`+ownerHex+`","deposit":10000000,"min_return_bps":500,"lock_seconds":`+
			strconv.FormatInt(lockSeconds, 10)+`}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("开仓失败: %d %s", rec.Code, rec.Body.String())
	}
	var position struct {
		ID      uint64 `json:"id"`
		Deposit uint64 `json:"deposit"`
		Active  bool   `json:"active"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &position); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if position.ID != 1 || !position.Active {
		t.Fatalf("仓位不符: %+v", position)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/v1/positions/1/closable", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("查询可平仓状态失败: %d", rec.Code)
	}
	var closable struct {
		Closable bool   `json:"closable"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &closable); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if closable.Closable || closable.Reason != "lock period not elapsed" {
		t.Fatalf("锁定期内: %+v", closable)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/v1/positions?user="+userHex, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("查询仓位列表失败: %d", rec.Code)
	}
	rec = doRequest(t, server, http.MethodPost, "/api/v1/positions/1/close",
		`{"caller":"`+userHex+`"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("锁定期内平仓应返回 422, 实际 %d %s", rec.Code, rec.Body.String())
	}
}

func TestAdminRoutes(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/protocol/pause",
		`{"caller":"`+userHex+`"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("非管理员暂停应返回 403, 实际 %d", rec.Code)
	}
	rec = doRequest(t, server, http.MethodPost, "/api/v1/protocol/pause",
		`{"caller":"`+adminHex+`"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("暂停失败: %d %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, server, http.MethodGet, "/api/v1/protocol/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("查询状态失败: %d", rec.Code)
	}
	var state struct {
		Paused bool `json:"paused"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if !state.Paused {
		t.Fatal("协议应处于暂停状态")
	}
	rec = doRequest(t, server, http.MethodPost, "/api/v1/protocol/unpause",
		`{"caller":"`+adminHex+`"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("恢复失败: %d", rec.Code)
	}
}

func TestReputationRoutes(t *testing.T) {
	server, _ := newTestServer(t)
	registerAgent(t, server)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/reputation/"+ownerHex, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("查询层级状态失败: %d", rec.Code)
	}
	var status struct {
		Tier uint8 `json:"tier"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if status.Tier != 0 {
		t.Fatalf("初始层级 = %d, 期望 0", status.Tier)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/v1/reputation/"+ownerHex+"/limits", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("查询准入上限失败: %d", rec.Code)
	}
	var limits struct {
		MaxCopyLimit uint64 `json:"max_copy_limit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &limits); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if limits.MaxCopyLimit != 10_000_000_000 {
		t.Fatalf("层级 0 上限 = %d", limits.MaxCopyLimit)
	}

	// 证明路径缺失密钥时返回可区分的前置条件错误。
	rec = doRequest(t, server, http.MethodPost, "/api/v1/reputation/prove",
		`{"caller":"`+ownerHex+`","tier":2,"commitment":"123","proof":{},"public_inputs":["50","123"]}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("缺失密钥应返回 422, 实际 %d %s", rec.Code, rec.Body.String())
	}
}
