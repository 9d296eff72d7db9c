package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentVault-Chain/internal/auth"
	"AgentVault-Chain/internal/bank"
	xerrors "AgentVault-Chain/internal/errors"
	"AgentVault-Chain/internal/escrow"
	"AgentVault-Chain/internal/ledger"
	"AgentVault-Chain/internal/observability/metrics"
	"AgentVault-Chain/internal/reputation"
)

// 路由权限名称。
const (
	PermProtocolRead  = "protocol:read"
	PermAgentWrite    = "agent:write"
	PermPositionWrite = "position:write"
	PermOracleWrite   = "oracle:write"
	PermAdminWrite    = "admin:write"
)

// Services 汇总 API 层依赖的全部领域服务。
type Services struct {
	Ledger     *ledger.Service
	Escrow     *escrow.Service
	Reputation *reputation.Service
	Bank       *bank.Bank
	Auth       *auth.Service
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr     string
	services Services
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, services Services) *Server {
	return &Server{addr: addr, services: services}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 组装全部路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	guard := func(write string, handler http.HandlerFunc) http.Handler {
		instrumented := instrument(handler)
		if s.services.Auth == nil || s.services.Auth.Mode() == auth.ModeDisabled {
			return instrumented
		}
		middleware := s.services.Auth.Middleware(auth.MiddlewareConfig{
			RequiredPermissions: map[string][]string{
				http.MethodGet:    {PermProtocolRead},
				http.MethodPost:   {write},
				http.MethodPut:    {write},
				http.MethodDelete: {write},
			},
		})
		return middleware(instrumented)
	}

	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/v1/auth/token", s.handleToken)

	mux.Handle("POST /api/v1/agents", guard(PermAgentWrite, s.handleRegisterAgent))
	mux.Handle("GET /api/v1/agents", guard("", s.handleListAgents))
	mux.Handle("GET /api/v1/agents/{owner}", guard("", s.handleGetAgent))
	mux.Handle("POST /api/v1/agents/{owner}/stake", guard(PermAgentWrite, s.handleAddStake))
	mux.Handle("POST /api/v1/agents/{owner}/withdrawals", guard(PermAgentWrite, s.handleRequestWithdrawal))
	mux.Handle("GET /api/v1/agents/{owner}/withdrawals", guard("", s.handleGetWithdrawal))
	mux.Handle("DELETE /api/v1/agents/{owner}/withdrawals", guard(PermAgentWrite, s.handleCancelWithdrawal))
	mux.Handle("POST /api/v1/agents/{owner}/withdrawals/execute", guard(PermAgentWrite, s.handleExecuteWithdrawal))
	mux.Handle("POST /api/v1/agents/{owner}/deactivate", guard(PermAgentWrite, s.handleDeactivate))
	mux.Handle("POST /api/v1/agents/{owner}/reactivate", guard(PermAgentWrite, s.handleReactivate))

	mux.Handle("POST /api/v1/positions", guard(PermPositionWrite, s.handleOpenPosition))
	mux.Handle("GET /api/v1/positions", guard("", s.handleListPositions))
	mux.Handle("GET /api/v1/positions/{id}", guard("", s.handleGetPosition))
	mux.Handle("GET /api/v1/positions/{id}/closable", guard("", s.handleCanClose))
	mux.Handle("POST /api/v1/positions/{id}/close", guard(PermPositionWrite, s.handleClosePosition))
	mux.Handle("POST /api/v1/positions/{id}/disputes", guard(PermPositionWrite, s.handleFileDispute))
	mux.Handle("POST /api/v1/positions/{id}/value", guard(PermOracleWrite, s.handleUpdateValue))
	mux.Handle("POST /api/v1/positions/values", guard(PermOracleWrite, s.handleUpdateValues))
	mux.Handle("POST /api/v1/positions/{id}/emergency", guard(PermAdminWrite, s.handleEmergencyWithdraw))

	mux.Handle("GET /api/v1/disputes/{id}", guard("", s.handleGetDispute))
	mux.Handle("POST /api/v1/disputes/{id}/resolve", guard(PermOracleWrite, s.handleResolveDispute))

	mux.Handle("POST /api/v1/reputation/prove", guard(PermAgentWrite, s.handleProveReputation))
	mux.Handle("GET /api/v1/reputation/tiers", guard("", s.handleGetTierConfig))
	mux.Handle("PUT /api/v1/reputation/tiers/{index}", guard(PermAdminWrite, s.handleSetTier))
	mux.Handle("PUT /api/v1/reputation/key", guard(PermAdminWrite, s.handleSetVerificationKey))
	mux.Handle("GET /api/v1/reputation/{agent}", guard("", s.handleGetTierStatus))
	mux.Handle("GET /api/v1/reputation/{agent}/limits", guard("", s.handleGetCopyLimits))

	mux.Handle("GET /api/v1/protocol/state", guard("", s.handleGetState))
	mux.Handle("GET /api/v1/protocol/stats", guard("", s.handleGetStats))
	mux.Handle("POST /api/v1/protocol/pause", guard(PermAdminWrite, s.handlePause))
	mux.Handle("POST /api/v1/protocol/unpause", guard(PermAdminWrite, s.handleUnpause))
	mux.Handle("POST /api/v1/protocol/admin/propose", guard(PermAdminWrite, s.handleProposeAdmin))
	mux.Handle("POST /api/v1/protocol/admin/accept", guard(PermAdminWrite, s.handleAcceptAdmin))
	mux.Handle("POST /api/v1/protocol/treasury/withdraw", guard(PermAdminWrite, s.handleWithdrawTreasury))

	return mux
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.services.Auth == nil || s.services.Auth.Mode() == auth.ModeDisabled {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	var req auth.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	pair, err := s.services.Auth.Authenticate(r.Context(), req)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner string `json:"owner"`
		Name  string `json:"name"`
		Stake uint64 `json:"stake"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	owner, ok := parseAddress(w, req.Owner)
	if !ok {
		return
	}
	agent, err := s.services.Ledger.Register(r.Context(), owner, req.Name, req.Stake)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.services.Ledger.Agents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, r.PathValue("owner"))
	if !ok {
		return
	}
	agent, err := s.services.Ledger.Agent(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*ledger.Agent
		SuccessRateBps uint64 `json:"success_rate_bps"`
	}{agent, agent.SuccessRate()})
}

func (s *Server) handleAddStake(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, r.PathValue("owner"))
	if !ok {
		return
	}
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	agent, err := s.services.Ledger.AddStake(r.Context(), owner, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, r.PathValue("owner"))
	if !ok {
		return
	}
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	withdrawal, err := s.services.Ledger.RequestWithdrawal(r.Context(), owner, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, withdrawal)
}

func (s *Server) handleGetWithdrawal(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, r.PathValue("owner"))
	if !ok {
		return
	}
	withdrawal, err := s.services.Ledger.Withdrawal(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawal)
}

func (s *Server) handleCancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, r.PathValue("owner"))
	if !ok {
		return
	}
	if err := s.services.Ledger.CancelWithdrawal(r.Context(), owner); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExecuteWithdrawal(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, r.PathValue("owner"))
	if !ok {
		return
	}
	amount, err := s.services.Ledger.ExecuteWithdrawal(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"amount": amount})
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, r.PathValue("owner"))
	if !ok {
		return
	}
	if err := s.services.Ledger.Deactivate(r.Context(), owner); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReactivate(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, r.PathValue("owner"))
	if !ok {
		return
	}
	if err := s.services.Ledger.Reactivate(r.Context(), owner); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User         string `json:"user"`
		Agent        string `json:"agent"`
		Deposit      uint64 `json:"deposit"`
		MinReturnBps int32  `json:"min_return_bps"`
		LockSeconds  int64  `json:"lock_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	user, ok := parseAddress(w, req.User)
	if !ok {
		return
	}
	agent, ok := parseAddress(w, req.Agent)
	if !ok {
		return
	}
	position, err := s.services.Escrow.OpenPosition(r.Context(), user, agent, req.Deposit, req.MinReturnBps, time.Duration(req.LockSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, position)
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	user, ok := parseAddress(w, r.URL.Query().Get("user"))
	if !ok {
		return
	}
	var (
		positions []*escrow.CopyPosition
		err       error
	)
	if r.URL.Query().Get("active") == "true" {
		positions, err = s.services.Escrow.ActivePositions(r.Context(), user)
	} else {
		positions, err = s.services.Escrow.Positions(r.Context(), user)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	position, err := s.services.Escrow.Position(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (s *Server) handleCanClose(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	closable, reason, err := s.services.Escrow.CanClosePosition(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closable": closable, "reason": reason})
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	payout, successful, err := s.services.Escrow.ClosePosition(r.Context(), caller, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payout": payout, "successful": successful})
}

func (s *Server) handleFileDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	var req struct {
		Caller string `json:"caller"`
		Fee    uint64 `json:"fee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	dispute, err := s.services.Escrow.FileDispute(r.Context(), caller, id, req.Fee)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dispute)
}

func (s *Server) handleUpdateValue(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	var req struct {
		Caller string `json:"caller"`
		Value  uint64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	if err := s.services.Escrow.UpdatePositionValue(r.Context(), caller, id, req.Value); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateValues(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller  string               `json:"caller"`
		Updates []escrow.ValueUpdate `json:"updates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	if err := s.services.Escrow.UpdatePositionValues(r.Context(), caller, req.Updates); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	payout, err := s.services.Escrow.EmergencyWithdraw(r.Context(), caller, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"payout": payout})
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	dispute, err := s.services.Escrow.Dispute(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dispute)
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	var req struct {
		Caller  string `json:"caller"`
		UserWon bool   `json:"user_won"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	if err := s.services.Escrow.ResolveDispute(r.Context(), caller, id, req.UserWon); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProveReputation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller       string           `json:"caller"`
		Tier         uint8            `json:"tier"`
		Commitment   string           `json:"commitment"`
		Proof        reputation.Proof `json:"proof"`
		PublicInputs []string         `json:"public_inputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	commitment, ok := parseBigInt(w, req.Commitment)
	if !ok {
		return
	}
	inputs := make([]*big.Int, 0, len(req.PublicInputs))
	for _, raw := range req.PublicInputs {
		input, ok := parseBigInt(w, raw)
		if !ok {
			return
		}
		inputs = append(inputs, input)
	}
	status, err := s.services.Reputation.ProveReputation(r.Context(), caller, req.Tier, commitment, &req.Proof, inputs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetTierConfig(w http.ResponseWriter, r *http.Request) {
	config, err := s.services.Reputation.TierConfig(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, config)
}

func (s *Server) handleSetTier(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 8)
	if err != nil {
		writeBadRequest(w, "非法的层级序号")
		return
	}
	var req struct {
		Caller string              `json:"caller"`
		Slot   reputation.TierSlot `json:"slot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	if err := s.services.Reputation.SetTier(r.Context(), caller, uint8(index), req.Slot); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetVerificationKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string                     `json:"caller"`
		Key    reputation.VerificationKey `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	if err := s.services.Reputation.SetVerificationKey(r.Context(), caller, &req.Key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTierStatus(w http.ResponseWriter, r *http.Request) {
	agent, ok := parseAddress(w, r.PathValue("agent"))
	if !ok {
		return
	}
	status, err := s.services.Reputation.Status(r.Context(), agent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetCopyLimits(w http.ResponseWriter, r *http.Request) {
	agent, ok := parseAddress(w, r.PathValue("agent"))
	if !ok {
		return
	}
	limits, err := s.services.Reputation.CopyLimits(r.Context(), agent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, limits)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := s.services.Ledger.State(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.services.Escrow.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	response := struct {
		Vault    escrow.VaultStats  `json:"vault"`
		Treasury bank.TreasuryStats `json:"treasury"`
	}{Vault: stats}
	if s.services.Bank != nil {
		response.Treasury = s.services.Bank.TreasuryStats(r.Context())
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handleCallerAction(w, r, s.services.Ledger.Pause)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.handleCallerAction(w, r, s.services.Ledger.Unpause)
}

func (s *Server) handleAcceptAdmin(w http.ResponseWriter, r *http.Request) {
	s.handleCallerAction(w, r, s.services.Ledger.AcceptAdmin)
}

func (s *Server) handleCallerAction(w http.ResponseWriter, r *http.Request, action func(context.Context, common.Address) error) {
	var req struct {
		Caller string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	if err := action(r.Context(), caller); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProposeAdmin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller    string `json:"caller"`
		Candidate string `json:"candidate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	candidate, ok := parseAddress(w, req.Candidate)
	if !ok {
		return
	}
	if err := s.services.Ledger.ProposeAdmin(r.Context(), caller, candidate); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWithdrawTreasury(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		To     string `json:"to"`
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	to, ok := parseAddress(w, req.To)
	if !ok {
		return
	}
	if err := s.services.Ledger.WithdrawTreasury(r.Context(), caller, to, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseAddress(w http.ResponseWriter, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		writeBadRequest(w, "非法的地址: "+raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseID(w http.ResponseWriter, raw string) (uint64, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeBadRequest(w, "非法的 ID: "+raw)
		return 0, false
	}
	return id, true
}

func parseBigInt(w http.ResponseWriter, raw string) (*big.Int, bool) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		writeBadRequest(w, "非法的整数: "+raw)
		return nil, false
	}
	return value, true
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]errorBody{
		"error": {Code: string(xerrors.CodeInvalidArgument), Message: message},
	})
}

// writeError 把领域错误码映射到 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodePermissionDenied:
		status = http.StatusForbidden
	case xerrors.CodeNotFound, ledger.CodeAgentNotFound, ledger.CodeNoWithdrawal,
		escrow.CodePositionNotFound, escrow.CodeDisputeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, ledger.CodeAgentExists, ledger.CodeWithdrawalPending,
		escrow.CodeAlreadyDisputed, escrow.CodeDisputeResolved:
		status = http.StatusConflict
	case xerrors.CodeFailedPrecondition, xerrors.CodePaused, xerrors.CodeTransferFailed,
		xerrors.CodeProofRejected, ledger.CodeStakeTooLow, ledger.CodeHasCopiers,
		escrow.CodePositionClosed, escrow.CodePositionLocked, escrow.CodeDisputePending,
		reputation.CodeTierNotHigher:
		status = http.StatusUnprocessableEntity
	}
	message := string(code)
	if domainErr, ok := xerrors.From(err); ok {
		message = domainErr.Message()
	}
	writeJSON(w, status, map[string]errorBody{
		"error": {Code: string(code), Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 按路由模式记录请求量、错误数与时延。
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		pattern := r.Pattern
		if pattern == "" {
			pattern = r.URL.Path
		}
		metrics.ObserveHTTPRequest(pattern, r.Method, recorder.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
