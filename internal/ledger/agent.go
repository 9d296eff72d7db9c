package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentVault-Chain/internal/errors"
)

// Agent 描述一个以质押作为信用背书的策略代理账户。
type Agent struct {
	Owner            common.Address `json:"owner"`
	Name             string         `json:"name"`
	Stake            uint64         `json:"stake"`
	RegisteredAt     int64          `json:"registered_at"`
	TotalTrades      uint64         `json:"total_trades"`
	SuccessfulTrades uint64         `json:"successful_trades"`
	TotalPnl         int64          `json:"total_pnl"`
	Copiers          uint32         `json:"copiers"`
	Active           bool           `json:"active"`
}

// SuccessRate 返回以基点计的胜率。没有任何交易时返回 0。
func (a *Agent) SuccessRate() uint64 {
	if a == nil || a.TotalTrades == 0 {
		return 0
	}
	return a.SuccessfulTrades * 10_000 / a.TotalTrades
}

// WithdrawalRequest 描述一条待执行的解押请求。每个代理同时至多一条。
type WithdrawalRequest struct {
	Owner       common.Address `json:"owner"`
	Amount      uint64         `json:"amount"`
	RequestedAt int64          `json:"requested_at"`
}

// ProtocolState 保存台账级别的全局状态。
type ProtocolState struct {
	Admin        common.Address `json:"admin"`
	PendingAdmin common.Address `json:"pending_admin"`
	TotalStaked  uint64         `json:"total_staked"`
	DisputeFund  uint64         `json:"dispute_fund"`
	Paused       bool           `json:"paused"`
}

var (
	// ErrAgentNotFound 表示代理尚未注册。
	ErrAgentNotFound = xerrors.New(CodeAgentNotFound, "agent not registered")
	// ErrAgentExists 表示该身份已经注册过代理。
	ErrAgentExists = xerrors.New(CodeAgentExists, "agent already registered")
	// ErrWithdrawalPending 表示已有解押请求排队。
	ErrWithdrawalPending = xerrors.New(CodeWithdrawalPending, "withdrawal already pending")
	// ErrNoWithdrawal 表示不存在待执行的解押请求。
	ErrNoWithdrawal = xerrors.New(CodeNoWithdrawal, "no pending withdrawal")
	// ErrHasCopiers 表示仍有跟单者跟随，禁止解押。
	ErrHasCopiers = xerrors.New(CodeHasCopiers, "agent still has active copiers")
	// ErrStakeTooLow 表示质押额低于准入下限。
	ErrStakeTooLow = xerrors.New(CodeStakeTooLow, "stake below minimum")
	// ErrDelayNotElapsed 表示解押延迟期尚未结束。
	ErrDelayNotElapsed = xerrors.New(xerrors.CodeFailedPrecondition, "withdrawal delay not elapsed")
	// ErrNotAdmin 表示调用者不是当前管理员。
	ErrNotAdmin = xerrors.New(xerrors.CodePermissionDenied, "caller is not the admin")
	// ErrNotPrivileged 表示调用者不在特权名单内。
	ErrNotPrivileged = xerrors.New(xerrors.CodePermissionDenied, "caller is not privileged")
	// ErrPaused 表示协议处于暂停状态。
	ErrPaused = xerrors.New(xerrors.CodePaused, "protocol is paused")
	// ErrInvalidName 表示代理名称不符合格式要求。
	ErrInvalidName = xerrors.New(xerrors.CodeInvalidArgument, "invalid agent name")
)

const (
	CodeAgentNotFound     xerrors.Code = "AGENT_NOT_FOUND"
	CodeAgentExists       xerrors.Code = "AGENT_EXISTS"
	CodeWithdrawalPending xerrors.Code = "WITHDRAWAL_PENDING"
	CodeNoWithdrawal      xerrors.Code = "WITHDRAWAL_NOT_FOUND"
	CodeHasCopiers        xerrors.Code = "AGENT_HAS_COPIERS"
	CodeStakeTooLow       xerrors.Code = "STAKE_TOO_LOW"
	CodeAgentSlashed      xerrors.Code = "AGENT_SLASHED"
)

func init() {
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:   "agent not registered",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeAgentExists, xerrors.Attributes{
		Message:   "agent already registered",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeWithdrawalPending, xerrors.Attributes{
		Message:   "withdrawal already pending",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeNoWithdrawal, xerrors.Attributes{
		Message:   "no pending withdrawal",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeHasCopiers, xerrors.Attributes{
		Message:   "agent still has active copiers",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeStakeTooLow, xerrors.Attributes{
		Message:   "stake below minimum",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeAgentSlashed, xerrors.Attributes{
		Message:   "agent stake slashed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
}

// ValidName 校验代理名称：3-32 个字符，仅允许字母、数字与下划线。
func ValidName(name string) bool {
	if len(name) < 3 || len(name) > 32 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}

func cloneAgent(agent *Agent) *Agent {
	if agent == nil {
		return nil
	}
	clone := *agent
	return &clone
}
