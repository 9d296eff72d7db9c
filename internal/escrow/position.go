package escrow

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentVault-Chain/internal/errors"
)

// CopyPosition 描述一笔时间锁定的跟单托管仓位。
// 仓位从开仓（Active）到平仓（非 Active）严格只迁移一次；
// 争议标记与生命周期正交，至多置位一次。
type CopyPosition struct {
	ID           uint64         `json:"id"`
	User         common.Address `json:"user"`
	Agent        common.Address `json:"agent"`
	Deposit      uint64         `json:"deposit"`
	CurrentValue uint64         `json:"current_value"`
	MinReturnBps int32          `json:"min_return_bps"`
	StartAt      int64          `json:"start_at"`
	EndAt        int64          `json:"end_at"`
	ClosedAt     int64          `json:"closed_at,omitempty"`
	Active       bool           `json:"active"`
	Disputed     bool           `json:"disputed"`
}

// RequiredValue 返回达到约定最低回报所需的仓位价值。
func (p *CopyPosition) RequiredValue() uint64 {
	// MinReturnBps 的合法区间使乘数落在 [5000, 20000]，uint64 不会溢出。
	return p.Deposit * uint64(10_000+p.MinReturnBps) / 10_000
}

// Dispute 描述针对某个仓位的争议记录。
type Dispute struct {
	ID         uint64         `json:"id"`
	PositionID uint64         `json:"position_id"`
	User       common.Address `json:"user"`
	Agent      common.Address `json:"agent"`
	Fee        uint64         `json:"fee"`
	Resolved   bool           `json:"resolved"`
	UserWon    bool           `json:"user_won"`
	FiledAt    int64          `json:"filed_at"`
	ResolvedAt int64          `json:"resolved_at,omitempty"`
}

// VaultStats 汇总托管层的整体规模。
type VaultStats struct {
	TotalPositions  uint64 `json:"total_positions"`
	ActivePositions uint64 `json:"active_positions"`
	TotalDisputes   uint64 `json:"total_disputes"`
	OpenDisputes    uint64 `json:"open_disputes"`
	TotalDeposits   uint64 `json:"total_deposits"`
	TotalFees       uint64 `json:"total_fees"`
}

var (
	// ErrPositionNotFound 表示仓位不存在。
	ErrPositionNotFound = xerrors.New(CodePositionNotFound, "position not found")
	// ErrPositionClosed 表示仓位已经平仓。
	ErrPositionClosed = xerrors.New(CodePositionClosed, "position already closed")
	// ErrPositionLocked 表示锁定期尚未结束。
	ErrPositionLocked = xerrors.New(CodePositionLocked, "position still locked")
	// ErrNotPositionOwner 表示调用者不是仓位持有人。
	ErrNotPositionOwner = xerrors.New(xerrors.CodePermissionDenied, "caller does not own the position")
	// ErrAlreadyDisputed 表示仓位已处于争议状态。
	ErrAlreadyDisputed = xerrors.New(CodeAlreadyDisputed, "position already disputed")
	// ErrDisputePending 表示存在未裁决的争议，平仓被阻塞。
	ErrDisputePending = xerrors.New(CodeDisputePending, "unresolved dispute blocks close")
	// ErrDisputeNotFound 表示争议记录不存在。
	ErrDisputeNotFound = xerrors.New(CodeDisputeNotFound, "dispute not found")
	// ErrDisputeResolved 表示争议已经裁决过。
	ErrDisputeResolved = xerrors.New(CodeDisputeResolved, "dispute already resolved")
	// ErrNotResolver 表示调用者不是争议裁决身份。
	ErrNotResolver = xerrors.New(xerrors.CodePermissionDenied, "caller is not the resolver")
	// ErrAgentNotActive 表示目标代理未注册或已停用。
	ErrAgentNotActive = xerrors.New(xerrors.CodeFailedPrecondition, "agent not active")
	// ErrFeeTooLow 表示争议费低于下限。
	ErrFeeTooLow = xerrors.New(xerrors.CodeInvalidArgument, "dispute fee below minimum")
	// ErrGraceNotElapsed 表示紧急提取的宽限期尚未结束。
	ErrGraceNotElapsed = xerrors.New(xerrors.CodeFailedPrecondition, "emergency grace period not elapsed")
)

const (
	CodePositionNotFound xerrors.Code = "POSITION_NOT_FOUND"
	CodePositionClosed   xerrors.Code = "POSITION_CLOSED"
	CodePositionLocked   xerrors.Code = "POSITION_LOCKED"
	CodeAlreadyDisputed  xerrors.Code = "POSITION_ALREADY_DISPUTED"
	CodeDisputePending   xerrors.Code = "DISPUTE_PENDING"
	CodeDisputeNotFound  xerrors.Code = "DISPUTE_NOT_FOUND"
	CodeDisputeResolved  xerrors.Code = "DISPUTE_RESOLVED"
)

func init() {
	xerrors.Register(CodePositionNotFound, xerrors.Attributes{
		Message:   "position not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePositionClosed, xerrors.Attributes{
		Message:   "position already closed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePositionLocked, xerrors.Attributes{
		Message:   "position still locked",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeAlreadyDisputed, xerrors.Attributes{
		Message:   "position already disputed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeDisputePending, xerrors.Attributes{
		Message:   "unresolved dispute blocks close",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeDisputeNotFound, xerrors.Attributes{
		Message:   "dispute not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeDisputeResolved, xerrors.Attributes{
		Message:   "dispute already resolved",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

func clonePosition(p *CopyPosition) *CopyPosition {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

func cloneDispute(d *Dispute) *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	return &clone
}
