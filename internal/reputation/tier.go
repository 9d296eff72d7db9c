package reputation

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentVault-Chain/internal/errors"
)

// TierCount 是信誉层级表的固定槽位数。层级 0 是未验证的默认层级。
const TierCount = 5

// proofPublicInputs 是信誉电路的公共输入个数：层级阈值与分数承诺。
const proofPublicInputs = 2

// TierSlot 描述单个信誉层级的准入参数。
type TierSlot struct {
	// Threshold 是证明进入该层级所需的最低信誉分。
	Threshold uint64 `json:"threshold"`
	// MaxCopyLimit 是该层级允许管理的最大跟单资金总额。
	MaxCopyLimit uint64 `json:"max_copy_limit"`
	// MaxCopiers 是该层级允许的最大跟单者数量。
	MaxCopiers uint32 `json:"max_copiers"`
}

// TierConfig 是 5 档层级的有序配置表，阈值单调不减。
type TierConfig [TierCount]TierSlot

// DefaultTierConfig 返回默认层级表。
func DefaultTierConfig() TierConfig {
	return TierConfig{
		{Threshold: 0, MaxCopyLimit: 10_000_000_000, MaxCopiers: 10},
		{Threshold: 25, MaxCopyLimit: 50_000_000_000, MaxCopiers: 25},
		{Threshold: 50, MaxCopyLimit: 100_000_000_000, MaxCopiers: 50},
		{Threshold: 75, MaxCopyLimit: 500_000_000_000, MaxCopiers: 100},
		{Threshold: 90, MaxCopyLimit: 1_000_000_000_000, MaxCopiers: 500},
	}
}

// AgentTierStatus 记录代理当前已验证的层级。
type AgentTierStatus struct {
	Agent      common.Address `json:"agent"`
	Tier       uint8          `json:"tier"`
	VerifiedAt int64          `json:"verified_at"`
}

// CopyLimits 是某一层级生效的准入上限。
type CopyLimits struct {
	MaxCopyLimit uint64 `json:"max_copy_limit"`
	MaxCopiers   uint32 `json:"max_copiers"`
}

// 准入拒绝原因。
const (
	ReasonCopyLimit   = "exceeds copy limit for tier"
	ReasonCopierLimit = "exceeds copier limit for tier"
)

var (
	// ErrProofRejected 是所有证明失败的唯一对外错误，
	// 不区分失败原因，避免泄露验证细节。
	ErrProofRejected = xerrors.New(xerrors.CodeProofRejected, "proof rejected")
	// ErrInvalidTier 表示目标层级超出可证明范围。
	ErrInvalidTier = xerrors.New(xerrors.CodeInvalidArgument, "invalid tier index")
	// ErrInputMismatch 表示公共输入与声称的层级/承诺不一致。
	ErrInputMismatch = xerrors.New(xerrors.CodeInvalidArgument, "mismatched proof inputs")
	// ErrTierNotHigher 表示目标层级不高于当前已验证层级。
	ErrTierNotHigher = xerrors.New(CodeTierNotHigher, "tier not strictly higher")
	// ErrNoVerificationKey 表示验证密钥尚未配置。
	ErrNoVerificationKey = xerrors.New(xerrors.CodeFailedPrecondition, "verification key not configured")
)

const (
	CodeTierNotHigher xerrors.Code = "TIER_NOT_HIGHER"
)

func init() {
	xerrors.Register(CodeTierNotHigher, xerrors.Attributes{
		Message:   "tier not strictly higher",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}
