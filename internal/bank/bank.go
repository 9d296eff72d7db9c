package bank

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentVault-Chain/internal/errors"
)

// 模块账户地址由固定标签派生，保证各环境一致。
var (
	StakePool   = moduleAccount("agentvault/stake-pool")
	EscrowPool  = moduleAccount("agentvault/escrow-pool")
	DisputeFund = moduleAccount("agentvault/dispute-fund")
	Treasury    = moduleAccount("agentvault/treasury")
)

func moduleAccount(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(label))[12:])
}

var (
	// ErrInsufficientFunds 表示转账方余额不足。
	ErrInsufficientFunds = xerrors.New(xerrors.CodeTransferFailed, "insufficient balance")
	// ErrReentrantTransfer 表示在一次转账完成前发起了嵌套转账。
	ErrReentrantTransfer = xerrors.New(xerrors.CodeTransferFailed, "re-entrant transfer rejected")
	// ErrSelfTransfer 表示转账双方为同一账户。
	ErrSelfTransfer = xerrors.New(xerrors.CodeInvalidArgument, "transfer to self")
	// ErrZeroAmount 表示转账金额为零。
	ErrZeroAmount = xerrors.New(xerrors.CodeInvalidArgument, "transfer amount must be positive")
)

// TreasuryStats 记录国库的累计资金流水。
type TreasuryStats struct {
	TotalFees      uint64 `json:"total_fees"`
	TotalSlashed   uint64 `json:"total_slashed"`
	TotalWithdrawn uint64 `json:"total_withdrawn"`
}

// Bank 是进程内的确定性价值账本。所有质押、托管与罚没资金流
// 都经由它完成，转账要么全部生效要么全部不生效。
type Bank struct {
	mu       sync.Mutex
	balances map[common.Address]uint64
	treasury TreasuryStats
	inFlight bool
}

// New 创建一个空账本。
func New() *Bank {
	return &Bank{balances: make(map[common.Address]uint64)}
}

// Mint 为账户铸造余额，仅用于初始注资与测试。
func (b *Bank) Mint(_ context.Context, account common.Address, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[account] += amount
}

// Balance 返回账户当前余额。
func (b *Bank) Balance(_ context.Context, account common.Address) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[account]
}

// Transfer 在两个账户之间原子地转移余额。
// 单次转账执行期间拒绝任何嵌套转账，防止重入式的资金流。
func (b *Bank) Transfer(_ context.Context, from, to common.Address, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	if from == to {
		return ErrSelfTransfer
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inFlight {
		return ErrReentrantTransfer
	}
	b.inFlight = true
	defer func() { b.inFlight = false }()

	balance := b.balances[from]
	if balance < amount {
		return xerrors.Wrap(xerrors.CodeTransferFailed, ErrInsufficientFunds,
			"insufficient balance",
			xerrors.WithMetadata("from", from.Hex()),
			xerrors.WithMetadata("to", to.Hex()))
	}
	b.balances[from] = balance - amount
	b.balances[to] += amount

	if to == Treasury {
		b.treasury.TotalFees += amount
	}
	if from == Treasury {
		b.treasury.TotalWithdrawn += amount
	}
	return nil
}

// RecordSlashed 累计罚没金额。罚没资金进入争议基金账户，
// 账本层面与普通转账无法区分，由质押台账在罚没路径显式记账。
func (b *Bank) RecordSlashed(amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.treasury.TotalSlashed += amount
}

// TreasuryStats 返回国库累计流水的快照。
func (b *Bank) TreasuryStats(_ context.Context) TreasuryStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.treasury
}
