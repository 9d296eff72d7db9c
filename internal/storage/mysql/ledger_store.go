package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-sql-driver/mysql"

	"AgentVault-Chain/internal/ledger"
)

const duplicateEntryErrNo = 1062

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == duplicateEntryErrNo
}

// CreateAgent 插入新代理记录，身份冲突时返回 ErrAgentExists。
func (s *Store) CreateAgent(ctx context.Context, agent *ledger.Agent) error {
	if agent == nil {
		return fmt.Errorf("agent 不能为空")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO agents
        (owner, name, stake, registered_at, total_trades, successful_trades, total_pnl, copiers, active)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		addressKey(agent.Owner), agent.Name, agent.Stake, agent.RegisteredAt,
		agent.TotalTrades, agent.SuccessfulTrades, agent.TotalPnl, agent.Copiers, agent.Active)
	if err != nil {
		if isDuplicateEntry(err) {
			return ledger.ErrAgentExists
		}
		return fmt.Errorf("写入代理记录失败: %w", err)
	}
	return nil
}

// GetAgent 按身份查询代理记录。
func (s *Store) GetAgent(ctx context.Context, owner common.Address) (*ledger.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT owner, name, stake, registered_at,
        total_trades, successful_trades, total_pnl, copiers, active
        FROM agents WHERE owner = ?`, addressKey(owner))
	return scanAgent(row)
}

// UpdateAgent 覆盖已有代理记录。
func (s *Store) UpdateAgent(ctx context.Context, agent *ledger.Agent) error {
	if agent == nil {
		return fmt.Errorf("agent 不能为空")
	}
	result, err := s.db.ExecContext(ctx, `UPDATE agents SET name = ?, stake = ?,
        total_trades = ?, successful_trades = ?, total_pnl = ?, copiers = ?, active = ?
        WHERE owner = ?`,
		agent.Name, agent.Stake, agent.TotalTrades, agent.SuccessfulTrades,
		agent.TotalPnl, agent.Copiers, agent.Active, addressKey(agent.Owner))
	if err != nil {
		return fmt.Errorf("更新代理记录失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取更新结果失败: %w", err)
	}
	if affected == 0 {
		// UPDATE 命中但字段无变化时 RowsAffected 也为 0，需再确认存在性。
		if _, getErr := s.GetAgent(ctx, agent.Owner); getErr != nil {
			return getErr
		}
	}
	return nil
}

// ListAgents 返回全部代理，按注册时间排序。
func (s *Store) ListAgents(ctx context.Context) ([]*ledger.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT owner, name, stake, registered_at,
        total_trades, successful_trades, total_pnl, copiers, active
        FROM agents ORDER BY registered_at ASC, owner ASC`)
	if err != nil {
		return nil, fmt.Errorf("查询代理列表失败: %w", err)
	}
	defer rows.Close()

	var agents []*ledger.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历代理列表失败: %w", err)
	}
	return agents, nil
}

// PutWithdrawal 保存解押请求，同一代理覆盖写。
func (s *Store) PutWithdrawal(ctx context.Context, req *ledger.WithdrawalRequest) error {
	if req == nil {
		return fmt.Errorf("withdrawal 不能为空")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO withdrawals (owner, amount, requested_at)
        VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE amount = VALUES(amount), requested_at = VALUES(requested_at)`,
		addressKey(req.Owner), req.Amount, req.RequestedAt)
	if err != nil {
		return fmt.Errorf("写入解押请求失败: %w", err)
	}
	return nil
}

// GetWithdrawal 返回代理当前的解押请求。
func (s *Store) GetWithdrawal(ctx context.Context, owner common.Address) (*ledger.WithdrawalRequest, error) {
	req := &ledger.WithdrawalRequest{}
	var ownerHex string
	err := s.db.QueryRowContext(ctx, `SELECT owner, amount, requested_at
        FROM withdrawals WHERE owner = ?`, addressKey(owner)).
		Scan(&ownerHex, &req.Amount, &req.RequestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNoWithdrawal
	}
	if err != nil {
		return nil, fmt.Errorf("查询解押请求失败: %w", err)
	}
	req.Owner = common.HexToAddress(ownerHex)
	return req, nil
}

// DeleteWithdrawal 删除代理的解押请求。
func (s *Store) DeleteWithdrawal(ctx context.Context, owner common.Address) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM withdrawals WHERE owner = ?`, addressKey(owner))
	if err != nil {
		return fmt.Errorf("删除解押请求失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取删除结果失败: %w", err)
	}
	if affected == 0 {
		return ledger.ErrNoWithdrawal
	}
	return nil
}

// GetState 返回全局状态。尚未初始化时返回零值状态。
func (s *Store) GetState(ctx context.Context) (*ledger.ProtocolState, error) {
	state := &ledger.ProtocolState{}
	var admin, pendingAdmin string
	err := s.db.QueryRowContext(ctx, `SELECT admin, pending_admin, total_staked, dispute_fund, paused
        FROM protocol_state WHERE id = 1`).
		Scan(&admin, &pendingAdmin, &state.TotalStaked, &state.DisputeFund, &state.Paused)
	if errors.Is(err, sql.ErrNoRows) {
		return &ledger.ProtocolState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询协议状态失败: %w", err)
	}
	state.Admin = common.HexToAddress(admin)
	state.PendingAdmin = common.HexToAddress(pendingAdmin)
	return state, nil
}

// PutState 覆盖全局状态。
func (s *Store) PutState(ctx context.Context, state *ledger.ProtocolState) error {
	if state == nil {
		return fmt.Errorf("state 不能为空")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO protocol_state
        (id, admin, pending_admin, total_staked, dispute_fund, paused)
        VALUES (1, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE admin = VALUES(admin), pending_admin = VALUES(pending_admin),
        total_staked = VALUES(total_staked), dispute_fund = VALUES(dispute_fund), paused = VALUES(paused)`,
		addressKey(state.Admin), addressKey(state.PendingAdmin),
		state.TotalStaked, state.DisputeFund, state.Paused)
	if err != nil {
		return fmt.Errorf("写入协议状态失败: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*ledger.Agent, error) {
	agent := &ledger.Agent{}
	var ownerHex string
	err := row.Scan(&ownerHex, &agent.Name, &agent.Stake, &agent.RegisteredAt,
		&agent.TotalTrades, &agent.SuccessfulTrades, &agent.TotalPnl, &agent.Copiers, &agent.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("解析代理记录失败: %w", err)
	}
	agent.Owner = common.HexToAddress(ownerHex)
	return agent, nil
}

// addressKey 规范化地址为小写十六进制，保证主键匹配大小写无关。
func addressKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
