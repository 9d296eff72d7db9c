package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"AgentVault-Chain/internal/escrow"
)

// CreatePosition 插入新仓位并回填自增编号。
func (s *Store) CreatePosition(ctx context.Context, position *escrow.CopyPosition) error {
	if position == nil {
		return fmt.Errorf("position 不能为空")
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO positions
        (user, agent, deposit, current_value, min_return_bps, start_at, end_at, closed_at, active, disputed)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		addressKey(position.User), addressKey(position.Agent), position.Deposit, position.CurrentValue,
		position.MinReturnBps, position.StartAt, position.EndAt, position.ClosedAt,
		position.Active, position.Disputed)
	if err != nil {
		return fmt.Errorf("写入仓位失败: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("读取仓位编号失败: %w", err)
	}
	position.ID = uint64(id)
	return nil
}

// GetPosition 按编号查询仓位。
func (s *Store) GetPosition(ctx context.Context, id uint64) (*escrow.CopyPosition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, user, agent, deposit, current_value,
        min_return_bps, start_at, end_at, closed_at, active, disputed
        FROM positions WHERE id = ?`, id)
	return scanPosition(row)
}

// UpdatePosition 覆盖已有仓位记录。
func (s *Store) UpdatePosition(ctx context.Context, position *escrow.CopyPosition) error {
	if position == nil {
		return fmt.Errorf("position 不能为空")
	}
	result, err := s.db.ExecContext(ctx, `UPDATE positions SET current_value = ?,
        closed_at = ?, active = ?, disputed = ? WHERE id = ?`,
		position.CurrentValue, position.ClosedAt, position.Active, position.Disputed, position.ID)
	if err != nil {
		return fmt.Errorf("更新仓位失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取更新结果失败: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetPosition(ctx, position.ID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// ListPositionsByUser 返回某用户的全部仓位，按编号升序。
func (s *Store) ListPositionsByUser(ctx context.Context, user common.Address) ([]*escrow.CopyPosition, error) {
	return s.listPositions(ctx, `SELECT id, user, agent, deposit, current_value,
        min_return_bps, start_at, end_at, closed_at, active, disputed
        FROM positions WHERE user = ? ORDER BY id ASC`, addressKey(user))
}

// ListActivePositionsByUser 返回某用户仍活跃的仓位，按编号升序。
func (s *Store) ListActivePositionsByUser(ctx context.Context, user common.Address) ([]*escrow.CopyPosition, error) {
	return s.listPositions(ctx, `SELECT id, user, agent, deposit, current_value,
        min_return_bps, start_at, end_at, closed_at, active, disputed
        FROM positions WHERE user = ? AND active = TRUE ORDER BY id ASC`, addressKey(user))
}

func (s *Store) listPositions(ctx context.Context, query string, args ...any) ([]*escrow.CopyPosition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询仓位列表失败: %w", err)
	}
	defer rows.Close()

	var positions []*escrow.CopyPosition
	for rows.Next() {
		position, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历仓位列表失败: %w", err)
	}
	return positions, nil
}

// CreateDispute 插入新争议并回填自增编号。同一仓位重复立案时返回 ErrAlreadyDisputed。
func (s *Store) CreateDispute(ctx context.Context, dispute *escrow.Dispute) error {
	if dispute == nil {
		return fmt.Errorf("dispute 不能为空")
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO disputes
        (position_id, user, agent, fee, resolved, user_won, filed_at, resolved_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		dispute.PositionID, addressKey(dispute.User), addressKey(dispute.Agent),
		dispute.Fee, dispute.Resolved, dispute.UserWon, dispute.FiledAt, dispute.ResolvedAt)
	if err != nil {
		if isDuplicateEntry(err) {
			return escrow.ErrAlreadyDisputed
		}
		return fmt.Errorf("写入争议失败: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("读取争议编号失败: %w", err)
	}
	dispute.ID = uint64(id)
	return nil
}

// GetDispute 按编号查询争议。
func (s *Store) GetDispute(ctx context.Context, id uint64) (*escrow.Dispute, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, position_id, user, agent, fee,
        resolved, user_won, filed_at, resolved_at
        FROM disputes WHERE id = ?`, id)
	return scanDispute(row)
}

// GetDisputeByPosition 按仓位编号查询争议。
func (s *Store) GetDisputeByPosition(ctx context.Context, positionID uint64) (*escrow.Dispute, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, position_id, user, agent, fee,
        resolved, user_won, filed_at, resolved_at
        FROM disputes WHERE position_id = ?`, positionID)
	return scanDispute(row)
}

// UpdateDispute 覆盖已有争议记录。
func (s *Store) UpdateDispute(ctx context.Context, dispute *escrow.Dispute) error {
	if dispute == nil {
		return fmt.Errorf("dispute 不能为空")
	}
	result, err := s.db.ExecContext(ctx, `UPDATE disputes SET resolved = ?, user_won = ?,
        resolved_at = ? WHERE id = ?`,
		dispute.Resolved, dispute.UserWon, dispute.ResolvedAt, dispute.ID)
	if err != nil {
		return fmt.Errorf("更新争议失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取更新结果失败: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetDispute(ctx, dispute.ID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// Stats 通过聚合查询汇总托管层规模。
func (s *Store) Stats(ctx context.Context) (escrow.VaultStats, error) {
	var stats escrow.VaultStats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
        COALESCE(SUM(active = TRUE), 0), COALESCE(SUM(deposit), 0)
        FROM positions`).
		Scan(&stats.TotalPositions, &stats.ActivePositions, &stats.TotalDeposits)
	if err != nil {
		return escrow.VaultStats{}, fmt.Errorf("统计仓位失败: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*),
        COALESCE(SUM(resolved = FALSE), 0), COALESCE(SUM(fee), 0)
        FROM disputes`).
		Scan(&stats.TotalDisputes, &stats.OpenDisputes, &stats.TotalFees)
	if err != nil {
		return escrow.VaultStats{}, fmt.Errorf("统计争议失败: %w", err)
	}
	return stats, nil
}

func scanPosition(row rowScanner) (*escrow.CopyPosition, error) {
	position := &escrow.CopyPosition{}
	var userHex, agentHex string
	err := row.Scan(&position.ID, &userHex, &agentHex, &position.Deposit, &position.CurrentValue,
		&position.MinReturnBps, &position.StartAt, &position.EndAt, &position.ClosedAt,
		&position.Active, &position.Disputed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, escrow.ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("解析仓位记录失败: %w", err)
	}
	position.User = common.HexToAddress(userHex)
	position.Agent = common.HexToAddress(agentHex)
	return position, nil
}

func scanDispute(row rowScanner) (*escrow.Dispute, error) {
	dispute := &escrow.Dispute{}
	var userHex, agentHex string
	err := row.Scan(&dispute.ID, &dispute.PositionID, &userHex, &agentHex, &dispute.Fee,
		&dispute.Resolved, &dispute.UserWon, &dispute.FiledAt, &dispute.ResolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, escrow.ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("解析争议记录失败: %w", err)
	}
	dispute.User = common.HexToAddress(userHex)
	dispute.Agent = common.HexToAddress(agentHex)
	return dispute, nil
}
