package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"AgentVault-Chain/internal/reputation"
)

// GetTierConfig 返回层级配置表。缺失的槽位回落到默认配置。
func (s *Store) GetTierConfig(ctx context.Context) (reputation.TierConfig, error) {
	config := reputation.DefaultTierConfig()
	rows, err := s.db.QueryContext(ctx, `SELECT tier_index, threshold, max_copy_limit, max_copiers
        FROM tier_config ORDER BY tier_index ASC`)
	if err != nil {
		return config, fmt.Errorf("查询层级配置失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var index uint8
		var slot reputation.TierSlot
		if err := rows.Scan(&index, &slot.Threshold, &slot.MaxCopyLimit, &slot.MaxCopiers); err != nil {
			return config, fmt.Errorf("解析层级配置失败: %w", err)
		}
		if int(index) >= reputation.TierCount {
			return config, fmt.Errorf("层级配置越界: %d", index)
		}
		config[index] = slot
	}
	if err := rows.Err(); err != nil {
		return config, fmt.Errorf("遍历层级配置失败: %w", err)
	}
	return config, nil
}

// PutTierConfig 覆盖层级配置表。
func (s *Store) PutTierConfig(ctx context.Context, config reputation.TierConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启层级配置事务失败: %w", err)
	}
	for index, slot := range config {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tier_config
            (tier_index, threshold, max_copy_limit, max_copiers)
            VALUES (?, ?, ?, ?)
            ON DUPLICATE KEY UPDATE threshold = VALUES(threshold),
            max_copy_limit = VALUES(max_copy_limit), max_copiers = VALUES(max_copiers)`,
			index, slot.Threshold, slot.MaxCopyLimit, slot.MaxCopiers); err != nil {
			tx.Rollback()
			return fmt.Errorf("写入层级配置失败: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交层级配置失败: %w", err)
	}
	return nil
}

// GetStatus 返回代理的层级状态。未验证过的代理返回层级 0。
func (s *Store) GetStatus(ctx context.Context, agent common.Address) (*reputation.AgentTierStatus, error) {
	status := &reputation.AgentTierStatus{Agent: agent}
	var agentHex string
	err := s.db.QueryRowContext(ctx, `SELECT agent, tier, verified_at
        FROM tier_status WHERE agent = ?`, addressKey(agent)).
		Scan(&agentHex, &status.Tier, &status.VerifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &reputation.AgentTierStatus{Agent: agent}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询层级状态失败: %w", err)
	}
	return status, nil
}

// PutStatus 覆盖代理的层级状态。
func (s *Store) PutStatus(ctx context.Context, status *reputation.AgentTierStatus) error {
	if status == nil {
		return fmt.Errorf("status 不能为空")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO tier_status (agent, tier, verified_at)
        VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE tier = VALUES(tier), verified_at = VALUES(verified_at)`,
		addressKey(status.Agent), status.Tier, status.VerifiedAt)
	if err != nil {
		return fmt.Errorf("写入层级状态失败: %w", err)
	}
	return nil
}

// GetVerificationKey 返回当前验证密钥。未配置时返回 ErrNoVerificationKey。
func (s *Store) GetVerificationKey(ctx context.Context) (*reputation.VerificationKey, error) {
	var alpha, beta, gamma, delta, ic []byte
	err := s.db.QueryRowContext(ctx, `SELECT alpha, beta, gamma, delta, ic
        FROM verification_key WHERE id = 1`).
		Scan(&alpha, &beta, &gamma, &delta, &ic)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reputation.ErrNoVerificationKey
	}
	if err != nil {
		return nil, fmt.Errorf("查询验证密钥失败: %w", err)
	}

	key := &reputation.VerificationKey{}
	if len(alpha) != len(key.Alpha) || len(beta) != len(key.Beta) ||
		len(gamma) != len(key.Gamma) || len(delta) != len(key.Delta) {
		return nil, fmt.Errorf("验证密钥编码长度非法")
	}
	copy(key.Alpha[:], alpha)
	copy(key.Beta[:], beta)
	copy(key.Gamma[:], gamma)
	copy(key.Delta[:], delta)

	pointSize := len(reputation.G1Point{})
	if len(ic) == 0 || len(ic)%pointSize != 0 {
		return nil, fmt.Errorf("验证密钥 IC 编码长度非法")
	}
	key.IC = make([]reputation.G1Point, len(ic)/pointSize)
	for i := range key.IC {
		copy(key.IC[i][:], ic[i*pointSize:(i+1)*pointSize])
	}
	return key, nil
}

// PutVerificationKey 覆盖验证密钥，单行存储。
func (s *Store) PutVerificationKey(ctx context.Context, key *reputation.VerificationKey) error {
	if key == nil {
		return fmt.Errorf("key 不能为空")
	}
	pointSize := len(reputation.G1Point{})
	ic := make([]byte, 0, len(key.IC)*pointSize)
	for i := range key.IC {
		ic = append(ic, key.IC[i][:]...)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO verification_key (id, alpha, beta, gamma, delta, ic)
        VALUES (1, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE alpha = VALUES(alpha), beta = VALUES(beta),
        gamma = VALUES(gamma), delta = VALUES(delta), ic = VALUES(ic)`,
		key.Alpha[:], key.Beta[:], key.Gamma[:], key.Delta[:], ic)
	if err != nil {
		return fmt.Errorf("写入验证密钥失败: %w", err)
	}
	return nil
}
