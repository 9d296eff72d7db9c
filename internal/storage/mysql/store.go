package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"AgentVault-Chain/internal/escrow"
	"AgentVault-Chain/internal/ledger"
	"AgentVault-Chain/internal/reputation"
)

// Store 是基于 MySQL 的统一持久化实现，
// 同时满足台账、托管与信誉三个领域的 Store 接口。
type Store struct {
	db *sql.DB
}

// NewStore 建立连接池并执行未应用的迁移。
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("执行数据库迁移失败: %w", err)
	}
	return &Store{db: db}, nil
}

// DB 暴露底层连接池，供认证存储等复用同一连接。
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close 关闭底层连接池。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ ledger.Store     = (*Store)(nil)
	_ escrow.Store     = (*Store)(nil)
	_ reputation.Store = (*Store)(nil)
)
