package repository

import (
	"context"

	"gorm.io/gorm"
)

// TransactionManager 事务管理器接口
type TransactionManager interface {
	// WithTransaction 在事务中执行函数，返回错误时回滚
	WithTransaction(ctx context.Context, fn func(tx *Transaction) error) error
}

// Transaction 事务包装器，提供绑定到同一事务的仓储
type Transaction struct {
	tx  *gorm.DB
	ctx context.Context
}

type txManager struct {
	db *gorm.DB
}

// NewTransactionManager 创建事务管理器
func NewTransactionManager(db *gorm.DB) TransactionManager {
	return &txManager{db: db}
}

// WithTransaction 在事务中执行函数
func (m *txManager) WithTransaction(ctx context.Context, fn func(tx *Transaction) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Transaction{tx: tx, ctx: ctx})
	})
}

// Context 获取事务上下文
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// Session 事务中的会话仓储
func (t *Transaction) Session() SessionRepository {
	return NewSessionRepository(t.tx)
}

// Deck 事务中的卡组仓储
func (t *Transaction) Deck() DeckRepository {
	return NewDeckRepository(t.tx)
}

// Admin 事务中的管理员仓储
func (t *Transaction) Admin() AdminRepository {
	return NewAdminRepository(t.tx)
}
