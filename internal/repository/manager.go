package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Manager 仓储管理器，提供所有仓储的统一访问接口
type Manager struct {
	db *gorm.DB

	// 事务管理器
	txManager TransactionManager

	// 仓储实例（使用懒加载）
	sessionOnce sync.Once
	session     SessionRepository

	groupOnce sync.Once
	group     GroupRepository

	deckOnce sync.Once
	deck     DeckRepository

	cardOnce sync.Once
	card     CardRepository

	acceptedCardOnce sync.Once
	acceptedCard     AcceptedCardRepository

	adminOnce sync.Once
	admin     AdminRepository

	ledgerOnce sync.Once
	ledger     *LedgerStore
}

// NewManager 创建仓储管理器
func NewManager(db *gorm.DB) *Manager {
	return &Manager{
		db:        db,
		txManager: NewTransactionManager(db),
	}
}

// GetDB 获取数据库实例
func (m *Manager) GetDB() *gorm.DB {
	return m.db
}

// Transaction 获取事务管理器
func (m *Manager) Transaction() TransactionManager {
	return m.txManager
}

// Session 获取会话仓储
func (m *Manager) Session() SessionRepository {
	m.sessionOnce.Do(func() {
		m.session = NewSessionRepository(m.db)
	})
	return m.session
}

// Group 获取小组仓储
func (m *Manager) Group() GroupRepository {
	m.groupOnce.Do(func() {
		m.group = NewGroupRepository(m.db)
	})
	return m.group
}

// Deck 获取卡组仓储
func (m *Manager) Deck() DeckRepository {
	m.deckOnce.Do(func() {
		m.deck = NewDeckRepository(m.db)
	})
	return m.deck
}

// Card 获取卡牌仓储
func (m *Manager) Card() CardRepository {
	m.cardOnce.Do(func() {
		m.card = NewCardRepository(m.db)
	})
	return m.card
}

// AcceptedCard 获取选卡账本仓储
func (m *Manager) AcceptedCard() AcceptedCardRepository {
	m.acceptedCardOnce.Do(func() {
		m.acceptedCard = NewAcceptedCardRepository(m.db)
	})
	return m.acceptedCard
}

// Admin 获取管理员仓储
func (m *Manager) Admin() AdminRepository {
	m.adminOnce.Do(func() {
		m.admin = NewAdminRepository(m.db)
	})
	return m.admin
}

// Ledger 获取同步引擎使用的账本存储
func (m *Manager) Ledger() *LedgerStore {
	m.ledgerOnce.Do(func() {
		m.ledger = NewLedgerStore(m.db)
	})
	return m.ledger
}
