package repository

import (
	"context"

	"github.com/wfunc/carbon-cards/internal/game"
	"github.com/wfunc/carbon-cards/internal/models"
	"gorm.io/gorm"
)

// LedgerStore 基于gorm的账本存储，实现 game.Store
type LedgerStore struct {
	db   *gorm.DB
	inTx bool

	sessions SessionRepository
	groups   GroupRepository
	decks    DeckRepository
	cards    CardRepository
	accepted AcceptedCardRepository
}

var _ game.Store = (*LedgerStore)(nil)

// NewLedgerStore 创建账本存储
func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return newLedgerStore(db, false)
}

func newLedgerStore(db *gorm.DB, inTx bool) *LedgerStore {
	return &LedgerStore{
		db:       db,
		inTx:     inTx,
		sessions: NewSessionRepository(db),
		groups:   NewGroupRepository(db),
		decks:    NewDeckRepository(db),
		cards:    NewCardRepository(db),
		accepted: NewAcceptedCardRepository(db),
	}
}

// GetSession 获取会话
func (s *LedgerStore) GetSession(ctx context.Context, id uint) (*models.Session, error) {
	return s.sessions.FindByID(ctx, id)
}

// UpdateSession 更新会话字段
func (s *LedgerStore) UpdateSession(ctx context.Context, id uint, fields map[string]interface{}) error {
	return s.sessions.UpdateFields(ctx, id, fields)
}

// ListGroupsBySession 列出会话小组
func (s *LedgerStore) ListGroupsBySession(ctx context.Context, sessionID uint) ([]models.Group, error) {
	return s.groups.ListBySession(ctx, sessionID)
}

// GetGroup 获取小组
func (s *LedgerStore) GetGroup(ctx context.Context, id uint) (*models.Group, error) {
	return s.groups.FindByID(ctx, id)
}

// ListCategoriesByDeck 列出卡组分类
func (s *LedgerStore) ListCategoriesByDeck(ctx context.Context, deckID uint) ([]models.Category, error) {
	return s.decks.ListCategories(ctx, deckID)
}

// GetCard 获取卡牌
func (s *LedgerStore) GetCard(ctx context.Context, id uint) (*models.Card, error) {
	return s.cards.FindByID(ctx, id)
}

// IncrementCardSelectedCounter 卡牌被选次数加一
func (s *LedgerStore) IncrementCardSelectedCounter(ctx context.Context, cardID uint) error {
	return s.cards.IncrementTimesSelected(ctx, cardID)
}

// FindAcceptedEntry 查找账本记录
func (s *LedgerStore) FindAcceptedEntry(ctx context.Context, groupID, cardID uint) (*models.AcceptedCard, error) {
	return s.accepted.Find(ctx, groupID, cardID)
}

// CreateAcceptedEntry 创建账本记录
func (s *LedgerStore) CreateAcceptedEntry(ctx context.Context, entry *models.AcceptedCard) (bool, error) {
	return s.accepted.CreateIfAbsent(ctx, entry)
}

// UpdateAcceptedEntry 更新账本记录
func (s *LedgerStore) UpdateAcceptedEntry(ctx context.Context, groupID, cardID uint, fields map[string]interface{}) error {
	return s.accepted.Update(ctx, groupID, cardID, fields)
}

// DeleteAcceptedEntry 删除账本记录
func (s *LedgerStore) DeleteAcceptedEntry(ctx context.Context, groupID, cardID uint) (bool, error) {
	return s.accepted.Delete(ctx, groupID, cardID)
}

// ListAcceptedByGroup 小组账本
func (s *LedgerStore) ListAcceptedByGroup(ctx context.Context, groupID uint) ([]game.SelectedCard, error) {
	return s.accepted.ListByGroup(ctx, groupID)
}

// ListAcceptedBySession 会话账本
func (s *LedgerStore) ListAcceptedBySession(ctx context.Context, sessionID uint) ([]game.SelectedCard, error) {
	return s.accepted.ListBySession(ctx, sessionID)
}

// WithTx 在事务中执行，已在事务中时直接复用
func (s *LedgerStore) WithTx(ctx context.Context, fn func(tx game.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newLedgerStore(tx, true))
	})
}

// InLedgerTx 在事务中执行账本操作
func (s *LedgerStore) InLedgerTx(ctx context.Context, fn func(tx game.LedgerStore) error) error {
	return s.WithTx(ctx, func(tx game.Store) error {
		return fn(tx)
	})
}
