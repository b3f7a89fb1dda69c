package game

import (
	"context"

	"github.com/wfunc/carbon-cards/internal/models"
)

// SessionReader 会话只读访问
type SessionReader interface {
	// GetSession 会话不存在时返回 ErrNotFound
	GetSession(ctx context.Context, id uint) (*models.Session, error)
	// ListGroupsBySession 按ID升序返回会话中的小组
	ListGroupsBySession(ctx context.Context, sessionID uint) ([]models.Group, error)
	// ListCategoriesByDeck 按 sort_order, id 返回卡组分类
	ListCategoriesByDeck(ctx context.Context, deckID uint) ([]models.Category, error)
}

// SessionWriter 会话写入，只有状态机持有
type SessionWriter interface {
	UpdateSession(ctx context.Context, id uint, fields map[string]interface{}) error
}

// LedgerStore 选卡账本访问，不包含会话写入
type LedgerStore interface {
	SessionReader

	GetGroup(ctx context.Context, id uint) (*models.Group, error)
	GetCard(ctx context.Context, id uint) (*models.Card, error)
	IncrementCardSelectedCounter(ctx context.Context, cardID uint) error

	// FindAcceptedEntry 不存在时返回 nil, nil
	FindAcceptedEntry(ctx context.Context, groupID, cardID uint) (*models.AcceptedCard, error)
	// CreateAcceptedEntry 记录已存在时不写入并返回 false
	CreateAcceptedEntry(ctx context.Context, entry *models.AcceptedCard) (bool, error)
	UpdateAcceptedEntry(ctx context.Context, groupID, cardID uint, fields map[string]interface{}) error
	// DeleteAcceptedEntry 返回是否删除了记录
	DeleteAcceptedEntry(ctx context.Context, groupID, cardID uint) (bool, error)
	ListAcceptedByGroup(ctx context.Context, groupID uint) ([]SelectedCard, error)
	ListAcceptedBySession(ctx context.Context, sessionID uint) ([]SelectedCard, error)

	// InLedgerTx 在同一个数据库事务中执行
	InLedgerTx(ctx context.Context, fn func(tx LedgerStore) error) error
}

// Store 账本存储的完整接口
type Store interface {
	LedgerStore
	SessionWriter

	WithTx(ctx context.Context, fn func(tx Store) error) error
}
