package repository

import (
	"context"
	"fmt"

	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/models"
	"gorm.io/gorm"
)

// DeckRepository 卡组仓储接口
type DeckRepository interface {
	BaseRepository
	Create(ctx context.Context, deck *models.Deck) error
	FindByID(ctx context.Context, id uint) (*models.Deck, error)
	ListCategories(ctx context.Context, deckID uint) ([]models.Category, error)
}

type deckRepo struct {
	*BaseRepo
}

// NewDeckRepository 创建卡组仓储
func NewDeckRepository(db *gorm.DB) DeckRepository {
	return &deckRepo{BaseRepo: NewBaseRepo(db)}
}

// Create 创建卡组（连同分类和卡牌）
func (r *deckRepo) Create(ctx context.Context, deck *models.Deck) error {
	if err := r.db.WithContext(ctx).Create(deck).Error; err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseInsert, "创建卡组")
	}
	return nil
}

// FindByID 根据ID查找
func (r *deckRepo) FindByID(ctx context.Context, id uint) (*models.Deck, error) {
	var deck models.Deck
	if err := r.db.WithContext(ctx).First(&deck, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("卡组 %d", id))
	}
	return &deck, nil
}

// ListCategories 按 sort_order, id 列出分类
func (r *deckRepo) ListCategories(ctx context.Context, deckID uint) ([]models.Category, error) {
	var categories []models.Category
	err := r.db.WithContext(ctx).
		Where("deck_id = ?", deckID).
		Order("sort_order, id").
		Find(&categories).Error
	return categories, translate(err, "分类列表")
}

// CardRepository 卡牌仓储接口
type CardRepository interface {
	BaseRepository
	FindByID(ctx context.Context, id uint) (*models.Card, error)
	IncrementTimesSelected(ctx context.Context, id uint) error
}

type cardRepo struct {
	*BaseRepo
}

// NewCardRepository 创建卡牌仓储
func NewCardRepository(db *gorm.DB) CardRepository {
	return &cardRepo{BaseRepo: NewBaseRepo(db)}
}

// FindByID 根据ID查找
func (r *cardRepo) FindByID(ctx context.Context, id uint) (*models.Card, error) {
	var card models.Card
	if err := r.db.WithContext(ctx).First(&card, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("卡牌 %d", id))
	}
	return &card, nil
}

// IncrementTimesSelected 被选次数加一
func (r *cardRepo) IncrementTimesSelected(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).
		Model(&models.Card{}).
		Where("id = ?", id).
		UpdateColumn("times_selected", gorm.Expr("times_selected + ?", 1))
	if result.Error != nil {
		return apperrors.Wrap(result.Error, apperrors.ErrDatabaseUpdate, "更新被选次数")
	}
	if result.RowsAffected == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "卡牌 %d", id)
	}
	return nil
}
