package repository

import (
	"context"
	"errors"

	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/game"
	"github.com/wfunc/carbon-cards/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AcceptedCardRepository 选卡账本仓储接口
type AcceptedCardRepository interface {
	BaseRepository
	Find(ctx context.Context, groupID, cardID uint) (*models.AcceptedCard, error)
	CreateIfAbsent(ctx context.Context, entry *models.AcceptedCard) (bool, error)
	Update(ctx context.Context, groupID, cardID uint, fields map[string]interface{}) error
	Delete(ctx context.Context, groupID, cardID uint) (bool, error)
	ListByGroup(ctx context.Context, groupID uint) ([]game.SelectedCard, error)
	ListBySession(ctx context.Context, sessionID uint) ([]game.SelectedCard, error)
}

type acceptedCardRepo struct {
	*BaseRepo
}

// NewAcceptedCardRepository 创建选卡账本仓储
func NewAcceptedCardRepository(db *gorm.DB) AcceptedCardRepository {
	return &acceptedCardRepo{BaseRepo: NewBaseRepo(db)}
}

// ledgerRow 账本与卡牌联表查询的一行
type ledgerRow struct {
	GroupID         uint    `gorm:"column:group_id"`
	CardID          uint    `gorm:"column:card_id"`
	CategoryID      uint    `gorm:"column:category_id"`
	Value           int     `gorm:"column:value"`
	CO2Estimation   *int    `gorm:"column:co2_estimation"`
	AcceptanceLevel *string `gorm:"column:acceptance_level"`
}

func (row ledgerRow) toSelected() game.SelectedCard {
	return game.SelectedCard{
		GroupID:         row.GroupID,
		CardID:          row.CardID,
		CategoryID:      row.CategoryID,
		Value:           row.Value,
		CO2Estimation:   row.CO2Estimation,
		AcceptanceLevel: row.AcceptanceLevel,
	}
}

const ledgerColumns = "accepted_cards.group_id, accepted_cards.card_id, cards.category_id, cards.value, " +
	"accepted_cards.co2_estimation, accepted_cards.acceptance_level"

// Find 查找账本记录，不存在返回 nil, nil
func (r *acceptedCardRepo) Find(ctx context.Context, groupID, cardID uint) (*models.AcceptedCard, error) {
	var entry models.AcceptedCard
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND card_id = ?", groupID, cardID).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, "查询账本")
	}
	return &entry, nil
}

// CreateIfAbsent 插入账本记录，主键已存在时什么也不做
func (r *acceptedCardRepo) CreateIfAbsent(ctx context.Context, entry *models.AcceptedCard) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)
	if result.Error != nil {
		return false, apperrors.Wrap(result.Error, apperrors.ErrDatabaseInsert, "创建账本记录")
	}
	return result.RowsAffected > 0, nil
}

// Update 只更新给定字段，调用方负责确认记录存在
func (r *acceptedCardRepo) Update(ctx context.Context, groupID, cardID uint, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&models.AcceptedCard{}).
		Where("group_id = ? AND card_id = ?", groupID, cardID).
		Updates(fields)
	if result.Error != nil {
		return apperrors.Wrap(result.Error, apperrors.ErrDatabaseUpdate, "更新账本记录")
	}
	return nil
}

// Delete 删除账本记录
func (r *acceptedCardRepo) Delete(ctx context.Context, groupID, cardID uint) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("group_id = ? AND card_id = ?", groupID, cardID).
		Delete(&models.AcceptedCard{})
	if result.Error != nil {
		return false, apperrors.Wrap(result.Error, apperrors.ErrDatabaseDelete, "删除账本记录")
	}
	return result.RowsAffected > 0, nil
}

// ListByGroup 小组当前已选卡牌（含卡牌标准值）
func (r *acceptedCardRepo) ListByGroup(ctx context.Context, groupID uint) ([]game.SelectedCard, error) {
	var rows []ledgerRow
	err := r.db.WithContext(ctx).
		Table("accepted_cards").
		Select(ledgerColumns).
		Joins("JOIN cards ON cards.id = accepted_cards.card_id").
		Where("accepted_cards.group_id = ?", groupID).
		Order("accepted_cards.card_id").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, "小组账本")
	}
	return toSelected(rows), nil
}

// ListBySession 会话中所有小组的已选卡牌
func (r *acceptedCardRepo) ListBySession(ctx context.Context, sessionID uint) ([]game.SelectedCard, error) {
	var rows []ledgerRow
	err := r.db.WithContext(ctx).
		Table("accepted_cards").
		Select(ledgerColumns).
		Joins("JOIN cards ON cards.id = accepted_cards.card_id").
		Joins("JOIN session_groups ON session_groups.id = accepted_cards.group_id").
		Where("session_groups.session_id = ?", sessionID).
		Order("accepted_cards.group_id, accepted_cards.card_id").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, "会话账本")
	}
	return toSelected(rows), nil
}

func toSelected(rows []ledgerRow) []game.SelectedCard {
	cards := make([]game.SelectedCard, 0, len(rows))
	for _, row := range rows {
		cards = append(cards, row.toSelected())
	}
	return cards
}
