package game

import (
	"context"

	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/models"
	"go.uber.org/zap"
)

// AnnotationService CO₂估值与接受程度投票
type AnnotationService struct {
	store LedgerStore
	// requireSelection 为true时，账本中没有记录的卡牌不能被标注
	requireSelection bool
	logger           *zap.Logger
}

// NewAnnotationService 创建标注服务
func NewAnnotationService(store LedgerStore, requireSelection bool, logger *zap.Logger) *AnnotationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnnotationService{
		store:            store,
		requireSelection: requireSelection,
		logger:           logger,
	}
}

// SetCO2Estimate 设置小组对卡牌的CO₂估值
func (s *AnnotationService) SetCO2Estimate(ctx context.Context, sessionID, groupID, cardID uint, value int) (*EstimateResult, error) {
	if value < 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidParam, "CO₂估值不能为负数: %d", value)
	}

	result := &EstimateResult{
		SessionID: sessionID,
		GroupID:   groupID,
		CardID:    cardID,
		Value:     value,
	}

	v := value
	created, cards, err := s.upsert(ctx, sessionID, groupID, cardID,
		&models.AcceptedCard{GroupID: groupID, CardID: cardID, CO2Estimation: &v},
		map[string]interface{}{"co2_estimation": value},
	)
	if err != nil {
		return nil, err
	}

	result.Created = created
	result.SelectedCards = cards
	result.TotalCO2 = TotalCO2(cards)

	s.logger.Debug("设置CO₂估值",
		zap.Uint("group_id", groupID),
		zap.Uint("card_id", cardID),
		zap.Int("value", value),
		zap.Bool("created", created),
	)
	return result, nil
}

// SetAcceptanceLevel 设置小组对卡牌的接受程度，nil 或空字符串表示清除
func (s *AnnotationService) SetAcceptanceLevel(ctx context.Context, sessionID, groupID, cardID uint, level *string) (*AcceptanceResult, error) {
	var normalized *string
	if level != nil && *level != "" {
		if !models.ValidAcceptanceLevel(*level) {
			return nil, apperrors.Newf(apperrors.ErrInvalidParam, "无效的接受程度: %s", *level)
		}
		l := *level
		normalized = &l
	}

	result := &AcceptanceResult{
		SessionID: sessionID,
		GroupID:   groupID,
		CardID:    cardID,
		Level:     normalized,
	}

	var fieldValue interface{}
	if normalized != nil {
		fieldValue = *normalized
	}

	created, cards, err := s.upsert(ctx, sessionID, groupID, cardID,
		&models.AcceptedCard{GroupID: groupID, CardID: cardID, AcceptanceLevel: normalized},
		map[string]interface{}{"acceptance_level": fieldValue},
	)
	if err != nil {
		return nil, err
	}

	result.Created = created
	result.SelectedCards = cards
	result.TotalCO2 = TotalCO2(cards)

	s.logger.Debug("设置接受程度",
		zap.Uint("group_id", groupID),
		zap.Uint("card_id", cardID),
		zap.Stringp("level", normalized),
		zap.Bool("created", created),
	)
	return result, nil
}

// upsert 记录不存在时创建（只设置目标字段），存在时只覆盖目标字段
func (s *AnnotationService) upsert(ctx context.Context, sessionID, groupID, cardID uint, entry *models.AcceptedCard, fields map[string]interface{}) (bool, []SelectedCard, error) {
	var (
		created bool
		cards   []SelectedCard
	)

	err := s.store.InLedgerTx(ctx, func(tx LedgerStore) error {
		if err := validateLedgerKey(ctx, tx, sessionID, groupID, cardID); err != nil {
			return err
		}

		existing, err := tx.FindAcceptedEntry(ctx, groupID, cardID)
		if err != nil {
			return err
		}

		if existing == nil {
			if s.requireSelection {
				return apperrors.Newf(apperrors.ErrNotFound, "小组 %d 未选择卡牌 %d", groupID, cardID)
			}
			created, err = tx.CreateAcceptedEntry(ctx, entry)
			if err != nil {
				return err
			}
		}
		if !created {
			if err := tx.UpdateAcceptedEntry(ctx, groupID, cardID, fields); err != nil {
				return err
			}
		}

		cards, err = tx.ListAcceptedByGroup(ctx, groupID)
		return err
	})
	if err != nil {
		return false, nil, err
	}
	return created, cards, nil
}
