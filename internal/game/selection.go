package game

import (
	"context"

	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/models"
	"go.uber.org/zap"
)

// SelectionService 小组选卡账本服务
type SelectionService struct {
	store  LedgerStore
	logger *zap.Logger
}

// NewSelectionService 创建选卡服务
func NewSelectionService(store LedgerStore, logger *zap.Logger) *SelectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SelectionService{store: store, logger: logger}
}

// ToggleCardSelection 切换小组对卡牌的选择。
// 已选中则删除账本记录；未选中则创建记录并增加卡牌的被选次数。
func (s *SelectionService) ToggleCardSelection(ctx context.Context, sessionID, groupID, cardID uint) (*SelectionResult, error) {
	result := &SelectionResult{
		SessionID: sessionID,
		GroupID:   groupID,
		CardID:    cardID,
	}

	err := s.store.InLedgerTx(ctx, func(tx LedgerStore) error {
		if err := validateLedgerKey(ctx, tx, sessionID, groupID, cardID); err != nil {
			return err
		}

		entry, err := tx.FindAcceptedEntry(ctx, groupID, cardID)
		if err != nil {
			return err
		}

		if entry != nil {
			if _, err := tx.DeleteAcceptedEntry(ctx, groupID, cardID); err != nil {
				return err
			}
			result.Selected = false
		} else {
			created, err := tx.CreateAcceptedEntry(ctx, &models.AcceptedCard{GroupID: groupID, CardID: cardID})
			if err != nil {
				return err
			}
			// 并发写入已经创建了记录，按已选中处理，不重复计数
			if created {
				if err := tx.IncrementCardSelectedCounter(ctx, cardID); err != nil {
					return err
				}
			}
			result.Selected = true
		}

		cards, err := tx.ListAcceptedByGroup(ctx, groupID)
		if err != nil {
			return err
		}
		result.SelectedCards = cards
		result.TotalCO2 = TotalCO2(cards)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("切换选卡",
		zap.Uint("session_id", sessionID),
		zap.Uint("group_id", groupID),
		zap.Uint("card_id", cardID),
		zap.Bool("selected", result.Selected),
		zap.Int("total_co2", result.TotalCO2),
	)
	return result, nil
}

// validateLedgerKey 校验会话、小组、卡牌都存在且属于同一会话
func validateLedgerKey(ctx context.Context, tx LedgerStore, sessionID, groupID, cardID uint) error {
	session, err := tx.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.IsClosed() {
		return apperrors.New(apperrors.ErrSessionClosed)
	}

	group, err := tx.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.SessionID != sessionID {
		return apperrors.Newf(apperrors.ErrGroupMismatch, "小组 %d 不属于会话 %d", groupID, sessionID)
	}

	card, err := tx.GetCard(ctx, cardID)
	if err != nil {
		return err
	}

	categories, err := tx.ListCategoriesByDeck(ctx, session.DeckID)
	if err != nil {
		return err
	}
	for _, c := range categories {
		if c.ID == card.CategoryID {
			return nil
		}
	}
	return apperrors.Newf(apperrors.ErrNotFound, "卡牌 %d 不在会话卡组中", cardID)
}
