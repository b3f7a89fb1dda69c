package game

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/models"
	"go.uber.org/zap"
)

// StateMachine 会话阶段/轮次状态机，会话记录的唯一写入方
type StateMachine struct {
	store  Store
	clock  clockwork.Clock
	logger *zap.Logger

	// 状态变化回调
	onTransition func(from, to PhaseState)
}

// NewStateMachine 创建状态机
func NewStateMachine(store Store, clock clockwork.Clock, logger *zap.Logger) *StateMachine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateMachine{
		store:  store,
		clock:  clock,
		logger: logger,
	}
}

// OnTransition 设置状态变化回调
func (sm *StateMachine) OnTransition(fn func(from, to PhaseState)) {
	sm.onTransition = fn
}

// Current 读取会话当前状态
func (sm *StateMachine) Current(ctx context.Context, sessionID uint) (*PhaseState, error) {
	session, err := sm.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	count, err := categoryCount(ctx, sm.store, session.DeckID)
	if err != nil {
		return nil, err
	}
	state := stateOf(session, count)
	return &state, nil
}

// ChangePhase 切换到指定阶段，轮次总是归零
func (sm *StateMachine) ChangePhase(ctx context.Context, sessionID uint, newPhase int) (*PhaseState, error) {
	if newPhase < models.PhaseLobby || newPhase > models.MaxPhase {
		return nil, apperrors.Newf(apperrors.ErrPhaseInvalid, "阶段必须在 %d 到 %d 之间: %d", models.PhaseLobby, models.MaxPhase, newPhase)
	}

	return sm.transition(ctx, sessionID, "change_phase", func(from PhaseState) (PhaseState, error) {
		if from.Status == models.SessionStatusClosed {
			return from, apperrors.New(apperrors.ErrSessionClosed)
		}
		to := from
		to.Phase = newPhase
		to.Round = 0
		to.Status = models.SessionStatusActive
		to.PhaseAdvanced = true
		return to, nil
	})
}

// EndRound 结束当前轮次：还有分类时进入下一轮，否则进入下一阶段。
// 最后阶段的最后一轮结束时会话随之结束。
func (sm *StateMachine) EndRound(ctx context.Context, sessionID uint) (*PhaseState, error) {
	return sm.transition(ctx, sessionID, "end_round", func(from PhaseState) (PhaseState, error) {
		if from.Status == models.SessionStatusClosed {
			return from, apperrors.New(apperrors.ErrSessionClosed)
		}

		rounds := from.CategoryCount
		if rounds < 1 {
			rounds = 1
		}

		to := from
		to.Status = models.SessionStatusActive
		switch {
		case from.Round < rounds-1:
			to.Round = from.Round + 1
		case from.Phase >= models.MaxPhase:
			sm.close(&to)
		default:
			to.Phase = from.Phase + 1
			to.Round = 0
			to.PhaseAdvanced = true
		}
		return to, nil
	})
}

// EndSession 结束会话，重复调用返回已保存的状态
func (sm *StateMachine) EndSession(ctx context.Context, sessionID uint) (*PhaseState, error) {
	return sm.transition(ctx, sessionID, "end_session", func(from PhaseState) (PhaseState, error) {
		to := from
		if from.Status != models.SessionStatusClosed {
			sm.close(&to)
		}
		return to, nil
	})
}

// close 把状态置为结束
func (sm *StateMachine) close(state *PhaseState) {
	now := sm.clock.Now().UTC()
	if state.Phase != models.MaxPhase {
		state.PhaseAdvanced = true
	}
	state.Status = models.SessionStatusClosed
	state.Phase = models.MaxPhase
	state.Round = 0
	state.EndedAt = &now
	state.Ended = true
}

// transition 在事务中读取、计算并保存新状态
func (sm *StateMachine) transition(ctx context.Context, sessionID uint, event string, apply func(from PhaseState) (PhaseState, error)) (*PhaseState, error) {
	var from, to PhaseState

	err := sm.store.WithTx(ctx, func(tx Store) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		count, err := categoryCount(ctx, tx, session.DeckID)
		if err != nil {
			return err
		}

		from = stateOf(session, count)
		to, err = apply(from)
		if err != nil {
			return err
		}
		if sameState(from, to) {
			return nil
		}

		to.Version = from.Version + 1
		fields := map[string]interface{}{
			"phase":   to.Phase,
			"round":   to.Round,
			"status":  to.Status,
			"version": to.Version,
		}
		if to.Ended {
			fields["ended_at"] = *to.EndedAt
		}
		return tx.UpdateSession(ctx, sessionID, fields)
	})
	if err != nil {
		sm.logger.Debug("状态转换被拒绝",
			zap.Uint("session_id", sessionID),
			zap.String("event", event),
			zap.Error(err),
		)
		return nil, err
	}

	if !sameState(from, to) {
		sm.logger.Info("会话状态转换",
			zap.Uint("session_id", sessionID),
			zap.String("event", event),
			zap.Int("from_phase", from.Phase),
			zap.Int("from_round", from.Round),
			zap.Int("to_phase", to.Phase),
			zap.Int("to_round", to.Round),
			zap.String("status", to.Status),
			zap.Int64("version", to.Version),
		)
		if sm.onTransition != nil {
			sm.onTransition(from, to)
		}
	}

	return &to, nil
}

func sameState(a, b PhaseState) bool {
	return a.Phase == b.Phase && a.Round == b.Round && a.Status == b.Status
}

// stateOf 把会话记录转换为状态
func stateOf(session *models.Session, count int) PhaseState {
	var endedAt *time.Time
	if session.EndedAt != nil {
		t := session.EndedAt.UTC()
		endedAt = &t
	}
	return PhaseState{
		SessionID:     session.ID,
		Phase:         session.Phase,
		Round:         session.Round,
		Status:        session.Status,
		Version:       session.Version,
		CategoryCount: count,
		EndedAt:       endedAt,
	}
}

// categoryCount 卡组的分类数量即每个阶段的轮数
func categoryCount(ctx context.Context, store SessionReader, deckID uint) (int, error) {
	categories, err := store.ListCategoriesByDeck(ctx, deckID)
	if err != nil {
		return 0, err
	}
	return len(categories), nil
}
