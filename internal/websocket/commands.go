package websocket

import (
	"context"

	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/game"
)

// commandTarget 解析后的命令参数
type commandTarget struct {
	SessionID uint
	GroupID   uint
	payload   interface{}
}

type outEvent struct {
	name    string
	payload interface{}
}

// commandOutput 命令成功后的确认结果和要广播的事件
type commandOutput struct {
	result interface{}
	events []outEvent
}

type commandHandler struct {
	decode func(cmd *Command) (commandTarget, error)
	run    func(ctx context.Context, h *Hub, clientID string, t commandTarget) (*commandOutput, error)
}

var commandHandlers = map[string]commandHandler{
	CmdJoinSession:     {decode: decodeJoin, run: runJoin},
	CmdChangePhase:     {decode: decodeChangePhase, run: runChangePhase},
	CmdEndPhase:        {decode: decodeSessionRef, run: runEndPhase},
	CmdEndSession:      {decode: decodeSessionRef, run: runEndSession},
	CmdSelectCard:      {decode: decodeSelectCard, run: runSelectCard},
	CmdCO2Estimation:   {decode: decodeCO2Estimation, run: runCO2Estimation},
	CmdAcceptanceLevel: {decode: decodeAcceptanceLevel, run: runAcceptanceLevel},
}

func requireSession(id uint) error {
	if id == 0 {
		return apperrors.New(apperrors.ErrInvalidParam, "sessionId 不能为空")
	}
	return nil
}

func requireLedgerKey(sessionID, groupID, cardID uint) error {
	if err := requireSession(sessionID); err != nil {
		return err
	}
	if groupID == 0 || cardID == 0 {
		return apperrors.New(apperrors.ErrInvalidParam, "groupId 和 cardId 不能为空")
	}
	return nil
}

func decodeJoin(cmd *Command) (commandTarget, error) {
	var p JoinSessionPayload
	if err := DecodePayload(cmd, &p); err != nil {
		return commandTarget{}, err
	}
	return commandTarget{SessionID: p.SessionID}, requireSession(p.SessionID)
}

func decodeChangePhase(cmd *Command) (commandTarget, error) {
	var p ChangePhasePayload
	if err := DecodePayload(cmd, &p); err != nil {
		return commandTarget{}, err
	}
	if p.NewPhase == nil {
		return commandTarget{}, apperrors.New(apperrors.ErrInvalidParam, "newPhase 不能为空")
	}
	return commandTarget{SessionID: p.SessionID, payload: *p.NewPhase}, requireSession(p.SessionID)
}

func decodeSessionRef(cmd *Command) (commandTarget, error) {
	var p SessionRef
	if err := DecodePayload(cmd, &p); err != nil {
		return commandTarget{}, err
	}
	return commandTarget{SessionID: p.SessionID}, requireSession(p.SessionID)
}

func decodeSelectCard(cmd *Command) (commandTarget, error) {
	var p SelectCardPayload
	if err := DecodePayload(cmd, &p); err != nil {
		return commandTarget{}, err
	}
	return commandTarget{SessionID: p.SessionID, GroupID: p.GroupID, payload: p}, requireLedgerKey(p.SessionID, p.GroupID, p.CardID)
}

func decodeCO2Estimation(cmd *Command) (commandTarget, error) {
	var p CO2EstimationPayload
	if err := DecodePayload(cmd, &p); err != nil {
		return commandTarget{}, err
	}
	if p.Value == nil {
		return commandTarget{}, apperrors.New(apperrors.ErrInvalidParam, "value 不能为空")
	}
	return commandTarget{SessionID: p.SessionID, GroupID: p.GroupID, payload: p}, requireLedgerKey(p.SessionID, p.GroupID, p.CardID)
}

func decodeAcceptanceLevel(cmd *Command) (commandTarget, error) {
	var p AcceptanceLevelPayload
	if err := DecodePayload(cmd, &p); err != nil {
		return commandTarget{}, err
	}
	return commandTarget{SessionID: p.SessionID, GroupID: p.GroupID, payload: p}, requireLedgerKey(p.SessionID, p.GroupID, p.CardID)
}

func runJoin(ctx context.Context, h *Hub, clientID string, t commandTarget) (*commandOutput, error) {
	view, err := h.join(ctx, clientID, t.SessionID)
	if err != nil {
		return nil, err
	}
	return &commandOutput{result: view}, nil
}

func runChangePhase(ctx context.Context, h *Hub, _ string, t commandTarget) (*commandOutput, error) {
	state, err := h.services.StateMachine.ChangePhase(ctx, t.SessionID, t.payload.(int))
	if err != nil {
		return nil, err
	}
	return h.phaseOutput(ctx, state)
}

func runEndPhase(ctx context.Context, h *Hub, _ string, t commandTarget) (*commandOutput, error) {
	state, err := h.services.StateMachine.EndRound(ctx, t.SessionID)
	if err != nil {
		return nil, err
	}
	return h.phaseOutput(ctx, state)
}

func runEndSession(ctx context.Context, h *Hub, _ string, t commandTarget) (*commandOutput, error) {
	state, err := h.services.StateMachine.EndSession(ctx, t.SessionID)
	if err != nil {
		return nil, err
	}
	if state.Ended {
		return h.phaseOutput(ctx, state)
	}
	// 重复结束只重发结束事件，客户端按幂等处理
	return &commandOutput{
		result: state,
		events: []outEvent{{EventSessionEnded, SessionEndedEvent{SessionID: state.SessionID, EndedAt: state.EndedAt}}},
	}, nil
}

// phaseOutput 状态机结果转换为 phaseChanged（阶段变化时附带小组列表）和 sessionEnded 事件
func (h *Hub) phaseOutput(ctx context.Context, state *game.PhaseState) (*commandOutput, error) {
	ev := PhaseChangedEvent{
		SessionID: state.SessionID,
		Phase:     state.Phase,
		Round:     state.Round,
		Status:    state.Status,
		Version:   state.Version,
	}
	if state.PhaseAdvanced {
		groups, err := h.services.Snapshots.ListGroupsBySession(ctx, state.SessionID)
		if err != nil {
			return nil, err
		}
		ev.Groups = make([]GroupRef, 0, len(groups))
		for i, g := range groups {
			ev.Groups = append(ev.Groups, GroupRef{GroupID: g.ID, Name: g.Name, TableIndex: i})
		}
	}

	out := &commandOutput{
		result: state,
		events: []outEvent{{EventPhaseChanged, ev}},
	}
	if state.Ended {
		out.events = append(out.events, outEvent{EventSessionEnded, SessionEndedEvent{SessionID: state.SessionID, EndedAt: state.EndedAt}})
	}
	return out, nil
}

func runSelectCard(ctx context.Context, h *Hub, _ string, t commandTarget) (*commandOutput, error) {
	p := t.payload.(SelectCardPayload)
	res, err := h.services.Selection.ToggleCardSelection(ctx, p.SessionID, p.GroupID, p.CardID)
	if err != nil {
		return nil, err
	}
	return &commandOutput{
		result: res,
		events: []outEvent{{EventCardSelected, res}},
	}, nil
}

func runCO2Estimation(ctx context.Context, h *Hub, _ string, t commandTarget) (*commandOutput, error) {
	p := t.payload.(CO2EstimationPayload)
	res, err := h.services.Annotation.SetCO2Estimate(ctx, p.SessionID, p.GroupID, p.CardID, *p.Value)
	if err != nil {
		return nil, err
	}
	out := &commandOutput{result: res}
	if res.Created {
		out.events = append(out.events, implicitSelection(p.SessionID, p.GroupID, p.CardID, res.TotalCO2, res.SelectedCards))
	}
	out.events = append(out.events, outEvent{EventCO2Estimation, res})
	return out, nil
}

func runAcceptanceLevel(ctx context.Context, h *Hub, _ string, t commandTarget) (*commandOutput, error) {
	p := t.payload.(AcceptanceLevelPayload)
	res, err := h.services.Annotation.SetAcceptanceLevel(ctx, p.SessionID, p.GroupID, p.CardID, p.Level)
	if err != nil {
		return nil, err
	}
	out := &commandOutput{result: res}
	if res.Created {
		out.events = append(out.events, implicitSelection(p.SessionID, p.GroupID, p.CardID, res.TotalCO2, res.SelectedCards))
	}
	out.events = append(out.events, outEvent{EventAcceptanceLevel, res})
	return out, nil
}

// implicitSelection 标注隐式创建账本记录时补发的选卡事件，保持各客户端选择集合与账本一致
func implicitSelection(sessionID, groupID, cardID uint, total int, cards []game.SelectedCard) outEvent {
	return outEvent{EventCardSelected, &game.SelectionResult{
		SessionID:     sessionID,
		GroupID:       groupID,
		CardID:        cardID,
		Selected:      true,
		TotalCO2:      total,
		SelectedCards: cards,
	}}
}
