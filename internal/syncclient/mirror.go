package syncclient

import (
	"encoding/json"
	"sync"

	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/game"
	"github.com/wfunc/carbon-cards/internal/models"
	ws "github.com/wfunc/carbon-cards/internal/websocket"
)

// Mirror 客户端本地的会话镜像。
// 只由 sessionState 快照和服务端广播修改，重复应用同一事件结果不变。
type Mirror struct {
	mu      sync.RWMutex
	groupID uint
	view    *game.SessionView
}

// NewMirror 创建镜像，groupID 为本客户端所属小组，0 表示不属于任何小组
func NewMirror(groupID uint) *Mirror {
	return &Mirror{groupID: groupID}
}

// GroupID 本客户端所属小组
func (m *Mirror) GroupID() uint {
	return m.groupID
}

// Ready 是否已收到快照
func (m *Mirror) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view != nil
}

// ApplySnapshot 用快照整体替换镜像
func (m *Mirror) ApplySnapshot(view game.SessionView) {
	v := cloneView(view)
	recompute(&v)
	m.mu.Lock()
	m.view = &v
	m.mu.Unlock()
}

// Apply 应用一条服务端事件帧，不认识的事件忽略
func (m *Mirror) Apply(f *ws.Frame) error {
	switch f.Type {
	case ws.EventSessionState:
		var view game.SessionView
		if err := decode(f, &view); err != nil {
			return err
		}
		m.ApplySnapshot(view)
		return nil
	case ws.EventPhaseChanged:
		var ev ws.PhaseChangedEvent
		if err := decode(f, &ev); err != nil {
			return err
		}
		m.applyPhase(ev)
	case ws.EventCardSelected:
		var ev game.SelectionResult
		if err := decode(f, &ev); err != nil {
			return err
		}
		m.applySelection(ev)
	case ws.EventCO2Estimation:
		var ev game.EstimateResult
		if err := decode(f, &ev); err != nil {
			return err
		}
		m.applyEstimate(ev)
	case ws.EventAcceptanceLevel:
		var ev game.AcceptanceResult
		if err := decode(f, &ev); err != nil {
			return err
		}
		m.applyAcceptance(ev)
	case ws.EventSessionEnded:
		var ev ws.SessionEndedEvent
		if err := decode(f, &ev); err != nil {
			return err
		}
		m.applyEnded(ev)
	}
	return nil
}

func decode(f *ws.Frame, v interface{}) error {
	if err := json.Unmarshal(f.Data, v); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrMessageFormat, "解析事件 %s 失败", f.Type)
	}
	return nil
}

func (m *Mirror) applyPhase(ev ws.PhaseChangedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.view
	if v == nil || v.SessionID != ev.SessionID || ev.Version < v.Version {
		return
	}

	v.Phase = ev.Phase
	v.Round = ev.Round
	v.Status = ev.Status
	v.Version = ev.Version

	if len(ev.Groups) > 0 {
		groups := make([]game.GroupView, 0, len(ev.Groups))
		for _, ref := range ev.Groups {
			gv := game.GroupView{GroupID: ref.GroupID, Name: ref.Name, TableIndex: ref.TableIndex, SelectedCards: []game.SelectedCard{}}
			if old := v.Group(ref.GroupID); old != nil {
				gv.SelectedCards = old.SelectedCards
			}
			groups = append(groups, gv)
		}
		v.Groups = groups
	}
	recompute(v)
}

// applySelection 事件携带小组完整的选卡列表，直接替换
func (m *Mirror) applySelection(ev game.SelectionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.groupLocked(ev.SessionID, ev.GroupID)
	if g == nil {
		return
	}
	cards := make([]game.SelectedCard, len(ev.SelectedCards))
	copy(cards, ev.SelectedCards)
	for i := range cards {
		cards[i].GroupID = ev.GroupID
	}
	g.SelectedCards = cards
	recompute(m.view)
}

func (m *Mirror) applyEstimate(ev game.EstimateResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card := m.cardLocked(ev.SessionID, ev.GroupID, ev.CardID)
	if card == nil {
		return
	}
	value := ev.Value
	card.CO2Estimation = &value
	recompute(m.view)
}

func (m *Mirror) applyAcceptance(ev game.AcceptanceResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card := m.cardLocked(ev.SessionID, ev.GroupID, ev.CardID)
	if card == nil {
		return
	}
	if ev.Level == nil {
		card.AcceptanceLevel = nil
		return
	}
	level := *ev.Level
	card.AcceptanceLevel = &level
}

func (m *Mirror) applyEnded(ev ws.SessionEndedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.view == nil || m.view.SessionID != ev.SessionID {
		return
	}
	m.view.Status = models.SessionStatusClosed
	m.view.Phase = models.MaxPhase
	m.view.Round = 0
}

func (m *Mirror) groupLocked(sessionID, groupID uint) *game.GroupView {
	if m.view == nil || m.view.SessionID != sessionID {
		return nil
	}
	return m.view.Group(groupID)
}

func (m *Mirror) cardLocked(sessionID, groupID, cardID uint) *game.SelectedCard {
	g := m.groupLocked(sessionID, groupID)
	if g == nil {
		return nil
	}
	for i := range g.SelectedCards {
		if g.SelectedCards[i].CardID == cardID {
			return &g.SelectedCards[i]
		}
	}
	return nil
}

// recompute 按估值优先规则重算小组和会话总量
func recompute(v *game.SessionView) {
	v.TotalCO2 = 0
	for i := range v.Groups {
		v.Groups[i].TotalCO2 = game.TotalCO2(v.Groups[i].SelectedCards)
		v.TotalCO2 += v.Groups[i].TotalCO2
	}
}

// View 返回镜像副本，未收到快照时返回false
func (m *Mirror) View() (game.SessionView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.view == nil {
		return game.SessionView{}, false
	}
	return cloneView(*m.view), true
}

// Phase 当前阶段和轮次
func (m *Mirror) Phase() (phase, round int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.view == nil {
		return models.PhaseLobby, 0
	}
	return m.view.Phase, m.view.Round
}

// VisibleTable 本客户端在当前阶段应显示的桌号，没有可显示的桌子时返回 game.NoTable
func (m *Mirror) VisibleTable() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.visibleTableLocked()
}

func (m *Mirror) visibleTableLocked() int {
	if m.view == nil {
		return game.NoTable
	}
	own := game.NoTable
	for i, g := range m.view.Groups {
		if g.GroupID == m.groupID {
			own = i
			break
		}
	}
	return game.ViewTable(own, len(m.view.Groups), m.view.Phase)
}

// VisibleGroup 当前应显示的小组副本
func (m *Mirror) VisibleGroup() (game.GroupView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.visibleTableLocked()
	if idx == game.NoTable {
		return game.GroupView{}, false
	}
	return cloneGroup(m.view.Groups[idx]), true
}

func cloneView(v game.SessionView) game.SessionView {
	out := v
	out.Groups = make([]game.GroupView, len(v.Groups))
	for i, g := range v.Groups {
		out.Groups[i] = cloneGroup(g)
	}
	return out
}

func cloneGroup(g game.GroupView) game.GroupView {
	out := g
	out.SelectedCards = make([]game.SelectedCard, len(g.SelectedCards))
	for i, c := range g.SelectedCards {
		if c.CO2Estimation != nil {
			v := *c.CO2Estimation
			c.CO2Estimation = &v
		}
		if c.AcceptanceLevel != nil {
			l := *c.AcceptanceLevel
			c.AcceptanceLevel = &l
		}
		c.GroupID = g.GroupID
		out.SelectedCards[i] = c
	}
	return out
}
