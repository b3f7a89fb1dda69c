package game

import (
	"context"
)

// SnapshotReader 构建快照所需的只读访问
type SnapshotReader interface {
	SessionReader
	ListAcceptedBySession(ctx context.Context, sessionID uint) ([]SelectedCard, error)
}

// BuildSessionView 从存储构建会话完整快照
func BuildSessionView(ctx context.Context, store SnapshotReader, sessionID uint) (*SessionView, error) {
	session, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	count, err := categoryCount(ctx, store, session.DeckID)
	if err != nil {
		return nil, err
	}

	groups, err := store.ListGroupsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	accepted, err := store.ListAcceptedBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	byGroup := make(map[uint][]SelectedCard, len(groups))
	for _, c := range accepted {
		byGroup[c.GroupID] = append(byGroup[c.GroupID], c)
	}

	view := &SessionView{
		SessionID:     session.ID,
		Phase:         session.Phase,
		Round:         session.Round,
		Status:        session.Status,
		Version:       session.Version,
		CategoryCount: count,
		Groups:        make([]GroupView, 0, len(groups)),
	}

	for i, g := range groups {
		cards := byGroup[g.ID]
		if cards == nil {
			cards = []SelectedCard{}
		}
		gv := GroupView{
			GroupID:       g.ID,
			Name:          g.Name,
			TableIndex:    i,
			TotalCO2:      TotalCO2(cards),
			SelectedCards: cards,
		}
		view.TotalCO2 += gv.TotalCO2
		view.Groups = append(view.Groups, gv)
	}

	return view, nil
}
