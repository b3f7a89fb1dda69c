package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/game"
	"github.com/wfunc/carbon-cards/internal/models"
	"github.com/wfunc/carbon-cards/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakePeer 记录收到的帧，limit>0 时模拟发送缓冲区
type fakePeer struct {
	id     string
	limit  int
	mu     sync.Mutex
	frames []*Frame
	closed bool
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || (p.limit > 0 && len(p.frames) >= p.limit) {
		return false
	}
	f, err := DecodeFrame(data)
	if err != nil {
		panic(err)
	}
	p.frames = append(p.frames, f)
	return true
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) all() []*Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Frame(nil), p.frames...)
}

func (p *fakePeer) ofType(typ string) []*Frame {
	var out []*Frame
	for _, f := range p.all() {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (p *fakePeer) findAck(ackID string) *Frame {
	for _, f := range p.all() {
		if f.IsAck() && f.AckID == ackID {
			return f
		}
	}
	return nil
}

// indexOf 帧在收到顺序中的位置
func (p *fakePeer) indexOf(target *Frame) int {
	for i, f := range p.all() {
		if f == target {
			return i
		}
	}
	return -1
}

type hubEnv struct {
	db    *gorm.DB
	f     *repository.Fixture
	hub   *Hub
	clock *clockwork.FakeClock
}

func newHubEnv(t *testing.T, opts Options) *hubEnv {
	t.Helper()
	db := repository.SetupTestDB(t)
	f := repository.SeedSession(t, db, 3, 2, 2)
	store := repository.NewLedgerStore(db)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	hub := NewHub(Services{
		StateMachine: game.NewStateMachine(store, clock, log),
		Selection:    game.NewSelectionService(store, log),
		Annotation:   game.NewAnnotationService(store, false, log),
		Snapshots:    store,
	}, opts, clock, log)
	t.Cleanup(hub.Close)

	return &hubEnv{db: db, f: f, hub: hub, clock: clock}
}

func (e *hubEnv) connect(clientID string, identity Identity) *fakePeer {
	p := newFakePeer("conn-" + clientID)
	e.hub.Attach(p, clientID, identity)
	return p
}

func (e *hubEnv) send(t *testing.T, clientID, cmdType, ackID string, payload interface{}) {
	t.Helper()
	raw, err := EncodeCommand(cmdType, ackID, payload)
	require.NoError(t, err)
	e.hub.HandleMessage(clientID, raw)
}

func waitAck(t *testing.T, p *fakePeer, ackID string) *Frame {
	t.Helper()
	var ack *Frame
	require.Eventually(t, func() bool {
		ack = p.findAck(ackID)
		return ack != nil
	}, 2*time.Second, 5*time.Millisecond, "等待确认 %s", ackID)
	return ack
}

func (e *hubEnv) join(t *testing.T, clientID string, p *fakePeer) {
	t.Helper()
	ackID := "join-" + clientID
	e.send(t, clientID, CmdJoinSession, ackID, JoinSessionPayload{SessionID: e.f.Session.ID})
	ack := waitAck(t, p, ackID)
	require.True(t, *ack.OK, "%+v", ack.Error)
}

func decodeData(t *testing.T, f *Frame, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(f.Data, v))
}

func TestJoinSession_SnapshotOnlyToJoiner(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("a", Identity{})
	b := env.connect("b", Identity{})

	env.join(t, "a", a)

	states := a.ofType(EventSessionState)
	require.Len(t, states, 1)
	var view game.SessionView
	decodeData(t, states[0], &view)
	assert.Equal(t, env.f.Session.ID, view.SessionID)
	assert.Len(t, view.Groups, 3)

	ack := a.findAck("join-a")
	assert.Less(t, a.indexOf(states[0]), a.indexOf(ack))

	assert.Empty(t, b.ofType(EventSessionState))
	assert.Equal(t, 1, env.hub.RoomSize(env.f.Session.ID))
}

func TestJoinSession_BareNumberPayload(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("a", Identity{})

	raw := []byte(fmt.Sprintf(`{"type":"joinSession","ack_id":"1","data":%d}`, env.f.Session.ID))
	env.hub.HandleMessage("a", raw)

	ack := waitAck(t, a, "1")
	assert.True(t, *ack.OK)
	assert.Len(t, a.ofType(EventSessionState), 1)
}

func TestJoinSession_NotFound(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("a", Identity{})

	env.send(t, "a", CmdJoinSession, "j", JoinSessionPayload{SessionID: 4242})

	ack := waitAck(t, a, "j")
	assert.False(t, *ack.OK)
	require.NotNil(t, ack.Error)
	assert.Equal(t, int(apperrors.ErrNotFound), ack.Error.Code)
	assert.Empty(t, a.ofType(EventSessionState))
	assert.Equal(t, 0, env.hub.RoomSize(4242))
}

func TestSelectCard_BroadcastThenAck(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("a", Identity{})
	b := env.connect("b", Identity{})
	env.join(t, "a", a)
	env.join(t, "b", b)

	card := env.f.Cards[0]
	env.send(t, "a", CmdSelectCard, "s1", SelectCardPayload{
		SessionID: env.f.Session.ID, GroupID: env.f.Groups[0].ID, CardID: card.ID,
	})

	ack := waitAck(t, a, "s1")
	require.True(t, *ack.OK)

	var res game.SelectionResult
	decodeData(t, ack, &res)
	assert.True(t, res.Selected)
	assert.Equal(t, card.Value, res.TotalCO2)

	for _, p := range []*fakePeer{a, b} {
		events := p.ofType(EventCardSelected)
		require.Len(t, events, 1)
		var ev game.SelectionResult
		decodeData(t, events[0], &ev)
		assert.Equal(t, env.f.Groups[0].ID, ev.GroupID)
		assert.True(t, ev.Selected)
		assert.Len(t, ev.SelectedCards, 1)
	}

	// 发起方先收到广播，再收到确认
	assert.Less(t, a.indexOf(a.ofType(EventCardSelected)[0]), a.indexOf(ack))
	assert.Nil(t, b.findAck("s1"))
}

func TestCommandFailure_OnlyInitiatorNotified(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("a", Identity{})
	b := env.connect("b", Identity{})
	env.join(t, "a", a)
	env.join(t, "b", b)

	env.send(t, "a", CmdSelectCard, "bad", SelectCardPayload{
		SessionID: env.f.Session.ID, GroupID: env.f.Groups[0].ID, CardID: 9999,
	})
	ack := waitAck(t, a, "bad")
	assert.False(t, *ack.OK)
	assert.Equal(t, int(apperrors.ErrNotFound), ack.Error.Code)

	env.send(t, "a", CmdChangePhase, "phase", map[string]interface{}{"sessionId": env.f.Session.ID, "newPhase": 9})
	ack = waitAck(t, a, "phase")
	assert.False(t, *ack.OK)
	assert.Equal(t, int(apperrors.ErrPhaseInvalid), ack.Error.Code)

	assert.Empty(t, a.ofType(EventCardSelected))
	assert.Empty(t, b.ofType(EventCardSelected))
	assert.Empty(t, b.ofType(EventPhaseChanged))
	assert.Empty(t, b.ofType(EventError))
}

func TestMalformedFrames(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("a", Identity{})

	env.hub.HandleMessage("a", []byte("{not json"))
	require.Eventually(t, func() bool { return len(a.ofType(EventError)) == 1 }, time.Second, 5*time.Millisecond)

	env.send(t, "a", "dance", "u1", nil)
	ack := waitAck(t, a, "u1")
	assert.False(t, *ack.OK)
	assert.Equal(t, int(apperrors.ErrUnknownCommand), ack.Error.Code)
	assert.Len(t, a.ofType(EventError), 2)

	env.send(t, "a", CmdSelectCard, "m1", map[string]interface{}{"sessionId": env.f.Session.ID})
	ack = waitAck(t, a, "m1")
	assert.Equal(t, int(apperrors.ErrInvalidParam), ack.Error.Code)

	env.send(t, "a", CmdCO2Estimation, "m2", map[string]interface{}{
		"sessionId": env.f.Session.ID, "groupId": env.f.Groups[0].ID, "cardId": env.f.Cards[0].ID,
	})
	ack = waitAck(t, a, "m2")
	assert.Equal(t, int(apperrors.ErrInvalidParam), ack.Error.Code)

	assert.False(t, a.isClosed())
}

func TestPing(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("a", Identity{})

	env.send(t, "a", CmdPing, "p", nil)

	assert.Len(t, a.ofType(EventPong), 1)
	ack := a.findAck("p")
	require.NotNil(t, ack)
	assert.True(t, *ack.OK)
}

func TestEndPhase_GroupsOnlyWhenPhaseAdvances(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("a", Identity{})
	env.join(t, "a", a)
	ref := SessionRef{SessionID: env.f.Session.ID}

	env.send(t, "a", CmdEndPhase, "r1", ref)
	waitAck(t, a, "r1")
	env.send(t, "a", CmdEndPhase, "r2", ref)
	waitAck(t, a, "r2")

	events := a.ofType(EventPhaseChanged)
	require.Len(t, events, 2)

	var first, second PhaseChangedEvent
	decodeData(t, events[0], &first)
	decodeData(t, events[1], &second)

	assert.Equal(t, 0, first.Phase)
	assert.Equal(t, 1, first.Round)
	assert.Empty(t, first.Groups)

	assert.Equal(t, 1, second.Phase)
	assert.Equal(t, 0, second.Round)
	require.Len(t, second.Groups, 3)
	for i, g := range second.Groups {
		assert.Equal(t, env.f.Groups[i].ID, g.GroupID)
		assert.Equal(t, i, g.TableIndex)
	}
}

func TestEndSession_BroadcastsSessionEnded(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("a", Identity{})
	b := env.connect("b", Identity{})
	env.join(t, "a", a)
	env.join(t, "b", b)
	ref := SessionRef{SessionID: env.f.Session.ID}

	env.send(t, "a", CmdEndSession, "e1", ref)
	ack := waitAck(t, a, "e1")
	require.True(t, *ack.OK)

	require.Len(t, b.ofType(EventSessionEnded), 1)
	phases := b.ofType(EventPhaseChanged)
	require.Len(t, phases, 1)
	var ev PhaseChangedEvent
	decodeData(t, phases[0], &ev)
	assert.Equal(t, models.SessionStatusClosed, ev.Status)
	assert.Equal(t, models.MaxPhase, ev.Phase)

	// 重复结束仍然成功
	env.send(t, "a", CmdEndSession, "e2", ref)
	ack = waitAck(t, a, "e2")
	assert.True(t, *ack.OK)
	assert.Len(t, b.ofType(EventSessionEnded), 2)
	assert.Len(t, b.ofType(EventPhaseChanged), 1)

	env.send(t, "a", CmdSelectCard, "s", SelectCardPayload{
		SessionID: env.f.Session.ID, GroupID: env.f.Groups[0].ID, CardID: env.f.Cards[0].ID,
	})
	ack = waitAck(t, a, "s")
	assert.Equal(t, int(apperrors.ErrSessionClosed), ack.Error.Code)
}

func TestAnnotationImplicitSelectionBroadcastsCardSelected(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("a", Identity{})
	b := env.connect("b", Identity{})
	env.join(t, "a", a)
	env.join(t, "b", b)

	card := env.f.Cards[1]
	env.send(t, "a", CmdCO2Estimation, "c1", CO2EstimationPayload{
		SessionID: env.f.Session.ID, GroupID: env.f.Groups[1].ID, CardID: card.ID, Value: intp(12),
	})
	waitAck(t, a, "c1")

	selected := b.ofType(EventCardSelected)
	require.Len(t, selected, 1)
	var sel game.SelectionResult
	decodeData(t, selected[0], &sel)
	assert.True(t, sel.Selected)
	assert.Equal(t, card.ID, sel.CardID)
	assert.Equal(t, 12, sel.TotalCO2)

	estimates := b.ofType(EventCO2Estimation)
	require.Len(t, estimates, 1)
	assert.Less(t, b.indexOf(selected[0]), b.indexOf(estimates[0]))

	// 记录已存在时不再补发选卡事件
	env.send(t, "a", CmdAcceptanceLevel, "l1", AcceptanceLevelPayload{
		SessionID: env.f.Session.ID, GroupID: env.f.Groups[1].ID, CardID: card.ID, Level: strp(models.AcceptanceLow),
	})
	waitAck(t, a, "l1")
	assert.Len(t, b.ofType(EventCardSelected), 1)

	levels := b.ofType(EventAcceptanceLevel)
	require.Len(t, levels, 1)
	var lvl game.AcceptanceResult
	decodeData(t, levels[0], &lvl)
	require.NotNil(t, lvl.Level)
	assert.Equal(t, models.AcceptanceLow, *lvl.Level)
}

func TestReconnect_WithinGraceResumes(t *testing.T) {
	grace := time.Minute
	env := newHubEnv(t, Options{ReconnectGrace: grace})
	a := env.connect("a", Identity{})
	b := env.connect("b", Identity{})
	env.join(t, "a", a)
	env.join(t, "b", b)

	env.hub.Detach("a", a)
	assert.Equal(t, 2, env.hub.RoomSize(env.f.Session.ID))

	// 断线期间其他桌的操作
	env.send(t, "b", CmdSelectCard, "b1", SelectCardPayload{
		SessionID: env.f.Session.ID, GroupID: env.f.Groups[2].ID, CardID: env.f.Cards[3].ID,
	})
	waitAck(t, b, "b1")

	// 断线期间自己发出的命令，确认暂存
	env.hub.Dispatch("a", &Command{Type: CmdEndPhase, AckID: "a1", Data: mustJSON(t, SessionRef{SessionID: env.f.Session.ID})})
	require.Eventually(t, func() bool { return len(b.ofType(EventPhaseChanged)) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, a.ofType(EventCardSelected))

	env.clock.Advance(grace / 2)

	a2 := newFakePeer("conn-a2")
	assert.True(t, env.hub.Attach(a2, "a", Identity{}))

	connected := a2.ofType(EventConnected)
	require.Len(t, connected, 1)
	var ce ConnectedEvent
	decodeData(t, connected[0], &ce)
	assert.True(t, ce.Resumed)
	assert.Equal(t, env.f.Session.ID, ce.SessionID)

	ack := waitAck(t, a2, "a1")
	assert.True(t, *ack.OK)

	require.Eventually(t, func() bool { return len(a2.ofType(EventSessionState)) == 1 }, 2*time.Second, 5*time.Millisecond)
	state := a2.ofType(EventSessionState)[0]
	var view game.SessionView
	decodeData(t, state, &view)

	// 快照等于断线时状态加上期间的广播
	live, err := game.BuildSessionView(context.Background(), repository.NewLedgerStore(env.db), env.f.Session.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(mustJSON(t, live)), string(state.Data))
	assert.Equal(t, 1, view.Round)
	assert.Len(t, view.Group(env.f.Groups[2].ID).SelectedCards, 1)

	// 宽限期计时器已取消
	env.clock.Advance(grace)
	sid, ok := env.hub.MemberSession("a")
	assert.True(t, ok)
	assert.Equal(t, env.f.Session.ID, sid)
	assert.Equal(t, 2, env.hub.RoomSize(env.f.Session.ID))
}

func TestReconnect_AfterGracePurgesMember(t *testing.T) {
	grace := 30 * time.Second
	env := newHubEnv(t, Options{ReconnectGrace: grace})
	a := env.connect("a", Identity{})
	env.join(t, "a", a)

	env.hub.Detach("a", a)
	env.clock.Advance(grace + time.Second)

	require.Eventually(t, func() bool {
		_, ok := env.hub.MemberSession("a")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, env.hub.RoomSize(env.f.Session.ID))

	a2 := newFakePeer("conn-a2")
	assert.False(t, env.hub.Attach(a2, "a", Identity{}))
	assert.Empty(t, a2.ofType(EventSessionState))
}

func TestDetach_StaleConnectionIgnored(t *testing.T) {
	env := newHubEnv(t, Options{ReconnectGrace: time.Minute})
	a := env.connect("a", Identity{})
	env.join(t, "a", a)

	a2 := newFakePeer("conn-a2")
	env.hub.Attach(a2, "a", Identity{})
	assert.True(t, a.isClosed())

	// 旧连接的读协程退出时不影响新连接
	env.hub.Detach("a", a)
	assert.Equal(t, 1, env.hub.OnlineCount())
}

func TestSlowPeerIsClosed(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("a", Identity{})
	slow := env.connect("slow", Identity{})
	env.join(t, "a", a)
	env.join(t, "slow", slow)

	slow.mu.Lock()
	slow.limit = len(slow.frames)
	slow.mu.Unlock()

	env.send(t, "a", CmdSelectCard, "s", SelectCardPayload{
		SessionID: env.f.Session.ID, GroupID: env.f.Groups[0].ID, CardID: env.f.Cards[0].ID,
	})
	waitAck(t, a, "s")

	assert.True(t, slow.isClosed())
	assert.False(t, a.isClosed())
	assert.Len(t, a.ofType(EventCardSelected), 1)
}

func TestConcurrentSelectFromTwoConnections(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("a", Identity{})
	b := env.connect("b", Identity{})
	env.join(t, "a", a)
	env.join(t, "b", b)

	payload := SelectCardPayload{SessionID: env.f.Session.ID, GroupID: env.f.Groups[0].ID, CardID: env.f.Cards[2].ID}

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			env.send(t, id, CmdSelectCard, "race-"+id, payload)
		}(id)
	}
	wg.Wait()

	ackA := waitAck(t, a, "race-a")
	ackB := waitAck(t, b, "race-b")
	require.True(t, *ackA.OK)
	require.True(t, *ackB.OK)

	var ra, rb game.SelectionResult
	decodeData(t, ackA, &ra)
	decodeData(t, ackB, &rb)
	assert.NotEqual(t, ra.Selected, rb.Selected)

	var count int64
	require.NoError(t, env.db.Model(&models.AcceptedCard{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, int64(1), repository.ReloadCard(t, env.db, payload.CardID).TimesSelected)
}

func TestEnforceRoles(t *testing.T) {
	env := newHubEnv(t, Options{EnforceRoles: true})
	sid := env.f.Session.ID
	own, other := env.f.Groups[0].ID, env.f.Groups[1].ID

	table := env.connect("table", Identity{Role: RoleTable, SessionID: sid, GroupID: own})
	admin := env.connect("admin", Identity{Role: RoleAdmin, AdminID: env.f.Admin.ID})
	guest := env.connect("guest", Identity{})
	env.join(t, "table", table)
	env.join(t, "admin", admin)
	env.join(t, "guest", guest)

	env.send(t, "table", CmdChangePhase, "t1", map[string]interface{}{"sessionId": sid, "newPhase": 2})
	assert.Equal(t, int(apperrors.ErrPermissionDenied), waitAck(t, table, "t1").Error.Code)

	env.send(t, "table", CmdSelectCard, "t2", SelectCardPayload{SessionID: sid, GroupID: other, CardID: env.f.Cards[0].ID})
	assert.Equal(t, int(apperrors.ErrPermissionDenied), waitAck(t, table, "t2").Error.Code)

	env.send(t, "table", CmdSelectCard, "t3", SelectCardPayload{SessionID: sid, GroupID: own, CardID: env.f.Cards[0].ID})
	assert.True(t, *waitAck(t, table, "t3").OK)

	env.send(t, "guest", CmdSelectCard, "g1", SelectCardPayload{SessionID: sid, GroupID: own, CardID: env.f.Cards[1].ID})
	assert.Equal(t, int(apperrors.ErrPermissionDenied), waitAck(t, guest, "g1").Error.Code)

	env.send(t, "admin", CmdChangePhase, "a1", map[string]interface{}{"sessionId": sid, "newPhase": 2})
	assert.True(t, *waitAck(t, admin, "a1").OK)
}

func TestCloseRejectsNewCommands(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("a", Identity{})

	env.hub.Close()
	assert.True(t, a.isClosed())

	// 关闭后成员已清空，命令被忽略
	env.send(t, "a", CmdJoinSession, "j", JoinSessionPayload{SessionID: env.f.Session.ID})
	assert.Nil(t, a.findAck("j"))
}

func TestWorkers_UnknownSessionJoinsSpawnNone(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("a", Identity{})

	for i := 0; i < 500; i++ {
		env.send(t, "a", CmdJoinSession, fmt.Sprintf("j%d", i), JoinSessionPayload{SessionID: uint(100000 + i)})
	}
	for i := 0; i < 500; i++ {
		ack := waitAck(t, a, fmt.Sprintf("j%d", i))
		require.False(t, *ack.OK)
		assert.Equal(t, int(apperrors.ErrNotFound), ack.Error.Code)
	}
	assert.Equal(t, 0, env.hub.WorkerCount())
}

func TestWorkers_RetireWhenRoomEmpties(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("a", Identity{})
	env.join(t, "a", a)
	assert.Equal(t, 1, env.hub.WorkerCount())

	// 房间有成员时协程在命令之间保持运行
	b := env.connect("b", Identity{})
	env.send(t, "b", CmdSelectCard, "b1", SelectCardPayload{
		SessionID: env.f.Session.ID, GroupID: env.f.Groups[0].ID, CardID: env.f.Cards[0].ID,
	})
	waitAck(t, b, "b1")
	assert.Equal(t, 1, env.hub.WorkerCount())

	env.hub.Detach("a", a)
	assert.Equal(t, 0, env.hub.RoomSize(env.f.Session.ID))
	require.Eventually(t, func() bool { return env.hub.WorkerCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	// 退出后再次加入会重新启动协程
	env.join(t, "b", b)
	assert.Equal(t, 1, env.hub.WorkerCount())
}

func TestWorkers_RetireAfterGraceExpires(t *testing.T) {
	grace := 30 * time.Second
	env := newHubEnv(t, Options{ReconnectGrace: grace})
	a := env.connect("a", Identity{})
	env.join(t, "a", a)

	env.hub.Detach("a", a)
	assert.Equal(t, 1, env.hub.WorkerCount())

	env.clock.Advance(grace + time.Second)
	require.Eventually(t, func() bool { return env.hub.WorkerCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWorkers_SwitchingSessionRetiresOldRoom(t *testing.T) {
	env := newHubEnv(t, Options{})
	other := repository.SeedSession(t, env.db, 2, 1, 1)
	a := env.connect("a", Identity{})
	env.join(t, "a", a)

	env.send(t, "a", CmdJoinSession, "j2", JoinSessionPayload{SessionID: other.Session.ID})
	require.True(t, *waitAck(t, a, "j2").OK)

	require.Eventually(t, func() bool { return env.hub.WorkerCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, env.hub.RoomSize(env.f.Session.ID))
	assert.Equal(t, 1, env.hub.RoomSize(other.Session.ID))
}

func TestResync_QueueFullSendsErrorEvent(t *testing.T) {
	env := newHubEnv(t, Options{QueueSize: 1, ReconnectGrace: time.Minute})
	sid := env.f.Session.ID
	a := env.connect("a", Identity{})
	env.join(t, "a", a)

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, env.hub.enqueue(sid, func(context.Context) {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, env.hub.enqueue(sid, func(context.Context) {}))
	defer close(release)

	env.hub.Detach("a", a)
	a2 := newFakePeer("conn-a2")
	require.True(t, env.hub.Attach(a2, "a", Identity{}))

	errs := a2.ofType(EventError)
	require.Len(t, errs, 1)
	var ev ErrorEvent
	decodeData(t, errs[0], &ev)
	assert.Equal(t, int(apperrors.ErrQueueFull), ev.Code)
	assert.Empty(t, a2.ofType(EventSessionState))
}

func intp(v int) *int { return &v }

func strp(s string) *string { return &s }

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
