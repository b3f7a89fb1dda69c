package syncclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/carbon-cards/internal/config"
	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/game"
	"github.com/wfunc/carbon-cards/internal/models"
	"github.com/wfunc/carbon-cards/internal/repository"
	ws "github.com/wfunc/carbon-cards/internal/websocket"
	"go.uber.org/zap"
)

type testServer struct {
	url string
	f   *repository.Fixture
	hub *ws.Hub
}

// newTestServer 启动带真实Hub的WebSocket服务
func newTestServer(t *testing.T, groups int) *testServer {
	t.Helper()
	db := repository.SetupTestDB(t)
	f := repository.SeedSession(t, db, groups, 2, 2)
	store := repository.NewLedgerStore(db)
	log := zap.NewNop()
	clock := clockwork.NewRealClock()

	hub := ws.NewHub(ws.Services{
		StateMachine: game.NewStateMachine(store, clock, log),
		Selection:    game.NewSelectionService(store, log),
		Annotation:   game.NewAnnotationService(store, false, log),
		Snapshots:    store,
	}, ws.Options{ReconnectGrace: time.Minute}, clock, log)

	upgrader := ws.NewUpgrader(&config.WebSocketConfig{}, func(*http.Request) bool { return true })
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.NewClient(hub, conn, r.URL.Query().Get("client_id"), ws.ConnOptions{}, log).Serve(ws.Identity{})
	}))

	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	return &testServer{url: "ws" + strings.TrimPrefix(srv.URL, "http"), f: f, hub: hub}
}

func (s *testServer) dial(t *testing.T, groupIdx int, clientID string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), Options{URL: s.url, ClientID: clientID, GroupID: s.f.Groups[groupIdx].ID})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_SelectionReachesEveryMirror(t *testing.T) {
	srv := newTestServer(t, 3)
	ctx := context.Background()
	sid := srv.f.Session.ID

	a := srv.dial(t, 0, "a")
	b := srv.dial(t, 1, "b")

	view, err := a.JoinSession(ctx, sid)
	require.NoError(t, err)
	assert.Len(t, view.Groups, 3)
	assert.True(t, a.Mirror().Ready())

	_, err = b.JoinSession(ctx, sid)
	require.NoError(t, err)

	card := srv.f.Cards[0]
	res, err := a.SelectCard(ctx, sid, srv.f.Groups[0].ID, card.ID)
	require.NoError(t, err)
	assert.True(t, res.Selected)

	// 确认在广播之后，发起方镜像已更新
	mine, _ := a.Mirror().View()
	assert.Equal(t, card.Value, mine.Group(srv.f.Groups[0].ID).TotalCO2)

	require.Eventually(t, func() bool {
		v, _ := b.Mirror().View()
		return len(v.Group(srv.f.Groups[0].ID).SelectedCards) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = b.SetCO2Estimation(ctx, sid, srv.f.Groups[0].ID, card.ID, 42)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, _ := a.Mirror().View()
		return v.TotalCO2 == 42
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_RotationAcrossPhases(t *testing.T) {
	srv := newTestServer(t, 4)
	ctx := context.Background()
	sid := srv.f.Session.ID

	table := srv.dial(t, 2, "table-2")
	admin := srv.dial(t, 0, "admin")
	_, err := table.JoinSession(ctx, sid)
	require.NoError(t, err)
	_, err = admin.JoinSession(ctx, sid)
	require.NoError(t, err)

	var seen []int
	for _, phase := range []int{1, 2, 3, 4} {
		state, err := admin.ChangePhase(ctx, sid, phase)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			v, _ := table.Mirror().View()
			return v.Version == state.Version
		}, 2*time.Second, 10*time.Millisecond)
		seen = append(seen, table.Mirror().VisibleTable())
	}
	assert.Equal(t, []int{2, 3, 0, 2}, seen)
}

func TestClient_ErrorAck(t *testing.T) {
	srv := newTestServer(t, 1)
	c := srv.dial(t, 0, "c")

	_, err := c.JoinSession(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = c.ChangePhase(context.Background(), srv.f.Session.ID, 7)
	assert.True(t, apperrors.Is(err, apperrors.ErrPhaseInvalid))

	assert.NoError(t, c.Ping(context.Background()))
}

func TestClient_ReconnectReplacesMirror(t *testing.T) {
	srv := newTestServer(t, 2)
	ctx := context.Background()
	sid := srv.f.Session.ID

	a := srv.dial(t, 0, "a")
	b := srv.dial(t, 1, "b")
	_, err := a.JoinSession(ctx, sid)
	require.NoError(t, err)
	_, err = b.JoinSession(ctx, sid)
	require.NoError(t, err)
	before, _ := a.Mirror().View()

	require.NoError(t, a.Reconnect(ctx))

	_, err = b.EndPhase(ctx, sid)
	require.NoError(t, err)
	_, err = b.SelectCard(ctx, sid, srv.f.Groups[1].ID, srv.f.Cards[1].ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return a.Resumed() }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		v, _ := a.Mirror().View()
		return v.Round == 1 && len(v.Group(srv.f.Groups[1].ID).SelectedCards) == 1
	}, 2*time.Second, 10*time.Millisecond)

	after, _ := a.Mirror().View()
	assert.Equal(t, before.Round+1, after.Round)
	assert.Equal(t, 2, srv.hub.RoomSize(sid))
}

func TestClient_AckTimeout(t *testing.T) {
	// 服务端只读不回
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	c, err := Dial(context.Background(), Options{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		AckTimeout: 3 * time.Second,
		Clock:      clock,
	})
	require.NoError(t, err)
	defer c.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.SelectCard(context.Background(), 1, 1, 1)
		errCh <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(3 * time.Second)

	select {
	case err := <-errCh:
		assert.True(t, apperrors.Is(err, apperrors.ErrTimeout), "%v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("请求没有超时")
	}
}

func TestClient_TransportLossFailsPendingRequest(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// 收到第一条命令后直接断开
		conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), AckTimeout: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.EndSession(context.Background(), 1)
	assert.True(t, apperrors.Is(err, apperrors.ErrWebSocketClosed), "%v", err)

	<-c.Done()
	_, err = c.Request(context.Background(), ws.CmdPing, nil)
	assert.Error(t, err)
}

func TestClient_ClosedSessionRejectsCommands(t *testing.T) {
	srv := newTestServer(t, 1)
	ctx := context.Background()
	sid := srv.f.Session.ID
	c := srv.dial(t, 0, "c")

	_, err := c.JoinSession(ctx, sid)
	require.NoError(t, err)

	state, err := c.EndSession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusClosed, state.Status)

	_, err = c.SelectCard(ctx, sid, srv.f.Groups[0].ID, srv.f.Cards[0].ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrSessionClosed))

	v, _ := c.Mirror().View()
	assert.Equal(t, models.SessionStatusClosed, v.Status)
}
