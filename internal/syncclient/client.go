package syncclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/game"
	ws "github.com/wfunc/carbon-cards/internal/websocket"
	"go.uber.org/zap"
)

// DefaultAckTimeout 默认确认超时
const DefaultAckTimeout = 5 * time.Second

// Options 客户端参数
type Options struct {
	// URL 服务端WebSocket地址，例如 ws://127.0.0.1:8080/ws
	URL string
	// ClientID 稳定的客户端ID，重连时用于恢复房间，为空时自动生成
	ClientID string
	Token    string
	// GroupID 本客户端所属小组，用于计算桌面轮换
	GroupID    uint
	AckTimeout time.Duration
	Clock      clockwork.Clock
	Dialer     *websocket.Dialer
	Logger     *zap.Logger
	// OnEvent 每条事件应用到镜像之后回调
	OnEvent func(eventType string, mirror *Mirror)
}

// connection 一次拨号建立的连接，断开后 lost 关闭
type connection struct {
	conn    *websocket.Conn
	lost    chan struct{}
	writeMu sync.Mutex
}

// Client 会话同步客户端：发送命令等待确认，接收广播维护镜像。
// 命令失败或超时直接返回给调用方，不自动重试。
type Client struct {
	opts   Options
	clock  clockwork.Clock
	logger *zap.Logger
	mirror *Mirror

	mu      sync.Mutex
	current *connection
	pending map[string]chan *ws.Frame
	resumed bool
	closed  bool
}

// Dial 连接服务端
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.ClientID == "" {
		opts.ClientID = uuid.New().String()
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Client{
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger.With(zap.String("client_id", opts.ClientID)),
		mirror:  NewMirror(opts.GroupID),
		pending: make(map[string]chan *ws.Frame),
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ClientID 客户端ID
func (c *Client) ClientID() string {
	return c.opts.ClientID
}

// Mirror 本地镜像
func (c *Client) Mirror() *Mirror {
	return c.mirror
}

// Resumed 最近一次连接是否恢复了原有成员
func (c *Client) Resumed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumed
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrInvalidParam, "无效的服务端地址")
	}
	q := u.Query()
	q.Set("client_id", c.opts.ClientID)
	if c.opts.Token != "" {
		q.Set("token", c.opts.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) connect(ctx context.Context) error {
	target, err := c.dialURL()
	if err != nil {
		return err
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return apperrors.Wrap(err, apperrors.ErrAuthentication, "令牌无效")
		}
		return apperrors.Wrap(err, apperrors.ErrWebSocketConnect)
	}

	cn := &connection{conn: conn, lost: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return apperrors.New(apperrors.ErrWebSocketClosed, "客户端已关闭")
	}
	c.current = cn
	c.mu.Unlock()

	go c.readLoop(cn)
	c.logger.Debug("已连接服务端", zap.String("url", c.opts.URL))
	return nil
}

// readLoop 读取服务端帧：确认交给等待的请求，事件应用到镜像
func (c *Client) readLoop(cn *connection) {
	defer func() {
		close(cn.lost)
		cn.conn.Close()
	}()

	for {
		_, raw, err := cn.conn.ReadMessage()
		if err != nil {
			c.logger.Debug("连接断开", zap.Error(err))
			return
		}

		f, err := ws.DecodeFrame(raw)
		if err != nil {
			c.logger.Warn("无法解析服务端消息", zap.Error(err))
			continue
		}

		if f.IsAck() {
			c.deliverAck(f)
			continue
		}

		if f.Type == ws.EventConnected {
			var ev ws.ConnectedEvent
			if json.Unmarshal(f.Data, &ev) == nil {
				c.mu.Lock()
				c.resumed = ev.Resumed
				c.mu.Unlock()
			}
		}

		if err := c.mirror.Apply(f); err != nil {
			c.logger.Warn("应用事件失败", zap.String("type", f.Type), zap.Error(err))
			continue
		}
		if f.Type == ws.EventError {
			c.logger.Warn("服务端错误", zap.ByteString("data", f.Data))
		}
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(f.Type, c.mirror)
		}
	}
}

func (c *Client) deliverAck(f *ws.Frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.AckID]
	if ok {
		delete(c.pending, f.AckID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("收到过期的确认", zap.String("ack_id", f.AckID))
		return
	}
	ch <- f
}

// Request 发送命令并在 AckTimeout 内等待确认。
// 超时、连接断开或确认携带错误时返回错误；超时后命令仍可能已在服务端执行。
func (c *Client) Request(ctx context.Context, cmdType string, payload interface{}) (json.RawMessage, error) {
	ackID := uuid.New().String()
	raw, err := ws.EncodeCommand(cmdType, ackID, payload)
	if err != nil {
		return nil, err
	}

	ch := make(chan *ws.Frame, 1)
	c.mu.Lock()
	if c.closed || c.current == nil {
		c.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrWebSocketClosed, "客户端未连接")
	}
	cn := c.current
	c.pending[ackID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, ackID)
		c.mu.Unlock()
	}()

	timer := c.clock.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()

	if err := cn.write(raw); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrWebSocketSend)
	}

	select {
	case f := <-ch:
		if f.OK == nil || !*f.OK {
			if f.Error == nil {
				return nil, apperrors.New(apperrors.ErrUnknown, "确认缺少错误信息")
			}
			return nil, f.Error.Err()
		}
		return f.Data, nil
	case <-timer.Chan():
		return nil, apperrors.Newf(apperrors.ErrTimeout, "%s 等待确认超时", cmdType)
	case <-cn.lost:
		return nil, apperrors.Newf(apperrors.ErrWebSocketClosed, "%s 等待确认时连接断开", cmdType)
	case <-ctx.Done():
		return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrCanceled)
	}
}

func (cn *connection) write(raw []byte) error {
	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()
	return cn.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) requestInto(ctx context.Context, cmdType string, payload, out interface{}) error {
	data, err := c.Request(ctx, cmdType, payload)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrMessageFormat, "解析 %s 确认失败", cmdType)
	}
	return nil
}

// JoinSession 加入会话，返回的快照已应用到镜像
func (c *Client) JoinSession(ctx context.Context, sessionID uint) (*game.SessionView, error) {
	var view game.SessionView
	if err := c.requestInto(ctx, ws.CmdJoinSession, ws.JoinSessionPayload{SessionID: sessionID}, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ChangePhase 切换阶段
func (c *Client) ChangePhase(ctx context.Context, sessionID uint, phase int) (*game.PhaseState, error) {
	var state game.PhaseState
	err := c.requestInto(ctx, ws.CmdChangePhase, ws.ChangePhasePayload{SessionID: sessionID, NewPhase: &phase}, &state)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// EndPhase 结束当前轮次
func (c *Client) EndPhase(ctx context.Context, sessionID uint) (*game.PhaseState, error) {
	var state game.PhaseState
	if err := c.requestInto(ctx, ws.CmdEndPhase, ws.SessionRef{SessionID: sessionID}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// EndSession 结束会话
func (c *Client) EndSession(ctx context.Context, sessionID uint) (*game.PhaseState, error) {
	var state game.PhaseState
	if err := c.requestInto(ctx, ws.CmdEndSession, ws.SessionRef{SessionID: sessionID}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SelectCard 切换选卡
func (c *Client) SelectCard(ctx context.Context, sessionID, groupID, cardID uint) (*game.SelectionResult, error) {
	var res game.SelectionResult
	payload := ws.SelectCardPayload{SessionID: sessionID, GroupID: groupID, CardID: cardID}
	if err := c.requestInto(ctx, ws.CmdSelectCard, payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SetCO2Estimation 设置CO₂估值
func (c *Client) SetCO2Estimation(ctx context.Context, sessionID, groupID, cardID uint, value int) (*game.EstimateResult, error) {
	var res game.EstimateResult
	payload := ws.CO2EstimationPayload{SessionID: sessionID, GroupID: groupID, CardID: cardID, Value: &value}
	if err := c.requestInto(ctx, ws.CmdCO2Estimation, payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SetAcceptanceLevel 设置接受程度，level 为 nil 表示清除
func (c *Client) SetAcceptanceLevel(ctx context.Context, sessionID, groupID, cardID uint, level *string) (*game.AcceptanceResult, error) {
	var res game.AcceptanceResult
	payload := ws.AcceptanceLevelPayload{SessionID: sessionID, GroupID: groupID, CardID: cardID, Level: level}
	if err := c.requestInto(ctx, ws.CmdAcceptanceLevel, payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Ping 心跳
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Request(ctx, ws.CmdPing, nil)
	return err
}

// Reconnect 关闭当前连接并用同一个 client_id 重新拨号。
// 宽限期内服务端恢复原有房间，随后下发的快照会替换镜像。
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	old := c.current
	c.current = nil
	c.mu.Unlock()

	if old != nil {
		old.conn.Close()
		<-old.lost
	}
	return c.connect(ctx)
}

// Done 当前连接断开时关闭
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.current.lost
}

// Close 关闭客户端
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cn := c.current
	c.current = nil
	c.mu.Unlock()

	if cn == nil {
		return nil
	}
	cn.writeMu.Lock()
	cn.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	cn.writeMu.Unlock()
	err := cn.conn.Close()
	<-cn.lost
	return err
}
