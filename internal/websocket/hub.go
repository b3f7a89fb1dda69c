package websocket

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/wfunc/carbon-cards/internal/config"
	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/game"
	"go.uber.org/zap"
)

// Peer 一条可以下发消息的连接
type Peer interface {
	ID() string
	// Send 非阻塞发送，缓冲区满或连接已关闭时返回false
	Send(data []byte) bool
	Close()
}

// Services 命令执行依赖的业务服务
type Services struct {
	StateMachine *game.StateMachine
	Selection    *game.SelectionService
	Annotation   *game.AnnotationService
	Snapshots    game.SnapshotReader
}

// Options Hub运行参数
type Options struct {
	QueueSize      int
	CommandTimeout time.Duration
	ReconnectGrace time.Duration
	MaxPendingAcks int
	EnforceRoles   bool
}

// OptionsFromConfig 从全局配置生成Hub参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		QueueSize:      cfg.Session.QueueSize,
		CommandTimeout: cfg.Session.CommandTimeout,
		ReconnectGrace: cfg.WebSocket.ReconnectGrace,
		MaxPendingAcks: cfg.WebSocket.MaxPendingAcks,
		EnforceRoles:   cfg.Security.EnforceRoles,
	}
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 128
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 10 * time.Second
	}
	if o.MaxPendingAcks <= 0 {
		o.MaxPendingAcks = 64
	}
	return o
}

// member 一个客户端在Hub中的登记，断线后在宽限期内保留
type member struct {
	clientID  string
	identity  Identity
	sessionID uint
	// peer 为nil表示已断线，等待重连
	peer Peer
	// pending 断线期间产生的确认，重连后补发
	pending  [][]byte
	grace    clockwork.Timer
	graceGen uint64
}

// Hub 会话房间与命令分发中心
type Hub struct {
	services Services
	opts     Options
	clock    clockwork.Clock
	logger   *zap.Logger

	// 成员与房间，同一把锁保护
	mu      sync.RWMutex
	members map[string]*member
	rooms   map[uint]map[string]*member

	// 每个会话一个单写协程
	workersMu sync.Mutex
	workers   map[uint]*sessionWorker
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub 创建Hub
func NewHub(services Services, opts Options, clock clockwork.Clock, logger *zap.Logger) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		services: services,
		opts:     opts.withDefaults(),
		clock:    clock,
		logger:   logger,
		members:  make(map[string]*member),
		rooms:    make(map[uint]map[string]*member),
		workers:  make(map[uint]*sessionWorker),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Attach 登记一条新连接。clientID 在宽限期内已存在时恢复原成员：
// 保留房间、补发断线期间的确认并重新下发会话快照。
func (h *Hub) Attach(peer Peer, clientID string, identity Identity) bool {
	if clientID == "" {
		clientID = peer.ID()
	}

	h.mu.Lock()
	m, ok := h.members[clientID]
	if !ok {
		h.members[clientID] = &member{clientID: clientID, identity: identity, peer: peer}
		h.mu.Unlock()

		h.logger.Info("WebSocket客户端连接", zap.String("client_id", clientID), zap.String("role", identity.Role))
		h.sendEvent(peer, EventConnected, ConnectedEvent{ClientID: clientID})
		return false
	}

	if m.grace != nil {
		m.grace.Stop()
		m.grace = nil
	}
	m.graceGen++
	old := m.peer
	m.peer = peer
	m.identity = identity
	sessionID := m.sessionID

	h.sendEvent(peer, EventConnected, ConnectedEvent{ClientID: clientID, Resumed: true, SessionID: sessionID})
	for _, data := range m.pending {
		peer.Send(data)
	}
	flushed := len(m.pending)
	m.pending = nil
	h.mu.Unlock()

	if old != nil && old != peer {
		old.Close()
	}

	h.logger.Info("WebSocket客户端恢复",
		zap.String("client_id", clientID),
		zap.Uint("session_id", sessionID),
		zap.Int("flushed_acks", flushed))

	if sessionID != 0 {
		h.resync(sessionID, clientID)
	}
	return true
}

// Detach 连接断开，成员保留到宽限期结束
func (h *Hub) Detach(clientID string, peer Peer) {
	h.mu.Lock()
	m, ok := h.members[clientID]
	if !ok || m.peer != peer {
		h.mu.Unlock()
		return
	}
	m.peer = nil

	if h.opts.ReconnectGrace <= 0 {
		emptied := h.purgeLocked(m)
		h.mu.Unlock()
		h.wakeWorker(emptied)
		return
	}
	defer h.mu.Unlock()

	m.graceGen++
	gen := m.graceGen
	m.grace = h.clock.AfterFunc(h.opts.ReconnectGrace, func() {
		h.expire(clientID, gen)
	})

	h.logger.Info("WebSocket客户端断开，等待重连",
		zap.String("client_id", clientID),
		zap.Uint("session_id", m.sessionID),
		zap.Duration("grace", h.opts.ReconnectGrace))
}

// expire 宽限期结束仍未重连则移除成员
func (h *Hub) expire(clientID string, gen uint64) {
	h.mu.Lock()
	m, ok := h.members[clientID]
	if !ok || m.peer != nil || m.graceGen != gen {
		h.mu.Unlock()
		return
	}
	emptied := h.purgeLocked(m)
	h.mu.Unlock()

	h.wakeWorker(emptied)
	h.logger.Info("重连宽限期结束，移除客户端", zap.String("client_id", clientID))
}

// purgeLocked 移除成员，返回因此变空的会话房间（0 表示没有）
func (h *Hub) purgeLocked(m *member) uint {
	emptied := h.leaveRoomLocked(m)
	delete(h.members, m.clientID)
	return emptied
}

func (h *Hub) leaveRoomLocked(m *member) uint {
	sessionID := m.sessionID
	if sessionID == 0 {
		return 0
	}
	m.sessionID = 0
	room, ok := h.rooms[sessionID]
	if !ok {
		return 0
	}
	delete(room, m.clientID)
	if len(room) > 0 {
		return 0
	}
	delete(h.rooms, sessionID)
	return sessionID
}

// joinRoomLocked 把成员移入会话房间，返回因此变空的旧房间
func (h *Hub) joinRoomLocked(m *member, sessionID uint) uint {
	if m.sessionID == sessionID {
		return 0
	}
	emptied := h.leaveRoomLocked(m)
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[string]*member)
		h.rooms[sessionID] = room
	}
	room[m.clientID] = m
	m.sessionID = sessionID
	return emptied
}

// HandleMessage 处理一条客户端消息
func (h *Hub) HandleMessage(clientID string, raw []byte) {
	cmd, err := DecodeCommand(raw)
	if err != nil {
		h.logger.Debug("无效的WebSocket消息", zap.String("client_id", clientID), zap.Error(err))
		h.sendErrorEvent(clientID, err)
		return
	}
	h.Dispatch(clientID, cmd)
}

// Dispatch 校验命令并放入对应会话的单写队列
func (h *Hub) Dispatch(clientID string, cmd *Command) {
	identity, ok := h.identityOf(clientID)
	if !ok {
		return
	}

	if cmd.Type == CmdPing {
		h.sendEventTo(clientID, EventPong, nil)
		if cmd.AckID != "" {
			h.ack(clientID, cmd.AckID, nil, nil)
		}
		return
	}

	handler, ok := commandHandlers[cmd.Type]
	if !ok {
		err := apperrors.Newf(apperrors.ErrUnknownCommand, "%s", cmd.Type)
		h.sendErrorEvent(clientID, err)
		h.ack(clientID, cmd.AckID, nil, err)
		return
	}

	target, err := handler.decode(cmd)
	if err == nil {
		err = authorize(h.opts.EnforceRoles, identity, cmd.Type, target)
	}
	if err != nil {
		h.ack(clientID, cmd.AckID, nil, err)
		return
	}

	// 不存在的会话不启动会话协程
	if cmd.Type == CmdJoinSession {
		if err := h.sessionExists(target.SessionID); err != nil {
			h.ack(clientID, cmd.AckID, nil, err)
			return
		}
	}

	err = h.enqueue(target.SessionID, func(ctx context.Context) {
		h.execute(ctx, clientID, cmd, handler, target)
	})
	if err != nil {
		h.ack(clientID, cmd.AckID, nil, err)
	}
}

func (h *Hub) sessionExists(sessionID uint) error {
	ctx, cancel := context.WithTimeout(h.ctx, h.opts.CommandTimeout)
	defer cancel()
	_, err := h.services.Snapshots.GetSession(ctx, sessionID)
	return err
}

// execute 在会话单写协程中执行命令：成功时先广播事件再确认发起方，失败只确认发起方
func (h *Hub) execute(ctx context.Context, clientID string, cmd *Command, handler commandHandler, target commandTarget) {
	start := h.clock.Now()
	out, err := handler.run(ctx, h, clientID, target)
	if err != nil {
		h.logCommandError(clientID, cmd.Type, target.SessionID, err)
		h.ack(clientID, cmd.AckID, nil, err)
		return
	}

	for _, ev := range out.events {
		h.broadcast(target.SessionID, ev.name, ev.payload)
	}
	h.ack(clientID, cmd.AckID, out.result, nil)

	h.logger.Debug("命令执行完成",
		zap.String("client_id", clientID),
		zap.String("type", cmd.Type),
		zap.Uint("session_id", target.SessionID),
		zap.Duration("latency", h.clock.Since(start)))
}

func (h *Hub) logCommandError(clientID, cmdType string, sessionID uint, err error) {
	fields := []zap.Field{
		zap.String("client_id", clientID),
		zap.String("type", cmdType),
		zap.Uint("session_id", sessionID),
		zap.Error(err),
	}
	if _, ok := apperrors.As(err); ok {
		h.logger.Info("命令被拒绝", fields...)
		return
	}
	h.logger.Error("命令执行失败", fields...)
}

// resync 在会话协程中给恢复的成员重新下发快照
func (h *Hub) resync(sessionID uint, clientID string) {
	err := h.enqueue(sessionID, func(ctx context.Context) {
		view, err := game.BuildSessionView(ctx, h.services.Snapshots, sessionID)
		if err != nil {
			h.logger.Warn("重连快照失败", zap.String("client_id", clientID), zap.Uint("session_id", sessionID), zap.Error(err))
			h.sendErrorEvent(clientID, err)
			return
		}
		h.sendEventTo(clientID, EventSessionState, view)
	})
	if err != nil {
		h.logger.Warn("重连快照入队失败", zap.String("client_id", clientID), zap.Error(err))
		h.sendErrorEvent(clientID, err)
	}
}

// join 在会话协程中执行：先构建快照，再登记房间，保证不漏掉之后的事件
func (h *Hub) join(ctx context.Context, clientID string, sessionID uint) (*game.SessionView, error) {
	view, err := game.BuildSessionView(ctx, h.services.Snapshots, sessionID)
	if err != nil {
		return nil, err
	}

	data, err := EncodeEvent(EventSessionState, view, h.clock.Now())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrUnknown)
	}

	h.mu.Lock()
	m, ok := h.members[clientID]
	if !ok {
		h.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrWebSocketClosed)
	}
	emptied := h.joinRoomLocked(m, sessionID)
	peer := m.peer
	h.mu.Unlock()

	h.wakeWorker(emptied)

	if peer != nil && !peer.Send(data) {
		h.dropSlowPeer(clientID, peer)
	}

	h.logger.Info("加入会话",
		zap.String("client_id", clientID),
		zap.Uint("session_id", sessionID),
		zap.Int("room_size", h.RoomSize(sessionID)))
	return view, nil
}

// broadcast 非阻塞地把事件发给房间里所有在线成员，缓冲区满的连接会被关闭
func (h *Hub) broadcast(sessionID uint, eventType string, payload interface{}) {
	data, err := EncodeEvent(eventType, payload, h.clock.Now())
	if err != nil {
		h.logger.Error("序列化事件失败", zap.String("type", eventType), zap.Error(err))
		return
	}

	slow := make(map[string]Peer)
	h.mu.RLock()
	for id, m := range h.rooms[sessionID] {
		if m.peer == nil {
			continue
		}
		if !m.peer.Send(data) {
			slow[id] = m.peer
		}
	}
	h.mu.RUnlock()

	for id, peer := range slow {
		h.dropSlowPeer(id, peer)
	}
}

// dropSlowPeer 关闭发送缓冲区已满的连接，客户端重连后通过快照恢复
func (h *Hub) dropSlowPeer(clientID string, peer Peer) {
	if peer == nil {
		return
	}
	h.logger.Warn("客户端发送缓冲区满，关闭连接", zap.String("client_id", clientID))
	peer.Close()
}

// ack 确认发起方；断线期间的确认暂存，重连后补发
func (h *Hub) ack(clientID, ackID string, result interface{}, cmdErr error) {
	if ackID == "" {
		return
	}
	data, err := EncodeAck(ackID, result, cmdErr)
	if err != nil {
		h.logger.Error("序列化确认失败", zap.String("client_id", clientID), zap.Error(err))
		data, _ = EncodeAck(ackID, nil, apperrors.Wrap(err, apperrors.ErrUnknown))
	}
	h.sendTo(clientID, data, true)
}

func (h *Hub) sendTo(clientID string, data []byte, keepWhileDetached bool) {
	h.mu.Lock()
	m, ok := h.members[clientID]
	if !ok {
		h.mu.Unlock()
		return
	}
	peer := m.peer
	if peer == nil {
		if keepWhileDetached {
			m.pending = append(m.pending, data)
			if over := len(m.pending) - h.opts.MaxPendingAcks; over > 0 {
				m.pending = m.pending[over:]
			}
		}
		h.mu.Unlock()
		return
	}
	sent := peer.Send(data)
	h.mu.Unlock()

	if !sent {
		h.dropSlowPeer(clientID, peer)
	}
}

func (h *Hub) sendEventTo(clientID, eventType string, payload interface{}) {
	data, err := EncodeEvent(eventType, payload, h.clock.Now())
	if err != nil {
		h.logger.Error("序列化事件失败", zap.String("type", eventType), zap.Error(err))
		return
	}
	h.sendTo(clientID, data, false)
}

// sendEvent 直接发给连接，调用方可以持有锁
func (h *Hub) sendEvent(peer Peer, eventType string, payload interface{}) {
	data, err := EncodeEvent(eventType, payload, h.clock.Now())
	if err != nil {
		h.logger.Error("序列化事件失败", zap.String("type", eventType), zap.Error(err))
		return
	}
	peer.Send(data)
}

func (h *Hub) sendErrorEvent(clientID string, err error) {
	e := ackErrorOf(err)
	h.sendEventTo(clientID, EventError, ErrorEvent{Code: e.Code, Message: e.Message})
}

func (h *Hub) identityOf(clientID string) (Identity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.members[clientID]
	if !ok {
		return Identity{}, false
	}
	return m.identity, true
}

// enqueue 把任务放入会话的单写队列，队列满时立即失败
// 入队与协程退出都在 workersMu 下判断，已退出的协程不会再收到任务
func (h *Hub) enqueue(sessionID uint, task func(ctx context.Context)) error {
	h.workersMu.Lock()
	defer h.workersMu.Unlock()

	w, err := h.workerLocked(sessionID)
	if err != nil {
		return err
	}
	select {
	case w.queue <- task:
		return nil
	default:
		h.logger.Warn("会话命令队列已满", zap.Uint("session_id", sessionID))
		return apperrors.Newf(apperrors.ErrQueueFull, "会话 %d", sessionID)
	}
}

func (h *Hub) workerLocked(sessionID uint) (*sessionWorker, error) {
	if h.closed {
		return nil, apperrors.New(apperrors.ErrWebSocketClosed, "服务正在关闭")
	}
	if w, ok := h.workers[sessionID]; ok {
		return w, nil
	}

	w := &sessionWorker{
		sessionID: sessionID,
		queue:     make(chan func(ctx context.Context), h.opts.QueueSize),
		wake:      make(chan struct{}, 1),
	}
	h.workers[sessionID] = w
	h.wg.Add(1)
	go w.run(h)

	h.logger.Debug("启动会话协程", zap.Uint("session_id", sessionID))
	return w, nil
}

// wakeWorker 房间变空后通知会话协程检查是否可以退出
func (h *Hub) wakeWorker(sessionID uint) {
	if sessionID == 0 {
		return
	}
	h.workersMu.Lock()
	defer h.workersMu.Unlock()
	if w, ok := h.workers[sessionID]; ok {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

// retireIfIdle 队列为空且房间无成员时注销会话协程，只由协程自己在两次任务之间调用
func (h *Hub) retireIfIdle(w *sessionWorker) bool {
	h.workersMu.Lock()
	defer h.workersMu.Unlock()

	if len(w.queue) > 0 || h.RoomSize(w.sessionID) > 0 {
		return false
	}
	if h.workers[w.sessionID] == w {
		delete(h.workers, w.sessionID)
	}
	h.logger.Debug("会话协程退出", zap.Uint("session_id", w.sessionID))
	return true
}

// WorkerCount 运行中的会话协程数
func (h *Hub) WorkerCount() int {
	h.workersMu.Lock()
	defer h.workersMu.Unlock()
	return len(h.workers)
}

// sessionWorker 会话单写协程，同一会话的命令按到达顺序依次执行；
// 房间无人且队列为空时退出，下次入队再重新启动
type sessionWorker struct {
	sessionID uint
	queue     chan func(ctx context.Context)
	wake      chan struct{}
}

func (w *sessionWorker) run(h *Hub) {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case task := <-w.queue:
			w.runTask(h, task)
		case <-w.wake:
		}
		if h.retireIfIdle(w) {
			return
		}
	}
}

func (w *sessionWorker) runTask(h *Hub, task func(ctx context.Context)) {
	// 命令一旦出队就执行完毕，与发起方是否还在等待无关
	ctx, cancel := context.WithTimeout(h.ctx, h.opts.CommandTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("会话协程panic",
				zap.Uint("session_id", w.sessionID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	task(ctx)
}

// Close 停止所有会话协程并关闭在线连接
func (h *Hub) Close() {
	h.workersMu.Lock()
	if h.closed {
		h.workersMu.Unlock()
		return
	}
	h.closed = true
	h.workersMu.Unlock()

	h.cancel()
	h.wg.Wait()

	h.mu.Lock()
	var peers []Peer
	for _, m := range h.members {
		if m.grace != nil {
			m.grace.Stop()
		}
		if m.peer != nil {
			peers = append(peers, m.peer)
		}
	}
	h.members = make(map[string]*member)
	h.rooms = make(map[uint]map[string]*member)
	h.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	h.logger.Info("Hub已关闭", zap.Int("closed_peers", len(peers)))
}

// OnlineCount 在线连接数
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.members {
		if m.peer != nil {
			n++
		}
	}
	return n
}

// RoomSize 会话房间成员数（含等待重连的成员）
func (h *Hub) RoomSize(sessionID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// MemberSession 客户端当前所在会话，未登记返回false
func (h *Hub) MemberSession(clientID string) (uint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.members[clientID]
	if !ok {
		return 0, false
	}
	return m.sessionID, true
}
