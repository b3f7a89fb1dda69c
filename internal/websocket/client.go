package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/carbon-cards/internal/config"
	"go.uber.org/zap"
)

// ConnOptions 单条连接的读写参数
type ConnOptions struct {
	SendBufferSize int
	MaxMessageSize int64
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
}

// ConnOptionsFromConfig 从WebSocket配置生成连接参数
func ConnOptionsFromConfig(cfg *config.WebSocketConfig) ConnOptions {
	return ConnOptions{
		SendBufferSize: cfg.SendBufferSize,
		MaxMessageSize: cfg.MaxMessageSize,
		PingInterval:   cfg.PingInterval,
		PongTimeout:    cfg.PongTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	// ping发送周期必须小于pong超时
	if o.PingInterval <= 0 || o.PingInterval >= o.PongTimeout {
		o.PingInterval = o.PongTimeout * 9 / 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// NewUpgrader 创建HTTP升级器
func NewUpgrader(cfg *config.WebSocketConfig, checkOrigin func(r *http.Request) bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		EnableCompression: cfg.EnableCompression,
		CheckOrigin:       checkOrigin,
	}
}

// Client 一条gorilla WebSocket连接，实现 Peer
type Client struct {
	id       string
	clientID string
	hub      *Hub
	conn     *websocket.Conn
	opts     ConnOptions
	logger   *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient 创建连接，clientID 为空时使用连接ID
func NewClient(hub *Hub, conn *websocket.Conn, clientID string, opts ConnOptions, logger *zap.Logger) *Client {
	opts = opts.withDefaults()
	id := uuid.New().String()
	if clientID == "" {
		clientID = id
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		id:       id,
		clientID: clientID,
		hub:      hub,
		conn:     conn,
		opts:     opts,
		logger:   logger,
		send:     make(chan []byte, opts.SendBufferSize),
		done:     make(chan struct{}),
	}
}

// ID 连接ID
func (c *Client) ID() string {
	return c.id
}

// ClientID 客户端稳定ID，重连时保持不变
func (c *Client) ClientID() string {
	return c.clientID
}

// Send 非阻塞写入发送缓冲区
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close 关闭连接，可重复调用
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Serve 登记到Hub并启动读写协程
func (c *Client) Serve(identity Identity) {
	c.hub.Attach(c, c.clientID, identity)
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump 读取消息
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Detach(c.clientID, c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket读取错误",
					zap.String("client_id", c.clientID),
					zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		c.hub.HandleMessage(c.clientID, message)
	}
}

// WritePump 写入消息，每条消息一帧
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("WebSocket写入失败", zap.String("client_id", c.clientID), zap.Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
