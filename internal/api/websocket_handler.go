package api

import (
	"net/http"
	"net/url"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/carbon-cards/internal/config"
	"github.com/wfunc/carbon-cards/internal/middleware"
	"github.com/wfunc/carbon-cards/internal/service"
	ws "github.com/wfunc/carbon-cards/internal/websocket"
	"go.uber.org/zap"
)

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)

// WebSocketHandler WebSocket处理器
type WebSocketHandler struct {
	hub         *ws.Hub
	authService service.AuthService
	upgrader    *websocket.Upgrader
	connOpts    ws.ConnOptions
	logger      *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(hub *ws.Hub, authService service.AuthService, cfg *config.Config, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		authService: authService,
		upgrader:    ws.NewUpgrader(&cfg.WebSocket, originChecker(cfg.Server.AllowedOrigins)),
		connOpts:    ws.ConnOptionsFromConfig(&cfg.WebSocket),
		logger:      logger,
	}
}

// Connect 升级为WebSocket连接。
// client_id 由客户端保存并在重连时带上，缺失或不合法时服务端生成；
// token 可选，管理员或桌面令牌决定连接身份。
func (h *WebSocketHandler) Connect(c *gin.Context) {
	identity := ws.Identity{Role: ws.RoleGuest}

	if token := middleware.ExtractToken(c); token != "" {
		claims, err := h.authService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			h.logger.Warn("WebSocket令牌无效", zap.String("ip", c.ClientIP()), zap.Error(err))
			respondError(c, err)
			return
		}
		identity = identityFromClaims(claims)
	}

	clientID := c.Query("client_id")
	if !clientIDPattern.MatchString(clientID) {
		clientID = uuid.New().String()
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败", zap.String("client_id", clientID), zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, clientID, h.connOpts, h.logger)
	client.Serve(identity)

	h.logger.Debug("WebSocket连接建立",
		zap.String("client_id", clientID),
		zap.String("conn_id", client.ID()),
		zap.String("role", identity.Role),
		zap.String("ip", c.ClientIP()))
}

func identityFromClaims(claims *service.TokenClaims) ws.Identity {
	switch claims.Role {
	case ws.RoleAdmin:
		return ws.Identity{Role: ws.RoleAdmin, AdminID: claims.AdminID}
	case ws.RoleTable:
		return ws.Identity{Role: ws.RoleTable, SessionID: claims.SessionID, GroupID: claims.GroupID}
	default:
		return ws.Identity{Role: ws.RoleGuest}
	}
}

// originChecker 按允许的来源列表校验升级请求，列表包含 "*" 时全部放行
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[u.Scheme+"://"+u.Host]
	}
}
