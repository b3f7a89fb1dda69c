package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/wfunc/carbon-cards/internal/config"
	"github.com/wfunc/carbon-cards/internal/middleware"
	"github.com/wfunc/carbon-cards/internal/service"
	ws "github.com/wfunc/carbon-cards/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Router API路由器
type Router struct {
	engine         *gin.Engine
	handler        http.Handler
	db             *gorm.DB
	hub            *ws.Hub
	authHandler    *AuthHandler
	sessionHandler *SessionHandler
	wsHandler      *WebSocketHandler
	authMiddleware *middleware.AuthMiddleware
	wsPath         string
	log            *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(db *gorm.DB, services *service.Services, hub *ws.Hub, cfg *config.Config, log *zap.Logger) *Router {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Recovery(log))
	engine.Use(middleware.Logger(log))

	router := &Router{
		engine:         engine,
		db:             db,
		hub:            hub,
		authHandler:    NewAuthHandler(services.Auth),
		sessionHandler: NewSessionHandler(services.Session),
		wsHandler:      NewWebSocketHandler(hub, services.Auth, cfg, log),
		authMiddleware: middleware.NewAuthMiddleware(services.Auth),
		wsPath:         cfg.WebSocket.Path,
		log:            log,
	}
	if router.wsPath == "" {
		router.wsPath = "/ws"
	}

	router.setupRoutes()

	router.handler = cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Access-Token", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	}).Handler(engine)

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)

	v1 := r.engine.Group("/api/v1")
	{
		v1.POST("/admin/login", r.authHandler.Login)

		admin := v1.Group("/admin")
		admin.Use(r.authMiddleware.RequireAdmin())
		{
			admin.GET("/me", r.authHandler.Me)
			admin.POST("/sessions", r.sessionHandler.Create)
			admin.GET("/sessions", r.sessionHandler.List)
			admin.POST("/sessions/:id/table-tokens", r.sessionHandler.TableTokens)
		}

		sessions := v1.Group("/sessions")
		sessions.Use(r.authMiddleware.OptionalAuth())
		{
			sessions.GET("/:id/state", r.sessionHandler.State)
		}
	}

	// 身份在升级前由 token 查询参数确定
	r.engine.GET(r.wsPath, r.wsHandler.Connect)

	registerOpenAPIRoutes(r.engine)
	registerSwaggerRoutes(r.engine)

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    404,
			Message: "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	sqlDB, err := r.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"message": "数据库连接失败",
		})
		return
	}

	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"message": "数据库ping失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"message": "服务运行正常",
		"online":  r.hub.OnlineCount(),
	})
}

// Handler 带CORS的HTTP处理器
func (r *Router) Handler() http.Handler {
	return r.handler
}
