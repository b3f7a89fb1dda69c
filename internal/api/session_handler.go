package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/middleware"
	"github.com/wfunc/carbon-cards/internal/service"
)

// SessionHandler 会话配置处理器
type SessionHandler struct {
	sessionService service.SessionService
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(sessionService service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// Create 创建会话
// @Summary 创建会话
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.CreateSessionRequest true "卡组和小组"
// @Success 201 {object} models.Session
// @Router /api/v1/admin/sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	adminID, ok := middleware.GetAdminID(c)
	if !ok {
		respondError(c, apperrors.New(apperrors.ErrAuthentication))
		return
	}

	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrInvalidParam, "请求参数错误"))
		return
	}

	session, err := h.sessionService.CreateSession(c.Request.Context(), adminID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// List 分页列出当前管理员的会话
// @Summary 会话列表
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Router /api/v1/admin/sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	adminID, ok := middleware.GetAdminID(c)
	if !ok {
		respondError(c, apperrors.New(apperrors.ErrAuthentication))
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	sessions, total, err := h.sessionService.ListSessions(c.Request.Context(), adminID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items": sessions,
		"total": total,
		"page":  page,
	})
}

// TableTokens 为会话的小组签发桌面令牌
// @Summary 签发桌面令牌
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "会话ID"
// @Success 200 {array} service.TableToken
// @Router /api/v1/admin/sessions/{id}/table-tokens [post]
func (h *SessionHandler) TableTokens(c *gin.Context) {
	adminID, ok := middleware.GetAdminID(c)
	if !ok {
		respondError(c, apperrors.New(apperrors.ErrAuthentication))
		return
	}
	sessionID, err := sessionIDParam(c)
	if err != nil {
		respondError(c, err)
		return
	}

	tokens, err := h.sessionService.TableTokens(c.Request.Context(), adminID, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// State 会话快照，与 WebSocket 加入时下发的 sessionState 相同
// @Summary 会话快照
// @Tags Session
// @Produce json
// @Param id path int true "会话ID"
// @Success 200 {object} game.SessionView
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/sessions/{id}/state [get]
func (h *SessionHandler) State(c *gin.Context) {
	sessionID, err := sessionIDParam(c)
	if err != nil {
		respondError(c, err)
		return
	}

	if claims, ok := middleware.GetClaims(c); ok && claims.SessionID != 0 && claims.SessionID != sessionID {
		respondError(c, apperrors.Newf(apperrors.ErrPermissionDenied, "令牌不属于会话 %d", sessionID))
		return
	}

	view, err := h.sessionService.State(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func sessionIDParam(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalidParam, "无效的会话ID: %s", c.Param("id"))
	}
	return uint(id), nil
}
