package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/middleware"
	"github.com/wfunc/carbon-cards/internal/service"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	authService service.AuthService
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Login 管理员登录
// @Summary 管理员登录
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body service.LoginRequest true "登录信息"
// @Success 200 {object} service.AuthResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/admin/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req service.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrInvalidParam, "请求参数错误"))
		return
	}
	req.IP = c.ClientIP()

	resp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Me 当前令牌身份
// @Summary 当前管理员
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.TokenClaims
// @Router /api/v1/admin/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		respondError(c, apperrors.New(apperrors.ErrAuthentication))
		return
	}
	c.JSON(http.StatusOK, claims)
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code      apperrors.ErrorCode `json:"code"`
	Message   string              `json:"message"`
	RequestID string              `json:"request_id,omitempty"`
}

// respondError 按错误码返回HTTP状态，非AppError不暴露内部信息
func respondError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		_ = c.Error(err)
		appErr = apperrors.New(apperrors.ErrUnknown)
	}
	c.JSON(appErr.HTTPStatus(), ErrorResponse{
		Code:      appErr.Code,
		Message:   apperrors.PublicMessage(appErr),
		RequestID: middleware.GetRequestID(c),
	})
}
