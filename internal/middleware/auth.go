package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/service"
	"github.com/wfunc/carbon-cards/internal/utils"
)

const claimsKey = "auth.claims"

// AuthMiddleware JWT认证中间件
type AuthMiddleware struct {
	authService service.AuthService
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(authService service.AuthService) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

// RequireAdmin 要求管理员令牌
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			abort(c, apperrors.New(apperrors.ErrAuthentication, "缺少认证令牌"))
			return
		}

		claims, err := m.authService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			abort(c, err)
			return
		}
		if claims.Role != utils.TokenTypeAdmin {
			abort(c, apperrors.New(apperrors.ErrPermissionDenied, "需要管理员令牌"))
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// OptionalAuth 有令牌时校验并写入上下文，令牌无效时拒绝
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			c.Next()
			return
		}

		claims, err := m.authService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ExtractToken 从请求中提取令牌。
// 浏览器的 WebSocket 无法设置请求头，所以也接受 token 查询参数。
func ExtractToken(c *gin.Context) string {
	if bearer := c.GetHeader("Authorization"); bearer != "" {
		parts := strings.SplitN(bearer, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if token := c.GetHeader("X-Access-Token"); token != "" {
		return token
	}

	return c.Query("token")
}

// GetClaims 从上下文获取令牌身份
func GetClaims(c *gin.Context) (*service.TokenClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*service.TokenClaims)
	return claims, ok
}

// GetAdminID 从上下文获取管理员ID
func GetAdminID(c *gin.Context) (uint, bool) {
	claims, ok := GetClaims(c)
	if !ok || claims.Role != utils.TokenTypeAdmin {
		return 0, false
	}
	return claims.AdminID, true
}

func abort(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.New(apperrors.ErrUnknown)
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus(), gin.H{
		"code":    appErr.Code,
		"message": apperrors.PublicMessage(appErr),
	})
}
