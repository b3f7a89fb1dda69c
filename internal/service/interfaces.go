package service

import (
	"context"
	"time"

	"github.com/wfunc/carbon-cards/internal/game"
	"github.com/wfunc/carbon-cards/internal/models"
)

// AuthService 认证服务接口
type AuthService interface {
	// Login 管理员登录
	Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error)
	// ValidateToken 校验管理员或桌面令牌
	ValidateToken(ctx context.Context, token string) (*TokenClaims, error)
	// CreateAdmin 创建管理员，用户名已存在时返回 ErrConflict
	CreateAdmin(ctx context.Context, username, password string) (*models.Admin, error)
	// IssueTableToken 为小组签发桌面令牌
	IssueTableToken(sessionID, groupID uint) (string, error)
}

// SessionService 会话配置服务接口
type SessionService interface {
	CreateSession(ctx context.Context, adminID uint, req *CreateSessionRequest) (*models.Session, error)
	ListSessions(ctx context.Context, adminID uint, page, pageSize int) ([]*models.Session, int64, error)
	// TableTokens 为会话的每个小组签发桌面令牌，只有会话的创建者可以调用
	TableTokens(ctx context.Context, adminID, sessionID uint) ([]TableToken, error)
	// State 会话快照
	State(ctx context.Context, sessionID uint) (*game.SessionView, error)
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	IP       string `json:"-"` // 客户端IP，由handler设置
}

// AuthResponse 认证响应
type AuthResponse struct {
	Admin     *models.Admin `json:"admin"`
	Token     string        `json:"token"`
	ExpiresIn int64         `json:"expires_in"`
	TokenType string        `json:"token_type"`
}

// TokenClaims 令牌中的身份
type TokenClaims struct {
	Role      string    `json:"role"` // admin or table
	AdminID   uint      `json:"admin_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	SessionID uint      `json:"session_id,omitempty"`
	GroupID   uint      `json:"group_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSessionRequest 创建会话请求，Groups 为小组名称，顺序即桌号
type CreateSessionRequest struct {
	DeckID uint     `json:"deck_id" binding:"required"`
	Groups []string `json:"groups" binding:"required,min=1,max=50,dive,required,max=100"`
}

// TableToken 小组的桌面令牌
type TableToken struct {
	GroupID    uint   `json:"group_id"`
	GroupName  string `json:"group_name"`
	TableIndex int    `json:"table_index"`
	Token      string `json:"token"`
}
