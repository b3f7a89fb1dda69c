package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// 令牌类型
const (
	TokenTypeAdmin = "admin"
	TokenTypeTable = "table"
)

const issuer = "carbon-cards"

// JWTClaims 自定义JWT Claims
type JWTClaims struct {
	TokenType string `json:"token_type"` // admin or table
	AdminID   uint   `json:"admin_id,omitempty"`
	Username  string `json:"username,omitempty"`
	// 桌面令牌绑定的会话和小组
	SessionID uint `json:"session_id,omitempty"`
	GroupID   uint `json:"group_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager JWT管理器
type JWTManager struct {
	secretKey   string
	adminExpiry time.Duration
	tableExpiry time.Duration
	clock       clockwork.Clock
}

// NewJWTManager 创建JWT管理器
func NewJWTManager(secretKey string, adminExpiry, tableExpiry time.Duration) *JWTManager {
	return NewJWTManagerWithClock(secretKey, adminExpiry, tableExpiry, clockwork.NewRealClock())
}

// NewJWTManagerWithClock 使用指定时钟创建JWT管理器
func NewJWTManagerWithClock(secretKey string, adminExpiry, tableExpiry time.Duration, clock clockwork.Clock) *JWTManager {
	return &JWTManager{
		secretKey:   secretKey,
		adminExpiry: adminExpiry,
		tableExpiry: tableExpiry,
		clock:       clock,
	}
}

// GenerateAdminToken 生成管理员令牌
func (j *JWTManager) GenerateAdminToken(adminID uint, username string) (string, error) {
	return j.sign(&JWTClaims{
		TokenType: TokenTypeAdmin,
		AdminID:   adminID,
		Username:  username,
	}, j.adminExpiry, username)
}

// GenerateTableToken 生成桌面令牌，持有者只能操作指定会话的指定小组
func (j *JWTManager) GenerateTableToken(sessionID, groupID uint) (string, error) {
	return j.sign(&JWTClaims{
		TokenType: TokenTypeTable,
		SessionID: sessionID,
		GroupID:   groupID,
	}, j.tableExpiry, fmt.Sprintf("session-%d/group-%d", sessionID, groupID))
}

func (j *JWTManager) sign(claims *JWTClaims, expiry time.Duration, subject string) (string, error) {
	now := j.clock.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    issuer,
		Subject:   subject,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.secretKey))
}

// ValidateToken 验证令牌
func (j *JWTManager) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(j.secretKey), nil
	}, jwt.WithTimeFunc(j.clock.Now), jwt.WithIssuer(issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	switch claims.TokenType {
	case TokenTypeAdmin:
		if claims.AdminID == 0 {
			return nil, ErrInvalidToken
		}
	case TokenTypeTable:
		if claims.SessionID == 0 || claims.GroupID == 0 {
			return nil, ErrInvalidToken
		}
	default:
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// GetTokenExpiry 获取令牌过期时间
func (j *JWTManager) GetTokenExpiry(tokenType string) time.Duration {
	if tokenType == TokenTypeTable {
		return j.tableExpiry
	}
	return j.adminExpiry
}
