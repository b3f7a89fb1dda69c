package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jonboulle/clockwork"
	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/models"
	"github.com/wfunc/carbon-cards/internal/repository"
	"github.com/wfunc/carbon-cards/internal/utils"
	"go.uber.org/zap"
)

// authService 认证服务实现
type authService struct {
	adminRepo  repository.AdminRepository
	jwtManager *utils.JWTManager
	clock      clockwork.Clock
	log        *zap.Logger
}

// NewAuthService 创建认证服务
func NewAuthService(
	adminRepo repository.AdminRepository,
	jwtManager *utils.JWTManager,
	clock clockwork.Clock,
	log *zap.Logger,
) AuthService {
	return &authService{
		adminRepo:  adminRepo,
		jwtManager: jwtManager,
		clock:      clock,
		log:        log,
	}
}

// Login 管理员登录，用户不存在和密码错误返回同一个错误
func (s *authService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	admin, err := s.adminRepo.FindByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			s.log.Warn("登录失败: 管理员不存在", zap.String("username", req.Username))
			return nil, apperrors.New(apperrors.ErrAuthentication, "用户名或密码错误")
		}
		return nil, err
	}

	valid, err := utils.VerifyPassword(req.Password, admin.PasswordHash)
	if err != nil {
		s.log.Error("密码哈希格式错误", zap.Uint("admin_id", admin.ID), zap.Error(err))
	}
	if !valid {
		s.log.Warn("登录失败: 密码错误", zap.Uint("admin_id", admin.ID))
		return nil, apperrors.New(apperrors.ErrAuthentication, "用户名或密码错误")
	}

	if utils.NeedsRehash(admin.PasswordHash, utils.DefaultPasswordConfig) {
		if hash, err := utils.HashPassword(req.Password); err == nil {
			if err := s.adminRepo.UpdatePassword(ctx, admin.ID, hash); err != nil {
				s.log.Warn("升级密码哈希失败", zap.Uint("admin_id", admin.ID), zap.Error(err))
			}
		}
	}

	if err := s.adminRepo.UpdateLastLogin(ctx, admin.ID, req.IP); err != nil {
		s.log.Warn("更新登录信息失败", zap.Uint("admin_id", admin.ID), zap.Error(err))
	}

	token, err := s.jwtManager.GenerateAdminToken(admin.ID, admin.Username)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrUnknown, "生成令牌失败")
	}

	s.log.Info("管理员登录成功", zap.Uint("admin_id", admin.ID), zap.String("username", admin.Username))

	return &AuthResponse{
		Admin:     admin,
		Token:     token,
		ExpiresIn: int64(s.jwtManager.GetTokenExpiry(utils.TokenTypeAdmin).Seconds()),
		TokenType: "Bearer",
	}, nil
}

// ValidateToken 校验令牌
func (s *authService) ValidateToken(ctx context.Context, token string) (*TokenClaims, error) {
	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		if errors.Is(err, utils.ErrExpiredToken) {
			return nil, apperrors.New(apperrors.ErrTokenExpired)
		}
		return nil, apperrors.New(apperrors.ErrTokenInvalid)
	}

	out := &TokenClaims{
		Role:      claims.TokenType,
		AdminID:   claims.AdminID,
		Username:  claims.Username,
		SessionID: claims.SessionID,
		GroupID:   claims.GroupID,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// CreateAdmin 创建管理员
func (s *authService) CreateAdmin(ctx context.Context, username, password string) (*models.Admin, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 50 {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "用户名长度必须在3-50之间")
	}
	if len(password) < 8 {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "密码至少8位")
	}

	if _, err := s.adminRepo.FindByUsername(ctx, username); err == nil {
		return nil, apperrors.Newf(apperrors.ErrConflict, "管理员 %s 已存在", username)
	} else if !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrUnknown, "密码加密失败")
	}

	admin := &models.Admin{Username: username, PasswordHash: hash}
	if err := s.adminRepo.Create(ctx, admin); err != nil {
		return nil, err
	}

	s.log.Info("创建管理员", zap.Uint("admin_id", admin.ID), zap.String("username", username))
	return admin, nil
}

// IssueTableToken 签发桌面令牌
func (s *authService) IssueTableToken(sessionID, groupID uint) (string, error) {
	token, err := s.jwtManager.GenerateTableToken(sessionID, groupID)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrUnknown, "生成桌面令牌失败")
	}
	return token, nil
}
