package service

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/wfunc/carbon-cards/internal/config"
	"github.com/wfunc/carbon-cards/internal/repository"
	"github.com/wfunc/carbon-cards/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config 服务配置
type Config struct {
	JWTSecret        string
	AdminTokenExpiry time.Duration
	TableTokenExpiry time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		JWTSecret:        "change-me-in-production",
		AdminTokenExpiry: 12 * time.Hour,
		TableTokenExpiry: 24 * time.Hour,
	}
}

// ConfigFrom 从全局安全配置生成服务配置
func ConfigFrom(cfg *config.SecurityConfig) *Config {
	c := DefaultConfig()
	if cfg.JWT.Secret != "" {
		c.JWTSecret = cfg.JWT.Secret
	}
	if cfg.JWT.AdminTokenExpiry > 0 {
		c.AdminTokenExpiry = cfg.JWT.AdminTokenExpiry
	}
	if cfg.JWT.TableTokenExpiry > 0 {
		c.TableTokenExpiry = cfg.JWT.TableTokenExpiry
	}
	return c
}

// Services 服务集合
type Services struct {
	Auth    AuthService
	Session SessionService
	Repos   *repository.Manager
}

// NewServices 创建服务集合
func NewServices(db *gorm.DB, config *Config, clock clockwork.Clock, log *zap.Logger) *Services {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}

	repos := repository.NewManager(db)

	jwtManager := utils.NewJWTManagerWithClock(
		config.JWTSecret,
		config.AdminTokenExpiry,
		config.TableTokenExpiry,
		clock,
	)

	authService := NewAuthService(repos.Admin(), jwtManager, clock, log)
	sessionService := NewSessionService(repos, authService, log)

	return &Services{
		Auth:    authService,
		Session: sessionService,
		Repos:   repos,
	}
}
