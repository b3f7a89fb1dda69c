package service

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"
	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/models"
	"github.com/wfunc/carbon-cards/internal/repository"
	"github.com/wfunc/carbon-cards/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuthServiceTestSuite 认证服务测试套件
type AuthServiceTestSuite struct {
	suite.Suite
	db       *gorm.DB
	clock    *clockwork.FakeClock
	services *Services
}

// SetupTest 每个测试使用独立的内存数据库
func (suite *AuthServiceTestSuite) SetupTest() {
	suite.db = repository.SetupTestDB(suite.T())
	suite.clock = clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	suite.services = NewServices(suite.db, DefaultConfig(), suite.clock, zap.NewNop())
}

// TestCreateAdminAndLogin 测试创建管理员并登录
func (suite *AuthServiceTestSuite) TestCreateAdminAndLogin() {
	ctx := context.Background()

	admin, err := suite.services.Auth.CreateAdmin(ctx, "  facilitator ", "password123")
	suite.Require().NoError(err)
	suite.Equal("facilitator", admin.Username)
	suite.NotEqual("password123", admin.PasswordHash)

	resp, err := suite.services.Auth.Login(ctx, &LoginRequest{Username: "facilitator", Password: "password123", IP: "127.0.0.1"})
	suite.Require().NoError(err)
	suite.NotEmpty(resp.Token)
	suite.Equal("Bearer", resp.TokenType)
	suite.Equal(int64((12 * time.Hour).Seconds()), resp.ExpiresIn)

	claims, err := suite.services.Auth.ValidateToken(ctx, resp.Token)
	suite.Require().NoError(err)
	suite.Equal(utils.TokenTypeAdmin, claims.Role)
	suite.Equal(admin.ID, claims.AdminID)
	suite.Equal(suite.clock.Now().Add(12*time.Hour).Unix(), claims.ExpiresAt.Unix())

	var stored models.Admin
	suite.Require().NoError(suite.db.First(&stored, admin.ID).Error)
	suite.Equal("127.0.0.1", stored.LastLoginIP)
	suite.NotNil(stored.LastLoginAt)
}

// TestLoginFailures 用户不存在和密码错误返回同样的错误
func (suite *AuthServiceTestSuite) TestLoginFailures() {
	ctx := context.Background()
	_, err := suite.services.Auth.CreateAdmin(ctx, "facilitator", "password123")
	suite.Require().NoError(err)

	_, err1 := suite.services.Auth.Login(ctx, &LoginRequest{Username: "nobody", Password: "password123"})
	_, err2 := suite.services.Auth.Login(ctx, &LoginRequest{Username: "facilitator", Password: "wrong-password"})

	suite.True(apperrors.Is(err1, apperrors.ErrAuthentication))
	suite.True(apperrors.Is(err2, apperrors.ErrAuthentication))
	suite.Equal(apperrors.PublicMessage(err1), apperrors.PublicMessage(err2))
}

// TestCreateAdminValidation 测试参数校验和重名
func (suite *AuthServiceTestSuite) TestCreateAdminValidation() {
	ctx := context.Background()

	_, err := suite.services.Auth.CreateAdmin(ctx, "ab", "password123")
	suite.True(apperrors.Is(err, apperrors.ErrInvalidParam))

	_, err = suite.services.Auth.CreateAdmin(ctx, "facilitator", "short")
	suite.True(apperrors.Is(err, apperrors.ErrInvalidParam))

	_, err = suite.services.Auth.CreateAdmin(ctx, "facilitator", "password123")
	suite.Require().NoError(err)
	_, err = suite.services.Auth.CreateAdmin(ctx, "facilitator", "password456")
	suite.True(apperrors.Is(err, apperrors.ErrConflict))
}

// TestLoginUpgradesWeakHash 弱参数哈希在登录成功后升级
func (suite *AuthServiceTestSuite) TestLoginUpgradesWeakHash() {
	ctx := context.Background()
	weak, err := utils.HashPasswordWithConfig("password123", &utils.PasswordConfig{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32})
	suite.Require().NoError(err)
	admin := &models.Admin{Username: "legacy", PasswordHash: weak}
	suite.Require().NoError(suite.db.Create(admin).Error)

	_, err = suite.services.Auth.Login(ctx, &LoginRequest{Username: "legacy", Password: "password123"})
	suite.Require().NoError(err)

	var stored models.Admin
	suite.Require().NoError(suite.db.First(&stored, admin.ID).Error)
	suite.NotEqual(weak, stored.PasswordHash)
	suite.False(utils.NeedsRehash(stored.PasswordHash, utils.DefaultPasswordConfig))
}

// TestValidateToken 测试过期和无效令牌
func (suite *AuthServiceTestSuite) TestValidateToken() {
	ctx := context.Background()

	token, err := suite.services.Auth.IssueTableToken(4, 9)
	suite.Require().NoError(err)

	claims, err := suite.services.Auth.ValidateToken(ctx, token)
	suite.Require().NoError(err)
	suite.Equal(utils.TokenTypeTable, claims.Role)
	suite.Equal(uint(4), claims.SessionID)
	suite.Equal(uint(9), claims.GroupID)

	suite.clock.Advance(25 * time.Hour)
	_, err = suite.services.Auth.ValidateToken(ctx, token)
	suite.True(apperrors.Is(err, apperrors.ErrTokenExpired))

	_, err = suite.services.Auth.ValidateToken(ctx, "garbage")
	suite.True(apperrors.Is(err, apperrors.ErrTokenInvalid))
}

func TestAuthServiceSuite(t *testing.T) {
	suite.Run(t, new(AuthServiceTestSuite))
}
