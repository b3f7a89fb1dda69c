package repository

import (
	"context"
	"time"

	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/models"
	"gorm.io/gorm"
)

// AdminRepository 管理员仓储接口
type AdminRepository interface {
	BaseRepository
	Create(ctx context.Context, admin *models.Admin) error
	FindByID(ctx context.Context, id uint) (*models.Admin, error)
	FindByUsername(ctx context.Context, username string) (*models.Admin, error)
	UpdatePassword(ctx context.Context, id uint, hash string) error
	UpdateLastLogin(ctx context.Context, id uint, ip string) error
}

type adminRepo struct {
	*BaseRepo
}

// NewAdminRepository 创建管理员仓储
func NewAdminRepository(db *gorm.DB) AdminRepository {
	return &adminRepo{BaseRepo: NewBaseRepo(db)}
}

// Create 创建管理员
func (r *adminRepo) Create(ctx context.Context, admin *models.Admin) error {
	if err := r.db.WithContext(ctx).Create(admin).Error; err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseInsert, "创建管理员")
	}
	return nil
}

// FindByID 根据ID查找
func (r *adminRepo) FindByID(ctx context.Context, id uint) (*models.Admin, error) {
	var admin models.Admin
	if err := r.db.WithContext(ctx).First(&admin, id).Error; err != nil {
		return nil, translate(err, "管理员")
	}
	return &admin, nil
}

// FindByUsername 根据用户名查找
func (r *adminRepo) FindByUsername(ctx context.Context, username string) (*models.Admin, error) {
	var admin models.Admin
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&admin).Error; err != nil {
		return nil, translate(err, "管理员")
	}
	return &admin, nil
}

// UpdatePassword 更新密码哈希
func (r *adminRepo) UpdatePassword(ctx context.Context, id uint, hash string) error {
	err := r.db.WithContext(ctx).
		Model(&models.Admin{}).
		Where("id = ?", id).
		Update("password_hash", hash).Error
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate, "更新密码")
	}
	return nil
}

// UpdateLastLogin 更新最后登录信息
func (r *adminRepo) UpdateLastLogin(ctx context.Context, id uint, ip string) error {
	now := time.Now()
	err := r.db.WithContext(ctx).
		Model(&models.Admin{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_login_at": &now,
			"last_login_ip": ip,
		}).Error
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate, "更新登录信息")
	}
	return nil
}
