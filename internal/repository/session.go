package repository

import (
	"context"
	"fmt"

	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/models"
	"gorm.io/gorm"
)

// SessionRepository 游戏会话仓储接口
type SessionRepository interface {
	BaseRepository
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id uint) (*models.Session, error)
	FindByIDWithGroups(ctx context.Context, id uint) (*models.Session, error)
	UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error
	ListByAdmin(ctx context.Context, adminID uint, p *Pagination) ([]*models.Session, error)
}

// sessionRepo 游戏会话仓储实现
type sessionRepo struct {
	*BaseRepo
}

// NewSessionRepository 创建游戏会话仓储
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 创建会话（连同小组）
func (r *sessionRepo) Create(ctx context.Context, session *models.Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseInsert, "创建会话")
	}
	return nil
}

// FindByID 根据ID查找
func (r *sessionRepo) FindByID(ctx context.Context, id uint) (*models.Session, error) {
	var session models.Session
	if err := r.db.WithContext(ctx).First(&session, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("会话 %d", id))
	}
	return &session, nil
}

// FindByIDWithGroups 根据ID查找并加载小组
func (r *sessionRepo) FindByIDWithGroups(ctx context.Context, id uint) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).
		Preload("Groups", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&session, id).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("会话 %d", id))
	}
	return &session, nil
}

// UpdateFields 更新指定字段
func (r *sessionRepo) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return apperrors.Wrap(result.Error, apperrors.ErrDatabaseUpdate, "更新会话")
	}
	if result.RowsAffected == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "会话 %d", id)
	}
	return nil
}

// ListByAdmin 查询管理员创建的会话（分页）
func (r *sessionRepo) ListByAdmin(ctx context.Context, adminID uint, p *Pagination) ([]*models.Session, error) {
	var sessions []*models.Session

	err := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("admin_id = ?", adminID).
		Count(&p.Total).Error
	if err != nil {
		return nil, translate(err, "会话数量")
	}

	err = r.db.WithContext(ctx).
		Where("admin_id = ?", adminID).
		Order("created_at desc").
		Scopes(Paginate(p)).
		Find(&sessions).Error

	return sessions, translate(err, "会话列表")
}
