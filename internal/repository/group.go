package repository

import (
	"context"
	"fmt"

	"github.com/wfunc/carbon-cards/internal/models"
	"gorm.io/gorm"
)

// GroupRepository 小组仓储接口
type GroupRepository interface {
	BaseRepository
	FindByID(ctx context.Context, id uint) (*models.Group, error)
	ListBySession(ctx context.Context, sessionID uint) ([]models.Group, error)
}

type groupRepo struct {
	*BaseRepo
}

// NewGroupRepository 创建小组仓储
func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepo{BaseRepo: NewBaseRepo(db)}
}

// FindByID 根据ID查找
func (r *groupRepo) FindByID(ctx context.Context, id uint) (*models.Group, error) {
	var group models.Group
	if err := r.db.WithContext(ctx).First(&group, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("小组 %d", id))
	}
	return &group, nil
}

// ListBySession 按ID升序列出会话中的小组，顺序即桌号
func (r *groupRepo) ListBySession(ctx context.Context, sessionID uint) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id").
		Find(&groups).Error
	return groups, translate(err, "小组列表")
}
