package database

import (
	"fmt"

	"github.com/wfunc/carbon-cards/internal/config"
	"github.com/wfunc/carbon-cards/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate 自动迁移数据库表结构
func Migrate(db *gorm.DB, cfg *config.DatabaseConfig, log *zap.Logger) error {
	if db == nil {
		return fmt.Errorf("数据库未初始化")
	}

	if isSQLite(cfg.Driver) {
		if path := sqliteFilePath(cfg.DSN); path != "" {
			lockFile, err := acquireMigrationLock(path, log)
			if err != nil {
				log.Error("无法获取迁移锁", zap.Error(err))
				return fmt.Errorf("获取迁移锁失败: %w", err)
			}
			defer releaseMigrationLock(lockFile, log)
		}
	}

	log.Info("开始数据库迁移...")

	for _, model := range models.AllModels() {
		if err := db.AutoMigrate(model); err != nil {
			log.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
		log.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}

	createIndexes(db, log)

	log.Info("数据库迁移完成")
	return nil
}

// createIndexes 创建组合索引
func createIndexes(db *gorm.DB, log *zap.Logger) {
	indexes := map[string]string{
		"idx_sessions_status":            "CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)",
		"idx_categories_deck_sort_order": "CREATE INDEX IF NOT EXISTS idx_categories_deck_sort_order ON categories(deck_id, sort_order)",
	}
	for name, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			// mysql 不支持 IF NOT EXISTS，重复创建失败可以忽略
			log.Warn("创建索引失败", zap.String("index", name), zap.Error(err))
		}
	}
}

// SeedDemoDeck 数据库中没有卡组时写入一套演示卡组
func SeedDemoDeck(db *gorm.DB, log *zap.Logger) (*models.Deck, error) {
	var count int64
	if err := db.Model(&models.Deck{}).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, nil
	}

	deck := &models.Deck{
		Name:        "日常生活碳足迹",
		Description: "演示卡组",
		Categories: []models.Category{
			{Name: "出行", SortOrder: 1, Cards: []models.Card{
				{Title: "乘飞机往返欧洲", Value: 1200},
				{Title: "每天开车通勤", Value: 900},
				{Title: "骑自行车上班", Value: 0},
			}},
			{Name: "饮食", SortOrder: 2, Cards: []models.Card{
				{Title: "每天吃牛肉", Value: 600},
				{Title: "素食一年", Value: 150},
			}},
			{Name: "居住", SortOrder: 3, Cards: []models.Card{
				{Title: "燃气供暖", Value: 700},
				{Title: "热泵供暖", Value: 200},
			}},
		},
	}

	if err := db.Create(deck).Error; err != nil {
		return nil, err
	}
	log.Info("演示卡组初始化完成", zap.Uint("deck_id", deck.ID))
	return deck, nil
}
