package models

import (
	"time"
)

// BaseModel 通用字段
type BaseModel struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AllModels 需要自动迁移的模型，按依赖顺序排列
func AllModels() []interface{} {
	return []interface{}{
		&Admin{},
		&Deck{},
		&Category{},
		&Card{},
		&Session{},
		&Group{},
		&AcceptedCard{},
	}
}
