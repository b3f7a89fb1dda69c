package models

import (
	"time"
)

// Admin 管理员表
type Admin struct {
	BaseModel
	Username     string     `gorm:"uniqueIndex;size:50;not null" json:"username"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP  string     `gorm:"size:50" json:"last_login_ip"`
}
