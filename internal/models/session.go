package models

import (
	"time"
)

// 会话状态
const (
	SessionStatusActive  = "active"
	SessionStatusPending = "pending"
	SessionStatusClosed  = "closed"
)

// 阶段范围
const (
	PhaseLobby      = 0
	PhaseSelection  = 1
	PhaseEstimation = 2
	PhaseVoting     = 3
	PhaseResults    = 4
	MaxPhase        = PhaseResults
)

// 接受程度
const (
	AcceptanceHigh   = "high"
	AcceptanceMedium = "medium"
	AcceptanceLow    = "low"
)

// ValidAcceptanceLevel 判断接受程度是否合法
func ValidAcceptanceLevel(level string) bool {
	switch level {
	case AcceptanceHigh, AcceptanceMedium, AcceptanceLow:
		return true
	}
	return false
}

// Session 游戏会话表
type Session struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	AdminID   uint       `gorm:"not null;index" json:"admin_id"`
	DeckID    uint       `gorm:"not null;index" json:"deck_id"`
	Phase     int        `gorm:"not null;default:0" json:"phase"`
	Round     int        `gorm:"not null;default:0" json:"round"`
	Status    string     `gorm:"size:20;not null;default:'active'" json:"status"` // active, pending, closed
	Version   int64      `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// 关联
	Groups []Group `gorm:"foreignKey:SessionID" json:"groups,omitempty"`
}

// IsClosed 会话是否已结束
func (s *Session) IsClosed() bool {
	return s.Status == SessionStatusClosed
}

// Group 会话中的小组（一张桌子）
type Group struct {
	BaseModel
	SessionID uint   `gorm:"not null;index" json:"session_id"`
	Name      string `gorm:"size:100;not null" json:"name"`
}

// TableName 指定表名，groups 在 mysql 中是保留字
func (Group) TableName() string {
	return "session_groups"
}

// AcceptedCard 小组已选卡牌账本，(group_id, card_id) 唯一
type AcceptedCard struct {
	GroupID         uint      `gorm:"primaryKey;autoIncrement:false" json:"group_id"`
	CardID          uint      `gorm:"primaryKey;autoIncrement:false;index" json:"card_id"`
	CO2Estimation   *int      `gorm:"column:co2_estimation" json:"co2_estimation"`
	AcceptanceLevel *string   `gorm:"size:10" json:"acceptance_level"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName 指定表名
func (AcceptedCard) TableName() string {
	return "accepted_cards"
}
