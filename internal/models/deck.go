package models

// Deck 卡组表
type Deck struct {
	BaseModel
	Name        string `gorm:"size:100;not null" json:"name"`
	Description string `gorm:"size:500" json:"description"`

	// 关联
	Categories []Category `gorm:"foreignKey:DeckID" json:"categories,omitempty"`
}

// Category 卡组分类表，每个分类对应一轮
type Category struct {
	BaseModel
	DeckID    uint   `gorm:"not null;index" json:"deck_id"`
	Name      string `gorm:"size:100;not null" json:"name"`
	SortOrder int    `gorm:"default:0" json:"sort_order"`

	Cards []Card `gorm:"foreignKey:CategoryID" json:"cards,omitempty"`
}

// Card 卡牌表
type Card struct {
	BaseModel
	CategoryID uint   `gorm:"not null;index" json:"category_id"`
	Title      string `gorm:"size:200;not null" json:"title"`
	// Value 卡牌的标准CO₂值
	Value int `gorm:"not null;default:0" json:"value"`
	// TimesSelected 被选中次数，只增不减
	TimesSelected int64 `gorm:"not null;default:0" json:"times_selected"`
}
