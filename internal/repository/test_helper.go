package repository

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wfunc/carbon-cards/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB 创建迁移好的内存数据库
func SetupTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// 每个 :memory: 连接都是独立的数据库，只保留一个连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

var seedCounter atomic.Int64

// Fixture 测试用的会话数据
type Fixture struct {
	Admin      *models.Admin
	Deck       *models.Deck
	Categories []models.Category
	// Cards 按分类顺序展开，第 i 张卡的标准值为 (i+1)*100
	Cards   []models.Card
	Session *models.Session
	Groups  []models.Group
}

// SeedSession 写入一个卡组和一个带小组的进行中会话
func SeedSession(t testing.TB, db *gorm.DB, groupCount, categoryCount, cardsPerCategory int) *Fixture {
	t.Helper()

	f := &Fixture{}

	f.Admin = &models.Admin{Username: fmt.Sprintf("admin-%d", seedCounter.Add(1)), PasswordHash: "x"}
	require.NoError(t, db.Create(f.Admin).Error)

	f.Deck = &models.Deck{Name: "测试卡组"}
	require.NoError(t, db.Create(f.Deck).Error)

	value := 100
	for c := 0; c < categoryCount; c++ {
		category := models.Category{DeckID: f.Deck.ID, Name: fmt.Sprintf("分类%d", c+1), SortOrder: c}
		require.NoError(t, db.Create(&category).Error)
		f.Categories = append(f.Categories, category)

		for i := 0; i < cardsPerCategory; i++ {
			card := models.Card{CategoryID: category.ID, Title: fmt.Sprintf("卡牌%d-%d", c+1, i+1), Value: value}
			require.NoError(t, db.Create(&card).Error)
			f.Cards = append(f.Cards, card)
			value += 100
		}
	}

	f.Session = &models.Session{
		AdminID: f.Admin.ID,
		DeckID:  f.Deck.ID,
		Status:  models.SessionStatusActive,
	}
	require.NoError(t, db.Create(f.Session).Error)

	for g := 0; g < groupCount; g++ {
		group := models.Group{SessionID: f.Session.ID, Name: fmt.Sprintf("第%d桌", g+1)}
		require.NoError(t, db.Create(&group).Error)
		f.Groups = append(f.Groups, group)
	}

	return f
}

// ReloadCard 重新读取卡牌
func ReloadCard(t testing.TB, db *gorm.DB, id uint) *models.Card {
	t.Helper()
	var card models.Card
	require.NoError(t, db.First(&card, id).Error)
	return &card
}

// ReloadSession 重新读取会话
func ReloadSession(t testing.TB, db *gorm.DB, id uint) *models.Session {
	t.Helper()
	var session models.Session
	require.NoError(t, db.First(&session, id).Error)
	return &session
}
