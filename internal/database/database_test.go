package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/carbon-cards/internal/config"
	"github.com/wfunc/carbon-cards/internal/models"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

func TestOpenAndMigrate_SQLiteFile(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "test.db")
	cfg := &config.DatabaseConfig{Driver: "sqlite", DSN: dsn, LogLevel: "silent"}

	db, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, Migrate(db, cfg, zap.NewNop()))
	assert.NoFileExists(t, dsn+".migration.lock")

	for _, model := range models.AllModels() {
		assert.True(t, db.Migrator().HasTable(model), "%T", model)
	}

	deck, err := SeedDemoDeck(db, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, deck)
	assert.Len(t, deck.Categories, 3)

	// 已有卡组时不重复写入
	again, err := SeedDemoDeck(db, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, again)

	var cards int64
	require.NoError(t, db.Model(&models.Card{}).Count(&cards).Error)
	assert.Equal(t, int64(7), cards)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "oracle"}, zap.NewNop())
	assert.Error(t, err)
}

func TestSQLiteFilePath(t *testing.T) {
	assert.Equal(t, "", sqliteFilePath(":memory:"))
	assert.Equal(t, "", sqliteFilePath("file::memory:?cache=shared"))
	assert.Equal(t, "", sqliteFilePath("file:test?mode=memory"))
	assert.Equal(t, "./data/app.db", sqliteFilePath("./data/app.db"))
	assert.Equal(t, "data.db", sqliteFilePath("file:data.db?_busy_timeout=5000"))
}

func TestParseGormLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, parseGormLevel("silent"))
	assert.Equal(t, gormlogger.Error, parseGormLevel("error"))
	assert.Equal(t, gormlogger.Info, parseGormLevel("info"))
	assert.Equal(t, gormlogger.Warn, parseGormLevel(""))
}

func TestMigrationLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.db")
	log := zap.NewNop()

	first, err := acquireMigrationLock(path, log)
	require.NoError(t, err)

	old := lockWait
	lockWait = 0
	defer func() { lockWait = old }()

	_, err = acquireMigrationLock(path, log)
	assert.Error(t, err)

	releaseMigrationLock(first, log)
	second, err := acquireMigrationLock(path, log)
	require.NoError(t, err)
	releaseMigrationLock(second, log)
}
