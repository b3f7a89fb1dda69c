package database

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// lockWait 获取迁移锁的最长等待时间
var lockWait = 30 * time.Second

// acquireMigrationLock 在数据库文件旁创建独占锁文件，避免多个进程同时迁移
func acquireMigrationLock(dbPath string, log *zap.Logger) (*os.File, error) {
	lockPath := dbPath + ".migration.lock"
	deadline := time.Now().Add(lockWait)

	for attempt := 1; ; attempt++ {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if err == nil {
			fmt.Fprintf(lockFile, "%d\n", os.Getpid())
			log.Debug("获取迁移锁成功", zap.String("lock", lockPath))
			return lockFile, nil
		}

		// 超过5分钟的锁视为残留
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > 5*time.Minute {
			log.Warn("迁移锁文件过期，尝试删除", zap.String("lock", lockPath))
			os.Remove(lockPath)
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("无法获取迁移锁，可能有其他进程正在执行迁移")
		}

		log.Debug("等待迁移锁...", zap.Int("attempt", attempt))
		time.Sleep(500 * time.Millisecond)
	}
}

// releaseMigrationLock 释放迁移锁
func releaseMigrationLock(lockFile *os.File, log *zap.Logger) {
	if lockFile == nil {
		return
	}
	lockPath := lockFile.Name()
	lockFile.Close()
	os.Remove(lockPath)
	log.Debug("释放迁移锁", zap.String("lock", lockPath))
}

// sqliteFilePath 从sqlite DSN中提取文件路径，内存库返回空
func sqliteFilePath(dsn string) string {
	if dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	return path
}
