package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/wfunc/carbon-cards/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *zap.Logger
	once   sync.Once
	mu     sync.RWMutex

	// level 全局动态日志级别，配置热更新时调整
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	// 模块日志器
	moduleLoggers map[string]*zap.Logger
)

// Init 初始化日志系统
func Init(cfg *config.LogConfig) error {
	var err error
	once.Do(func() {
		var built *zap.Logger
		var modules map[string]*zap.Logger
		built, modules, err = build(cfg)
		if err != nil {
			return
		}

		mu.Lock()
		logger = built
		moduleLoggers = modules
		mu.Unlock()
	})

	return err
}

// build 根据配置构建日志器和模块日志器
func build(cfg *config.LogConfig) (*zap.Logger, map[string]*zap.Logger, error) {
	level.SetLevel(parseLevel(cfg.Level))

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var cores []zapcore.Core

	if cfg.Output == "stdout" || cfg.Output == "both" || cfg.Output == "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
	}

	if cfg.Output == "file" || cfg.Output == "both" {
		logDir := cfg.File.Path
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, nil, fmt.Errorf("创建日志目录失败: %w", err)
		}

		// lumberjack 负责按大小轮转
		fileWriter := &lumberjack.Logger{
			Filename:   filepath.Join(logDir, cfg.File.Filename),
			MaxSize:    cfg.File.MaxSize,
			MaxAge:     cfg.File.MaxAge,
			MaxBackups: cfg.File.MaxBackups,
			Compress:   cfg.File.Compress,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(fileWriter), level))

		errorWriter := &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "error.log"),
			MaxSize:    cfg.File.MaxSize,
			MaxAge:     cfg.File.MaxAge,
			MaxBackups: cfg.File.MaxBackups,
			Compress:   cfg.File.Compress,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(errorWriter), zapcore.ErrorLevel))
	}

	core := zapcore.NewTee(cores...)
	built := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// 模块日志器共享输出，但拥有独立级别
	modules := make(map[string]*zap.Logger, len(cfg.Modules))
	for module, levelStr := range cfg.Modules {
		moduleLevel := parseLevel(levelStr)
		moduleCore := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), moduleLevel)
		modules[module] = zap.New(moduleCore, zap.AddCaller()).Named(module)
	}

	return built, modules, nil
}

// parseLevel 解析日志级别
func parseLevel(levelStr string) zapcore.Level {
	switch levelStr {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// GetLogger 获取日志器
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		// 未初始化时使用默认配置
		defaultLogger, _ := zap.NewProduction()
		return defaultLogger
	}
	return logger
}

// GetModuleLogger 获取模块日志器，未单独配置的模块使用带名字的全局日志器
func GetModuleLogger(module string) *zap.Logger {
	mu.RLock()
	moduleLogger, ok := moduleLoggers[module]
	mu.RUnlock()

	if ok {
		return moduleLogger
	}
	return GetLogger().Named(module)
}

// SetLevel 动态设置日志级别
func SetLevel(levelStr string) {
	level.SetLevel(parseLevel(levelStr))
}

// Sync 同步日志缓冲区
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()

	if logger != nil {
		return logger.Sync()
	}
	return nil
}

// LogSessionEvent 记录会话事件（广播前调用）
func LogSessionEvent(event string, sessionID uint, data interface{}) {
	GetModuleLogger("game").Info("session_event",
		zap.String("event", event),
		zap.Uint("session_id", sessionID),
		zap.Any("data", data),
	)
}

