package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 CARBON_CARDS_SERVER_PORT
const EnvPrefix = "CARBON_CARDS"

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Session   SessionConfig   `mapstructure:"session"`
	Log       LogConfig       `mapstructure:"log"`
	Security  SecurityConfig  `mapstructure:"security"`
	System    SystemConfig    `mapstructure:"system"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Addr 监听地址
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	Path              string        `mapstructure:"path"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	SendBufferSize    int           `mapstructure:"send_buffer_size"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ReconnectGrace    time.Duration `mapstructure:"reconnect_grace"`
	MaxPendingAcks    int           `mapstructure:"max_pending_acks"`
	EnableCompression bool          `mapstructure:"enable_compression"`
}

// SessionConfig 会话同步引擎配置
type SessionConfig struct {
	// CommandTimeout 服务端执行单条命令的超时时间
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	// QueueSize 每个会话单写队列的缓冲长度
	QueueSize int `mapstructure:"queue_size"`
	// AckTimeout 客户端等待确认的超时时间
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
	// AnnotationRequiresSelection 为true时，评估/投票要求卡牌已被选中
	AnnotationRequiresSelection bool `mapstructure:"annotation_requires_selection"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWT          JWTConfig `mapstructure:"jwt"`
	EnforceRoles bool      `mapstructure:"enforce_roles"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret           string        `mapstructure:"secret"`
	AdminTokenExpiry time.Duration `mapstructure:"admin_token_expiry"`
	TableTokenExpiry time.Duration `mapstructure:"table_token_expiry"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	Timezone string `mapstructure:"timezone"`
	MaxProcs int    `mapstructure:"max_procs"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化全局配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		var loaded *Config
		v, loaded, err = load(configPath)
		if err != nil {
			return
		}
		mu.Lock()
		cfg = loaded
		mu.Unlock()
	})
	return err
}

// Load 读取一份独立的配置（不影响全局实例）
func Load(configPath string) (*Config, error) {
	_, c, err := load(configPath)
	return c, err
}

func load(configPath string) (*viper.Viper, *Config, error) {
	vp := viper.New()

	if configPath != "" {
		vp.SetConfigFile(configPath)
	} else {
		vp.SetConfigName("config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath("./config")
		vp.AddConfigPath(".")
	}

	vp.SetEnvPrefix(EnvPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	if err := vp.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认配置
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	c := &Config{}
	if err := vp.Unmarshal(c); err != nil {
		return nil, nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	return vp, c, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/carbon-cards.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.send_buffer_size", 256)
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.reconnect_grace", "2m")
	v.SetDefault("websocket.max_pending_acks", 64)
	v.SetDefault("websocket.enable_compression", false)

	v.SetDefault("session.command_timeout", "10s")
	v.SetDefault("session.queue_size", 128)
	v.SetDefault("session.ack_timeout", "5s")
	v.SetDefault("session.annotation_requires_selection", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "carbon-cards.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("security.jwt.secret", "change-me-in-production")
	v.SetDefault("security.jwt.admin_token_expiry", "12h")
	v.SetDefault("security.jwt.table_token_expiry", "24h")
	v.SetDefault("security.enforce_roles", false)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("无效的端口: %d", c.Server.Port)
	}
	if c.WebSocket.ReconnectGrace < 0 {
		return fmt.Errorf("websocket.reconnect_grace 不能为负数")
	}
	if c.Session.QueueSize <= 0 {
		return fmt.Errorf("session.queue_size 必须大于0")
	}
	if c.Session.CommandTimeout <= 0 || c.Session.AckTimeout <= 0 {
		return fmt.Errorf("session 超时配置必须大于0")
	}
	return nil
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	if v == nil {
		return
	}
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			fmt.Printf("配置重载校验失败: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}
	})
}

// GetString 获取字符串配置
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}
