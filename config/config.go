// Package config 基于 viper 的配置加载：默认值 → 配置文件 → KINGDOM_ 环境变量
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig HTTP 监听相关
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	StaticDir       string        `mapstructure:"static_dir"`
	DefaultRoom     string        `mapstructure:"default_room"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TransportConfig 单个 WebSocket 连接的参数
type TransportConfig struct {
	// 发送队列长度，满了直接丢弃
	SendBuffer int `mapstructure:"send_buffer"`
	// 单帧最大字节数；超出时连接被断开
	ReadLimit int64 `mapstructure:"read_limit"`
	// 读超时，收到 pong 时续期
	PongWait time.Duration `mapstructure:"pong_wait"`
	// 单帧写超时
	WriteWait time.Duration `mapstructure:"write_wait"`
	// 入站帧限速（每秒 / 突发），在进入房间之前丢弃
	InboundRate  float64 `mapstructure:"inbound_rate"`
	InboundBurst int     `mapstructure:"inbound_burst"`
}

// RoomConfig 房间容量；协议常量固定，不可配置
type RoomConfig struct {
	InboxSize  int `mapstructure:"inbox_size"`
	MaxClients int `mapstructure:"max_clients"`
}

// LoggingConfig 日志
type LoggingConfig struct {
	// debug / info / warn / error
	Level string `mapstructure:"level"`
	// json 或 console
	Format string `mapstructure:"format"`
	// 为空时写 stderr
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config 全部配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Transport TransportConfig `mapstructure:"transport"`
	Room      RoomConfig      `mapstructure:"room"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Validate 一次性报告所有不合法项
func (c Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr must not be empty")
	}
	if c.Server.DefaultRoom == "" {
		errs = append(errs, "server.default_room must not be empty")
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}

	t := c.Transport
	if t.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("transport.send_buffer must be >= 1, got %d", t.SendBuffer))
	}
	if t.ReadLimit < 64 {
		errs = append(errs, fmt.Sprintf("transport.read_limit must be >= 64, got %d", t.ReadLimit))
	}
	if t.PongWait <= 0 {
		errs = append(errs, "transport.pong_wait must be positive")
	}
	if t.WriteWait <= 0 {
		errs = append(errs, "transport.write_wait must be positive")
	}
	if t.InboundRate <= 0 {
		errs = append(errs, fmt.Sprintf("transport.inbound_rate must be positive, got %v", t.InboundRate))
	}
	if t.InboundBurst < 1 {
		errs = append(errs, fmt.Sprintf("transport.inbound_burst must be >= 1, got %d", t.InboundBurst))
	}

	if c.Room.InboxSize < 1 {
		errs = append(errs, fmt.Sprintf("room.inbox_size must be >= 1, got %d", c.Room.InboxSize))
	}
	if c.Room.MaxClients < 0 {
		errs = append(errs, fmt.Sprintf("room.max_clients must be >= 0, got %d", c.Room.MaxClients))
	}

	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load 读取配置文件（path 为空则跳过），叠加环境变量后校验
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KINGDOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// LoadFromViper 从已设置好的 viper 实例解码并校验
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":2567")
	v.SetDefault("server.static_dir", "web")
	v.SetDefault("server.default_room", "game")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("transport.send_buffer", 64)
	v.SetDefault("transport.read_limit", 1<<20)
	v.SetDefault("transport.pong_wait", "60s")
	v.SetDefault("transport.write_wait", "5s")
	v.SetDefault("transport.inbound_rate", 60)
	v.SetDefault("transport.inbound_burst", 30)

	v.SetDefault("room.inbox_size", 256)
	v.SetDefault("room.max_clients", 50)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
	v.SetDefault("logging.compress", false)
}
