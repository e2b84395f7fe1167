package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	MySQL        MySQLConfig        `mapstructure:"mysql"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Lmstfy       LmstfyConfig       `mapstructure:"lmstfy"`
	Store        StoreConfig        `mapstructure:"store"`
	Stream       StreamConfig       `mapstructure:"stream"`
	Notification NotificationConfig `mapstructure:"notification"`
	Attach       AttachConfig       `mapstructure:"attach"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	Timezone string `mapstructure:"timezone"` // “今日”统计使用的时区
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// MySQLConfig MySQL 配置
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LmstfyConfig Lmstfy 配置（推送提醒队列）
type LmstfyConfig struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Namespace string        `mapstructure:"namespace"`
	Token     string        `mapstructure:"token"`
	PushQueue string        `mapstructure:"push_queue"`
	PushTTL   time.Duration `mapstructure:"push_ttl"` // 提醒在队列中的有效期
}

// StoreConfig 当前会话绑定的门店
type StoreConfig struct {
	ID string `mapstructure:"id"`
}

// StreamConfig 订单流配置
type StreamConfig struct {
	ChannelPrefix  string        `mapstructure:"channel_prefix"`  // 变更频道前缀
	Window         time.Duration `mapstructure:"window"`          // 可见窗口，0 表示不限制
	ResyncInterval time.Duration `mapstructure:"resync_interval"` // 周期性全量同步
	ErrorBackoff   time.Duration `mapstructure:"error_backoff"`   // 错误退避时间
}

// NotificationConfig 新订单提醒配置
type NotificationConfig struct {
	NewOrders        bool            `mapstructure:"new_orders"`
	Sound            bool            `mapstructure:"sound"`
	Vibration        bool            `mapstructure:"vibration"`
	Rate             float64         `mapstructure:"rate"`  // 每秒提醒数，0 表示不限流
	Burst            int             `mapstructure:"burst"` // 突发容量
	VibrationPattern []time.Duration `mapstructure:"vibration_pattern"`
	PresencePrefix   string          `mapstructure:"presence_prefix"` // 前台心跳 key 前缀
	DevicePrefix     string          `mapstructure:"device_prefix"`   // 设备指令频道前缀
}

// AttachConfig 订阅失败时调用方的重试策略
type AttachConfig struct {
	Retries int           `mapstructure:"retries"`
	Backoff time.Duration `mapstructure:"backoff"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ordersync")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.timezone", "Local")
	v.SetDefault("server.port", "8080")
	v.SetDefault("lmstfy.port", 7777)
	v.SetDefault("lmstfy.push_queue", "merchant_push")
	v.SetDefault("lmstfy.push_ttl", 10*time.Minute)
	v.SetDefault("stream.channel_prefix", "orders")
	v.SetDefault("stream.resync_interval", 30*time.Second)
	v.SetDefault("stream.error_backoff", 2*time.Second)
	v.SetDefault("notification.new_orders", true)
	v.SetDefault("notification.sound", true)
	v.SetDefault("notification.vibration", true)
	v.SetDefault("notification.burst", 1)
	v.SetDefault("notification.vibration_pattern", []string{"0s", "250ms", "250ms", "250ms"})
	v.SetDefault("notification.presence_prefix", "presence")
	v.SetDefault("notification.device_prefix", "device")
	v.SetDefault("attach.retries", 5)
	v.SetDefault("attach.backoff", 3*time.Second)
}

// Load 加载配置文件（环境变量 ORDERSYNC_* 可覆盖）
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ORDERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	return &cfg, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("app.timezone is invalid: %w", err)
	}
	if c.MySQL.DSN == "" {
		return fmt.Errorf("mysql.dsn is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Lmstfy.Host == "" {
		return fmt.Errorf("lmstfy.host is required")
	}
	if c.Store.ID == "" {
		return fmt.Errorf("store.id is required")
	}
	if c.Notification.Rate < 0 {
		return fmt.Errorf("notification.rate must not be negative")
	}
	return nil
}

// Location 解析“今日”统计使用的时区
func (c *Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.App.Timezone)
}
