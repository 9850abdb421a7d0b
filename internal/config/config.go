package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jifen-next/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	UserJWT  JWTConfig      `mapstructure:"user_jwt"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Security SecurityConfig `mapstructure:"security"`
	Order    OrderConfig    `mapstructure:"order"`
	Points   PointsConfig   `mapstructure:"points"`
	Wechat   WechatConfig   `mapstructure:"wechat"`
	QRCode   QRCodeConfig   `mapstructure:"qrcode"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string             `mapstructure:"driver"` // sqlite / postgres
	DSN      string             `mapstructure:"dsn"`
	LogLevel string             `mapstructure:"log_level"` // silent / error / warn / info
	Pool     DatabasePoolConfig `mapstructure:"pool"`
}

// JWTConfig 用户令牌配置（令牌由外部认证服务签发，本服务只负责校验）
type JWTConfig struct {
	SecretKey   string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// AdminConfig 内部管理接口配置
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	OrderRateLimit    RateLimitConfig `mapstructure:"order_rate_limit"`
	CallbackRateLimit RateLimitConfig `mapstructure:"callback_rate_limit"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// OrderConfig 支付订单配置
type OrderConfig struct {
	PaymentExpireMinutes int   `mapstructure:"payment_expire_minutes"`
	MaxAmount            int64 `mapstructure:"max_amount"` // 单笔最大金额（分）
	ExpireSweepSeconds   int   `mapstructure:"expire_sweep_seconds"`
}

// PaymentTTL 订单支付有效期
func (c OrderConfig) PaymentTTL() time.Duration {
	if c.PaymentExpireMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.PaymentExpireMinutes) * time.Minute
}

// PointsConfig 积分配置
type PointsConfig struct {
	PointsPerUnit       int64 `mapstructure:"points_per_unit"` // 多少分兑换 1 积分
	ExpiryDays          int   `mapstructure:"expiry_days"`
	ExpiringSoonDays    int   `mapstructure:"expiring_soon_days"`
	SweepSeconds        int   `mapstructure:"sweep_seconds"`
	BalanceCacheSeconds int   `mapstructure:"balance_cache_seconds"`
}

// WechatConfig 微信支付配置
type WechatConfig struct {
	APIVersion         string   `mapstructure:"api_version"` // v2 / v3
	AppID              string   `mapstructure:"app_id"`
	MchID              string   `mapstructure:"mch_id"`
	APIKey             string   `mapstructure:"api_key"` // v2 商户 API 密钥
	SignType           string   `mapstructure:"sign_type"`
	MerchantSerialNo   string   `mapstructure:"merchant_serial_no"`
	MerchantPrivateKey string   `mapstructure:"merchant_private_key"`
	APIV3Key           string   `mapstructure:"api_v3_key"`
	PlatformCerts      []string `mapstructure:"platform_certs"` // v3 平台证书 PEM
	NotifyURL          string   `mapstructure:"notify_url"`
	BaseURL            string   `mapstructure:"base_url"`
	TimeoutSeconds     int      `mapstructure:"timeout_seconds"`
}

// QRCodeConfig 商户收款码配置
type QRCodeConfig struct {
	Secret   string `mapstructure:"secret"`
	PagePath string `mapstructure:"page_path"`
}

// Load 从 config.yml 加载配置
func Load() *Config {
	// .env 仅用于本地开发，缺失时忽略
	if err := godotenv.Load(); err == nil {
		logger.Infow("dotenv_loaded")
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("./etc")

	setDefaults(viper.GetViper())

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(newEnvReplacer())

	if err := viper.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}
	return &cfg
}

// newEnvReplacer 将 . 替换为 _（例如 server.port -> SERVER_PORT）
func newEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "jifen.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/jifen.db")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("user_jwt.secret", "user-change-me-in-production")
	v.SetDefault("user_jwt.expire_hours", 168)
	v.SetDefault("admin.token", "")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "jf")
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", map[string]int{
		"critical": 6,
		"default":  3,
	})
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Authorization",
		"X-Request-ID",
	})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 600)
	v.SetDefault("security.order_rate_limit.window_seconds", 60)
	v.SetDefault("security.order_rate_limit.max_requests", 20)
	v.SetDefault("security.callback_rate_limit.window_seconds", 1)
	v.SetDefault("security.callback_rate_limit.max_requests", 200)
	v.SetDefault("order.payment_expire_minutes", 60)
	v.SetDefault("order.max_amount", 5000000)
	v.SetDefault("order.expire_sweep_seconds", 60)
	v.SetDefault("points.points_per_unit", 100)
	v.SetDefault("points.expiry_days", 365)
	v.SetDefault("points.expiring_soon_days", 30)
	v.SetDefault("points.sweep_seconds", 3600)
	v.SetDefault("points.balance_cache_seconds", 30)
	v.SetDefault("wechat.api_version", "v2")
	v.SetDefault("wechat.sign_type", "MD5")
	v.SetDefault("wechat.base_url", "https://api.mch.weixin.qq.com")
	v.SetDefault("wechat.timeout_seconds", 30)
	v.SetDefault("qrcode.page_path", "pages/payment/index")
}
