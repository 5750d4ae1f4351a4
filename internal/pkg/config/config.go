package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	App       AppConfig       `mapstructure:"app"`
	ZaloPay   ZaloPayConfig   `mapstructure:"zalopay"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
	RateLimit       float64       `mapstructure:"rate_limit"` // 每个 IP 每秒创建支付的次数
	RateBurst       int           `mapstructure:"rate_burst"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`
}

// DSN 返回 gorm postgres 驱动使用的连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode, c.TimeZone)
}

// URL 返回 golang-migrate 使用的连接 URL
func (c DatabaseConfig) URL() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AppConfig struct {
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`
}

// ZaloPayConfig 网关配置
// Key1 用于下单/查询签名，Key2 只用于校验回调
type ZaloPayConfig struct {
	AppID          int           `mapstructure:"app_id"`
	Key1           string        `mapstructure:"key1"`
	Key2           string        `mapstructure:"key2"`
	CreateOrderURL string        `mapstructure:"create_order_url"`
	QueryURL       string        `mapstructure:"query_url"`
	CallbackURL    string        `mapstructure:"callback_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// ReconcileConfig 对账相关配置
type ReconcileConfig struct {
	CreateRetries  int           `mapstructure:"create_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	StatusCacheTTL time.Duration `mapstructure:"status_cache_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"` // 0 表示不启动补偿轮询
	PendingAfter   time.Duration `mapstructure:"pending_after"`
	SweepBatch     int           `mapstructure:"sweep_batch"`
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	MaxRetry       int           `mapstructure:"max_retry"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Validate 验证配置
func (c *Config) Validate() error {
	var missing []string
	if c.ZaloPay.AppID == 0 {
		missing = append(missing, "zalopay.app_id")
	}
	if c.ZaloPay.Key1 == "" {
		missing = append(missing, "zalopay.key1")
	}
	if c.ZaloPay.Key2 == "" {
		missing = append(missing, "zalopay.key2")
	}
	if c.ZaloPay.CreateOrderURL == "" {
		missing = append(missing, "zalopay.create_order_url")
	}
	if c.ZaloPay.QueryURL == "" {
		missing = append(missing, "zalopay.query_url")
	}
	if c.ZaloPay.CallbackURL == "" {
		missing = append(missing, "zalopay.callback_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing zalopay configuration: %s", strings.Join(missing, ", "))
	}
	if c.ZaloPay.Key1 == c.ZaloPay.Key2 {
		return errors.New("zalopay key1 and key2 must differ")
	}
	if c.ZaloPay.Timeout <= 0 {
		return errors.New("zalopay timeout must be positive")
	}

	// 数据库配置验证
	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return errors.New("database configuration is incomplete")
	}

	// Redis 配置验证
	if c.Redis.Addr == "" {
		return errors.New("redis address is required")
	}

	return nil
}

var envOnlyKeys = []string{
	"zalopay.app_id", "zalopay.key1", "zalopay.key2",
	"zalopay.create_order_url", "zalopay.query_url", "zalopay.callback_url",
	"database.host", "database.user", "database.password", "database.dbname",
	"redis.password", "kafka.brokers",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "Asia/Ho_Chi_Minh")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.debug", true)
	v.SetDefault("zalopay.timeout", 10*time.Second)
	v.SetDefault("reconcile.create_retries", 2)
	v.SetDefault("reconcile.retry_backoff", 500*time.Millisecond)
	v.SetDefault("reconcile.status_cache_ttl", 3*time.Second)
	v.SetDefault("reconcile.sweep_interval", 0)
	v.SetDefault("reconcile.pending_after", 15*time.Minute)
	v.SetDefault("reconcile.sweep_batch", 100)
	v.SetDefault("reconcile.workers", 4)
	v.SetDefault("reconcile.queue_size", 256)
	v.SetDefault("reconcile.max_retry", 3)
	v.SetDefault("kafka.topic", "payment-events")
}

// Load 加载配置
// 顺序：.env -> configs/config[.<env>].yaml -> 环境变量 (ZALOPAY_KEY1 覆盖 zalopay.key1)
func Load() (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	configName := "config"
	if env != "dev" {
		configName = "config." + env
	}

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 没有默认值的键需要显式绑定，Unmarshal 才能读到环境变量
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if cfg.App.Env == "" {
		cfg.App.Env = env
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}
