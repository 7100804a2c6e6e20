package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cashback-next/internal/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Inventory  InventoryConfig  `mapstructure:"inventory"`
	Redemption RedemptionConfig `mapstructure:"redemption"`
	Claim      ClaimConfig      `mapstructure:"claim"`
	Invoice    InvoiceConfig    `mapstructure:"invoice"`
	Payout     PayoutConfig     `mapstructure:"payout"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		Level:      c.Level,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
		Console:    c.Console,
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
	Driver string             `mapstructure:"driver"` // sqlite / postgres
	DSN    string             `mapstructure:"dsn"`
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// RedisConfig Redis 缓存配置
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

// MetricsConfig 指标暴露配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Addr 监听地址
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// LedgerRetryConfig 事务冲突重试配置
type LedgerRetryConfig struct {
	MaxAttempts       int `mapstructure:"max_attempts"`
	InitialIntervalMS int `mapstructure:"initial_interval_ms"`
	MaxIntervalMS     int `mapstructure:"max_interval_ms"`
}

// LedgerConfig 账本配置
type LedgerConfig struct {
	Currency         string            `mapstructure:"currency"`
	TxTimeoutSeconds int               `mapstructure:"tx_timeout_seconds"`
	Retry            LedgerRetryConfig `mapstructure:"retry"`
}

// TxTimeout 单次事务超时
func (c LedgerConfig) TxTimeout() time.Duration {
	return time.Duration(c.TxTimeoutSeconds) * time.Second
}

// InventoryConfig 二维码库存配置
type InventoryConfig struct {
	HashBytes    int    `mapstructure:"hash_bytes"`
	MaxSeedCount int    `mapstructure:"max_seed_count"`
	LabelBaseURL string `mapstructure:"label_base_url"`
	LabelSize    int    `mapstructure:"label_size"`
}

// RedemptionConfig 扫码核销配置
type RedemptionConfig struct {
	InstantPayout          bool `mapstructure:"instant_payout"`
	PreviewCacheTTLSeconds int  `mapstructure:"preview_cache_ttl_seconds"`
}

// PreviewCacheTTL 活动信息缓存时长
func (c RedemptionConfig) PreviewCacheTTL() time.Duration {
	return time.Duration(c.PreviewCacheTTLSeconds) * time.Second
}

// ClaimConfig 领取凭证配置
type ClaimConfig struct {
	DefaultTTLMinutes int    `mapstructure:"default_ttl_minutes"`
	TokenPrefix       string `mapstructure:"token_prefix"`
	TokenPepper       string `mapstructure:"token_pepper"`
}

// DefaultTTL 默认有效期
func (c ClaimConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLMinutes) * time.Minute
}

// InvoiceConfig 发票投影配置
type InvoiceConfig struct {
	FeeTaxRate string `mapstructure:"fee_tax_rate"`
}

// TaxRate 服务费税率
func (c InvoiceConfig) TaxRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.FeeTaxRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// PayoutConfig 出款配置
type PayoutConfig struct {
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
	StaleAfterSeconds    int `mapstructure:"stale_after_seconds"`
}

// Load 从 config.yml 加载配置
func Load() *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../") // 从 cmd/server 运行
	v.AddConfigPath("./etc")
	setDefaults(v)

	// 环境变量覆盖，例如 ledger.currency -> LEDGER_CURRENCY
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", v.ConfigFileUsed())
	}

	cfg, err := decode(v)
	if err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("config decode failed: %w", err))
	}
	return cfg
}

// Defaults 返回仅包含默认值的配置
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(fmt.Errorf("config defaults decode failed: %w", err))
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "ledger.log")
	v.SetDefault("log.level", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.console", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/ledger.db")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "cb")
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", map[string]int{
		"critical": 6,
		"default":  3,
		"low":      1,
	})
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.host", "0.0.0.0")
	v.SetDefault("metrics.port", "9102")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("ledger.currency", "INR")
	v.SetDefault("ledger.tx_timeout_seconds", 10)
	v.SetDefault("ledger.retry.max_attempts", 5)
	v.SetDefault("ledger.retry.initial_interval_ms", 20)
	v.SetDefault("ledger.retry.max_interval_ms", 500)
	v.SetDefault("inventory.hash_bytes", 10)
	v.SetDefault("inventory.max_seed_count", 50000)
	v.SetDefault("inventory.label_base_url", "https://scan.example.com/q")
	v.SetDefault("inventory.label_size", 256)
	v.SetDefault("redemption.instant_payout", true)
	v.SetDefault("redemption.preview_cache_ttl_seconds", 60)
	v.SetDefault("claim.default_ttl_minutes", 10)
	v.SetDefault("claim.token_prefix", "CL")
	v.SetDefault("claim.token_pepper", "")
	v.SetDefault("invoice.fee_tax_rate", "0.18")
	v.SetDefault("payout.sweep_interval_seconds", 60)
	v.SetDefault("payout.stale_after_seconds", 300)
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Ledger.Currency) == "" {
		return errors.New("ledger.currency is required")
	}
	if c.Ledger.Retry.MaxAttempts < 1 {
		return fmt.Errorf("ledger.retry.max_attempts must be >= 1, got %d", c.Ledger.Retry.MaxAttempts)
	}
	if c.Ledger.TxTimeoutSeconds < 0 {
		return fmt.Errorf("ledger.tx_timeout_seconds must be >= 0, got %d", c.Ledger.TxTimeoutSeconds)
	}
	if c.Inventory.HashBytes < 8 || c.Inventory.HashBytes > 32 {
		return fmt.Errorf("inventory.hash_bytes must be within [8,32], got %d", c.Inventory.HashBytes)
	}
	if c.Inventory.MaxSeedCount < 1 {
		return fmt.Errorf("inventory.max_seed_count must be >= 1, got %d", c.Inventory.MaxSeedCount)
	}
	if c.Claim.DefaultTTLMinutes < 1 {
		return fmt.Errorf("claim.default_ttl_minutes must be >= 1, got %d", c.Claim.DefaultTTLMinutes)
	}
	if rate := c.Invoice.TaxRate(); rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("invoice.fee_tax_rate must be within [0,1], got %s", c.Invoice.FeeTaxRate)
	}
	return nil
}
