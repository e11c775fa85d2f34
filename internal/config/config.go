// Package config loads process configuration from an optional YAML file and
// LOTLEDGER_* environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override (LOTLEDGER_DATABASE_URL).
const EnvPrefix = "LOTLEDGER"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL              string        `mapstructure:"url"`
	MaxConns         int32         `mapstructure:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	AutoMigrate      bool          `mapstructure:"auto_migrate"`
}

// RedisConfig configures the shared lock and stock cache.
// An empty Addr disables Redis; the process then uses in-process locks and no cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Development bool   `mapstructure:"development"`
}

// InventoryConfig holds the stock policy and the adjuster's concurrency knobs.
type InventoryConfig struct {
	AllowNegativeStock      bool          `mapstructure:"allow_negative_stock"`
	LowStockThreshold       int64         `mapstructure:"low_stock_threshold"`
	LockTimeout             time.Duration `mapstructure:"lock_timeout"`
	MaxRetries              int           `mapstructure:"max_retries"`
	RetryBackoff            time.Duration `mapstructure:"retry_backoff"`
	DefaultExpiryWindowDays int           `mapstructure:"default_expiry_window_days"`
}

type WorkerConfig struct {
	ScanInterval time.Duration `mapstructure:"scan_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.statement_timeout", 30*time.Second)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
	v.SetDefault("log.development", false)

	v.SetDefault("inventory.allow_negative_stock", false)
	v.SetDefault("inventory.low_stock_threshold", 20)
	v.SetDefault("inventory.lock_timeout", 5*time.Second)
	v.SetDefault("inventory.max_retries", 3)
	v.SetDefault("inventory.retry_backoff", 50*time.Millisecond)
	v.SetDefault("inventory.default_expiry_window_days", 30)

	v.SetDefault("worker.scan_interval", 15*time.Minute)
}

// Load reads configuration. configFile may be empty, in which case
// config.yaml is looked up in ./config and the working directory and is optional.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Inventory.LowStockThreshold < 0 {
		return fmt.Errorf("inventory.low_stock_threshold must be >= 0, got %d", c.Inventory.LowStockThreshold)
	}
	if c.Inventory.MaxRetries < 0 {
		return fmt.Errorf("inventory.max_retries must be >= 0, got %d", c.Inventory.MaxRetries)
	}
	if c.Inventory.LockTimeout <= 0 {
		return fmt.Errorf("inventory.lock_timeout must be positive")
	}
	if c.Inventory.DefaultExpiryWindowDays < 0 {
		return fmt.Errorf("inventory.default_expiry_window_days must be >= 0")
	}
	if c.Worker.ScanInterval <= 0 {
		return fmt.Errorf("worker.scan_interval must be positive")
	}
	return nil
}

// Settings exposes the inventory policy as the settings collaborator.
type Settings struct {
	cfg InventoryConfig
}

// NewSettings wraps the inventory section.
func NewSettings(cfg InventoryConfig) *Settings {
	return &Settings{cfg: cfg}
}

func (s *Settings) AllowNegativeStock(context.Context) bool { return s.cfg.AllowNegativeStock }

func (s *Settings) LowStockThreshold(context.Context) int64 { return s.cfg.LowStockThreshold }
