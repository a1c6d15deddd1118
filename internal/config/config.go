package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendRedis  = "redis"
	BackendPebble = "pebble"
)

type Config struct {
	Server  ServerConfig
	Redis   RedisConfig
	Store   StoreConfig
	Ledger  LedgerConfig
	Auth    AuthConfig
	Events  EventsConfig
	Webhook WebhookConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type StoreConfig struct {
	Backend    string `mapstructure:"backend"`
	PebblePath string `mapstructure:"pebble_path"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type LedgerConfig struct {
	Denom string `mapstructure:"denom"`
}

type AuthConfig struct {
	MaxFutureWindowSec int64 `mapstructure:"max_future_window_sec"`
}

type EventsConfig struct {
	QueueKey string `mapstructure:"queue_key"`
	// Consumer names this replica's processing list; empty picks a random one.
	Consumer string `mapstructure:"consumer"`
}

type WebhookConfig struct {
	URL        string `mapstructure:"url"`
	SigningKey string `mapstructure:"signing_key"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads .env (if any), config.yaml (if any) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "ledger:")
	v.SetDefault("store.backend", BackendRedis)
	v.SetDefault("store.max_retries", 16)
	v.SetDefault("ledger.denom", "neuron")
	v.SetDefault("auth.max_future_window_sec", 300)
	v.SetDefault("events.queue_key", "ledger:events")
	v.SetDefault("webhook.timeout_sec", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":                "PORT",
		"redis.addr":                 "REDIS_ADDR",
		"redis.password":             "REDIS_PASSWORD",
		"redis.db":                   "REDIS_DB",
		"redis.key_prefix":           "REDIS_KEY_PREFIX",
		"store.backend":              "STORE_BACKEND",
		"store.pebble_path":          "PEBBLE_PATH",
		"store.max_retries":          "STORE_MAX_RETRIES",
		"ledger.denom":               "LEDGER_DENOM",
		"auth.max_future_window_sec": "AUTH_MAX_FUTURE_WINDOW_SEC",
		"events.queue_key":           "EVENTS_QUEUE_KEY",
		"events.consumer":            "EVENTS_CONSUMER",
		"webhook.url":                "WEBHOOK_URL",
		"webhook.signing_key":        "WEBHOOK_SIGNING_KEY",
		"webhook.timeout_sec":        "WEBHOOK_TIMEOUT_SEC",
		"log.level":                  "LOG_LEVEL",
		"log.file":                   "LOG_FILE",
		"log.max_size_mb":            "LOG_MAX_SIZE_MB",
		"log.max_backups":            "LOG_MAX_BACKUPS",
		"log.max_age_days":           "LOG_MAX_AGE_DAYS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendRedis:
	case BackendPebble:
		if c.Store.PebblePath == "" {
			return fmt.Errorf("required config missing: PEBBLE_PATH")
		}
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q: want %s or %s", c.Store.Backend, BackendRedis, BackendPebble)
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("required config missing: REDIS_ADDR")
	}
	if c.Store.MaxRetries <= 0 {
		return fmt.Errorf("STORE_MAX_RETRIES must be positive, got %d", c.Store.MaxRetries)
	}
	if c.Auth.MaxFutureWindowSec <= 0 {
		return fmt.Errorf("AUTH_MAX_FUTURE_WINDOW_SEC must be positive, got %d", c.Auth.MaxFutureWindowSec)
	}
	if c.Webhook.URL != "" && c.Events.QueueKey == "" {
		return fmt.Errorf("required config missing: EVENTS_QUEUE_KEY")
	}
	if c.Webhook.SigningKey != "" {
		if _, err := crypto.HexToECDSA(strings.TrimPrefix(c.Webhook.SigningKey, "0x")); err != nil {
			return fmt.Errorf("invalid WEBHOOK_SIGNING_KEY: %w", err)
		}
	}
	return nil
}
