package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// ChannelWhatsApp selects the WhatsApp Cloud API transport.
	ChannelWhatsApp = "whatsapp"
	// ChannelTelegram selects the Telegram transport.
	ChannelTelegram = "telegram"
)

const (
	// SessionBackendMemory keeps sessions in process memory.
	SessionBackendMemory = "memory"
	// SessionBackendRedis keeps sessions in Redis with native TTL.
	SessionBackendRedis = "redis"
)

// ChannelConfig selects and parameterizes the chat transport.
type ChannelConfig struct {
	Kind string `yaml:"kind" envconfig:"CHANNEL_KIND"`
}

// WhatsAppConfig holds WhatsApp Cloud API settings.
type WhatsAppConfig struct {
	BaseURL       string `yaml:"base_url" envconfig:"WA_BASE_URL"`
	APIVersion    string `yaml:"api_version" envconfig:"WA_API_VERSION"`
	Token         string `yaml:"token" envconfig:"WA_GRAPH_API_TOKEN"`
	PhoneNumberID string `yaml:"phone_number_id" envconfig:"WA_PHONE_NUMBER_ID"`
	VerifyToken   string `yaml:"verify_token" envconfig:"WA_VERIFY_TOKEN"`
	Listen        string `yaml:"listen" envconfig:"WA_WEBHOOK_LISTEN"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token                  string `yaml:"token" envconfig:"BOT_TOKEN"`
	LongPollTimeoutSeconds int    `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// SessionConfig controls conversation session lifetime and storage.
type SessionConfig struct {
	Backend       string        `yaml:"backend" envconfig:"SESSION_BACKEND"`
	TTL           time.Duration `yaml:"ttl" envconfig:"SESSION_TTL"`
	SweepInterval time.Duration `yaml:"sweep_interval" envconfig:"SESSION_SWEEP_INTERVAL"`
	HistoryLimit  int           `yaml:"history_limit" envconfig:"SESSION_HISTORY_LIMIT"`
}

// QueueConfig controls the inbound event dispatcher.
type QueueConfig struct {
	Concurrency int `yaml:"concurrency" envconfig:"QUEUE_CONCURRENCY"`
	MaxRetries  int `yaml:"max_retries" envconfig:"QUEUE_MAX_RETRIES"`
}

// PaymentConfig holds GTPay-style link generation settings.
type PaymentConfig struct {
	BaseURL       string `yaml:"base_url" envconfig:"PAYMENT_BASE_URL"`
	Currency      string `yaml:"currency" envconfig:"PAYMENT_CURRENCY"`
	CustomerCode  string `yaml:"customer_code" envconfig:"PAYMENT_CUSTOMER_CODE"`
	SecureSecret  string `yaml:"secure_secret" envconfig:"PAYMENT_SECURE_SECRET"`
	ShortBaseURL  string `yaml:"short_base_url" envconfig:"PAYMENT_SHORT_BASE_URL"`
	DefaultAmount string `yaml:"default_amount" envconfig:"PAYMENT_DEFAULT_AMOUNT"`
}

// BankConfig holds upstream bank/URA service endpoints.
type BankConfig struct {
	PRNDetailsEndpoint  string `yaml:"prn_details_endpoint" envconfig:"BANK_PRN_DETAILS_ENDPOINT"`
	PRNCompleteEndpoint string `yaml:"prn_complete_endpoint" envconfig:"BANK_PRN_COMPLETE_ENDPOINT"`
	AccountEndpoint     string `yaml:"account_endpoint" envconfig:"BANK_ACCOUNT_ENDPOINT"`
}

// RedisConfig holds Redis connection settings for the session backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// Config aggregates application configuration.
type Config struct {
	Channel  ChannelConfig  `yaml:"channel"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Telegram TelegramConfig `yaml:"telegram"`
	Session  SessionConfig  `yaml:"session"`
	Queue    QueueConfig    `yaml:"queue"`
	Payment  PaymentConfig  `yaml:"payment"`
	Bank     BankConfig     `yaml:"bank"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	kind := strings.ToLower(strings.TrimSpace(cfg.Channel.Kind))
	if kind == "" {
		kind = ChannelWhatsApp
	}
	switch kind {
	case ChannelWhatsApp:
		if strings.TrimSpace(cfg.WhatsApp.Token) == "" {
			return fmt.Errorf("whatsapp.token is required when channel.kind is 'whatsapp'")
		}
		if strings.TrimSpace(cfg.WhatsApp.PhoneNumberID) == "" {
			return fmt.Errorf("whatsapp.phone_number_id is required when channel.kind is 'whatsapp'")
		}
		if strings.TrimSpace(cfg.WhatsApp.Listen) == "" {
			cfg.WhatsApp.Listen = ":8080"
		}
		if strings.TrimSpace(cfg.WhatsApp.BaseURL) == "" {
			cfg.WhatsApp.BaseURL = "https://graph.facebook.com"
		}
		if strings.TrimSpace(cfg.WhatsApp.APIVersion) == "" {
			cfg.WhatsApp.APIVersion = "v18.0"
		}
	case ChannelTelegram:
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token is required when channel.kind is 'telegram'")
		}
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid channel.kind %q; allowed: whatsapp, telegram", cfg.Channel.Kind)
	}
	cfg.Channel.Kind = kind

	backend := strings.ToLower(strings.TrimSpace(cfg.Session.Backend))
	if backend == "" {
		backend = SessionBackendMemory
	}
	switch backend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required when session.backend is 'redis'")
		}
	default:
		return fmt.Errorf("invalid session.backend %q; allowed: memory, redis", cfg.Session.Backend)
	}
	cfg.Session.Backend = backend

	if cfg.Session.TTL <= 0 {
		cfg.Session.TTL = 5 * time.Minute
	}
	if cfg.Session.SweepInterval <= 0 {
		cfg.Session.SweepInterval = time.Minute
	}
	if cfg.Session.HistoryLimit <= 0 {
		cfg.Session.HistoryLimit = 10
	}

	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 8
	}
	if cfg.Queue.MaxRetries < 0 {
		cfg.Queue.MaxRetries = 0
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 3
	}

	if strings.TrimSpace(cfg.Payment.Currency) == "" {
		cfg.Payment.Currency = "UGX"
	}
	if strings.TrimSpace(cfg.Payment.DefaultAmount) == "" {
		cfg.Payment.DefaultAmount = "500.00"
	}

	return nil
}
