// Package config loads process configuration from environment
// variables (optionally overlaid by a .env file), grouped by concern.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds every concern's settings in one struct, read once at
// startup and passed explicitly to constructors — no ambient global
// state is read from deep inside domain code.
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	WhatsApp  WhatsAppConfig
	LLM       LLMConfig
	Worker    WorkerPoolConfig
	Scheduler SchedulerConfig
}

type AppConfig struct {
	Port      string
	Debug     bool
	Env       string
	BasicAuth []string // "user:pass" pairs
}

type DatabaseConfig struct {
	Driver   string // "sqlite" or "postgres"
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

type SecurityConfig struct {
	MasterEncryptionKey string
}

type WhatsAppConfig struct {
	BaseURL        string
	WebhookPublic  string
	ProviderHeader string
}

type LLMConfig struct {
	DefaultModel       string
	DefaultTemperature float64
	DefaultMaxTokens   int
}

type WorkerPoolConfig struct {
	Size      int
	QueueSize int
}

type SchedulerConfig struct {
	TickSeconds int
}

// Global is the process-wide configuration, populated by Load.
var Global *Config

// Load reads configuration from the environment, applying the same
// defaults the sandbox deployment ships with.
func Load() (*Config, error) {
	var basicAuth []string
	if v := os.Getenv("APP_BASIC_AUTH"); v != "" {
		basicAuth = strings.Split(v, ",")
	}

	cfg := &Config{
		App: AppConfig{
			Port:      getEnv("APP_PORT", "3000"),
			Debug:     getEnvBool("APP_DEBUG", false),
			Env:       getEnv("APP_ENV", "development"),
			BasicAuth: basicAuth,
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "storages/app.db"),
		},
		Security: SecurityConfig{
			MasterEncryptionKey: getEnv("MASTER_ENCRYPTION_KEY", ""),
		},
		WhatsApp: WhatsAppConfig{
			BaseURL:        getEnv("WHATSAPP_BASE_URL", "https://waba-sandbox.messagebird.com"),
			WebhookPublic:  getEnv("WEBHOOK_PUBLIC_URL", ""),
			ProviderHeader: getEnv("WHATSAPP_PROVIDER_KEY_HEADER", "D360-API-KEY"),
		},
		LLM: LLMConfig{
			DefaultModel:       getEnv("LLM_DEFAULT_MODEL", "accurate"),
			DefaultTemperature: getEnvFloat("LLM_DEFAULT_TEMPERATURE", 0.7),
			DefaultMaxTokens:   getEnvInt("LLM_DEFAULT_MAX_TOKENS", 500),
		},
		Worker: WorkerPoolConfig{
			Size:      getEnvInt("WORKER_POOL_SIZE", 10),
			QueueSize: getEnvInt("WORKER_QUEUE_SIZE", 200),
		},
		Scheduler: SchedulerConfig{
			TickSeconds: getEnvInt("SCHEDULER_TICK_SECONDS", 60),
		},
	}

	Global = cfg
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "on"
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
