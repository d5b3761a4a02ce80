// Package cmd hosts the az-wap CLI: serve runs the full engine, migrate
// applies schema changes standalone.
package cmd

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AzielCF/az-wap/core/config"
)

var rootCmd = &cobra.Command{
	Use:   "az-wap",
	Short: "Sales-engineer WhatsApp follow-up engine",
}

func init() {
	_ = godotenv.Load()
	time.Local = time.UTC
	cobra.OnInitialize(bindEnv)
}

// bindEnv makes viper aware of every variable config.Load reads
// directly from os.Getenv, so a value set via a loaded .env file (which
// godotenv already exports into the process environment) or a bare
// env var both resolve the same way.
func bindEnv() {
	for _, key := range []string{
		"APP_PORT", "APP_DEBUG", "APP_ENV", "APP_BASIC_AUTH",
		"DB_DRIVER", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME",
		"MASTER_ENCRYPTION_KEY",
		"WHATSAPP_BASE_URL", "WEBHOOK_PUBLIC_URL", "WHATSAPP_PROVIDER_KEY_HEADER",
		"LLM_DEFAULT_MODEL", "LLM_DEFAULT_TEMPERATURE", "LLM_DEFAULT_MAX_TOKENS",
		"WORKER_POOL_SIZE", "WORKER_QUEUE_SIZE",
		"SCHEDULER_TICK_SECONDS",
	} {
		_ = viper.BindEnv(strings.ToLower(key), key)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("[APP] failed to load configuration: %v", err)
	}
	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
	return cfg
}
