// Package config loads application configuration: infrastructure
// settings from environment variables, worker definitions from a YAML
// file.
package config

import (
	"os"
	"strconv"
)

// Config holds infrastructure configuration loaded from environment
// variables.
type Config struct {
	LogLevel string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	GatewayAddr   string

	// Worker definitions file
	WorkersFile string

	// OnlineCheck gates trading on chart freshness. Disable for
	// offline replay.
	OnlineCheck bool

	// BingX credentials (required only when a worker uses the bingx
	// exchange)
	BingXBaseURL   string
	BingXAPIKey    string
	BingXSecretKey string

	// CSV exchange (offline)
	CSVPath           string
	CSVInitialBalance float64

	// Telegram notifications (optional; log-only when unset)
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads configuration from environment variables with sensible
// defaults.
func Load() *Config {
	return &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/trader.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8085"),

		WorkersFile: getEnv("WORKERS_FILE", "workers.yaml"),
		OnlineCheck: getEnvBool("ONLINE_CHECK", true),

		BingXBaseURL:   getEnv("BINGX_BASE_URL", "https://open-api.bingx.com"),
		BingXAPIKey:    getEnv("BINGX_API_KEY", ""),
		BingXSecretKey: getEnv("BINGX_SECRET_KEY", ""),

		CSVPath:           getEnv("CSV_PATH", ""),
		CSVInitialBalance: getEnvFloat("CSV_INITIAL_BALANCE", 10000),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
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
