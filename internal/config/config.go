// Package config provides configuration management functionality.
//
// Configuration is loaded from environment variables (and an optional .env
// file) at startup. Exchange credentials are per-Account and live in the
// database (see internal/domain.Account) — this package only holds
// process-wide settings: where the database lives, which port to listen on,
// default per-exchange endpoint URLs, and the Telegram alert sink.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir          string            // Base directory for the sqlite database file
	Port             int               // HTTP server port
	LogLevel         string            // Log level (debug, info, warn, error)
	DevMode          bool              // Development mode flag (disables response compression)
	ExchangeBaseURLs map[string]string // exchange name -> base REST URL override
	TelegramToken    string            // Telegram bot token for alerts (optional)
	TelegramChatID   string            // Telegram chat id for alerts (optional)
}

// Load reads configuration from environment variables.
//
// dataDirOverride - optional CLI flag override for data directory (highest priority)
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("TRADER_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		Port:             getEnvAsInt("GO_PORT", 8001),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		ExchangeBaseURLs: parseExchangeURLs(getEnv("EXCHANGE_BASE_URLS", "")),
		TelegramToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}

	return cfg, nil
}

// DatabasePath returns the path to the sqlite database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "trading.db")
}

// parseExchangeURLs parses a comma-separated "exchange=url" list, e.g.
// "binance=https://api.binance.com,bybit=https://api.bybit.com".
func parseExchangeURLs(raw string) map[string]string {
	result := make(map[string]string)
	if raw == "" {
		return result
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		result[strings.ToLower(kv[0])] = kv[1]
	}
	return result
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
