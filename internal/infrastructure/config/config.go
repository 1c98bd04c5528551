// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// Example usage:
//
//	cfg := config.LoadOrEnv(path)
//	dbPath := cfg.Storage.DatabasePath
//	window := cfg.Marketplace.Window()
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Marketplace   MarketplaceConfig   `yaml:"marketplace"`
	Storage       StorageConfig       `yaml:"storage"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// MarketplaceConfig holds marketplace API and reconciliation settings.
type MarketplaceConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	TokenURL string `yaml:"token_url"`

	// WindowHours is the trailing time-window width for the order query.
	// Overlap with the previous run is expected; the idempotency ledger
	// absorbs it. Default: 2.
	WindowHours int `yaml:"window_hours"`

	// ChannelID is the stock bucket that receives the decrements.
	// Default: 1.
	ChannelID int64 `yaml:"channel_id"`

	// PageLimit is the page size requested from the order endpoint.
	// Default: 100.
	PageLimit int `yaml:"page_limit"`

	// DefaultScopes is sent on token refresh when the stored token row
	// carries no scopes of its own.
	DefaultScopes string `yaml:"default_scopes"`
}

// Window returns the configured trailing window width.
func (m MarketplaceConfig) Window() time.Duration {
	hours := m.WindowHours
	if hours <= 0 {
		hours = 2
	}
	return time.Duration(hours) * time.Hour
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${MARKETPLACE_BASE_URL})
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	cfg := &Config{
		Marketplace: MarketplaceConfig{
			Provider:      getEnv("SYNC_PROVIDER", "marketplace"),
			BaseURL:       os.Getenv("MARKETPLACE_BASE_URL"),
			TokenURL:      os.Getenv("MARKETPLACE_TOKEN_URL"),
			WindowHours:   getEnvInt("SYNC_WINDOW_HOURS", 2),
			ChannelID:     int64(getEnvInt("SYNC_CHANNEL_ID", 1)),
			PageLimit:     getEnvInt("SYNC_PAGE_LIMIT", 100),
			DefaultScopes: getEnv("MARKETPLACE_SCOPES", "sell.inventory sell.fulfillment"),
		},
		Storage: StorageConfig{
			DatabasePath: getEnv("SYNC_DB_PATH", "marketplace_sync.db"),
		},
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "text"),
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadOrEnv loads the config file if a path is given and falls back to
// environment variables otherwise.
func LoadOrEnv(path string) (*Config, error) {
	if path == "" {
		return LoadFromEnv(), nil
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Marketplace.Provider == "" {
		c.Marketplace.Provider = "marketplace"
	}
	if c.Marketplace.WindowHours <= 0 {
		c.Marketplace.WindowHours = 2
	}
	if c.Marketplace.ChannelID <= 0 {
		c.Marketplace.ChannelID = 1
	}
	if c.Marketplace.PageLimit <= 0 {
		c.Marketplace.PageLimit = 100
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "marketplace_sync.db"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
}

// getEnv returns an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an environment variable as int or a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
