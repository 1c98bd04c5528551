package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
marketplace:
  provider: ebay
  base_url: https://api.ebay.com/sell/fulfillment/v1
  token_url: https://api.ebay.com/identity/v1/oauth2/token
  window_hours: 4
  channel_id: 3
  page_limit: 50
  default_scopes: "sell.inventory sell.fulfillment"
storage:
  database_path: /var/lib/sync/sync.db
server:
  port: 9090
  allowed_origins:
    - https://admin.example.com
observability:
  logging:
    level: debug
    format: json
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "ebay", cfg.Marketplace.Provider)
	assert.Equal(t, "https://api.ebay.com/sell/fulfillment/v1", cfg.Marketplace.BaseURL)
	assert.Equal(t, 4*time.Hour, cfg.Marketplace.Window())
	assert.Equal(t, int64(3), cfg.Marketplace.ChannelID)
	assert.Equal(t, 50, cfg.Marketplace.PageLimit)
	assert.Equal(t, "/var/lib/sync/sync.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://admin.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)
}

func TestLoad_DefaultsFillGaps(t *testing.T) {
	path := writeConfig(t, `
marketplace:
  base_url: https://api.example.com
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "marketplace", cfg.Marketplace.Provider)
	assert.Equal(t, 2*time.Hour, cfg.Marketplace.Window())
	assert.Equal(t, int64(1), cfg.Marketplace.ChannelID)
	assert.Equal(t, 100, cfg.Marketplace.PageLimit)
	assert.Equal(t, "marketplace_sync.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("MARKETPLACE_BASE_URL", "https://sandbox.example.com")

	path := writeConfig(t, `
marketplace:
  base_url: ${MARKETPLACE_BASE_URL}
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "https://sandbox.example.com", cfg.Marketplace.BaseURL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "marketplace: [not a mapping")

	_, err := Load(path)

	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SYNC_PROVIDER", "ebay")
	t.Setenv("MARKETPLACE_BASE_URL", "https://api.example.com")
	t.Setenv("SYNC_WINDOW_HOURS", "6")
	t.Setenv("SYNC_PAGE_LIMIT", "25")
	t.Setenv("SYNC_DB_PATH", "/tmp/sync.db")
	t.Setenv("SERVER_PORT", "8088")

	cfg := LoadFromEnv()

	assert.Equal(t, "ebay", cfg.Marketplace.Provider)
	assert.Equal(t, "https://api.example.com", cfg.Marketplace.BaseURL)
	assert.Equal(t, 6*time.Hour, cfg.Marketplace.Window())
	assert.Equal(t, 25, cfg.Marketplace.PageLimit)
	assert.Equal(t, "/tmp/sync.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 8088, cfg.Server.Port)
}

func TestLoadFromEnv_IgnoresUnparsableInt(t *testing.T) {
	t.Setenv("SYNC_WINDOW_HOURS", "soon")

	cfg := LoadFromEnv()

	assert.Equal(t, 2*time.Hour, cfg.Marketplace.Window())
}

func TestLoadOrEnv(t *testing.T) {
	cfg, err := LoadOrEnv("")
	require.NoError(t, err)
	assert.Equal(t, "marketplace", cfg.Marketplace.Provider)

	_, err = LoadOrEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
