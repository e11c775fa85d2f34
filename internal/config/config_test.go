package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Inventory.AllowNegativeStock)
	assert.Equal(t, int64(20), cfg.Inventory.LowStockThreshold)
	assert.Equal(t, 5*time.Second, cfg.Inventory.LockTimeout)
	assert.Equal(t, 3, cfg.Inventory.MaxRetries)
	assert.Equal(t, 30, cfg.Inventory.DefaultExpiryWindowDays)
	assert.Equal(t, 15*time.Minute, cfg.Worker.ScanInterval)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lotledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
inventory:
  allow_negative_stock: true
  low_stock_threshold: 5
redis:
  addr: localhost:6379
`), 0o600))

	t.Setenv("LOTLEDGER_INVENTORY_LOW_STOCK_THRESHOLD", "7")
	t.Setenv("LOTLEDGER_DATABASE_URL", "postgres://localhost/lotledger")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(7), cfg.Inventory.LowStockThreshold)
	assert.Equal(t, "postgres://localhost/lotledger", cfg.Database.URL)
	assert.True(t, cfg.Redis.Enabled())

	settings := NewSettings(cfg.Inventory)
	assert.True(t, settings.AllowNegativeStock(context.Background()))
	assert.Equal(t, int64(7), settings.LowStockThreshold(context.Background()))
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }},
		{name: "negative threshold", mutate: func(c *Config) { c.Inventory.LowStockThreshold = -1 }},
		{name: "negative retries", mutate: func(c *Config) { c.Inventory.MaxRetries = -1 }},
		{name: "zero lock timeout", mutate: func(c *Config) { c.Inventory.LockTimeout = 0 }},
		{name: "zero scan interval", mutate: func(c *Config) { c.Worker.ScanInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, validConfig().Validate())
}

func validConfig() *Config {
	return &Config{
		Server:    ServerConfig{Port: 8080},
		Inventory: InventoryConfig{LowStockThreshold: 20, LockTimeout: time.Second, MaxRetries: 3},
		Worker:    WorkerConfig{ScanInterval: time.Minute},
	}
}
