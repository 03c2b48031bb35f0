package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedant-gala/Credora/internal/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Rewards.MaxCommitRetries)

	rates, err := cfg.ExchangeRates()
	require.NoError(t, err)
	assert.True(t, rates.PerUnit[models.RewardPoints].Equal(decimal.RequireFromString("0.25")))
	require.NotNil(t, rates.LoungeAccess)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: "9090"
database:
  driver: memory
rewards:
  timezone: Asia/Kolkata
  exchange_rates:
    points: "0.3"
cache:
  enabled: true
  backend: redis
features:
  fuzzy_merchant_lookup: true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, CacheRedis, cfg.Cache.Backend)
	assert.True(t, cfg.Features["fuzzy_merchant_lookup"])

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", loc.String())

	rates, err := cfg.ExchangeRates()
	require.NoError(t, err)
	assert.True(t, rates.PerUnit[models.RewardPoints].Equal(decimal.RequireFromString("0.3")))
	// untouched defaults survive the overlay
	assert.True(t, rates.PerUnit[models.RewardCashback].Equal(decimal.NewFromInt(1)))
}

func TestLoadConfig_TOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[server]
port = "7070"

[database]
driver = "postgres"
dsn = "postgres://localhost/credora"

[log]
format = "json"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"rate_limit": {"enabled": true, "rate": 5, "window": 10}}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RateLimit.Rate)
}

func TestLoadConfig_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "config.ini", "port=1")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "server:\n  port: \"9090\"\n")
	t.Setenv("SERVER_PORT", "6060")
	t.Setenv("REWARDS_EXCHANGE_RATES", "points=0.5, discount=0.9")
	t.Setenv("FEATURE_CACHE_ENABLED", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "6060", cfg.Server.Port)
	assert.Equal(t, "0.5", cfg.Rewards.ExchangeRates["points"])
	assert.Equal(t, "0.9", cfg.Rewards.ExchangeRates["discount"])
	assert.True(t, cfg.Features["cache_enabled"])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing port", func(c *Config) { c.Server.Port = "" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }},
		{"bad rate limit", func(c *Config) { c.RateLimit.Rate = 0 }},
		{"unknown timezone", func(c *Config) { c.Rewards.Timezone = "Mars/Olympus" }},
		{"negative exchange rate", func(c *Config) { c.Rewards.ExchangeRates["points"] = "-1" }},
		{"unknown reward type", func(c *Config) { c.Rewards.ExchangeRates["gems"] = "1" }},
		{"bad lounge value", func(c *Config) { c.Rewards.LoungeAccessValue = "lots" }},
		{"unknown cache backend", func(c *Config) { c.Cache.Enabled = true; c.Cache.Backend = "memcached" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
