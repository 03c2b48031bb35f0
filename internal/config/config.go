package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vedant-gala/Credora/internal/calculator"
	"github.com/vedant-gala/Credora/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server" toml:"server"`
	Database  DatabaseConfig  `json:"database" yaml:"database" toml:"database"`
	Security  SecurityConfig  `json:"security" yaml:"security" toml:"security"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`
	Cache     CacheConfig     `json:"cache" yaml:"cache" toml:"cache"`
	Rewards   RewardsConfig   `json:"rewards" yaml:"rewards" toml:"rewards"`
	Tracing   TracingConfig   `json:"tracing" yaml:"tracing" toml:"tracing"`
	Log       LogConfig       `json:"log" yaml:"log" toml:"log"`
	Features  map[string]bool `json:"features" yaml:"features" toml:"features"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port      string `json:"port" yaml:"port" toml:"port"`
	Host      string `json:"host" yaml:"host" toml:"host"`
	EnableTLS bool   `json:"enable_tls" yaml:"enable_tls" toml:"enable_tls"`
	CertFile  string `json:"cert_file" yaml:"cert_file" toml:"cert_file"`
	KeyFile   string `json:"key_file" yaml:"key_file" toml:"key_file"`
}

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DatabaseConfig selects and addresses the store.
type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver" toml:"driver"`
	// Path is the SQLite file.
	Path string `json:"path" yaml:"path" toml:"path"`
	// DSN is the PostgreSQL connection string.
	DSN string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 1MB)
	MaxRequestBodySize int64 `json:"max_request_body_size" yaml:"max_request_body_size" toml:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	Rate    int  `json:"rate" yaml:"rate" toml:"rate"`
	Window  int  `json:"window" yaml:"window" toml:"window"` // in seconds
}

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// CacheConfig configures the card and merchant cache.
type CacheConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Backend       string `json:"backend" yaml:"backend" toml:"backend"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db" toml:"redis_db"`
	TTLSeconds    int    `json:"ttl_seconds" yaml:"ttl_seconds" toml:"ttl_seconds"`
	Size          int    `json:"size" yaml:"size" toml:"size"`
}

// TTL returns the entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RewardsConfig holds the reward engine's tunables.
type RewardsConfig struct {
	// ExchangeRates maps a reward type to the value of one unit, as a decimal string.
	ExchangeRates map[string]string `json:"exchange_rates" yaml:"exchange_rates" toml:"exchange_rates"`
	// LoungeAccessValue is the flat value of one lounge-access grant. Empty means unset.
	LoungeAccessValue string `json:"lounge_access_value" yaml:"lounge_access_value" toml:"lounge_access_value"`
	// Timezone is the IANA zone calendar windows are computed in.
	Timezone         string `json:"timezone" yaml:"timezone" toml:"timezone"`
	MaxCommitRetries int    `json:"max_commit_retries" yaml:"max_commit_retries" toml:"max_commit_retries"`
	// OptimizerConcurrency bounds how many cards are evaluated at once.
	OptimizerConcurrency int `json:"optimizer_concurrency" yaml:"optimizer_concurrency" toml:"optimizer_concurrency"`
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Endpoint    string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	ServiceName string `json:"service_name" yaml:"service_name" toml:"service_name"`
	Environment string `json:"environment" yaml:"environment" toml:"environment"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "./credora.db",
		},
		Security: SecurityConfig{
			MaxRequestBodySize: 1 << 20,
			AllowedOrigins:     "*",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    100,
			Window:  60,
		},
		Cache: CacheConfig{
			Backend:    CacheMemory,
			RedisAddr:  "localhost:6379",
			TTLSeconds: 300,
			Size:       1024,
		},
		Rewards: RewardsConfig{
			ExchangeRates: map[string]string{
				string(models.RewardCashback):            "1",
				string(models.RewardDiscount):            "1",
				string(models.RewardPoints):              "0.25",
				string(models.RewardMilesOrLoungeAccess): "0.5",
			},
			LoungeAccessValue:    "500",
			Timezone:             "UTC",
			MaxCommitRetries:     5,
			OptimizerConcurrency: 8,
		},
		Tracing: TracingConfig{
			Endpoint:    "http://localhost:14268/api/traces",
			ServiceName: "credora",
			Environment: "development",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Features: map[string]bool{},
	}
}

// LoadConfig loads configuration from defaults, an optional config file and
// environment variables. Environment variables take precedence over file values.
func LoadConfig(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	overrideFromEnv(cfg)

	return cfg, nil
}

// loadFromFile overlays cfg with a YAML, TOML or JSON file, picked by extension.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		return toml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) {
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.EnableTLS = getEnvBool("SERVER_ENABLE_TLS", cfg.Server.EnableTLS)
	cfg.Server.CertFile = getEnv("SERVER_CERT_FILE", cfg.Server.CertFile)
	cfg.Server.KeyFile = getEnv("SERVER_KEY_FILE", cfg.Server.KeyFile)

	cfg.Database.Driver = getEnv("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.Path = getEnv("DATABASE_PATH", cfg.Database.Path)
	cfg.Database.DSN = getEnv("DATABASE_DSN", cfg.Database.DSN)

	cfg.Security.MaxRequestBodySize = getEnvInt64("MAX_REQUEST_BODY_SIZE", cfg.Security.MaxRequestBodySize)
	cfg.Security.AllowedOrigins = getEnv("ALLOWED_ORIGINS", cfg.Security.AllowedOrigins)

	cfg.RateLimit.Enabled = getEnvBool("RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.Rate = getEnvInt("RATE_LIMIT_RATE", cfg.RateLimit.Rate)
	cfg.RateLimit.Window = getEnvInt("RATE_LIMIT_WINDOW", cfg.RateLimit.Window)

	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", cfg.Cache.Enabled)
	cfg.Cache.Backend = getEnv("CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.RedisAddr = getEnv("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = getEnvInt("REDIS_DB", cfg.Cache.RedisDB)
	cfg.Cache.TTLSeconds = getEnvInt("CACHE_TTL_SECONDS", cfg.Cache.TTLSeconds)
	cfg.Cache.Size = getEnvInt("CACHE_SIZE", cfg.Cache.Size)

	// REWARDS_EXCHANGE_RATES="points=0.25,cashback=1"
	if rates := os.Getenv("REWARDS_EXCHANGE_RATES"); rates != "" {
		if cfg.Rewards.ExchangeRates == nil {
			cfg.Rewards.ExchangeRates = map[string]string{}
		}
		for _, pair := range strings.Split(rates, ",") {
			k, v, ok := strings.Cut(pair, "=")
			if ok {
				cfg.Rewards.ExchangeRates[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
		}
	}
	cfg.Rewards.LoungeAccessValue = getEnv("REWARDS_LOUNGE_ACCESS_VALUE", cfg.Rewards.LoungeAccessValue)
	cfg.Rewards.Timezone = getEnv("REWARDS_TIMEZONE", cfg.Rewards.Timezone)
	cfg.Rewards.MaxCommitRetries = getEnvInt("REWARDS_MAX_COMMIT_RETRIES", cfg.Rewards.MaxCommitRetries)
	cfg.Rewards.OptimizerConcurrency = getEnvInt("REWARDS_OPTIMIZER_CONCURRENCY", cfg.Rewards.OptimizerConcurrency)

	cfg.Tracing.Enabled = getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.ServiceName = getEnv("TRACING_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.Environment = getEnv("ENVIRONMENT", cfg.Tracing.Environment)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	for _, name := range []string{"cache_enabled", "event_hooks_enabled", "fuzzy_merchant_lookup"} {
		if value := os.Getenv("FEATURE_" + strings.ToUpper(name)); value != "" {
			if cfg.Features == nil {
				cfg.Features = map[string]bool{}
			}
			cfg.Features[name] = strings.ToLower(value) == "true" || value == "1"
		}
	}
}

// getEnv gets an environment variable or returns the default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvInt64 gets an int64 environment variable or returns the default value.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}

	if c.Cache.Enabled && c.Cache.Backend != CacheMemory && c.Cache.Backend != CacheRedis {
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.ExchangeRates(); err != nil {
		return err
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	return nil
}

// Location returns the timezone calendar windows are computed in.
func (c *Config) Location() (*time.Location, error) {
	if c.Rewards.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Rewards.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid rewards timezone %q: %w", c.Rewards.Timezone, err)
	}
	return loc, nil
}

// ExchangeRates parses the configured exchange-rate table.
func (c *Config) ExchangeRates() (calculator.ExchangeRates, error) {
	rates := calculator.ExchangeRates{PerUnit: make(map[models.RewardType]decimal.Decimal)}

	for name, raw := range c.Rewards.ExchangeRates {
		rt := models.RewardType(name)
		if !rt.Valid() {
			return calculator.ExchangeRates{}, fmt.Errorf("exchange rate for unknown reward type %q", name)
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return calculator.ExchangeRates{}, fmt.Errorf("invalid exchange rate for %s: %w", name, err)
		}
		if rate.IsNegative() {
			return calculator.ExchangeRates{}, fmt.Errorf("exchange rate for %s must be non-negative", name)
		}
		rates.PerUnit[rt] = rate
	}

	if c.Rewards.LoungeAccessValue != "" {
		value, err := decimal.NewFromString(c.Rewards.LoungeAccessValue)
		if err != nil {
			return calculator.ExchangeRates{}, fmt.Errorf("invalid lounge access value: %w", err)
		}
		if value.IsNegative() {
			return calculator.ExchangeRates{}, fmt.Errorf("lounge access value must be non-negative")
		}
		rates.LoungeAccess = &value
	}

	return rates, nil
}
