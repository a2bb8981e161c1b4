package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the settlement engine.
// All environment variables are read here and nowhere else.
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Archive database (optional; archive is disabled when URL is empty)
	Database DatabaseConfig

	// Source gateway
	Gateway GatewayConfig

	// Provider endpoints
	Binance     ProviderConfig
	Hyperliquid ProviderConfig
	DefiLlama   ProviderConfig

	// Artifacts
	ArtifactsDir string

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration for the run archive
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// GatewayConfig holds the source gateway reliability policy
type GatewayConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PageLimit      int
	RequestTimeout time.Duration
	RatePerSecond  float64 // 0 disables rate limiting
}

// ProviderConfig holds one upstream provider's endpoint list.
// BaseURLs is ordered: primary first, mirrors after.
type ProviderConfig struct {
	BaseURLs []string
}

// Load reads configuration from environment variables.
// This is the only function that calls os.Getenv().
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		// Archive database
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Source gateway
		Gateway: GatewayConfig{
			MaxRetries:     getEnvAsInt("GATEWAY_MAX_RETRIES", 3),
			InitialBackoff: getEnvAsDuration("GATEWAY_INITIAL_BACKOFF", "500ms"),
			MaxBackoff:     getEnvAsDuration("GATEWAY_MAX_BACKOFF", "10s"),
			PageLimit:      getEnvAsInt("GATEWAY_PAGE_LIMIT", 1000),
			RequestTimeout: getEnvAsDuration("GATEWAY_REQUEST_TIMEOUT", "30s"),
			RatePerSecond:  getEnvAsFloat("GATEWAY_RATE_PER_SECOND", 5),
		},

		// Provider endpoints (primary first, mirrors after)
		Binance: ProviderConfig{
			BaseURLs: getEnvAsList("BINANCE_BASE_URLS",
				"https://api.binance.com,https://api1.binance.com,https://api-gcp.binance.com"),
		},
		Hyperliquid: ProviderConfig{
			BaseURLs: getEnvAsList("HYPERLIQUID_BASE_URLS", "https://api.hyperliquid.xyz"),
		},
		DefiLlama: ProviderConfig{
			BaseURLs: getEnvAsList("DEFILLAMA_BASE_URLS", "https://yields.llama.fi"),
		},

		// Artifacts
		ArtifactsDir: getEnv("ARTIFACTS_DIR", "artifacts"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFrom loads an explicit env file before reading the environment
func LoadFrom(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	return Load()
}

// ArchiveEnabled reports whether a run archive database is configured
func (c *Config) ArchiveEnabled() bool {
	return c.Database.URL != ""
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Gateway.MaxRetries < 0 {
		return fmt.Errorf("GATEWAY_MAX_RETRIES must not be negative")
	}

	if c.Gateway.PageLimit <= 0 {
		return fmt.Errorf("GATEWAY_PAGE_LIMIT must be positive")
	}

	for name, p := range map[string]ProviderConfig{
		"BINANCE_BASE_URLS":     c.Binance,
		"HYPERLIQUID_BASE_URLS": c.Hyperliquid,
		"DEFILLAMA_BASE_URLS":   c.DefiLlama,
	} {
		if len(p.BaseURLs) == 0 {
			return fmt.Errorf("%s must list at least one endpoint", name)
		}
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

func getEnvAsList(key string, defaultValue string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
