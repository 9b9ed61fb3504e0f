// Package config provides configuration management for the income verifier application.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/income-verifier/internal/types"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Indexer   IndexerConfig
	Price     PriceConfig
	Enrich    EnrichConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	MigrationsPath string
	AutoMigrate    bool // Apply pending migrations at server startup
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig selects the transfer cache backend and TTLs
type CacheConfig struct {
	Backend      string        // "memory" or "redis"
	TransferTTL  time.Duration // Freshness window of cached transfer lists
	PriceTTL     time.Duration // Freshness window of cached current prices
	ChallengeTTL time.Duration // Lifetime of an issued wallet-link challenge
}

// IndexerConfig holds blockchain indexer (Alchemy) configuration
type IndexerConfig struct {
	APIKey          string
	URLTemplate     string // fmt template taking the network slug and API key
	RequestsPerSec  float64
	DefaultMaxCount int
	Timeout         time.Duration
	SupportedChains []types.ChainID
}

// PriceConfig holds price API (CoinGecko) configuration
type PriceConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// EnrichConfig holds enrichment pipeline configuration
type EnrichConfig struct {
	Workers int // Concurrent price lookups per wallet; 0 = one goroutine per transfer
}

// RateLimitConfig holds inbound per-user rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional; environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	chains, err := parseChainList(getEnv("SUPPORTED_CHAINS", "1,10,137,8453,42161,11155111"))
	if err != nil {
		return nil, fmt.Errorf("invalid SUPPORTED_CHAINS: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "income_verifier"),
				User:           getEnv("POSTGRES_USER", "verifier"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
				MigrationsPath: getEnv("POSTGRES_MIGRATIONS_PATH", "migrations/postgres"),
				AutoMigrate:    getEnvAsBool("POSTGRES_AUTO_MIGRATE", false),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Cache: CacheConfig{
			Backend:      strings.ToLower(getEnv("CACHE_BACKEND", "memory")),
			TransferTTL:  getEnvAsDuration("TRANSFER_CACHE_TTL", 5*time.Minute),
			PriceTTL:     getEnvAsDuration("PRICE_CACHE_TTL", 5*time.Minute),
			ChallengeTTL: getEnvAsDuration("WALLET_CHALLENGE_TTL", 10*time.Minute),
		},
		Indexer: IndexerConfig{
			APIKey:          getEnv("ALCHEMY_API_KEY", ""),
			URLTemplate:     getEnv("ALCHEMY_URL_TEMPLATE", "https://%s.g.alchemy.com/v2/%s"),
			RequestsPerSec:  getEnvAsFloat("INDEXER_RPS", 10),
			DefaultMaxCount: getEnvAsInt("INDEXER_DEFAULT_MAX_COUNT", 100),
			Timeout:         getEnvAsDuration("INDEXER_TIMEOUT", 30*time.Second),
			SupportedChains: chains,
		},
		Price: PriceConfig{
			BaseURL: getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
			APIKey:  getEnv("COINGECKO_API_KEY", ""),
			Timeout: getEnvAsDuration("PRICE_TIMEOUT", 10*time.Second),
		},
		Enrich: EnrichConfig{
			Workers: getEnvAsInt("ENRICH_WORKERS", 8),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values that have no safe fallback
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("CACHE_BACKEND must be memory or redis, got %q", c.Cache.Backend)
	}
	if c.Cache.TransferTTL <= 0 || c.Cache.PriceTTL <= 0 || c.Cache.ChallengeTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Indexer.DefaultMaxCount <= 0 {
		return fmt.Errorf("INDEXER_DEFAULT_MAX_COUNT must be positive")
	}
	if c.Enrich.Workers < 0 {
		return fmt.Errorf("ENRICH_WORKERS must not be negative")
	}
	return nil
}

func parseChainList(s string) ([]types.ChainID, error) {
	var chains []types.ChainID
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := types.ParseChainID(part)
		if err != nil {
			return nil, err
		}
		chains = append(chains, id)
	}
	return chains, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
