package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration. Everything is read from
// the environment once at startup; invalid values abort the process.
type Config struct {
	Port        int
	Environment string
	Version     string
	StartTime   time.Time

	// WalletAddress is handed to the execution pipeline at construction.
	// Nothing reads it from the process environment mid-execution.
	WalletAddress string

	LogLevel string
	LogFile  string

	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Execution ExecutionConfig
	CORS      CORSConfig
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	PoolMin  int
	PoolMax  int
}

// URL renders the pgx connection string.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_min_conns=%d&pool_max_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode, d.PoolMin, d.PoolMax)
}

// RedisConfig holds queue storage connection settings.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

// Addr renders host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// QueueConfig controls the execution job queue and its consumers.
type QueueConfig struct {
	Concurrency   int
	MaxAttempts   int
	RatePerSecond int
	StallTimeout  time.Duration
	ShutdownGrace time.Duration
	Prefix        string
}

// ExecutionConfig holds the pipeline deadlines.
type ExecutionConfig struct {
	QuoteTimeout         time.Duration
	SwapTimeout          time.Duration
	ConfirmationInterval time.Duration
	ConfirmationBudget   time.Duration
}

// CORSConfig holds CORS settings for the HTTP API.
type CORSConfig struct {
	AllowedOrigins []string
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnvInt("PORT", 3000),
		Environment:   getEnv("ENVIRONMENT", "development"),
		Version:       getEnv("VERSION", "1.0.0"),
		StartTime:     time.Now(),
		WalletAddress: getEnv("WALLET_ADDRESS", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "swapengine"),
			SSLMode:  getEnv("DB_SSL", "disable"),
			PoolMin:  getEnvInt("DB_POOL_MIN", 2),
			PoolMax:  getEnvInt("DB_POOL_MAX", 10),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Queue: QueueConfig{
			Concurrency:   getEnvInt("QUEUE_CONCURRENCY", 10),
			MaxAttempts:   getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
			RatePerSecond: getEnvInt("QUEUE_RATE_LIMIT", 100),
			StallTimeout:  getEnvDuration("QUEUE_STALL_TIMEOUT", 30*time.Second),
			ShutdownGrace: getEnvDuration("QUEUE_SHUTDOWN_GRACE", 30*time.Second),
			Prefix:        getEnv("QUEUE_PREFIX", "swapq"),
		},
		Execution: ExecutionConfig{
			QuoteTimeout:         getEnvDuration("QUOTE_TIMEOUT", 5*time.Second),
			SwapTimeout:          getEnvDuration("SWAP_TIMEOUT", 10*time.Second),
			ConfirmationInterval: getEnvDuration("CONFIRMATION_INTERVAL", time.Second),
			ConfirmationBudget:   getEnvDuration("CONFIRMATION_BUDGET", 60*time.Second),
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{getEnv("CORS_ORIGIN", "*")},
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the configuration constraints. The first violation
// is returned so startup fails fast with a precise message.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	switch c.LogLevel {
	case "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of error, warn, info, debug, got %q", c.LogLevel)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}
	if c.Database.PoolMin < 1 {
		return fmt.Errorf("DB_POOL_MIN must be at least 1, got %d", c.Database.PoolMin)
	}
	if c.Database.PoolMax < c.Database.PoolMin {
		return fmt.Errorf("DB_POOL_MAX (%d) must not be below DB_POOL_MIN (%d)",
			c.Database.PoolMax, c.Database.PoolMin)
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return fmt.Errorf("REDIS_PORT must be between 1 and 65535, got %d", c.Redis.Port)
	}
	if c.Queue.Concurrency < 1 || c.Queue.Concurrency > 50 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be between 1 and 50, got %d", c.Queue.Concurrency)
	}
	if c.Queue.MaxAttempts < 1 || c.Queue.MaxAttempts > 10 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be between 1 and 10, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.RatePerSecond < 1 {
		return fmt.Errorf("QUEUE_RATE_LIMIT must be positive, got %d", c.Queue.RatePerSecond)
	}
	if c.Queue.StallTimeout <= 0 {
		return fmt.Errorf("QUEUE_STALL_TIMEOUT must be positive, got %s", c.Queue.StallTimeout)
	}
	if c.Execution.QuoteTimeout <= 0 || c.Execution.SwapTimeout <= 0 {
		return fmt.Errorf("execution timeouts must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return -1 // forces a validation failure naming the variable
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return -1
	}
	return d
}
