// Package config provides configuration management for the wearable sync service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Terra        TerraConfig
	Scheduler    SchedulerConfig
	Notification NotificationConfig
	OpenAI       OpenAIConfig
	RateLimit    RateLimitConfig
	Logging      LoggingConfig
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
}

// URL returns the postgres:// connection URL used by migrations
func (c PostgresConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// TerraConfig holds the wearable aggregator API configuration
type TerraConfig struct {
	BaseURL           string
	APIKey            string
	DevID             string
	RequestsPerSecond int
	Timeout           time.Duration
	// BudgetPerMinute is the request budget shared through Redis; 0 disables it
	BudgetPerMinute int
	ReservedBudget  int // part of BudgetPerMinute kept for on-demand fetches
}

// SchedulerConfig holds the recurring fetch configuration
type SchedulerConfig struct {
	Enabled         bool
	InitialFetch    bool
	DefaultInterval string        // cron expression for the global job
	BatchSize       int           // users per page
	UserDelay       time.Duration // stagger between users of one page
	LookbackDays    int
	MaxRetries      int
	RetryBaseDelay  time.Duration
	NextFetchOffset time.Duration // added to now for next_scheduled_fetch bookkeeping
}

// NotificationConfig holds the alert notification configuration
type NotificationConfig struct {
	Enabled bool
	Channel string
}

// OpenAIConfig holds the performance plan LLM configuration
type OpenAIConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
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

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "wearable_sync"),
				User:           getEnv("POSTGRES_USER", "wearable"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Terra: TerraConfig{
			BaseURL:           strings.TrimRight(getEnv("TERRA_BASE_URL", "https://api.tryterra.co/v2"), "/"),
			APIKey:            getEnv("TERRA_API_KEY", ""),
			DevID:             getEnv("TERRA_DEV_ID", ""),
			RequestsPerSecond: getEnvAsInt("TERRA_REQUESTS_PER_SECOND", 5),
			Timeout:           getEnvAsDuration("TERRA_TIMEOUT", 30*time.Second),
			BudgetPerMinute:   getEnvAsInt("TERRA_BUDGET_PER_MINUTE", 0),
			ReservedBudget:    getEnvAsInt("TERRA_RESERVED_BUDGET", 0),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getEnvAsBool("SCHEDULER_ENABLED", true),
			InitialFetch:    getEnvAsBool("SCHEDULER_INITIAL_FETCH", false),
			DefaultInterval: getEnv("TERRA_FETCH_INTERVAL", "0 */6 * * *"),
			BatchSize:       getEnvAsInt("TERRA_BATCH_SIZE", 50),
			UserDelay:       getEnvAsMillis("TERRA_USER_DELAY_MS", 1000),
			LookbackDays:    getEnvAsInt("TERRA_LOOKBACK_DAYS", 7),
			MaxRetries:      getEnvAsInt("TERRA_MAX_RETRIES", 3),
			RetryBaseDelay:  getEnvAsMillis("TERRA_RETRY_DELAY_MS", 60000),
			NextFetchOffset: getEnvAsDuration("TERRA_NEXT_FETCH_OFFSET", 6*time.Hour),
		},
		Notification: NotificationConfig{
			Enabled: getEnvAsBool("NOTIFICATIONS_ENABLED", false),
			Channel: getEnv("NOTIFICATION_CHANNEL", "wearable:alerts"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			Timeout: getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
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

// Validate checks values that would otherwise break the scheduler at runtime
func (c *Config) Validate() error {
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("TERRA_BATCH_SIZE must be positive, got %d", c.Scheduler.BatchSize)
	}
	if c.Scheduler.LookbackDays <= 0 {
		return fmt.Errorf("TERRA_LOOKBACK_DAYS must be positive, got %d", c.Scheduler.LookbackDays)
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("TERRA_MAX_RETRIES cannot be negative, got %d", c.Scheduler.MaxRetries)
	}
	if c.Scheduler.UserDelay < 0 || c.Scheduler.RetryBaseDelay < 0 {
		return fmt.Errorf("scheduler delays cannot be negative")
	}
	if c.Scheduler.DefaultInterval == "" {
		return fmt.Errorf("TERRA_FETCH_INTERVAL cannot be empty")
	}
	if c.Terra.BudgetPerMinute > 0 && c.Terra.ReservedBudget >= c.Terra.BudgetPerMinute {
		return fmt.Errorf("TERRA_RESERVED_BUDGET (%d) must be below TERRA_BUDGET_PER_MINUTE (%d)",
			c.Terra.ReservedBudget, c.Terra.BudgetPerMinute)
	}
	return nil
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

// getEnvAsMillis reads an integer millisecond count as a duration
func getEnvAsMillis(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultMillis)) * time.Millisecond
}
