package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// JWT
	JWTSecret string

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// OAuth - Microsoft
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftRedirectURL  string
	MicrosoftTenantID     string

	// Worker
	WorkerID        string
	WorkerMax       int
	WorkerQueueSize int

	// Consumer (Redis Stream)
	ConsumerGroup           string
	ConsumerMaxRetries      int
	ConsumerPendingCheckSec int
	ConsumerPendingIdleSec  int

	// Scheduler
	SchedulerEnabled       bool
	SchedulerIntervalMin   int
	SchedulerStaleAfterMin int

	// Snowflake
	NodeID int64

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "mailsync"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		// OAuth - Microsoft
		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftRedirectURL:  getEnv("MICROSOFT_REDIRECT_URL", ""),
		MicrosoftTenantID:     getEnv("MICROSOFT_TENANT_ID", "common"),

		// Worker
		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		WorkerMax:       getEnvInt("WORKER_MAX", 8),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 1000),

		// Consumer
		ConsumerGroup:           getEnv("CONSUMER_GROUP", "sync-workers"),
		ConsumerMaxRetries:      getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheckSec: getEnvInt("CONSUMER_PENDING_CHECK_SEC", 30),
		ConsumerPendingIdleSec:  getEnvInt("CONSUMER_PENDING_IDLE_SEC", 120),

		// Scheduler
		SchedulerEnabled:       getEnvBool("SCHEDULER_ENABLED", true),
		SchedulerIntervalMin:   getEnvInt("SCHEDULER_INTERVAL_MIN", 15),
		SchedulerStaleAfterMin: getEnvInt("SCHEDULER_STALE_AFTER_MIN", 60),

		// Snowflake
		NodeID: int64(getEnvInt("NODE_ID", 1)),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// SchedulerInterval returns the scheduler tick interval.
func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalMin) * time.Minute
}

// SchedulerStaleAfter returns the account staleness window.
func (c *Config) SchedulerStaleAfter() time.Duration {
	return time.Duration(c.SchedulerStaleAfterMin) * time.Minute
}

// ConsumerPendingCheck returns how often the consumer scans for stuck messages.
func (c *Config) ConsumerPendingCheck() time.Duration {
	return time.Duration(c.ConsumerPendingCheckSec) * time.Second
}

// ConsumerPendingIdle returns how long a message must sit unacked before reclaim.
func (c *Config) ConsumerPendingIdle() time.Duration {
	return time.Duration(c.ConsumerPendingIdleSec) * time.Second
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
