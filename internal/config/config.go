package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config centralizes runtime settings for the API, the dispatcher and the
// trigger consumer.
type Config struct {
	Port string

	AuthToken          string
	CORSAllowedOrigins []string

	LogLevel  string
	LogPretty bool

	StoreDriver     string
	DatabaseURL     string
	SQLitePath      string
	DatabaseMigrate bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	EventMaxAttempts int

	RateLimitRPS   float64
	RateLimitBurst int

	QueueBatchingEnabled    bool
	QueueBatchSize          int
	QueueBatchFlush         time.Duration
	QueueBatchFlushTimeout  time.Duration
	QueueBatchQueueCapacity int
	QueueBatchMaxInFlight   int

	WorkerEnabled      bool
	DrainSchedule      string
	DrainBatchSize     int
	DrainTimeout       time.Duration
	StuckSweepSchedule string
	StuckJobMaxAge     time.Duration

	ResultCacheTTL        time.Duration
	ResultCacheMaxEntries int

	RiskRulesPath string
}

func Load() Config {
	cfg := Config{
		Port: getEnv("PORT", "8080"),

		AuthToken:          getEnv("API_AUTH_TOKEN", ""),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),

		StoreDriver:     strings.ToLower(getEnv("STORE_DRIVER", "")),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		SQLitePath:      getEnv("SQLITE_PATH", "data/reanalysis.db"),
		DatabaseMigrate: getEnvBool("DATABASE_MIGRATE", true),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "risk_data_changes"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "risk_data_changes_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "risk_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", "worker-1"),

		EventMaxAttempts: getEnvInt("EVENT_MAX_ATTEMPTS", 3),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		QueueBatchingEnabled:    getEnvBool("QUEUE_BATCHING_ENABLED", true),
		QueueBatchSize:          getEnvInt("QUEUE_BATCH_SIZE", 32),
		QueueBatchFlush:         getEnvDuration("QUEUE_BATCH_FLUSH", 25*time.Millisecond),
		QueueBatchFlushTimeout:  getEnvDuration("QUEUE_BATCH_FLUSH_TIMEOUT", 3*time.Second),
		QueueBatchQueueCapacity: getEnvInt("QUEUE_BATCH_QUEUE_CAPACITY", 2048),
		QueueBatchMaxInFlight:   getEnvInt("QUEUE_BATCH_MAX_IN_FLIGHT", 4),

		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		DrainSchedule:      getEnv("DRAIN_SCHEDULE", "@every 30s"),
		DrainBatchSize:     getEnvInt("DRAIN_BATCH_SIZE", 10),
		DrainTimeout:       getEnvDuration("DRAIN_TIMEOUT", 5*time.Minute),
		StuckSweepSchedule: getEnv("STUCK_SWEEP_SCHEDULE", "@every 5m"),
		StuckJobMaxAge:     getEnvDuration("STUCK_JOB_MAX_AGE", 30*time.Minute),

		ResultCacheTTL:        getEnvDuration("RESULT_CACHE_TTL", 15*time.Minute),
		ResultCacheMaxEntries: getEnvInt("RESULT_CACHE_MAX_ENTRIES", 2000),

		RiskRulesPath: getEnv("RISK_RULES_PATH", ""),
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = StoreMemory
		if cfg.DatabaseURL != "" {
			cfg.StoreDriver = StorePostgres
		}
	}
	return cfg
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORE_DRIVER=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.DrainBatchSize <= 0 {
		return fmt.Errorf("DRAIN_BATCH_SIZE must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string) []string {
	items := make([]string, 0)
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
