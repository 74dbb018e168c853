package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the engine.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	Events     EventsConfig
	Queue      QueueConfig
	Scheduler  SchedulerConfig
	Automation AutomationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines token verification parameters. Tokens are issued by
// the surrounding platform; the engine only verifies them.
type AuthConfig struct {
	JWTSecret string
}

// EventsConfig tunes the event bus.
type EventsConfig struct {
	Channel      string
	DedupEnabled bool
	DedupTTLMs   int
	Source       string
}

// QueueConfig tunes the job queues.
type QueueConfig struct {
	SLAConcurrency        int
	EscalationConcurrency int
	RetryAttempts         int
	RetryBackoffMs        int
	RetainCompleted       int
	RetainFailed          int
}

// SchedulerConfig controls the periodic producers.
type SchedulerConfig struct {
	SLAMonitorIntervalSeconds int
	EscalationIntervalSeconds int
}

// AutomationConfig locates the rule set.
type AutomationConfig struct {
	RulesPath string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-automation-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", "dev-secret"),
		},
		Events: EventsConfig{
			Channel:      getEnv("EVENTS_CHANNEL", "ticket-events"),
			DedupEnabled: getEnvAsBool("EVENTS_DEDUP_ENABLED", true),
			DedupTTLMs:   getEnvAsInt("EVENTS_DEDUP_TTL_MS", 5000),
			Source:       getEnv("EVENTS_SOURCE", "ticket-automation-engine"),
		},
		Queue: QueueConfig{
			SLAConcurrency:        getEnvAsInt("QUEUE_SLA_CONCURRENCY", 4),
			EscalationConcurrency: getEnvAsInt("QUEUE_ESCALATION_CONCURRENCY", 2),
			RetryAttempts:         getEnvAsInt("QUEUE_RETRY_ATTEMPTS", 3),
			RetryBackoffMs:        getEnvAsInt("QUEUE_RETRY_BACKOFF_MS", 2000),
			RetainCompleted:       getEnvAsInt("QUEUE_RETENTION_COMPLETED", 100),
			RetainFailed:          getEnvAsInt("QUEUE_RETENTION_FAILED", 500),
		},
		Scheduler: SchedulerConfig{
			SLAMonitorIntervalSeconds: getEnvAsInt("SLA_MONITOR_INTERVAL_SECONDS", 60),
			EscalationIntervalSeconds: getEnvAsInt("ESCALATION_INTERVAL_SECONDS", 300),
		},
		Automation: AutomationConfig{
			RulesPath: getEnv("AUTOMATION_RULES_PATH", "rules.yaml"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// DedupTTL returns the dedup window duration.
func (e EventsConfig) DedupTTL() time.Duration {
	if e.DedupTTLMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(e.DedupTTLMs) * time.Millisecond
}

// RetryBackoff returns the initial retry delay.
func (q QueueConfig) RetryBackoff() time.Duration {
	if q.RetryBackoffMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(q.RetryBackoffMs) * time.Millisecond
}

// SLAMonitorInterval returns the monitoring tick period.
func (s SchedulerConfig) SLAMonitorInterval() time.Duration {
	if s.SLAMonitorIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(s.SLAMonitorIntervalSeconds) * time.Second
}

// EscalationInterval returns the escalation tick period.
func (s SchedulerConfig) EscalationInterval() time.Duration {
	if s.EscalationIntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.EscalationIntervalSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
