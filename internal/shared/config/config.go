package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	EventStore   EventStoreConfig
	EDC          EDCConfig
	Insight      InsightConfig
	Notification NotificationConfig
	Scoring      ScoringConfig
	Auth         AuthConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// EventStoreConfig holds configuration for EventStoreDB, which carries the
// alert lifecycle streams and the notification egress events.
type EventStoreConfig struct {
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
	Enabled  bool
}

// EDCConfig points at the legacy EDC reporting database the extract adapter
// polls. The adapter reads already-validated extract rows, it never parses
// raw source files.
type EDCConfig struct {
	Enabled      bool
	DSN          string
	PollInterval time.Duration
	StudyID      string
}

// InsightConfig configures the external text-generation collaborator.
type InsightConfig struct {
	URL            string
	Enabled        bool
	Timeout        time.Duration
	CacheTTL       time.Duration
	RequestsPerMin int
}

// NotificationConfig routes alert notifications to outbound channels. The
// console route is always on; a webhook route is added when a URL is set.
type NotificationConfig struct {
	WebhookURL         string
	WebhookTimeout     time.Duration
	WebhookMinSeverity string
}

// ScoringConfig holds evaluation thresholds. Day counts are configuration
// with documented defaults, not hard-coded constants.
type ScoringConfig struct {
	// Query age buckets in days
	QueryAgedDays    int // default 21
	QueryOverdueDays int // default 30

	// Alert lifecycle
	EscalationAfter time.Duration // default 7 days
	DefaultCooldown time.Duration // default 24h; grace period is 2x cooldown

	// Evaluation tick schedule (cron expression)
	TickSchedule string

	// Parallelism across entities within one tick
	TickWorkers int
}

// GracePeriod returns how long a finding must stay absent before its alert
// auto-resolves.
func (s ScoringConfig) GracePeriod(cooldown time.Duration) time.Duration {
	if cooldown <= 0 {
		cooldown = s.DefaultCooldown
	}
	return 2 * cooldown
}

type AuthConfig struct {
	JWTSecret string
	Enabled   bool
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "clinsight"),
			Password: getEnv("DB_PASSWORD", "clinsight"),
			Database: getEnv("DB_NAME", "clinsight"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", false),
		},
		EventStore: EventStoreConfig{
			Host:     getEnv("EVENTSTORE_HOST", "localhost"),
			Port:     getEnvInt("EVENTSTORE_PORT", 2113),
			Insecure: getEnvBool("EVENTSTORE_INSECURE", true),
			Username: getEnv("EVENTSTORE_USERNAME", ""),
			Password: getEnv("EVENTSTORE_PASSWORD", ""),
			Enabled:  getEnvBool("EVENTSTORE_ENABLED", false),
		},
		EDC: EDCConfig{
			Enabled:      getEnvBool("EDC_ENABLED", false),
			DSN:          getEnv("EDC_DSN", ""),
			PollInterval: getEnvDuration("EDC_POLL_INTERVAL", 15*time.Minute),
			StudyID:      getEnv("EDC_STUDY_ID", ""),
		},
		Insight: InsightConfig{
			URL:            getEnv("INSIGHT_SERVICE_URL", "http://localhost:5000"),
			Enabled:        getEnvBool("INSIGHT_ENABLED", true),
			Timeout:        getEnvDuration("INSIGHT_TIMEOUT", 30*time.Second),
			CacheTTL:       getEnvDuration("INSIGHT_CACHE_TTL", time.Hour),
			RequestsPerMin: getEnvInt("INSIGHT_REQUESTS_PER_MIN", 30),
		},
		Notification: NotificationConfig{
			WebhookURL:         getEnv("NOTIFY_WEBHOOK_URL", ""),
			WebhookTimeout:     getEnvDuration("NOTIFY_WEBHOOK_TIMEOUT", 10*time.Second),
			WebhookMinSeverity: getEnv("NOTIFY_WEBHOOK_MIN_SEVERITY", "high"),
		},
		Scoring: ScoringConfig{
			QueryAgedDays:    getEnvInt("SCORING_QUERY_AGED_DAYS", 21),
			QueryOverdueDays: getEnvInt("SCORING_QUERY_OVERDUE_DAYS", 30),
			EscalationAfter:  getEnvDuration("SCORING_ESCALATION_AFTER", 7*24*time.Hour),
			DefaultCooldown:  getEnvDuration("SCORING_DEFAULT_COOLDOWN", 24*time.Hour),
			TickSchedule:     getEnv("SCORING_TICK_SCHEDULE", "0 */15 * * * *"),
			TickWorkers:      getEnvInt("SCORING_TICK_WORKERS", 8),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			Enabled:   getEnvBool("AUTH_ENABLED", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
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
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
