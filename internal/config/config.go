package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/robfig/cron/v3"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Schedule configuration
	AdaptiveSchedule   string // "daily", "weekly" or a six-field cron expression
	AdaptiveBusinesses []string
	TimeZone           string

	// Persistence
	DatabasePath  string // "memory" keeps everything in process
	MigrationsDir string

	// Report archive: Azure Blob when an account is set, local files otherwise
	StorageAccount      string
	StorageContainer    string
	ArchiveDir          string
	DigestRetentionDays int // 0 keeps digests forever

	// Notification configuration
	TeamsWebhookURL   string
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string

	// Caches
	TriggerCacheTTL   time.Duration
	FrequencyCacheTTL time.Duration
	CacheMaxEntries   int

	// Adaptive frequency defaults
	ResponseRateThreshold float64
	RatingThreshold       float64
	AdjustmentSensitivity float64
	MinMultiplier         float64
	MaxMultiplier         float64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:  getEnv("PORT", "8080"),
		Debug: getBoolEnv("DEBUG", false),

		AdaptiveSchedule:   getEnv("ADAPTIVE_SCHEDULE", "daily"),
		AdaptiveBusinesses: getSliceEnv("ADAPTIVE_BUSINESSES", nil),
		TimeZone:           getEnv("TIMEZONE", "UTC"),

		DatabasePath:  getEnv("DATABASE_PATH", "question-engine.db"),
		MigrationsDir: getEnv("MIGRATIONS_DIR", ""),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "question-engine"),
		ArchiveDir:       getEnv("ARCHIVE_DIR", "archive"),

		DigestRetentionDays: getIntEnv("DIGEST_RETENTION_DAYS", 90),

		TeamsWebhookURL:   getEnv("TEAMS_WEBHOOK_URL", ""),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),

		TriggerCacheTTL:   getDurationEnv("TRIGGER_CACHE_TTL", 5*time.Minute),
		FrequencyCacheTTL: getDurationEnv("FREQUENCY_CACHE_TTL", 2*time.Minute),
		CacheMaxEntries:   getIntEnv("CACHE_MAX_ENTRIES", 10000),

		ResponseRateThreshold: getFloatEnv("ADAPTIVE_RESPONSE_RATE_THRESHOLD", 0.3),
		RatingThreshold:       getFloatEnv("ADAPTIVE_RATING_THRESHOLD", 3.0),
		AdjustmentSensitivity: getFloatEnv("ADAPTIVE_SENSITIVITY", 0.5),
		MinMultiplier:         getFloatEnv("ADAPTIVE_MIN_MULTIPLIER", 0.5),
		MaxMultiplier:         getFloatEnv("ADAPTIVE_MAX_MULTIPLIER", 2.0),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// CronExpression resolves the adaptive schedule into a cron spec with seconds
func (c *Config) CronExpression() string {
	switch c.AdaptiveSchedule {
	case "daily":
		// Every day at 3 AM
		return "0 0 3 * * *"
	case "weekly":
		// Mondays at 3 AM
		return "0 0 3 * * MON"
	default:
		return c.AdaptiveSchedule
	}
}

// Location returns the configured time zone; validate has already checked it
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AdaptiveConfig returns the adaptive adjustment defaults
func (c *Config) AdaptiveConfig() models.AdaptiveConfig {
	return models.AdaptiveConfig{
		ResponseRateThreshold: c.ResponseRateThreshold,
		RatingThreshold:       c.RatingThreshold,
		AdjustmentSensitivity: c.AdjustmentSensitivity,
		MinMultiplier:         c.MinMultiplier,
		MaxMultiplier:         c.MaxMultiplier,
	}
}

func (c *Config) validate() error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.CronExpression()); err != nil {
		return fmt.Errorf("ADAPTIVE_SCHEDULE must be 'daily', 'weekly' or a cron expression with seconds: %w", err)
	}

	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("TIMEZONE %q is not a known location: %w", c.TimeZone, err)
	}

	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH must not be empty")
	}

	if c.DigestRetentionDays < 0 {
		return fmt.Errorf("DIGEST_RETENTION_DAYS must not be negative")
	}

	if c.TriggerCacheTTL <= 0 || c.FrequencyCacheTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}

	if c.MinMultiplier <= 0 || c.MinMultiplier > c.MaxMultiplier {
		return fmt.Errorf("ADAPTIVE_MIN_MULTIPLIER must be positive and not above ADAPTIVE_MAX_MULTIPLIER")
	}

	// Digests are only produced when a sweep is configured
	if len(c.AdaptiveBusinesses) > 0 && c.TeamsWebhookURL == "" && c.NotificationEmail == "" {
		return fmt.Errorf("at least one notification method must be configured (TEAMS_WEBHOOK_URL or NOTIFICATION_EMAIL) when ADAPTIVE_BUSINESSES is set")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out
	}
	return defaultValue
}
