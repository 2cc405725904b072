// Package config provides configuration loading and validation for the service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Defaults applied when the corresponding environment variable is absent.
const (
	DefaultBatchSize   = 25
	DefaultPageSize    = 100
	DefaultCallTimeout = 30 * time.Second

	// Default ingestion window used when the trigger carries no date range.
	DefaultFromDateTime = "2024-01-01T00:00:00-08:00"
	DefaultToDateTime   = "2024-12-31T23:59:59-08:00"
)

// Config holds every externally provided setting. It is constructed once at
// process start and passed by reference into each stage; nothing reads the
// environment after this.
type Config struct {
	// Transcript source
	GongBaseURL         string `validate:"required,url"`
	GongAccessKey       string `validate:"required"`
	GongAccessKeySecret string `validate:"required"`

	// Persistence store
	SupabaseURL      string `validate:"required,url"`
	SupabaseKey      string `validate:"required"`
	DatabaseURL      string `validate:"required_without=DatabasePassword"`
	DatabasePassword string

	// Classification service
	GeminiAPIKey string `validate:"required"`
	GeminiModel  string `validate:"required"`

	// Notification sink
	SlackWebhookURL string `validate:"required,url"`

	// Deep link host, e.g. "https://app.gong.io"
	CallHost string `validate:"required,url"`

	// Pipeline tuning
	BatchSize   int           `validate:"gt=0"`
	PageSize    int           `validate:"gt=0"`
	CallTimeout time.Duration `validate:"gt=0"`

	// Date range used when the trigger omits fromDateTime/toDateTime.
	DefaultFrom string `validate:"required"`
	DefaultTo   string `validate:"required"`
}

// FromEnv builds a Config from environment variables, applying defaults for
// optional settings.
func FromEnv() *Config {
	return &Config{
		GongBaseURL:         envOr("GONG_BASE_URL", "https://api.gong.io"),
		GongAccessKey:       os.Getenv("GONG_ACCESS_KEY"),
		GongAccessKeySecret: os.Getenv("GONG_ACCESS_KEY_SECRET"),
		SupabaseURL:         os.Getenv("SUPABASE_URL"),
		SupabaseKey:         os.Getenv("SUPABASE_ANON_KEY"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		DatabasePassword:    os.Getenv("SUPABASE_DB_PASSWORD"),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		GeminiModel:         envOr("GEMINI_MODEL", "gemini-1.5-flash"),
		SlackWebhookURL:     os.Getenv("SLACK_WEBHOOK_URL"),
		CallHost:            envOr("CALL_HOST", "https://app.gong.io"),
		BatchSize:           envOrInt("BATCH_SIZE", DefaultBatchSize),
		PageSize:            envOrInt("PAGE_SIZE", DefaultPageSize),
		CallTimeout:         envOrDuration("CALL_TIMEOUT", DefaultCallTimeout),
		DefaultFrom:         envOr("DEFAULT_FROM_DATETIME", DefaultFromDateTime),
		DefaultTo:           envOr("DEFAULT_TO_DATETIME", DefaultToDateTime),
	}
}

// Validate checks that the configuration is complete and well formed.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if _, err := time.Parse(time.RFC3339, c.DefaultFrom); err != nil {
		return fmt.Errorf("config error: DEFAULT_FROM_DATETIME is not ISO-8601: %w", err)
	}
	if _, err := time.Parse(time.RFC3339, c.DefaultTo); err != nil {
		return fmt.Errorf("config error: DEFAULT_TO_DATETIME is not ISO-8601: %w", err)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
