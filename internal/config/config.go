// Package config loads the engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Mill     MillConfig
	Tags     TagsConfig
	Cascade  CascadeConfig
	Engine   EngineConfig
	Redis    RedisConfig
	Server   ServerConfig
	Alert    AlertConfig
	Tracing  TracingConfig
	Log      LogConfig
}

type MillConfig struct {
	// Number is the mill active at startup.
	Number int
	// CatalogPath overrides the embedded parameter catalog when set.
	CatalogPath string
}

type TagsConfig struct {
	BaseURL       string
	RatePerSecond float64
	RateBurst     int
	TimeoutSec    int
}

type CascadeConfig struct {
	BaseURL           string
	TimeoutSec        int
	BreakerFailures   int
	BreakerOpenSec    int
	ReturnUncertainty bool
}

type EngineConfig struct {
	PollIntervalSec   int
	DebounceMs        int
	RetentionHours    int
	DisplayHours      int
	PollConcurrency   int
	SearchConcurrency int
}

type RedisConfig struct {
	// URL enables the prediction-update relay when non-empty.
	URL    string
	Stream string
}

type ServerConfig struct {
	Port        int
	MetricsPort int
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	CooldownMin     int
	FailThreshold   int
}

type TracingConfig struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Mill: MillConfig{
			Number:      getEnvInt("MILL_NUMBER", 8),
			CatalogPath: getEnv("CATALOG_PATH", ""),
		},
		Tags: TagsConfig{
			BaseURL:       getEnv("TAGS_BASE_URL", "http://localhost:8001/api"),
			RatePerSecond: getEnvFloat("TAGS_RATE_PER_SEC", 20),
			RateBurst:     getEnvInt("TAGS_RATE_BURST", 10),
			TimeoutSec:    getEnvInt("TAGS_TIMEOUT_SEC", 15),
		},
		Cascade: CascadeConfig{
			BaseURL:           getEnv("CASCADE_BASE_URL", "http://localhost:8002"),
			TimeoutSec:        getEnvInt("CASCADE_TIMEOUT_SEC", 30),
			BreakerFailures:   getEnvInt("CASCADE_BREAKER_FAILURES", 5),
			BreakerOpenSec:    getEnvInt("CASCADE_BREAKER_OPEN_SEC", 30),
			ReturnUncertainty: getEnvBool("CASCADE_RETURN_UNCERTAINTY", false),
		},
		Engine: EngineConfig{
			PollIntervalSec:   getEnvInt("POLL_INTERVAL_SEC", 60),
			DebounceMs:        getEnvInt("DEBOUNCE_MS", 500),
			RetentionHours:    getEnvInt("RETENTION_HOURS", 8),
			DisplayHours:      getEnvInt("DISPLAY_HOURS", 2),
			PollConcurrency:   getEnvInt("POLL_CONCURRENCY", 8),
			SearchConcurrency: getEnvInt("SEARCH_CONCURRENCY", 8),
		},
		Redis: RedisConfig{
			URL:    getEnv("REDIS_URL", ""),
			Stream: getEnv("REDIS_STREAM", "milld:prediction_updates"),
		},
		Server: ServerConfig{
			Port:        getEnvInt("HTTP_PORT", 8080),
			MetricsPort: getEnvInt("METRICS_PORT", 9090),
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			CooldownMin:     getEnvInt("ALERT_COOLDOWN_MIN", 15),
			FailThreshold:   getEnvInt("ALERT_FAIL_THRESHOLD", 3),
		},
		Tracing: TracingConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio: getEnvFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Mill.Number <= 0 {
		return fmt.Errorf("MILL_NUMBER must be positive")
	}
	if c.Tags.BaseURL == "" {
		return fmt.Errorf("TAGS_BASE_URL is required")
	}
	if c.Cascade.BaseURL == "" {
		return fmt.Errorf("CASCADE_BASE_URL is required")
	}
	if c.Engine.PollIntervalSec <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SEC must be positive")
	}
	if c.Engine.DebounceMs <= 0 {
		return fmt.Errorf("DEBOUNCE_MS must be positive")
	}
	if c.Engine.DisplayHours > c.Engine.RetentionHours {
		return fmt.Errorf("DISPLAY_HOURS (%d) must not exceed RETENTION_HOURS (%d)",
			c.Engine.DisplayHours, c.Engine.RetentionHours)
	}
	return nil
}

// PollInterval returns the poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Engine.PollIntervalSec) * time.Second
}

// Debounce returns the dispatcher quiescence window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Engine.DebounceMs) * time.Millisecond
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.Engine.RetentionHours) * time.Hour
}

func (c *Config) DisplayWindow() time.Duration {
	return time.Duration(c.Engine.DisplayHours) * time.Hour
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
