// Package config loads daemon configuration from the environment.
package config

import (
	"errors"
	"strings"
	"time"
)

// RowStore holds row-store gateway settings.
type RowStore struct {
	BaseURL    string
	ServiceKey string
	Timeout    time.Duration
}

// Redis holds queue backend settings.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Worker holds booking worker pool tuning.
type Worker struct {
	PoolSize        int
	JobTimeout      time.Duration
	RetryDelay      time.Duration
	HealthInterval  time.Duration
	ShutdownTimeout time.Duration
	MaxRetries      int
}

// Video holds RTC provider settings. Video features are disabled when the
// app ID or token is empty.
type Video struct {
	AppID         string
	APIToken      string
	BaseURL       string
	PublicBaseURL string
	SweepInterval time.Duration
}

// Booking holds scheduling business rules.
type Booking struct {
	MinAdvance         time.Duration
	MaxAdvanceDays     int
	MinDurationMinutes int
	MaxDurationMinutes int
}

// Config is the full daemon configuration.
type Config struct {
	Listen   string
	LogLevel string
	RowStore RowStore
	Redis    Redis
	Worker   Worker
	Video    Video
	Booking  Booking
}

// FromEnv assembles configuration from environment variables with defaults.
func FromEnv() Config {
	return Config{
		Listen:   ParseString("TELEVISIT_LISTEN", ":8080"),
		LogLevel: ParseString("TELEVISIT_LOG_LEVEL", "info"),
		RowStore: RowStore{
			BaseURL:    ParseString("TELEVISIT_ROWSTORE_URL", ""),
			ServiceKey: ParseString("TELEVISIT_ROWSTORE_KEY", ""),
			Timeout:    ParseDuration("TELEVISIT_ROWSTORE_TIMEOUT", 10*time.Second),
		},
		Redis: Redis{
			Addr:     ParseString("TELEVISIT_REDIS_ADDR", "localhost:6379"),
			Password: ParseString("TELEVISIT_REDIS_PASSWORD", ""),
			DB:       ParseInt("TELEVISIT_REDIS_DB", 0),
		},
		Worker: Worker{
			PoolSize:        ParseInt("TELEVISIT_WORKER_POOL_SIZE", 5),
			JobTimeout:      ParseDuration("TELEVISIT_JOB_TIMEOUT", 30*time.Second),
			RetryDelay:      ParseDuration("TELEVISIT_RETRY_DELAY", 30*time.Second),
			HealthInterval:  ParseDuration("TELEVISIT_HEALTH_INTERVAL", 60*time.Second),
			ShutdownTimeout: ParseDuration("TELEVISIT_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxRetries:      ParseInt("TELEVISIT_MAX_RETRIES", 3),
		},
		Video: Video{
			AppID:         ParseString("TELEVISIT_RTC_APP_ID", ""),
			APIToken:      ParseString("TELEVISIT_RTC_API_TOKEN", ""),
			BaseURL:       ParseString("TELEVISIT_RTC_BASE_URL", "https://rtc.live.cloudflare.com/v1"),
			PublicBaseURL: ParseString("TELEVISIT_PUBLIC_BASE_URL", ""),
			SweepInterval: ParseDuration("TELEVISIT_VIDEO_SWEEP_INTERVAL", 5*time.Minute),
		},
		Booking: Booking{
			MinAdvance:         ParseDuration("TELEVISIT_MIN_ADVANCE", 2*time.Hour),
			MaxAdvanceDays:     ParseInt("TELEVISIT_MAX_ADVANCE_DAYS", 90),
			MinDurationMinutes: ParseInt("TELEVISIT_MIN_DURATION_MINUTES", 15),
			MaxDurationMinutes: ParseInt("TELEVISIT_MAX_DURATION_MINUTES", 120),
		},
	}
}

// VideoEnabled reports whether RTC credentials are present.
func (c Config) VideoEnabled() bool {
	return c.Video.AppID != "" && c.Video.APIToken != "" && c.Video.BaseURL != ""
}

// Validate reports missing required settings as one error.
func (c Config) Validate() error {
	var missing []string
	if c.RowStore.BaseURL == "" {
		missing = append(missing, "TELEVISIT_ROWSTORE_URL")
	}
	if c.RowStore.ServiceKey == "" {
		missing = append(missing, "TELEVISIT_ROWSTORE_KEY")
	}
	if c.Redis.Addr == "" {
		missing = append(missing, "TELEVISIT_REDIS_ADDR")
	}
	if c.Worker.PoolSize <= 0 {
		missing = append(missing, "TELEVISIT_WORKER_POOL_SIZE (must be > 0)")
	}
	if len(missing) > 0 {
		return errors.New("configuration incomplete: " + strings.Join(missing, ", "))
	}
	return nil
}
