// Package config provides configuration for the analysis orchestrator.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the orchestrator configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Pipeline
	StageInterval     time.Duration
	RosterSize        int
	SynthesizerName   string
	StagePolicyFile   string
	SideEffectTimeout time.Duration

	// Maintenance
	RunTimeout          time.Duration
	MaintenanceInterval time.Duration
	MaxRetainedRuns     int
	ActivityFeedSize    int

	// Live updates
	LivePollInterval time.Duration
	WSPingInterval   time.Duration
	WSWriteTimeout   time.Duration
	WSReadTimeout    time.Duration
	WSMaxMessageSize int64

	// Telemetry
	OTELEndpoint string
	ServiceName  string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:            getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:         getEnv("DATABASE_URL", "file:quorum.db?cache=shared&mode=rwc"),
		StageInterval:       getEnvMillis("STAGE_INTERVAL_MS", 1500),
		RosterSize:          getEnvInt("ROSTER_SIZE", 3),
		SynthesizerName:     getEnv("SYNTHESIZER_NAME", "Synthesizer"),
		StagePolicyFile:     getEnv("STAGE_POLICY_FILE", ""),
		SideEffectTimeout:   getEnvMillis("SIDE_EFFECT_TIMEOUT_MS", 5000),
		RunTimeout:          getEnvMillis("RUN_TIMEOUT_MS", 600000),
		MaintenanceInterval: getEnvMillis("MAINTENANCE_INTERVAL_MS", 1000),
		MaxRetainedRuns:     getEnvInt("MAX_RETAINED_RUNS", 1000),
		ActivityFeedSize:    getEnvInt("ACTIVITY_FEED_SIZE", 500),
		LivePollInterval:    getEnvMillis("LIVE_POLL_INTERVAL_MS", 1000),
		WSPingInterval:      getEnvMillis("WS_PING_INTERVAL_MS", 30000),
		WSWriteTimeout:      getEnvMillis("WS_WRITE_TIMEOUT_MS", 10000),
		WSReadTimeout:       getEnvMillis("WS_READ_TIMEOUT_MS", 60000),
		WSMaxMessageSize:    int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		OTELEndpoint:        getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         getEnv("OTEL_SERVICE_NAME", "quorum"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("config: HTTP_PORT %d out of range", c.HTTPPort)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if strings.TrimSpace(c.SynthesizerName) == "" {
		return fmt.Errorf("config: SYNTHESIZER_NAME is required")
	}
	if c.RosterSize < 1 {
		return fmt.Errorf("config: ROSTER_SIZE must be positive")
	}
	positive := map[string]time.Duration{
		"STAGE_INTERVAL_MS":       c.StageInterval,
		"SIDE_EFFECT_TIMEOUT_MS":  c.SideEffectTimeout,
		"RUN_TIMEOUT_MS":          c.RunTimeout,
		"MAINTENANCE_INTERVAL_MS": c.MaintenanceInterval,
		"LIVE_POLL_INTERVAL_MS":   c.LivePollInterval,
		"WS_PING_INTERVAL_MS":     c.WSPingInterval,
		"WS_WRITE_TIMEOUT_MS":     c.WSWriteTimeout,
		"WS_READ_TIMEOUT_MS":      c.WSReadTimeout,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", key)
		}
	}
	if c.WSPingInterval >= c.WSReadTimeout {
		return fmt.Errorf("config: WS_PING_INTERVAL_MS must be shorter than WS_READ_TIMEOUT_MS")
	}
	if c.MaxRetainedRuns <= 0 {
		return fmt.Errorf("config: MAX_RETAINED_RUNS must be positive")
	}
	if c.ActivityFeedSize <= 0 {
		return fmt.Errorf("config: ACTIVITY_FEED_SIZE must be positive")
	}
	if c.WSMaxMessageSize <= 0 {
		return fmt.Errorf("config: WS_MAX_MESSAGE_SIZE must be positive")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMs)) * time.Millisecond
}
