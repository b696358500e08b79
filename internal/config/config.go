/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabaseMemory   DatabaseBackend = "memory"
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	MetricsBind   string
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string // empty means the X-User-ID header identifies the caller
	RateLimit     float64
	RateBurst     int

	// Booking rules
	BufferMinutes         int
	MinBookingMinutes     int
	MaxBookingMinutes     int
	MinNoticeMinutes      int
	MaxAdvanceDays        int
	ConfirmationMinutes   int
	AlternativeMinOverlap float64
	RulesFile             string
	SweepInterval         time.Duration

	// Event dispatch
	EventWorkers        int
	EventBuffer         int
	NATSURL             string
	NATSStream          string
	RedisEventsEnabled  bool
	RankCacheEnabled    bool
	AMQPURL             string
	AMQPExchange        string
	NotifyWebhookURL    string
	NotifyWebhookSecret string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnv("RESERVE_ENV", "development"),
		HTTPBind:      getEnv("RESERVE_HTTP_BIND", "0.0.0.0"),
		HTTPPort:      getEnvInt("RESERVE_HTTP_PORT", 8080),
		MetricsBind:   getEnv("RESERVE_METRICS_BIND", "127.0.0.1:9000"),
		DBBackend:     DatabaseBackend(strings.ToLower(getEnv("RESERVE_DB_BACKEND", string(DatabaseMemory)))),
		DBDSN:         getEnv("RESERVE_DB_DSN", ""),
		JWTSigningKey: getEnv("RESERVE_JWT_SIGNING_KEY", ""),
		RateLimit:     getEnvFloatAny([]string{"RESERVE_RATE_LIMIT"}, 5),
		RateBurst:     getEnvInt("RESERVE_RATE_BURST", 10),

		BufferMinutes:         getEnvInt("RESERVE_BUFFER_MINUTES", 0),
		MinBookingMinutes:     getEnvInt("RESERVE_MIN_BOOKING_MINUTES", 15),
		MaxBookingMinutes:     getEnvInt("RESERVE_MAX_BOOKING_MINUTES", 480),
		MinNoticeMinutes:      getEnvInt("RESERVE_MIN_NOTICE_MINUTES", 0),
		MaxAdvanceDays:        getEnvInt("RESERVE_MAX_ADVANCE_DAYS", 90),
		ConfirmationMinutes:   getEnvInt("RESERVE_CONFIRMATION_MINUTES", 30),
		AlternativeMinOverlap: getEnvFloatAny([]string{"RESERVE_ALTERNATIVE_MIN_OVERLAP"}, 1.0),
		RulesFile:             getEnv("RESERVE_RULES_FILE", ""),
		SweepInterval:         getEnvDuration("RESERVE_SWEEP_INTERVAL", time.Minute),

		EventWorkers:        getEnvInt("RESERVE_EVENT_WORKERS", 4),
		EventBuffer:         getEnvInt("RESERVE_EVENT_BUFFER", 1024),
		NATSURL:             getEnv("RESERVE_NATS_URL", ""),
		NATSStream:          getEnv("RESERVE_NATS_STREAM", "RESERVE_EVENTS"),
		RedisEventsEnabled:  getEnvBoolAny([]string{"RESERVE_REDIS_EVENTS_ENABLED"}, false),
		RankCacheEnabled:    getEnvBoolAny([]string{"RESERVE_RANK_CACHE_ENABLED"}, false),
		AMQPURL:             getEnv("RESERVE_AMQP_URL", ""),
		AMQPExchange:        getEnv("RESERVE_AMQP_EXCHANGE", "reserve.events"),
		NotifyWebhookURL:    getEnv("RESERVE_NOTIFY_WEBHOOK_URL", ""),
		NotifyWebhookSecret: getEnv("RESERVE_NOTIFY_WEBHOOK_SECRET", ""),

		TracingEnabled:    getEnvBoolAny([]string{"RESERVE_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnv("RESERVE_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"RESERVE_TRACING_SAMPLE_RATE"}, 1.0),

		LeaderElectionEnabled: getEnvBoolAny([]string{"RESERVE_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"RESERVE_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"RESERVE_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"RESERVE_REDIS_DB", "REDIS_DB"}, 0),
		InstanceID:            getEnv("RESERVE_INSTANCE_ID", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.DBBackend {
	case DatabaseMemory:
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
		if c.DBDSN == "" {
			return fmt.Errorf("RESERVE_DB_DSN must be provided for backend %q", c.DBBackend)
		}
	default:
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}

	if c.MaxBookingMinutes > 0 && c.MinBookingMinutes > c.MaxBookingMinutes {
		return fmt.Errorf("RESERVE_MIN_BOOKING_MINUTES (%d) exceeds RESERVE_MAX_BOOKING_MINUTES (%d)", c.MinBookingMinutes, c.MaxBookingMinutes)
	}
	if c.AlternativeMinOverlap <= 0 || c.AlternativeMinOverlap > 1 {
		return fmt.Errorf("RESERVE_ALTERNATIVE_MIN_OVERLAP must be in (0, 1], got %v", c.AlternativeMinOverlap)
	}
	if c.ConfirmationMinutes <= 0 {
		return fmt.Errorf("RESERVE_CONFIRMATION_MINUTES must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("RESERVE_RATE_LIMIT must not be negative")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("RESERVE_SWEEP_INTERVAL must be positive")
	}
	if c.EventWorkers <= 0 || c.EventBuffer <= 0 {
		return fmt.Errorf("RESERVE_EVENT_WORKERS and RESERVE_EVENT_BUFFER must be positive")
	}

	if strings.EqualFold(c.Environment, "production") && c.JWTSigningKey == "" {
		return fmt.Errorf("RESERVE_JWT_SIGNING_KEY must be provided in production")
	}
	return nil
}

// HTTPAddr is the API listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// Persistent reports whether a SQL backend is configured.
func (c *Config) Persistent() bool {
	return c.DBBackend != DatabaseMemory && c.DBBackend != ""
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":         "use RESERVE_ENV",
		"JWT_SIGNING_KEY":     "use RESERVE_JWT_SIGNING_KEY",
		"TRACING_ENABLED":     "use RESERVE_TRACING_ENABLED",
		"OTLP_ENDPOINT":       "use RESERVE_OTLP_ENDPOINT",
		"TRACING_SAMPLE_RATE": "use RESERVE_TRACING_SAMPLE_RATE",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
