// Package config provides centralized configuration management for the
// WIP servers. It loads configuration from environment variables with
// sensible defaults, supporting different deployment environments
// (development, staging, production).
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings shared across the four WIP
// server roles; cmd/server selects which RoleConfig entry to run via
// its -role flag.
type Config struct {
	Weather       RoleConfig
	Location      RoleConfig
	Query         RoleConfig
	Report        RoleConfig
	Auth          AuthConfig
	Redis         RedisConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig

	// LocationTimeout bounds the Weather server's Location hop.
	LocationTimeout time.Duration

	// QueryTimeout bounds the Weather server's Query hop.
	QueryTimeout time.Duration

	// MaxAuthSkew bounds accepted timestamp skew on authenticated
	// packets.
	MaxAuthSkew time.Duration

	// LocationUpstreamAddr and QueryUpstreamAddr are the addresses the
	// Weather server dials for its two upstream hops.
	LocationUpstreamAddr string
	QueryUpstreamAddr    string
}

// RoleConfig holds the UDP and HTTP side-channel bind settings for one
// WIP server role.
type RoleConfig struct {
	UDPPort     string
	MetricsPort string
	Workers     int
	RequestTTL  time.Duration
}

// AuthConfig holds the per-role passphrase and enable flag for the
// keyed-MAC authentication scheme.
type AuthConfig struct {
	WeatherEnabled     bool
	WeatherPassphrase  string
	LocationEnabled    bool
	LocationPassphrase string
	QueryEnabled       bool
	QueryPassphrase    string
	ReportEnabled      bool
	ReportPassphrase   string
}

// RedisConfig contains settings for Redis-backed area storage and rate
// limiting.
type RedisConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RecordTTL    time.Duration
}

// DatabaseConfig contains PostgreSQL database connection settings for
// the audit/analytics store.
type DatabaseConfig struct {
	Enabled               bool
	Host                  string
	Port                  int
	User                  string
	Password              string
	Database              string
	SSLMode               string
	MaxConnections        int
	MaxIdleConnections    int
	ConnectionMaxLifetime time.Duration
}

// ObservabilityConfig contains settings for distributed tracing and
// metrics.
type ObservabilityConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	JaegerHost     string
}

// RateLimitConfig contains rate limiting settings for the HTTP
// side-channel. The UDP listeners are not rate-limited.
type RateLimitConfig struct {
	RPS    int
	Window time.Duration
}

// Load reads configuration from environment variables and returns a
// Config instance.
func Load() *Config {
	return &Config{
		Weather: RoleConfig{
			UDPPort:     getEnv("WIP_WEATHER_PORT", "4110"),
			MetricsPort: getEnv("WIP_WEATHER_METRICS_PORT", "5110"),
			Workers:     getEnvAsInt("WIP_WEATHER_WORKERS", 0),
			RequestTTL:  5 * time.Second,
		},
		Location: RoleConfig{
			UDPPort:     getEnv("WIP_LOCATION_PORT", "4109"),
			MetricsPort: getEnv("WIP_LOCATION_METRICS_PORT", "5109"),
			Workers:     getEnvAsInt("WIP_LOCATION_WORKERS", 0),
			RequestTTL:  2 * time.Second,
		},
		Query: RoleConfig{
			UDPPort:     getEnv("WIP_QUERY_PORT", "4111"),
			MetricsPort: getEnv("WIP_QUERY_METRICS_PORT", "5111"),
			Workers:     getEnvAsInt("WIP_QUERY_WORKERS", 0),
			RequestTTL:  2 * time.Second,
		},
		Report: RoleConfig{
			UDPPort:     getEnv("WIP_REPORT_PORT", "4112"),
			MetricsPort: getEnv("WIP_REPORT_METRICS_PORT", "5112"),
			Workers:     getEnvAsInt("WIP_REPORT_WORKERS", 0),
			RequestTTL:  2 * time.Second,
		},
		Auth: AuthConfig{
			WeatherEnabled:     getEnvAsBool("WIP_AUTH_ENABLED_WEATHER", false),
			WeatherPassphrase:  getEnv("WIP_PASSPHRASE_WEATHER", ""),
			LocationEnabled:    getEnvAsBool("WIP_AUTH_ENABLED_LOCATION", false),
			LocationPassphrase: getEnv("WIP_PASSPHRASE_LOCATION", ""),
			QueryEnabled:       getEnvAsBool("WIP_AUTH_ENABLED_QUERY", false),
			QueryPassphrase:    getEnv("WIP_PASSPHRASE_QUERY", ""),
			ReportEnabled:      getEnvAsBool("WIP_AUTH_ENABLED_REPORT", false),
			ReportPassphrase:   getEnv("WIP_PASSPHRASE_REPORT", ""),
		},
		Redis: RedisConfig{
			Enabled:      getEnvAsBool("REDIS_ENABLED", true),
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     10,
			MinIdleConns: 5,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			RecordTTL:    0,
		},
		Database: DatabaseConfig{
			Enabled:               getEnvAsBool("DATABASE_ENABLED", false),
			Host:                  getEnv("DB_HOST", "localhost"),
			Port:                  getEnvAsInt("DB_PORT", 5432),
			User:                  getEnv("DB_USER", "wip"),
			Password:              getEnv("DB_PASSWORD", ""),
			Database:              getEnv("DB_NAME", "wip_server"),
			SSLMode:               getEnv("DB_SSLMODE", "disable"),
			MaxConnections:        25,
			MaxIdleConnections:    5,
			ConnectionMaxLifetime: 5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			ServiceName:    "wip-server",
			ServiceVersion: getEnv("VERSION", "1.0.0"),
			Environment:    getEnv("ENVIRONMENT", "development"),
			OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:     0.1,
			JaegerHost:     getEnv("JAEGER_AGENT_HOST", "localhost"),
		},
		RateLimit: RateLimitConfig{
			RPS:    getEnvAsInt("RATE_LIMIT_RPS", 100),
			Window: time.Minute,
		},
		LocationTimeout:      time.Duration(getEnvAsInt("WIP_LOCATION_TIMEOUT_MS", 2000)) * time.Millisecond,
		QueryTimeout:         time.Duration(getEnvAsInt("WIP_QUERY_TIMEOUT_MS", 2000)) * time.Millisecond,
		MaxAuthSkew:          time.Duration(getEnvAsInt("WIP_MAX_AUTH_SKEW_SECONDS", 300)) * time.Second,
		LocationUpstreamAddr: getEnv("WIP_LOCATION_ADDR", "localhost:4109"),
		QueryUpstreamAddr:    getEnv("WIP_QUERY_ADDR", "localhost:4111"),
	}
}

// getEnv retrieves an environment variable value with a fallback default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer with a
// fallback default.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}

	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean with a
// fallback default.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}

	return defaultValue
}
