package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lanternsec/samlgate/pkg/observability"
	"github.com/lanternsec/samlgate/pkg/sso"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Observability ObservabilityConfig

	// ProvidersFile points at the JSON list of identity providers.
	ProvidersFile string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	BaseURL         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// RequestBudget bounds one callback request end to end.
	RequestBudget time.Duration

	// Health/metrics server (separate port for k8s probes).
	HealthPort string
}

// StorageConfig holds database and Redis configuration.
type StorageConfig struct {
	DatabaseURL string
	RedisURL    string

	// StoreTimeout bounds individual identity/profile store calls.
	StoreTimeout time.Duration

	// SessionTTL bounds one-time login tokens.
	SessionTTL time.Duration

	// AuditRetention is how long audit events are kept before the scheduled
	// purge removes them. Zero disables retention cleanup.
	AuditRetention time.Duration
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SAMLGATE_HOST", "0.0.0.0"),
			Port:            getEnv("SAMLGATE_PORT", "8080"),
			BaseURL:         getEnv("SAMLGATE_BASE_URL", "http://localhost:8080"),
			ReadTimeout:     getEnvDuration("SAMLGATE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SAMLGATE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SAMLGATE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SAMLGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestBudget:   getEnvDuration("SAMLGATE_REQUEST_BUDGET", 10*time.Second),
			HealthPort:      getEnv("SAMLGATE_HEALTH_PORT", "9090"),
		},
		Storage: StorageConfig{
			DatabaseURL:    getEnv("SAMLGATE_DATABASE_URL", ""),
			RedisURL:       getEnv("SAMLGATE_REDIS_URL", ""),
			StoreTimeout:   getEnvDuration("SAMLGATE_STORE_TIMEOUT", 5*time.Second),
			SessionTTL:     getEnvDuration("SAMLGATE_SESSION_TTL", 5*time.Minute),
			AuditRetention: getEnvDuration("SAMLGATE_AUDIT_RETENTION", 90*24*time.Hour),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("SAMLGATE_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("SAMLGATE_METRICS_ENABLED", true),
		},
		ProvidersFile: getEnv("SAMLGATE_PROVIDERS_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if c.Server.RequestBudget <= 0 {
		return fmt.Errorf("request budget must be positive")
	}
	if c.Storage.DatabaseURL == "" {
		return fmt.Errorf("SAMLGATE_DATABASE_URL is required")
	}
	return nil
}

// LoadProviders reads identity-provider definitions from a JSON file.
func LoadProviders(path string) ([]*sso.IdentityProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	var providers []*sso.IdentityProviderConfig
	if err := json.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("failed to parse providers file: %w", err)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("providers file %s defines no providers", path)
	}
	return providers, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
