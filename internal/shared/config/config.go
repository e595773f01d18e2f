package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	EventStore EventStoreConfig
	Auth       AuthConfig
	Policy     PolicyConfig
	Registry   RegistryConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// EventStoreConfig holds EventStoreDB configuration
type EventStoreConfig struct {
	ConnectionString string
	Enabled          bool
}

// AuthConfig holds JWT configuration
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// PolicyConfig holds authorization policy configuration
type PolicyConfig struct {
	// AllowAll disables policy enforcement. Only for tests and local
	// development, never in production.
	AllowAll       bool
	CacheTTL     time.Duration
	CacheMaxSize int

	// DenialAuditLog records every denied decision in the audit log.
	DenialAuditLog bool
}

// RegistryConfig holds the legacy vehicle registry adapter configuration
type RegistryConfig struct {
	Enabled      bool
	DSN          string
	PollInterval time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "safecity"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "safecity"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		EventStore: EventStoreConfig{
			ConnectionString: getEnv("EVENTSTORE_CONNECTION", "esdb://localhost:2113?tls=false"),
			Enabled:          getEnvBool("EVENTSTORE_ENABLED", true),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  getEnvDuration("JWT_TOKEN_TTL", 8*time.Hour),
		},
		Policy: PolicyConfig{
			AllowAll:       getEnvBool("POLICY_ALLOW_ALL", false),
			CacheTTL:       getEnvDuration("POLICY_CACHE_TTL", 30*time.Second),
			CacheMaxSize:   getEnvInt("POLICY_CACHE_MAX_SIZE", 10000),
			DenialAuditLog: getEnvBool("POLICY_DENIAL_AUDIT_LOG", false),
		},
		Registry: RegistryConfig{
			Enabled:      getEnvBool("REGISTRY_ENABLED", false),
			DSN:          getEnv("REGISTRY_DSN", ""),
			PollInterval: getEnvDuration("REGISTRY_POLL_INTERVAL", 30*time.Second),
		},
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Registry.Enabled && cfg.Registry.DSN == "" {
		return nil, fmt.Errorf("REGISTRY_DSN is required when REGISTRY_ENABLED=true")
	}

	return cfg, nil
}

// DSN returns the PostgreSQL connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
