// Package config provides environment-driven configuration for the chat server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration values.
type Config struct {
	Host string
	Port int

	MaxClients              int
	MaxConnectionsPerIP     int
	MaxConnectionsPerMinute int

	ConnectionTimeoutSeconds      int
	TemporaryBlockDurationMinutes int
	IdleTimeoutMinutes            int

	RateLimitMessagesPerMinute int
	BurstAllowance             int

	MaxUsernameLength  int
	MaxMessageLength   int
	MessageHistorySize int

	DiscoveryPort               int
	DiscoveryBroadcastInterval  time.Duration
	DisableDiscoveryBeacon      bool

	StrictValidation bool

	LogLevel string

	AdminAddr            string
	EnableAdminMonitorWS bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Host:     envOrDefault("HOST", "0.0.0.0"),
		LogLevel: envOrDefault("LOG_LEVEL", "info"),

		AdminAddr:            envOrDefault("ADMIN_ADDR", "127.0.0.1:9090"),
		EnableAdminMonitorWS: envOrDefault("ENABLE_ADMIN_MONITOR_WS", "false") == "true",
		DisableDiscoveryBeacon: envOrDefault("DISABLE_DISCOVERY_BEACON", "false") == "true",
		StrictValidation:       envOrDefault("STRICT_VALIDATION", "false") == "true",
	}

	var err error

	if cfg.Port, err = getEnvInt("PORT", 9000); err != nil {
		return nil, err
	}
	if cfg.MaxClients, err = getEnvInt("MAX_CLIENTS", 200); err != nil {
		return nil, err
	}
	if cfg.MaxConnectionsPerIP, err = getEnvInt("MAX_CONNECTIONS_PER_IP", 5); err != nil {
		return nil, err
	}
	if cfg.MaxConnectionsPerMinute, err = getEnvInt("MAX_CONNECTIONS_PER_MINUTE", 20); err != nil {
		return nil, err
	}
	if cfg.ConnectionTimeoutSeconds, err = getEnvInt("CONNECTION_TIMEOUT_SECONDS", 30); err != nil {
		return nil, err
	}
	if cfg.TemporaryBlockDurationMinutes, err = getEnvInt("TEMPORARY_BLOCK_DURATION_MINUTES", 15); err != nil {
		return nil, err
	}
	if cfg.IdleTimeoutMinutes, err = getEnvInt("IDLE_TIMEOUT_MINUTES", 30); err != nil {
		return nil, err
	}
	if cfg.RateLimitMessagesPerMinute, err = getEnvInt("RATE_LIMIT_MESSAGES_PER_MINUTE", 60); err != nil {
		return nil, err
	}
	if cfg.BurstAllowance, err = getEnvInt("BURST_ALLOWANCE", 10); err != nil {
		return nil, err
	}
	if cfg.MaxUsernameLength, err = getEnvInt("MAX_USERNAME_LENGTH", 50); err != nil {
		return nil, err
	}
	if cfg.MaxMessageLength, err = getEnvInt("MAX_MESSAGE_LENGTH", 1000); err != nil {
		return nil, err
	}
	if cfg.MessageHistorySize, err = getEnvInt("MESSAGE_HISTORY_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.DiscoveryPort, err = getEnvInt("DISCOVERY_PORT", 9001); err != nil {
		return nil, err
	}

	discoverySeconds, err := getEnvInt("DISCOVERY_BROADCAST_INTERVAL_SECONDS", 5)
	if err != nil {
		return nil, err
	}
	cfg.DiscoveryBroadcastInterval = time.Duration(discoverySeconds) * time.Second

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Addr returns the chat listener address in host:port format.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}

	return n, nil
}
