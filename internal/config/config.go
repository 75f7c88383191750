package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	BackendREST   = "rest"
	BackendMemory = "memory"
)

type Config struct {
	// Remote service
	APIURL      string
	DataBackend string
	HTTPTimeout time.Duration

	// Session persistence
	TokenDBPath string

	// Logging
	LogLevel string

	// AMQP change notices (optional)
	AMQPURL      string
	AMQPExchange string

	// Re-sync daemon
	ResyncInterval time.Duration
	MetricsAddr    string

	// Development server
	Port                 string
	JWTSecret            string
	PrimaryAdminUsername string
	PrimaryAdminPassword string
	TokenTTL             time.Duration
}

func Load() *Config {
	return &Config{
		APIURL:      getEnv("SPESE_API_URL", "http://localhost:5000"),
		DataBackend: getEnv("DATA_BACKEND", BackendREST),
		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 0),

		TokenDBPath: getEnv("TOKEN_DB_PATH", "./data/session.db"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "spese"),

		ResyncInterval: getEnvDuration("RESYNC_INTERVAL", 5*time.Minute),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9091"),

		Port:                 getEnv("PORT", "5000"),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		PrimaryAdminUsername: getEnv("PRIMARY_ADMIN_USERNAME", "admin"),
		PrimaryAdminPassword: getEnv("PRIMARY_ADMIN_PASSWORD", ""),
		TokenTTL:             getEnvDuration("TOKEN_TTL", 24*time.Hour),
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errors []string

	validBackends := []string{BackendREST, BackendMemory}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == BackendREST {
		if parsedURL, err := url.Parse(c.APIURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid API URL '%s': %v", c.APIURL, err))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid API URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
		} else if parsedURL.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid API URL '%s': missing host", c.APIURL))
		}
	}

	if c.HTTPTimeout < 0 {
		errors = append(errors, fmt.Sprintf("invalid HTTP timeout %v: must not be negative", c.HTTPTimeout))
	}

	if c.TokenDBPath == "" {
		errors = append(errors, "token database path cannot be empty")
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.ResyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid resync interval %v: must be at least 1 second", c.ResyncInterval))
	} else if c.ResyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid resync interval %v: must be at most 24 hours", c.ResyncInterval))
	}

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.TokenTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid token TTL %v: must be at least 1 minute", c.TokenTTL))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// AMQPEnabled reports whether change notices should be published and consumed.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
