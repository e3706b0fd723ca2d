// Package config loads service configuration from the environment, with an
// optional .env file for development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full service configuration.
type Config struct {
	Port     string
	DBPath   string
	AuthDir  string
	LogLevel string

	// SessionID is the logical session identifier; constant per deployment
	// so the driver reuses its stored authentication.
	SessionID string

	// BridgeCommand launches the browser-automation sidecar.
	BridgeCommand []string

	LivenessTimeout time.Duration
	RetryBackoff    time.Duration
	SettleDelay     time.Duration

	// AutoInitDelay is how long after startup the client is initialized
	// automatically, giving the server time to come up first.
	AutoInitDelay time.Duration

	// LogRetention bounds the durable operational log; older entries are
	// swept at startup.
	LogRetention time.Duration
}

// Load reads configuration from the environment. A missing .env file is not
// an error.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:            getEnv("PORT", "3001"),
		DBPath:          getEnv("DB_PATH", "data/events.db"),
		AuthDir:         getEnv("AUTH_DIR", "data/auth"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		SessionID:       getEnv("SESSION_ID", "poll-sender"),
		BridgeCommand:   strings.Fields(getEnv("BRIDGE_COMMAND", "node bridge/index.js")),
		LivenessTimeout: getDuration("LIVENESS_TIMEOUT", 180*time.Second),
		RetryBackoff:    getDuration("RETRY_BACKOFF", 5*time.Second),
		SettleDelay:     getDuration("SETTLE_DELAY", 1500*time.Millisecond),
		AutoInitDelay:   getDuration("AUTO_INIT_DELAY", 2*time.Second),
		LogRetention:    getDuration("LOG_RETENTION", 7*24*time.Hour),
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration parses a duration env var, accepting either a Go duration
// string or a plain number of seconds.
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
