package service

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the HTTP surface settings of the pin service.
type Config struct {
	// ListenAddr is the address the server binds.
	ListenAddr string

	// RequestTimeout bounds each operation, including the wait for a pool
	// handle. Zero disables the bound.
	RequestTimeout time.Duration

	// ShutdownTimeout bounds the graceful drain on shutdown.
	ShutdownTimeout time.Duration

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64

	// AllowedOrigins feeds the CORS handler.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":50051",
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MaxBodyBytes:    1 << 20,
		AllowedOrigins:  []string{"https://*", "http://*"},
	}
}

// ConfigFromEnv reads service configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - PINS_LISTEN: listen address (default: ":50051")
//   - PINS_REQUEST_TIMEOUT: seconds (default: 30)
//   - PINS_SHUTDOWN_TIMEOUT: seconds (default: 30)
//   - PINS_MAX_BODY_BYTES: bytes (default: 1048576)
//   - PINS_CORS_ORIGINS: comma-separated origins
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("PINS_LISTEN"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("PINS_REQUEST_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			cfg.RequestTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("PINS_SHUTDOWN_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.ShutdownTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("PINS_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("PINS_CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if len(origins) > 0 {
			cfg.AllowedOrigins = origins
		}
	}
	return cfg
}
