// Package ha serializes schema migration across pinsd replicas that share one
// database.
package ha

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LockConfig holds configuration for the migration lock.
type LockConfig struct {
	// Enabled controls whether migrations take the lock at all. A single
	// replica may turn it off.
	Enabled bool

	// Name keys the lock. Replicas serving the same database must agree on it.
	Name string

	// MaxRetries and RetryInterval bound how long the table-based lock waits
	// for another holder.
	MaxRetries    int
	RetryInterval time.Duration

	// StaleAge is how old a table lock row must be before it is treated as
	// left behind by a crashed replica.
	StaleAge time.Duration

	// Owner is recorded on the table lock row.
	Owner string
}

// DefaultLockConfig returns a LockConfig with sensible defaults.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		Enabled:       true,
		Name:          "pinserver-migration",
		MaxRetries:    30,
		RetryInterval: time.Second,
		StaleAge:      5 * time.Minute,
		Owner:         defaultOwner(),
	}
}

// LockConfigFromEnv reads the lock configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - PINS_MIGRATION_LOCK_ENABLED: "true" or "false" (default: "true")
//   - PINS_MIGRATION_LOCK_NAME: lock key (default: "pinserver-migration")
//   - PINS_MIGRATION_LOCK_RETRIES: attempts (default: 30)
//   - PINS_MIGRATION_LOCK_INTERVAL: seconds between attempts (default: 1)
//   - PINS_MIGRATION_LOCK_STALE: seconds before a lock row is stale (default: 300)
//   - POD_NAME: lock owner (default: hostname)
func LockConfigFromEnv() LockConfig {
	cfg := DefaultLockConfig()

	if v := os.Getenv("PINS_MIGRATION_LOCK_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("PINS_MIGRATION_LOCK_NAME"); v != "" {
		cfg.Name = v
	}
	if v := os.Getenv("PINS_MIGRATION_LOCK_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("PINS_MIGRATION_LOCK_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.RetryInterval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("PINS_MIGRATION_LOCK_STALE"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.StaleAge = time.Duration(secs) * time.Second
		}
	}
	return cfg
}

func defaultOwner() string {
	if v := os.Getenv("POD_NAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	return hostname
}
