package store

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Supported database dialects.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

// DatabaseConfig describes how to reach the pin database.
type DatabaseConfig struct {
	Dialect  string // postgres, mysql or sqlite. Default postgres.
	Host     string // Default localhost.
	Port     int    // Default 5432.
	User     string // Default postgres.
	Password string // Default example.
	Database string // Default packrat. For sqlite this is the file path.
	SSLMode  string // Postgres only. Default disable.
	// DSN overrides every connection field above when set.
	DSN string
	// PoolSize is the number of handles in the request pool and the cap on
	// open connections. Default runtime.NumCPU().
	PoolSize int
}

// DefaultDatabaseConfig returns the default database configuration.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Dialect:  DialectPostgres,
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "example",
		Database: "packrat",
		SSLMode:  "disable",
		PoolSize: runtime.NumCPU(),
	}
}

// DatabaseConfigFromEnv loads config from environment variables.
// PINS_DB_DIALECT, PINS_DB_HOST, PINS_DB_PORT, PINS_DB_USER, PINS_DB_PASSWORD,
// PINS_DB_NAME, PINS_DB_SSLMODE, PINS_DB_DSN, PINS_POOL_SIZE
func DatabaseConfigFromEnv() *DatabaseConfig {
	cfg := DefaultDatabaseConfig()

	if v := os.Getenv("PINS_DB_DIALECT"); v != "" {
		cfg.Dialect = strings.ToLower(v)
	}
	if v := os.Getenv("PINS_DB_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PINS_DB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Port = n
		}
	}
	if v := os.Getenv("PINS_DB_USER"); v != "" {
		cfg.User = v
	}
	if v := os.Getenv("PINS_DB_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("PINS_DB_NAME"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("PINS_DB_SSLMODE"); v != "" {
		cfg.SSLMode = v
	}
	if v := os.Getenv("PINS_DB_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("PINS_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PoolSize = n
		}
	}

	return cfg
}

// Validate checks the dialect and pool size.
func (c *DatabaseConfig) Validate() error {
	switch c.Dialect {
	case DialectPostgres, DialectMySQL, DialectSQLite:
	default:
		return fmt.Errorf("unknown database dialect %q (expected postgres, mysql or sqlite)", c.Dialect)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool size must be positive, got %d", c.PoolSize)
	}
	return nil
}

// ConnectionString returns the DSN for the configured dialect.
func (c *DatabaseConfig) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	switch c.Dialect {
	case DialectMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", c.User, c.Password, c.Host, c.Port, c.Database)
	case DialectSQLite:
		return c.Database
	default:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
	}
}

// String renders the config with the password masked.
func (c *DatabaseConfig) String() string {
	if c.DSN != "" {
		return fmt.Sprintf("%s dsn=<set> pool=%d", c.Dialect, c.PoolSize)
	}
	return fmt.Sprintf("%s %s@%s:%d/%s pool=%d", c.Dialect, c.User, c.Host, c.Port, c.Database, c.PoolSize)
}
