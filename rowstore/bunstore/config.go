package bunstore

import (
	"log/slog"
	"time"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config describes how to open a bun backed row store.
type Config struct {
	// Driver is DriverSQLite or DriverPostgres.
	Driver string

	// DSN is passed to database/sql as is.
	DSN string

	// MaxOpenConns caps the pool. Zero keeps the database/sql default.
	// In-memory sqlite databases need 1 so every query sees the same database.
	MaxOpenConns int

	// ConnMaxIdleTime closes idle connections after the given duration.
	ConnMaxIdleTime time.Duration

	// DeferredConstraints advertises deferrable foreign keys to the session.
	// Only enable it when the schema declares them DEFERRABLE.
	DeferredConstraints bool

	// Logger receives query failures.
	Logger *slog.Logger
}

// DefaultConfig returns an in-memory sqlite configuration.
func DefaultConfig() Config {
	return Config{
		Driver:       DriverSQLite,
		DSN:          "file::memory:?cache=shared&_foreign_keys=1",
		MaxOpenConns: 1,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverPostgres:
	case "":
		return &ConfigError{Field: "Driver", Message: "is required"}
	default:
		return &ConfigError{Field: "Driver", Message: "must be " + DriverSQLite + " or " + DriverPostgres}
	}
	if c.DSN == "" {
		return &ConfigError{Field: "DSN", Message: "is required"}
	}
	if c.MaxOpenConns < 0 {
		return &ConfigError{Field: "MaxOpenConns", Message: "must be non-negative"}
	}
	if c.ConnMaxIdleTime < 0 {
		return &ConfigError{Field: "ConnMaxIdleTime", Message: "must be non-negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "bunstore config error in field " + e.Field + ": " + e.Message
}
