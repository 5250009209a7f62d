package snapshot

import "log/slog"

// Config sizes the snapshot store.
type Config struct {
	// Capacity is the maximum number of snapshots kept across all shards.
	Capacity int

	// Shards is the number of independently locked LRU partitions.
	// Each shard holds Capacity/Shards entries, rounded up.
	Shards int

	// Logger receives eviction and invalidation debug records.
	Logger *slog.Logger
}

// DefaultConfig returns a Config sized for a typical application.
func DefaultConfig() Config {
	return Config{
		Capacity: 10000,
		Shards:   16,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}
	if c.Shards <= 0 {
		return &ConfigError{Field: "Shards", Message: "must be greater than 0"}
	}
	if c.Shards > c.Capacity {
		return &ConfigError{Field: "Shards", Message: "must not exceed Capacity"}
	}
	return nil
}

func (c Config) shardCapacity() int {
	return (c.Capacity + c.Shards - 1) / c.Shards
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "snapshot config error in field " + e.Field + ": " + e.Message
}
