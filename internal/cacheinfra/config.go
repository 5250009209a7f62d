package cacheinfra

import (
	"fmt"
	"time"

	"github.com/viccon/sturdyc"
)

// Config sizes the sturdyc client behind the shared query cache. A query
// result is one entry, so Capacity bounds the number of distinct cached
// queries across all sessions of a domain.
type Config struct {
	Capacity  int
	NumShards int

	// TTL bounds how long a result survives when no commit touches its
	// entity.
	TTL time.Duration

	// EvictionPercentage is the share of a full shard dropped at once.
	EvictionPercentage int

	// nil disables early refreshes.
	EarlyRefresh *EarlyRefreshConfig

	// MissingRecordStorage caches fetches failing with sturdyc.ErrNotFound.
	MissingRecordStorage bool

	// Zero keeps the sturdyc default.
	EvictionInterval time.Duration
}

// EarlyRefreshConfig holds the sturdyc.WithEarlyRefreshes arguments.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig returns a Config suited to a shared query cache. Early
// refresh stays off since results are invalidated by commits instead.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          64,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions returns the options passed to sturdyc.New after the
// positional sizing arguments.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var opts []sturdyc.Option
	if r := c.EarlyRefresh; r != nil {
		opts = append(opts, sturdyc.WithEarlyRefreshes(r.MinAsyncRefreshTime, r.MaxAsyncRefreshTime, r.SyncRefreshTime, r.RetryBaseDelay))
	}
	if c.MissingRecordStorage {
		opts = append(opts, sturdyc.WithMissingRecordStorage())
	}
	if c.EvictionInterval > 0 {
		opts = append(opts, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return opts
}

// Validate reports the first invalid setting as a *ConfigError.
func (c Config) Validate() error {
	positive := []struct {
		field string
		ok    bool
	}{
		{"Capacity", c.Capacity > 0},
		{"NumShards", c.NumShards > 0},
		{"TTL", c.TTL > 0},
	}
	for _, p := range positive {
		if !p.ok {
			return &ConfigError{Field: p.field, Message: "must be greater than 0"}
		}
	}
	if c.NumShards > c.Capacity {
		return &ConfigError{Field: "NumShards", Message: "must not exceed Capacity"}
	}
	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	r := c.EarlyRefresh
	if r == nil {
		return nil
	}
	durations := []struct {
		field string
		d     time.Duration
	}{
		{"MinAsyncRefreshTime", r.MinAsyncRefreshTime},
		{"MaxAsyncRefreshTime", r.MaxAsyncRefreshTime},
		{"SyncRefreshTime", r.SyncRefreshTime},
		{"RetryBaseDelay", r.RetryBaseDelay},
	}
	for _, d := range durations {
		if d.d < 0 {
			return &ConfigError{Field: "EarlyRefresh." + d.field, Message: "must be non-negative"}
		}
	}
	if r.MinAsyncRefreshTime > r.MaxAsyncRefreshTime {
		return &ConfigError{Field: "EarlyRefresh.MinAsyncRefreshTime", Message: "must not exceed MaxAsyncRefreshTime"}
	}
	return nil
}

// ConfigError names the setting that failed validation.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("cache config: %s %s", e.Field, e.Message)
}
