package cacheinfra

import (
	"context"
	"strings"

	"github.com/viccon/sturdyc"
)

// SturdycService wraps a sturdyc client.
type SturdycService struct {
	client *sturdyc.Client[any]
}

// NewSturdycService validates cfg and builds the sturdyc client.
func NewSturdycService(cfg Config) (*SturdycService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)
	return &SturdycService{client: client}, nil
}

// GetOrFetch returns the cached value for key or runs fetchFn. sturdyc
// deduplicates in-flight fetches, so concurrent callers for one key share a
// single fetchFn call. Errors are returned to every waiting caller and are
// not stored.
func (s *SturdycService) GetOrFetch(ctx context.Context, key string, fetchFn func(context.Context) (any, error)) (any, error) {
	if fetchFn == nil {
		return nil, &ConfigError{Field: "fetchFn", Message: "cannot be nil"}
	}
	return s.client.GetOrFetch(ctx, key, fetchFn)
}

// Get returns the cached value for key without fetching.
func (s *SturdycService) Get(_ context.Context, key string) (any, bool) {
	return s.client.Get(key)
}

// Set stores value under key, replacing any previous value.
func (s *SturdycService) Set(_ context.Context, key string, value any) error {
	s.client.Set(key, value)
	return nil
}

// Delete removes a single entry.
func (s *SturdycService) Delete(_ context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix removes every entry whose key starts with prefix.
func (s *SturdycService) DeleteByPrefix(_ context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// InvalidateKeys removes every listed key.
func (s *SturdycService) InvalidateKeys(_ context.Context, keys []string) error {
	for _, key := range keys {
		s.client.Delete(key)
	}
	return nil
}

// Keys returns the keys currently cached.
func (s *SturdycService) Keys() []string {
	return s.client.ScanKeys()
}
