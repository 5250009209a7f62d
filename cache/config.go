package cache

import (
	"context"

	"github.com/goliatone/go-object-graph/internal/cacheinfra"
)

// Config sizes the shared query cache. The fields are those of the sturdyc
// client backing it.
type Config = cacheinfra.Config

// EarlyRefreshConfig enables sturdyc background refreshes.
type EarlyRefreshConfig = cacheinfra.EarlyRefreshConfig

// DefaultConfig returns the shared query cache defaults.
func DefaultConfig() Config {
	return cacheinfra.DefaultConfig()
}

// NewCacheService constructs the sturdyc backed cache service.
func NewCacheService(cfg Config) (CacheService, error) {
	svc, err := cacheinfra.NewSturdycService(cfg)
	if err != nil {
		return nil, err
	}
	return adapter{svc}, nil
}

// adapter bridges cacheinfra's untyped fetch signature to FetchFn.
type adapter struct {
	*cacheinfra.SturdycService
}

func (a adapter) GetOrFetch(ctx context.Context, key string, fetchFn FetchFn[any]) (any, error) {
	return a.SturdycService.GetOrFetch(ctx, key, fetchFn)
}
