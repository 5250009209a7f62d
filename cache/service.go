package cache

import "context"

// KeySerializer builds a cache key from a namespace and arbitrary args.
// Equal arguments must produce equal keys across calls and processes.
type KeySerializer interface {
	SerializeKey(namespace string, args ...any) string
}

// FetchFn loads a value from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService is the read-through cache backing the shared query cache.
// GetOrFetch runs fetchFn at most once per key at a time; concurrent callers
// for the same key wait for that call and share its result. Failed fetches
// are never cached.
type CacheService interface {
	GetOrFetch(ctx context.Context, key string, fetchFn FetchFn[any]) (any, error)
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	InvalidateKeys(ctx context.Context, keys []string) error
}

// GetOrFetch is the typed form of CacheService.GetOrFetch.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetchFn FetchFn[T]) (T, error) {
	result, err := service.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetchFn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return as[T](result), nil
}

// Get is the typed form of CacheService.Get. A cached value of another type
// reads as a miss.
func Get[T any](ctx context.Context, service CacheService, key string) (T, bool) {
	result, ok := service.Get(ctx, key)
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := result.(T)
	return v, ok
}

func as[T any](v any) T {
	if v == nil {
		var zero T
		return zero
	}
	return v.(T)
}
