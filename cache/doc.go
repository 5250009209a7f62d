// Package cache provides the shared read-through cache and key serialization
// used by the query cache.
//
// # Overview
//
//   - CacheService: read-through cache with in-flight deduplication
//   - KeySerializer: builds stable cache keys from a namespace and arguments
//
// NewCacheService returns the sturdyc backed implementation:
//
//	svc, err := cache.NewCacheService(cache.DefaultConfig())
//	rows, err := cache.GetOrFetch(ctx, svc, key, func(ctx context.Context) ([]Row, error) {
//		return store.Fetch(ctx, query)
//	})
//
// Concurrent callers asking for the same key while a fetch is running wait for
// that fetch and share its result. Failed fetches are never cached.
//
// # Keys
//
// Keys have the form "<namespace>::<fragment>". The namespace is kept verbatim
// so every key written for an entity can be dropped with
// DeleteByPrefix(ctx, cache.Prefix(entity)).
//
// The default serializer hashes the argument text with xxhash. Arguments are
// rendered canonically first:
//
//   - integers of any width render the same, so int(1) and int64(1) share a key
//   - map keys are sorted
//   - struct fields are rendered by name, unexported fields are skipped
//   - values implementing Keyer supply their own fragment
//   - funcs and channels render as their type only
//
// NewPlainKeySerializer skips the hashing step and is handy when inspecting
// cache contents.
package cache
