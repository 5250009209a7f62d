// Package querycache caches query results at session and domain scope.
//
// A Query describes one selection: entity, filter, ordering, prefetched
// relationships and paging. Its Key is equal for every descriptor with the
// same content, whatever the identity of the slices and values inside it.
// The Strategy picks the cache scope:
//
//   - NoCache always executes the query
//   - LocalCache keeps results private to the issuing session
//   - SharedCache keeps raw rows at domain scope, visible to every session
//   - the Refresh variants skip the lookup and repopulate the entry
package querycache

import (
	"sort"

	"github.com/goliatone/go-object-graph/cache"
	"github.com/goliatone/go-object-graph/rowstore"
)

// Strategy selects how a query result is cached.
type Strategy int

const (
	NoCache Strategy = iota
	LocalCache
	LocalCacheRefresh
	SharedCache
	SharedCacheRefresh
)

// Refresh bypasses the shared cache on read and stores the fresh result.
const Refresh = SharedCacheRefresh

func (s Strategy) String() string {
	switch s {
	case NoCache:
		return "no_cache"
	case LocalCache:
		return "local_cache"
	case LocalCacheRefresh:
		return "local_cache_refresh"
	case SharedCache:
		return "shared_cache"
	case SharedCacheRefresh:
		return "shared_cache_refresh"
	default:
		return "unknown"
	}
}

// IsLocal reports whether results live in the session.
func (s Strategy) IsLocal() bool { return s == LocalCache || s == LocalCacheRefresh }

// IsShared reports whether results live at domain scope.
func (s Strategy) IsShared() bool { return s == SharedCache || s == SharedCacheRefresh }

// IsRefresh reports whether the lookup is skipped.
func (s Strategy) IsRefresh() bool { return s == LocalCacheRefresh || s == SharedCacheRefresh }

// Query is an abstract selection of one entity.
type Query struct {
	Entity string
	Filter []rowstore.Condition
	Order  []rowstore.Ordering

	// Prefetch names relationships loaded together with the result.
	Prefetch []string

	Limit  int
	Offset int

	Strategy Strategy

	// CacheGroups tag shared entries so they can be dropped together
	// with InvalidateGroups.
	CacheGroups []string
}

var (
	keys      = cache.NewDefaultKeySerializer()
	fragments = cache.NewPlainKeySerializer()
)

// Key identifies the cached result of q. Filter conditions are ANDed, so
// their order does not change the key; neither do the order of Prefetch,
// the Strategy or the cache groups.
func (q Query) Key() string {
	filter := make([]string, len(q.Filter))
	for i, c := range q.Filter {
		filter[i] = fragments.SerializeKey("", c)
	}
	sort.Strings(filter)

	return keys.SerializeKey(q.Entity, filter, q.Order, sortedCopy(q.Prefetch), q.Limit, q.Offset)
}

// Rows returns the row store query for q against table.
func (q Query) Rows(table string) rowstore.Query {
	return rowstore.Query{
		Entity: q.Entity,
		Table:  table,
		Filter: append([]rowstore.Condition(nil), q.Filter...),
		Order:  append([]rowstore.Ordering(nil), q.Order...),
		Limit:  q.Limit,
		Offset: q.Offset,
	}
}

// WithStrategy returns a copy of q using s.
func (q Query) WithStrategy(s Strategy) Query {
	q.Strategy = s
	return q
}

func (q Query) String() string {
	return q.Entity + "[" + q.Strategy.String() + "]"
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
