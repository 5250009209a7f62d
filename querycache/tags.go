package querycache

import (
	"context"
	"sort"
)

const groupPrefix = "group:"

type cacheGroupsContextKey struct{}

// WithCacheGroups attaches cache groups to ctx. Shared results populated
// under ctx are tagged with them, so InvalidateGroups can drop them.
func WithCacheGroups(ctx context.Context, groups ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(groups) == 0 {
		return ctx
	}
	combined := dedupe(append(cacheGroupsFromContext(ctx), groups...))
	return context.WithValue(ctx, cacheGroupsContextKey{}, combined)
}

func cacheGroupsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if groups, ok := ctx.Value(cacheGroupsContextKey{}).([]string); ok {
		return append([]string(nil), groups...)
	}
	return nil
}

func withContextGroups(ctx context.Context, tags []string) []string {
	groups := cacheGroupsFromContext(ctx)
	if len(groups) == 0 {
		return dedupe(tags)
	}
	return dedupe(append(append([]string(nil), tags...), prefixed(groups)...))
}

// Tags returns the invalidation tags of q given the target entities of its
// prefetched relationships.
func (q Query) Tags(prefetchTargets ...string) []string {
	tags := append([]string{q.Entity}, prefetchTargets...)
	tags = append(tags, prefixed(q.CacheGroups)...)
	return dedupe(tags)
}

func prefixed(groups []string) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupPrefix+g)
	}
	return out
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
