package querycache

import (
	"context"
	"log/slog"
	"sync/atomic"

	goerrors "github.com/goliatone/go-errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-object-graph/cache"
	"github.com/goliatone/go-object-graph/internal/logging"
	"github.com/goliatone/go-object-graph/internal/rowcodec"
	"github.com/goliatone/go-object-graph/rowstore"
)

// Result is the raw outcome of a query: the selected rows and the rows of
// every prefetched relationship.
type Result struct {
	Rows    []rowstore.Row            `msgpack:"rows"`
	Related map[string][]rowstore.Row `msgpack:"related,omitempty"`
}

// Clone returns a deep copy of r.
func (r Result) Clone() Result {
	out := Result{Rows: rowcodec.CloneRows(r.Rows)}
	if r.Related != nil {
		out.Related = make(map[string][]rowstore.Row, len(r.Related))
		for rel, rows := range r.Related {
			out.Related[rel] = rowcodec.CloneRows(rows)
		}
	}
	return out
}

// FetchFn executes a query against the row store.
type FetchFn func(ctx context.Context) (Result, error)

// SharedOption configures a SharedCacheStore.
type SharedOption func(*SharedCacheStore)

// WithLogger sets the logger used for cache maintenance failures.
func WithLogger(l *slog.Logger) SharedOption {
	return func(s *SharedCacheStore) {
		s.logger = logging.OrDiscard(l)
	}
}

// SharedCacheStore keeps query results at domain scope. Entries are stored
// encoded, so every caller decodes its own copy and no row is shared between
// sessions.
type SharedCacheStore struct {
	service cache.CacheService
	logger  *slog.Logger

	// registry maps every live key to the tags (entities and cache groups)
	// its result depends on.
	registry *xsync.MapOf[string, []string]

	// generations counts invalidations per tag; a fetch that overlaps an
	// invalidation of one of its tags drops its own entry.
	generations *xsync.MapOf[string, *atomic.Uint64]

	// pruneAt is the registry size that triggers dropping keys the service
	// evicted or expired.
	pruneAt atomic.Int64
}

// registryPruneMin is the smallest registry size that triggers a prune.
const registryPruneMin = 256

// NewSharedCacheStore wraps service.
func NewSharedCacheStore(service cache.CacheService, opts ...SharedOption) *SharedCacheStore {
	s := &SharedCacheStore{
		service:     service,
		logger:      logging.Discard(),
		registry:    xsync.NewMapOf[string, []string](),
		generations: xsync.NewMapOf[string, *atomic.Uint64](),
	}
	s.pruneAt.Store(registryPruneMin)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewDefaultSharedCacheStore builds a sturdyc backed store with cache.DefaultConfig.
func NewDefaultSharedCacheStore(opts ...SharedOption) (*SharedCacheStore, error) {
	svc, err := cache.NewCacheService(cache.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return NewSharedCacheStore(svc, opts...), nil
}

// GetOrFetch returns the result cached under key, running fetch on a miss.
// Concurrent callers for the same key share one fetch. tags lists the
// entities and cache groups the result depends on; groups attached to ctx
// with WithCacheGroups are added to them.
func (s *SharedCacheStore) GetOrFetch(ctx context.Context, key string, tags []string, fetch FetchFn) (Result, error) {
	tags = withContextGroups(ctx, tags)
	marks := s.marks(tags)

	data, err := cache.GetOrFetch(ctx, s.service, key, func(ctx context.Context) ([]byte, error) {
		res, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return encode(res)
	})
	if err != nil {
		return Result{}, err
	}

	s.track(ctx, key, tags, marks)
	return decode(data)
}

// Refresh runs fetch and replaces the entry under key with its result.
func (s *SharedCacheStore) Refresh(ctx context.Context, key string, tags []string, fetch FetchFn) (Result, error) {
	tags = withContextGroups(ctx, tags)
	marks := s.marks(tags)

	res, err := fetch(ctx)
	if err != nil {
		return Result{}, err
	}
	data, err := encode(res)
	if err != nil {
		return Result{}, err
	}
	if err := s.service.Set(ctx, key, data); err != nil {
		return Result{}, err
	}
	s.track(ctx, key, tags, marks)
	return decode(data)
}

// Get returns the result cached under key without fetching.
func (s *SharedCacheStore) Get(ctx context.Context, key string) (Result, bool) {
	data, ok := cache.Get[[]byte](ctx, s.service, key)
	if !ok {
		return Result{}, false
	}
	res, err := decode(data)
	if err != nil {
		logging.Error(ctx, s.logger, "decode shared query result", err, slog.String("key", key))
		return Result{}, false
	}
	return res, true
}

// Invalidate drops every entry depending on any of the given entities.
func (s *SharedCacheStore) Invalidate(ctx context.Context, entities ...string) error {
	return s.invalidate(ctx, entities)
}

// InvalidateGroups drops every entry tagged with any of the given cache groups.
func (s *SharedCacheStore) InvalidateGroups(ctx context.Context, groups ...string) error {
	return s.invalidate(ctx, prefixed(groups))
}

// Len returns the number of tracked entries still held by the cache service.
func (s *SharedCacheStore) Len() int {
	s.prune(context.Background())
	return s.registry.Size()
}

// prune forgets keys the cache service no longer holds. The liveness check
// runs inside Compute so a concurrent track of the same key is not lost.
func (s *SharedCacheStore) prune(ctx context.Context) {
	var keys []string
	s.registry.Range(func(key string, _ []string) bool {
		keys = append(keys, key)
		return true
	})
	for _, key := range keys {
		s.registry.Compute(key, func(deps []string, loaded bool) ([]string, bool) {
			if !loaded {
				return nil, true
			}
			_, live := s.service.Get(ctx, key)
			return deps, !live
		})
	}
	s.pruneAt.Store(int64(max(registryPruneMin, 2*s.registry.Size())))
}

func (s *SharedCacheStore) invalidate(ctx context.Context, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	drop := make(map[string]bool, len(tags))
	for _, t := range tags {
		drop[t] = true
		s.generation(t).Add(1)
	}

	var keys []string
	s.registry.Range(func(key string, deps []string) bool {
		for _, d := range deps {
			if drop[d] {
				keys = append(keys, key)
				break
			}
		}
		return true
	})
	for _, key := range keys {
		s.registry.Delete(key)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.service.InvalidateKeys(ctx, keys); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "invalidate shared query cache").
			WithMetadata(map[string]any{"keys": len(keys)})
	}
	return nil
}

func (s *SharedCacheStore) generation(tag string) *atomic.Uint64 {
	g, _ := s.generations.LoadOrCompute(tag, func() *atomic.Uint64 { return new(atomic.Uint64) })
	return g
}

func (s *SharedCacheStore) marks(tags []string) []uint64 {
	out := make([]uint64, len(tags))
	for i, t := range tags {
		out[i] = s.generation(t).Load()
	}
	return out
}

// track registers key under tags, or drops the entry when one of the tags
// was invalidated since marks were taken.
func (s *SharedCacheStore) track(ctx context.Context, key string, tags []string, marks []uint64) {
	s.registry.Store(key, tags)
	for i, t := range tags {
		if s.generation(t).Load() != marks[i] {
			s.registry.Delete(key)
			if err := s.service.Delete(ctx, key); err != nil {
				logging.Error(ctx, s.logger, "drop stale shared query result", err, slog.String("key", key))
			}
			return
		}
	}
	if int64(s.registry.Size()) > s.pruneAt.Load() {
		s.prune(ctx)
	}
}

func encode(res Result) ([]byte, error) {
	out := Result{Rows: normalizeRows(res.Rows)}
	if len(res.Related) > 0 {
		out.Related = make(map[string][]rowstore.Row, len(res.Related))
		for rel, rows := range res.Related {
			out.Related[rel] = normalizeRows(rows)
		}
	}
	data, err := msgpack.Marshal(out)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "encode query result")
	}
	return data, nil
}

func decode(data []byte) (Result, error) {
	var res Result
	if err := msgpack.Unmarshal(data, &res); err != nil {
		return Result{}, goerrors.Wrap(err, goerrors.CategoryInternal, "decode query result")
	}
	res.Rows = normalizeRows(res.Rows)
	for rel, rows := range res.Related {
		res.Related[rel] = normalizeRows(rows)
	}
	return res, nil
}

func normalizeRows(rows []rowstore.Row) []rowstore.Row {
	if rows == nil {
		return nil
	}
	out := make([]rowstore.Row, len(rows))
	for i, r := range rows {
		out[i] = rowcodec.NormalizeRow(r)
	}
	return out
}
