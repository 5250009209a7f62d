package di

import (
	"log/slog"

	"github.com/goliatone/go-object-graph/cache"
	"github.com/goliatone/go-object-graph/internal/logging"
	"github.com/goliatone/go-object-graph/mapping"
	"github.com/goliatone/go-object-graph/querycache"
	"github.com/goliatone/go-object-graph/rowstore"
	"github.com/goliatone/go-object-graph/rowstore/bunstore"
	"github.com/goliatone/go-object-graph/session"
	"github.com/goliatone/go-object-graph/snapshot"
)

// Config collects the settings of every component the container builds.
type Config struct {
	Cache     cache.Config
	Snapshots snapshot.Config

	// ValidateOnCommit runs entity and domain validators before commit.
	ValidateOnCommit bool

	Logger *slog.Logger
}

// DefaultConfig returns the default settings of every component.
func DefaultConfig() Config {
	return Config{
		Cache:            cache.DefaultConfig(),
		Snapshots:        snapshot.DefaultConfig(),
		ValidateOnCommit: true,
	}
}

// Validate checks every component configuration.
func (c Config) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	return c.Snapshots.Validate()
}

// Container provides dependency injection for the object graph.
// It owns singleton instances of the cache service, key serializer,
// snapshot store, shared query cache and the domain built on them.
type Container struct {
	cacheService  cache.CacheService
	keySerializer cache.KeySerializer
	snapshots     *snapshot.Store
	shared        *querycache.SharedCacheStore
	domain        *session.Domain
	config        Config
	closer        func() error
}

// NewContainer wires a domain over store and resolver. Extra session options
// are applied after the container's own.
func NewContainer(config Config, store rowstore.RowStore, resolver mapping.Resolver, opts ...session.Option) (*Container, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := logging.OrDiscard(config.Logger)

	cacheService, err := cache.NewCacheService(config.Cache)
	if err != nil {
		return nil, err
	}
	shared := querycache.NewSharedCacheStore(cacheService, querycache.WithLogger(logger))

	snapCfg := config.Snapshots
	if snapCfg.Logger == nil {
		snapCfg.Logger = logger
	}
	snapshots, err := snapshot.NewStore(snapCfg)
	if err != nil {
		return nil, err
	}

	domainOpts := append([]session.Option{
		session.WithSnapshotStore(snapshots),
		session.WithSharedCache(shared),
		session.WithLogger(logger),
		session.WithValidationOnCommit(config.ValidateOnCommit),
	}, opts...)
	domain, err := session.NewDomain(store, resolver, domainOpts...)
	if err != nil {
		return nil, err
	}

	return &Container{
		cacheService:  cacheService,
		keySerializer: cache.NewDefaultKeySerializer(),
		snapshots:     snapshots,
		shared:        shared,
		domain:        domain,
		config:        config,
	}, nil
}

// NewContainerWithDefaults wires a domain using DefaultConfig.
func NewContainerWithDefaults(store rowstore.RowStore, resolver mapping.Resolver) (*Container, error) {
	return NewContainer(DefaultConfig(), store, resolver)
}

// NewBunContainer opens a bun row store from db and wires a domain over it.
// Close releases the database.
func NewBunContainer(config Config, db bunstore.Config, resolver mapping.Resolver, opts ...session.Option) (*Container, error) {
	if db.Logger == nil {
		db.Logger = config.Logger
	}
	store, err := bunstore.Open(db)
	if err != nil {
		return nil, err
	}
	c, err := NewContainer(config, store, resolver, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	c.closer = store.Close
	return c, nil
}

// CacheService returns the cache service backing the shared query cache.
func (c *Container) CacheService() cache.CacheService {
	return c.cacheService
}

// KeySerializer returns the key serializer for custom cache entries.
func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keySerializer
}

// Snapshots returns the snapshot store.
func (c *Container) Snapshots() *snapshot.Store {
	return c.snapshots
}

// SharedCache returns the shared query cache.
func (c *Container) SharedCache() *querycache.SharedCacheStore {
	return c.shared
}

// Domain returns the root scope.
func (c *Container) Domain() *session.Domain {
	return c.domain
}

// RowStore returns the row store the domain writes to.
func (c *Container) RowStore() rowstore.RowStore {
	return c.domain.RowStore()
}

// NewSession returns a root session of the domain.
func (c *Container) NewSession() *session.Session {
	return c.domain.NewSession()
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() Config {
	return c.config
}

// Close tears down the domain and releases resources the container opened.
func (c *Container) Close() error {
	c.domain.Close()
	if c.closer != nil {
		return c.closer()
	}
	return nil
}
