// Package session implements the object graph: an identity map of domain
// objects with change tracking, dependency ordered commits, nested sessions
// and cached queries.
//
// A Domain is the root scope. It owns the snapshot store and the shared
// query cache and hands out sessions:
//
//	domain, err := session.NewDomain(store, registry)
//	s := domain.NewSession()
//	artist, err := s.NewObject("Artist")
//	err = s.Set(ctx, artist, "name", "Ana")
//	err = s.CommitChanges(ctx)
//
// Sessions are owned by one goroutine at a time. Many sessions may run
// concurrently against the same domain.
package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/goliatone/go-object-graph/internal/logging"
	"github.com/goliatone/go-object-graph/internal/rowcodec"
	"github.com/goliatone/go-object-graph/mapping"
	"github.com/goliatone/go-object-graph/oid"
	"github.com/goliatone/go-object-graph/ordering"
	"github.com/goliatone/go-object-graph/querycache"
	"github.com/goliatone/go-object-graph/rowstore"
	"github.com/goliatone/go-object-graph/snapshot"
)

// Validator checks an object before it is committed. It runs after the
// entity's own rules and may inspect the whole session.
type Validator func(ctx context.Context, obj *Object) []mapping.Violation

// Option configures a Domain.
type Option func(*Domain)

// WithSnapshotStore sets the snapshot store. Defaults to snapshot.NewDefaultStore.
func WithSnapshotStore(store *snapshot.Store) Option {
	return func(d *Domain) {
		d.snapshots = store
	}
}

// WithSharedCache sets the shared query cache.
func WithSharedCache(c *querycache.SharedCacheStore) Option {
	return func(d *Domain) {
		d.shared = c
	}
}

// WithSorter replaces the commit ordering strategy.
func WithSorter(s ordering.Sorter) Option {
	return func(d *Domain) {
		d.sorter = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Domain) {
		d.logger = logging.OrDiscard(l)
	}
}

// WithValidationOnCommit toggles validation of new and modified objects
// before commit. On by default.
func WithValidationOnCommit(enabled bool) Option {
	return func(d *Domain) {
		d.validate = enabled
	}
}

// WithValidator adds a commit time validator.
func WithValidator(v Validator) Option {
	return func(d *Domain) {
		d.validators = append(d.validators, v)
	}
}

// Domain is the root scope shared by sessions.
type Domain struct {
	store      rowstore.RowStore
	resolver   mapping.Resolver
	snapshots  *snapshot.Store
	shared     *querycache.SharedCacheStore
	sorter     ordering.Sorter
	logger     *slog.Logger
	validate   bool
	validators []Validator
	caps       rowstore.Capabilities
	closed     atomic.Bool
}

// NewDomain builds a domain over store and resolver.
func NewDomain(store rowstore.RowStore, resolver mapping.Resolver, opts ...Option) (*Domain, error) {
	if store == nil {
		return nil, newBadInput("domain requires a row store", nil)
	}
	if resolver == nil {
		return nil, newBadInput("domain requires a mapping resolver", nil)
	}

	d := &Domain{
		store:    store,
		resolver: resolver,
		sorter:   ordering.Default(),
		logger:   logging.Discard(),
		validate: true,
		caps:     rowstore.CapabilitiesOf(store),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.snapshots == nil {
		d.snapshots = snapshot.NewDefaultStore()
	}
	if d.shared == nil {
		shared, err := querycache.NewDefaultSharedCacheStore(querycache.WithLogger(d.logger))
		if err != nil {
			return nil, err
		}
		d.shared = shared
	}
	return d, nil
}

// NewSession returns a root session.
func (d *Domain) NewSession() *Session {
	return newSession(d, nil)
}

// Snapshots returns the snapshot store.
func (d *Domain) Snapshots() *snapshot.Store { return d.snapshots }

// SharedCache returns the shared query cache.
func (d *Domain) SharedCache() *querycache.SharedCacheStore { return d.shared }

// RowStore returns the row store.
func (d *Domain) RowStore() rowstore.RowStore { return d.store }

// Resolver returns the mapping resolver.
func (d *Domain) Resolver() mapping.Resolver { return d.resolver }

// Close drops every cached snapshot. Sessions of a closed domain keep their
// objects but stop receiving change events.
func (d *Domain) Close() {
	if d.closed.Swap(true) {
		return
	}
	d.snapshots.Purge()
}

// fetchRow loads the row of a permanent id from the row store.
func (d *Domain) fetchRow(ctx context.Context, id oid.ID) (map[string]any, error) {
	entity, err := d.resolver.Entity(id.Entity())
	if err != nil {
		return nil, err
	}
	q := rowstore.Query{Entity: entity.Name(), Table: entity.Table(), Limit: 2}
	key := id.Values()
	for _, col := range rowcodec.Columns(key) {
		q.Filter = append(q.Filter, rowstore.Where(col, key[col]))
	}
	rows, err := d.store.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}
