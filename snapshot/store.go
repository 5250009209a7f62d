package snapshot

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-object-graph/internal/logging"
	"github.com/goliatone/go-object-graph/oid"
)

// EventKind tells listeners what happened to a row.
type EventKind int

const (
	Updated EventKind = iota + 1
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ListenerID identifies a subscription. It doubles as the origin of the
// changes a subscriber publishes, so listeners can skip their own events.
type ListenerID uint64

// NoOrigin marks changes that were not published by a subscriber.
const NoOrigin ListenerID = 0

// Event is broadcast for every put or invalidation.
type Event struct {
	ID     oid.ID
	Kind   EventKind
	Origin ListenerID
}

// Listener receives events synchronously on the publishing goroutine.
// Implementations must not block.
type Listener func(Event)

// FetchFn loads a row from the source of truth. A nil row means the row is gone.
type FetchFn func(ctx context.Context) (map[string]any, error)

// Stats is a point in time view of store counters.
type Stats struct {
	Len           int
	Hits          uint64
	Misses        uint64
	Puts          uint64
	Evictions     uint64
	Invalidations uint64
}

// Store is a concurrent, size bounded snapshot cache.
type Store struct {
	shards    []*lru.Cache[oid.ID, *Snapshot]
	listeners *xsync.MapOf[ListenerID, Listener]
	nextID    atomic.Uint64
	loads     singleflight.Group
	logger    *slog.Logger

	hits          atomic.Uint64
	misses        atomic.Uint64
	puts          atomic.Uint64
	evictions     atomic.Uint64
	invalidations atomic.Uint64
}

// NewStore builds a store from cfg.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	shards := make([]*lru.Cache[oid.ID, *Snapshot], cfg.Shards)
	for i := range shards {
		c, err := lru.New[oid.ID, *Snapshot](cfg.shardCapacity())
		if err != nil {
			return nil, err
		}
		shards[i] = c
	}

	return &Store{
		shards:    shards,
		listeners: xsync.NewMapOf[ListenerID, Listener](),
		logger:    logging.OrDiscard(cfg.Logger),
	}, nil
}

// NewDefaultStore builds a store using DefaultConfig.
func NewDefaultStore() *Store {
	s, err := NewStore(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Store) shard(id oid.ID) *lru.Cache[oid.ID, *Snapshot] {
	return s.shards[id.Hash()%uint64(len(s.shards))]
}

// Get returns the cached snapshot for id.
func (s *Store) Get(id oid.ID) (*Snapshot, bool) {
	snap, ok := s.shard(id).Get(id)
	if ok {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	return snap, ok
}

// Put stores snap and broadcasts an Updated event.
func (s *Store) Put(snap *Snapshot) {
	s.Update(NoOrigin, []*Snapshot{snap}, nil)
}

// Invalidate drops id and broadcasts a Deleted event.
func (s *Store) Invalidate(id oid.ID) {
	s.Update(NoOrigin, nil, []oid.ID{id})
}

// InvalidateAll drops every id and broadcasts one Deleted event per id.
func (s *Store) InvalidateAll(ids ...oid.ID) {
	s.Update(NoOrigin, nil, ids)
}

// Cache stores snap without broadcasting. Used for freshly fetched rows that
// do not change what other sessions know.
func (s *Store) Cache(snap *Snapshot) {
	if snap == nil {
		return
	}
	s.add(snap)
}

// Update applies a commit batch: puts are stored, deletes dropped, and every
// listener except origin is notified once per row after the whole batch
// has been applied.
func (s *Store) Update(origin ListenerID, puts []*Snapshot, deletes []oid.ID) {
	events := make([]Event, 0, len(puts)+len(deletes))
	for _, snap := range puts {
		if snap == nil {
			continue
		}
		s.add(snap)
		s.puts.Add(1)
		events = append(events, Event{ID: snap.ID(), Kind: Updated, Origin: origin})
	}
	for _, id := range deletes {
		s.shard(id).Remove(id)
		s.invalidations.Add(1)
		events = append(events, Event{ID: id, Kind: Deleted, Origin: origin})
	}
	s.broadcast(events)
}

func (s *Store) add(snap *Snapshot) {
	if evicted := s.shard(snap.ID()).Add(snap.ID(), snap); evicted {
		s.evictions.Add(1)
		s.logger.Debug("snapshot evicted", slog.String("entity", snap.ID().Entity()))
	}
}

func (s *Store) broadcast(events []Event) {
	if len(events) == 0 {
		return
	}
	s.listeners.Range(func(id ListenerID, l Listener) bool {
		for _, ev := range events {
			if ev.Origin != NoOrigin && ev.Origin == id {
				continue
			}
			l(ev)
		}
		return true
	})
}

// Load returns the cached snapshot for id or fetches it. Concurrent loads of
// the same id share one fetch. A fetch returning no row yields (nil, nil) and
// drops any cached snapshot for id.
func (s *Store) Load(ctx context.Context, id oid.ID, fetch FetchFn) (*Snapshot, error) {
	if snap, ok := s.Get(id); ok {
		return snap, nil
	}
	return s.Reload(ctx, id, fetch)
}

// Reload always fetches id, replacing whatever is cached.
func (s *Store) Reload(ctx context.Context, id oid.ID, fetch FetchFn) (*Snapshot, error) {
	key := strconv.FormatUint(id.Hash(), 16) + "|" + id.String()
	v, err, _ := s.loads.Do(key, func() (any, error) {
		row, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if row == nil {
			s.shard(id).Remove(id)
			return (*Snapshot)(nil), nil
		}
		snap := New(id, row)
		s.add(snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Subscribe registers l and returns its id.
func (s *Store) Subscribe(l Listener) ListenerID {
	id := ListenerID(s.nextID.Add(1))
	s.listeners.Store(id, l)
	return id
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (s *Store) Unsubscribe(id ListenerID) {
	s.listeners.Delete(id)
}

// Len returns the number of cached snapshots.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		n += sh.Len()
	}
	return n
}

// Purge drops every snapshot without broadcasting.
func (s *Store) Purge() {
	for _, sh := range s.shards {
		sh.Purge()
	}
}

// Stats returns the store counters.
func (s *Store) Stats() Stats {
	return Stats{
		Len:           s.Len(),
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Puts:          s.puts.Load(),
		Evictions:     s.evictions.Load(),
		Invalidations: s.invalidations.Load(),
	}
}
