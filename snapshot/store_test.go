package snapshot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-object-graph/oid"
)

func artist(n int) oid.ID { return oid.Single("Artist", "id", n) }

func newTestStore(t *testing.T, capacity, shards int) *Store {
	t.Helper()
	s, err := NewStore(Config{Capacity: capacity, Shards: shards})
	require.NoError(t, err)
	return s
}

func TestSnapshot_IsImmutable(t *testing.T) {
	row := map[string]any{"name": "Monet", "tags": []any{"a"}}
	snap := New(artist(1), row)

	row["name"] = "Manet"
	values := snap.Values()
	values["name"] = "Degas"

	v, ok := snap.Get("name")
	require.True(t, ok)
	assert.Equal(t, "Monet", v)
	assert.Equal(t, []string{"name", "tags"}, snap.Columns())
}

func TestSnapshot_WithProducesNewVersion(t *testing.T) {
	base := New(artist(1), map[string]any{"name": "Monet", "born": 1840})
	next := base.With(map[string]any{"name": "Claude Monet"})

	assert.Greater(t, next.Version(), base.Version())
	v, _ := base.Get("name")
	assert.Equal(t, "Monet", v)
	v, _ = next.Get("name")
	assert.Equal(t, "Claude Monet", v)
	v, _ = next.Get("born")
	assert.Equal(t, int64(1840), v)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"default", DefaultConfig(), ""},
		{"zero capacity", Config{Capacity: 0, Shards: 1}, "Capacity"},
		{"zero shards", Config{Capacity: 10, Shards: 0}, "Shards"},
		{"more shards than capacity", Config{Capacity: 2, Shards: 4}, "Shards"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestStore_PutGetInvalidate(t *testing.T) {
	s := newTestStore(t, 100, 4)
	snap := New(artist(1), map[string]any{"name": "Monet"})

	s.Put(snap)
	got, ok := s.Get(artist(1))
	require.True(t, ok)
	assert.Same(t, snap, got)

	s.Invalidate(artist(1))
	_, ok = s.Get(artist(1))
	assert.False(t, ok)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Puts)
	assert.Equal(t, uint64(1), stats.Invalidations)
}

func TestStore_EvictsLeastRecentlyUsed(t *testing.T) {
	s := newTestStore(t, 2, 1)

	s.Cache(New(artist(1), map[string]any{"n": 1}))
	s.Cache(New(artist(2), map[string]any{"n": 2}))
	_, _ = s.Get(artist(1))
	s.Cache(New(artist(3), map[string]any{"n": 3}))

	_, ok := s.Get(artist(2))
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = s.Get(artist(1))
	assert.True(t, ok)
	_, ok = s.Get(artist(3))
	assert.True(t, ok)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, uint64(1), s.Stats().Evictions)
}

func TestStore_BroadcastsToOtherListeners(t *testing.T) {
	s := newTestStore(t, 100, 4)

	var mu sync.Mutex
	received := map[ListenerID][]Event{}
	listen := func(id *ListenerID) Listener {
		return func(ev Event) {
			mu.Lock()
			defer mu.Unlock()
			received[*id] = append(received[*id], ev)
		}
	}

	var a, b ListenerID
	a = s.Subscribe(listen(&a))
	b = s.Subscribe(listen(&b))

	s.Update(a, []*Snapshot{New(artist(1), map[string]any{"n": 1})}, []oid.ID{artist(2)})

	assert.Empty(t, received[a], "origin must not receive its own events")
	require.Len(t, received[b], 2)
	assert.Equal(t, Event{ID: artist(1), Kind: Updated, Origin: a}, received[b][0])
	assert.Equal(t, Event{ID: artist(2), Kind: Deleted, Origin: a}, received[b][1])

	s.Unsubscribe(b)
	s.Put(New(artist(3), map[string]any{"n": 3}))
	assert.Len(t, received[b], 2)
	assert.Len(t, received[a], 1)
}

func TestStore_CacheDoesNotBroadcast(t *testing.T) {
	s := newTestStore(t, 10, 1)
	calls := 0
	s.Subscribe(func(Event) { calls++ })

	s.Cache(New(artist(1), nil))
	assert.Equal(t, 0, calls)
}

func TestStore_LoadSingleFlight(t *testing.T) {
	s := newTestStore(t, 10, 2)
	var fetches atomic.Int32
	release := make(chan struct{})

	fetch := func(ctx context.Context) (map[string]any, error) {
		fetches.Add(1)
		<-release
		return map[string]any{"id": 1, "name": "Monet"}, nil
	}

	var g errgroup.Group
	results := make([]*Snapshot, 8)
	var started sync.WaitGroup
	for i := range results {
		started.Add(1)
		g.Go(func() error {
			started.Done()
			snap, err := s.Load(context.Background(), artist(1), fetch)
			results[i] = snap
			return err
		})
	}
	started.Wait()
	close(release)
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, fetches.Load(), int32(len(results)))
	for _, r := range results {
		require.NotNil(t, r)
		v, _ := r.Get("name")
		assert.Equal(t, "Monet", v)
	}

	// cached now
	_, err := s.Load(context.Background(), artist(1), func(context.Context) (map[string]any, error) {
		t.Fatal("fetch must not run for a cached id")
		return nil, nil
	})
	require.NoError(t, err)
}

func TestStore_LoadMissingRowAndErrors(t *testing.T) {
	s := newTestStore(t, 10, 1)
	s.Cache(New(artist(1), map[string]any{"n": 1}))

	snap, err := s.Reload(context.Background(), artist(1), func(context.Context) (map[string]any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, snap)
	_, ok := s.Get(artist(1))
	assert.False(t, ok)

	boom := errors.New("boom")
	_, err = s.Load(context.Background(), artist(2), func(context.Context) (map[string]any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestStore_ConcurrentPutsOnUnrelatedKeys(t *testing.T) {
	s := newTestStore(t, 8000, 8)
	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 100; i++ {
				id := artist(w*100 + i)
				s.Put(New(id, map[string]any{"n": i}))
				if _, ok := s.Get(id); !ok {
					return errors.New("missing " + id.String())
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 800, s.Len())

	s.Purge()
	assert.Equal(t, 0, s.Len())
}
