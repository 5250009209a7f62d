package faultlist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-object-graph/mapping"
	"github.com/goliatone/go-object-graph/oid"
	"github.com/goliatone/go-object-graph/querycache"
	"github.com/goliatone/go-object-graph/rowstore"
	"github.com/goliatone/go-object-graph/session"
)

func itemID(id int) oid.ID { return oid.Single("Item", "id", id) }

func newItems(t *testing.T, n int) (*session.Domain, *rowstore.MemoryStore) {
	t.Helper()
	store := rowstore.NewMemoryStore()
	for i := 1; i <= n; i++ {
		store.Seed("items", rowstore.Row{"id": i, "rank": i % 3})
	}
	domain, err := session.NewDomain(store, mapping.MustRegistry(mapping.EntityDescriptor{Name: "Item"}))
	require.NoError(t, err)
	t.Cleanup(domain.Close)
	return domain, store
}

func newSession(t *testing.T, domain *session.Domain) *session.Session {
	t.Helper()
	s := domain.NewSession()
	t.Cleanup(s.Close)
	return s
}

var allItems = querycache.Query{Entity: "Item"}

func TestNew_SizeIsKnownUpFront(t *testing.T) {
	domain, store := newItems(t, 10)
	s := newSession(t, domain)

	l, err := New(context.Background(), s, allItems, 5)
	require.NoError(t, err)

	assert.Equal(t, 10, l.Size())
	assert.Equal(t, 5, l.PageSize())
	assert.Equal(t, 2, l.Pages())
	assert.Equal(t, 1, store.FetchCount())
	assert.False(t, l.Resolved(0))
	assert.False(t, l.Resolved(1))
	assert.Nil(t, s.LocalObject(itemID(1)))
}

func TestGet_ResolvesOnlyTheContainingPage(t *testing.T) {
	ctx := context.Background()
	domain, store := newItems(t, 10)
	s := newSession(t, domain)

	l, err := New(ctx, s, allItems, 5)
	require.NoError(t, err)

	o, err := l.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, itemID(2), o.ID())
	assert.True(t, l.Resolved(0))
	assert.False(t, l.Resolved(1))
	assert.Equal(t, 1, store.FetchCount())
	assert.Nil(t, s.LocalObject(itemID(6)))

	o, err = l.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, itemID(8), o.ID())
	assert.True(t, l.Resolved(1))
	assert.Equal(t, 2, store.FetchCount())
	assert.Same(t, o, s.LocalObject(itemID(8)))
}

func TestGet_LaterPageFirst(t *testing.T) {
	ctx := context.Background()
	domain, _ := newItems(t, 10)
	s := newSession(t, domain)

	l, err := New(ctx, s, allItems, 5)
	require.NoError(t, err)

	_, err = l.Get(ctx, 7)
	require.NoError(t, err)
	assert.False(t, l.Resolved(0))
	assert.True(t, l.Resolved(1))

	first, err := l.Get(ctx, 0)
	require.NoError(t, err)
	again, err := l.Get(ctx, 0)
	require.NoError(t, err)
	assert.Same(t, first, again)
}

func TestGet_OutOfRange(t *testing.T) {
	ctx := context.Background()
	domain, _ := newItems(t, 3)
	s := newSession(t, domain)

	l, err := New(ctx, s, allItems, 5)
	require.NoError(t, err)

	for _, i := range []int{-1, 3} {
		_, err := l.Get(ctx, i)
		assert.True(t, IsIndexOutOfRange(err), "index %d", i)
	}
}

func TestNew_RejectsInvalidPageSize(t *testing.T) {
	domain, _ := newItems(t, 1)
	_, err := New(context.Background(), newSession(t, domain), allItems, 0)
	assert.Error(t, err)
}

func TestNew_EmptyResult(t *testing.T) {
	domain, store := newItems(t, 0)
	l, err := New(context.Background(), newSession(t, domain), allItems, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, l.Size())
	assert.Equal(t, 0, l.Pages())
	assert.Equal(t, 0, store.FetchCount())
}

func TestList_OrderEndsWithKeyColumns(t *testing.T) {
	ctx := context.Background()
	domain, _ := newItems(t, 7)
	s := newSession(t, domain)

	q := querycache.Query{Entity: "Item", Order: []rowstore.Ordering{rowstore.Asc("rank")}}
	l, err := New(ctx, s, q, 3)
	require.NoError(t, err)

	objs, err := l.Objects(ctx)
	require.NoError(t, err)
	got := make([]oid.ID, len(objs))
	for i, o := range objs {
		got[i] = o.ID()
	}
	assert.Equal(t, []oid.ID{
		itemID(3), itemID(6),
		itemID(1), itemID(4), itemID(7),
		itemID(2), itemID(5),
	}, got)
}

func TestList_OffsetAndLimit(t *testing.T) {
	ctx := context.Background()
	domain, _ := newItems(t, 10)
	s := newSession(t, domain)

	q := querycache.Query{Entity: "Item", Offset: 3, Limit: 4}
	l, err := New(ctx, s, q, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, l.Size())
	assert.Equal(t, 2, l.Pages())

	objs, err := l.Objects(ctx)
	require.NoError(t, err)
	require.Len(t, objs, 4)
	assert.Equal(t, itemID(4), objs[0].ID())
	assert.Equal(t, itemID(7), objs[3].ID())
}

func TestList_SharesIdentityWithSession(t *testing.T) {
	ctx := context.Background()
	domain, _ := newItems(t, 10)
	s := newSession(t, domain)

	existing, err := s.Get(ctx, itemID(3))
	require.NoError(t, err)

	l, err := New(ctx, s, allItems, 5)
	require.NoError(t, err)
	o, err := l.Get(ctx, 2)
	require.NoError(t, err)
	assert.Same(t, existing, o)
}

func TestList_DeletedObjectKeepsPosition(t *testing.T) {
	ctx := context.Background()
	domain, _ := newItems(t, 10)
	s := newSession(t, domain)

	doomed, err := s.Get(ctx, itemID(2))
	require.NoError(t, err)
	require.NoError(t, s.DeleteObject(ctx, doomed))

	l, err := New(ctx, s, allItems, 5)
	require.NoError(t, err)

	o, err := l.Get(ctx, 1)
	require.NoError(t, err)
	assert.Same(t, doomed, o)
	assert.Equal(t, session.Deleted, o.State())

	o, err = l.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, itemID(3), o.ID())
}

func TestSelect_LocalCacheReturnsTheSameList(t *testing.T) {
	ctx := context.Background()
	domain, _ := newItems(t, 10)
	s := newSession(t, domain)
	q := allItems.WithStrategy(querycache.LocalCache)

	first, err := Select(ctx, s, q, 5)
	require.NoError(t, err)
	second, err := Select(ctx, s, q, 5)
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = first.Get(ctx, 7)
	require.NoError(t, err)
	assert.True(t, second.Resolved(1))

	other, err := Select(ctx, s, q, 4)
	require.NoError(t, err)
	assert.NotSame(t, first, other)

	sibling, err := Select(ctx, newSession(t, domain), q, 5)
	require.NoError(t, err)
	assert.NotSame(t, first, sibling)

	refreshed, err := Select(ctx, s, q.WithStrategy(querycache.LocalCacheRefresh), 5)
	require.NoError(t, err)
	assert.NotSame(t, first, refreshed)
	latest, err := Select(ctx, s, q, 5)
	require.NoError(t, err)
	assert.Same(t, refreshed, latest)
}

func TestSelect_WithoutLocalCacheBuildsNewLists(t *testing.T) {
	ctx := context.Background()
	domain, _ := newItems(t, 10)
	s := newSession(t, domain)

	first, err := Select(ctx, s, allItems, 5)
	require.NoError(t, err)
	second, err := Select(ctx, s, allItems, 5)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}
