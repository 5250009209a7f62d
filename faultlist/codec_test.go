package faultlist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-object-graph/internal/errcode"
	"github.com/goliatone/go-object-graph/oid"
	"github.com/goliatone/go-object-graph/querycache"
	"github.com/goliatone/go-object-graph/rowstore"
)

func TestEncode_KeepsIdentityAndPaging(t *testing.T) {
	ctx := context.Background()
	domain, _ := newItems(t, 10)
	s := newSession(t, domain)

	q := querycache.Query{
		Entity: "Item",
		Filter: []rowstore.Condition{{Column: "rank", Op: rowstore.Ne, Value: 7}},
	}
	l, err := New(ctx, s, q, 4)
	require.NoError(t, err)
	_, err = l.Get(ctx, 5)
	require.NoError(t, err)

	data, err := l.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Nil(t, decoded.Session())
	assert.Equal(t, 10, decoded.Size())
	assert.Equal(t, 4, decoded.PageSize())
	assert.Equal(t, 3, decoded.Pages())
	assert.Equal(t, q.Key(), decoded.Query().Key())
	assert.False(t, decoded.Resolved(1))
	assert.Equal(t, []string{"Item", "Item", "Item", "Item"}, entities(decoded, 1))
	assert.Equal(t, l.IDs(1), decoded.IDs(1))
	assert.Nil(t, decoded.IDs(0))

	_, err = decoded.Get(ctx, 5)
	assert.True(t, IsDetached(err))
}

func TestAttach_ResolvesFromIdentities(t *testing.T) {
	ctx := context.Background()
	domain, _ := newItems(t, 10)
	l, err := New(ctx, newSession(t, domain), allItems, 5)
	require.NoError(t, err)
	_, err = l.Get(ctx, 7)
	require.NoError(t, err)

	data, err := l.Encode()
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	s := newSession(t, domain)
	require.NoError(t, decoded.Attach(s))

	o, err := decoded.Get(ctx, 7)
	require.NoError(t, err)
	assert.Same(t, s, o.Session())
	assert.Same(t, o, s.LocalObject(itemID(8)))
	assert.False(t, decoded.Resolved(0))

	o, err = decoded.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, itemID(1), o.ID())
}

func TestAttach_MovesListToAnotherSession(t *testing.T) {
	ctx := context.Background()
	domain, _ := newItems(t, 10)
	first := newSession(t, domain)
	l, err := New(ctx, first, allItems, 5)
	require.NoError(t, err)
	before, err := l.Get(ctx, 1)
	require.NoError(t, err)

	second := newSession(t, domain)
	require.NoError(t, l.Attach(second))
	assert.False(t, l.Resolved(0))

	after, err := l.Get(ctx, 1)
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	assert.Equal(t, before.ID(), after.ID())
	assert.Same(t, second, after.Session())
}

func TestDecode_RejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xc1})
	assert.Error(t, err)

	tests := []struct {
		name  string
		wire  wireList
		check func(error) bool
	}{
		{
			name:  "zero page size",
			wire:  wireList{Size: 10},
			check: func(err error) bool { return errcode.Has(err, TextCodeInvalidPageSize) },
		},
		{
			name:  "negative size",
			wire:  wireList{Size: -10, PageSize: 5},
			check: func(err error) bool { return errcode.Has(err, TextCodeInvalidList) },
		},
		{
			name: "overfull page",
			wire: wireList{Size: 3, PageSize: 2, Pages: map[int][]oid.ID{
				1: {oid.Single("Item", "id", 1), oid.Single("Item", "id", 2)},
			}},
			check: func(err error) bool { return errcode.Has(err, TextCodeInvalidList) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := msgpack.Marshal(tt.wire)
			require.NoError(t, err)
			l, err := Decode(data)
			require.Error(t, err)
			assert.Nil(t, l)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}
}

func entities(l *List, p int) []string {
	ids := l.IDs(p)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Entity()
	}
	return out
}
